package store

import (
	"errors"
	"fmt"

	"sizero-service/apperror"
	"sizero-service/model"

	"gorm.io/gorm"
)

func (s *Store) GetUserByID(id uint) (*model.User, error) {
	user := new(model.User)
	err := s.db.First(user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d", apperror.ErrNotFound, id)
	}
	if err != nil {
		return nil, retryable(err)
	}
	return user, nil
}

func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	user := new(model.User)
	err := s.db.Where(&model.User{Username: username}).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %q", apperror.ErrNotFound, username)
	}
	if err != nil {
		return nil, retryable(err)
	}
	return user, nil
}

// SearchUsers matches usernames by substring, excluding the caller.
func (s *Store) SearchUsers(q string, excludeID uint, limit int) ([]model.User, error) {
	users := []model.User{}
	err := s.db.
		Where("username LIKE ? AND id != ?", "%"+q+"%", excludeID).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, retryable(err)
	}
	return users, nil
}
