package store

import (
	"errors"
	"time"

	"sizero-service/model"

	"gorm.io/gorm"
)

// MessageView is a message joined with its sender's username, the shape
// delivered over the wire and returned by history queries.
type MessageView struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Kind           string    `json:"kind"`
	Text           string    `json:"text"`
	FileURL        string    `json:"file_url"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	Mime           string    `json:"mime"`
	DurationSec    int       `json:"duration_sec"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Store) CreateMessage(m *model.Message) error {
	if err := s.db.Create(m).Error; err != nil {
		return retryable(err)
	}
	return nil
}

// ListMessages returns up to limit messages of a conversation in commit
// order, hydrated with sender usernames.
func (s *Store) ListMessages(conversationID uint, limit int) ([]MessageView, error) {
	views := []MessageView{}
	err := s.db.Model(&model.Message{}).
		Select("messages.id, messages.conversation_id, messages.sender_id, users.username AS sender_username, " +
			"messages.kind, messages.text, messages.file_url, messages.file_name, messages.file_size, " +
			"messages.mime, messages.duration_sec, messages.created_at").
		Joins("JOIN users ON users.id = messages.sender_id").
		Where("messages.conversation_id = ?", conversationID).
		Order("messages.id ASC").
		Limit(limit).
		Scan(&views).Error
	if err != nil {
		return nil, retryable(err)
	}
	return views, nil
}

// LastMessage returns the newest message of a conversation, or nil when the
// conversation has none.
func (s *Store) LastMessage(conversationID uint) (*model.Message, error) {
	m := new(model.Message)
	err := s.db.Where("conversation_id = ?", conversationID).Order("id DESC").First(m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, retryable(err)
	}
	return m, nil
}
