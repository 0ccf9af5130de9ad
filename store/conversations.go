package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sizero-service/apperror"
	"sizero-service/model"

	"gorm.io/gorm"
)

// Slugs are 3-32 chars of [a-z0-9_-], lowercased before validation so the
// unique index is case-insensitive by construction.
var slugRegexp = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)

func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// FindOrCreateDirect returns the direct conversation for the unordered pair
// (a, b), creating it with both memberships if it does not exist yet. Two
// concurrent calls for the same pair converge on a single conversation: the
// loser of the insert race hits the direct_key unique index and re-reads the
// winner's row. The second return value is true when a new row was created.
func (s *Store) FindOrCreateDirect(a, b uint) (*model.Conversation, bool, error) {
	if a == b {
		return nil, false, fmt.Errorf("%w: cannot open a direct chat with yourself", apperror.ErrInvalidInput)
	}

	if conv, err := s.FindDirectConversation(a, b); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, err
	}

	key := directKey(a, b)
	now := time.Now().Unix()
	conv := &model.Conversation{Variant: model.VariantDirect, DirectKey: &key}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := []model.Membership{
			{ConversationID: conv.ID, UserID: a, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: now},
			{ConversationID: conv.ID, UserID: b, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: now},
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		if isDuplicate(err) {
			conv, ferr := s.FindDirectConversation(a, b)
			if ferr != nil {
				return nil, false, ferr
			}
			return conv, false, nil
		}
		return nil, false, retryable(err)
	}
	return conv, true, nil
}

// FindDirectConversation looks up the direct conversation for the unordered
// pair (a, b).
func (s *Store) FindDirectConversation(a, b uint) (*model.Conversation, error) {
	key := directKey(a, b)
	conv := new(model.Conversation)
	err := s.db.Where(&model.Conversation{DirectKey: &key}).First(conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no direct chat for pair %s", apperror.ErrNotFound, key)
	}
	if err != nil {
		return nil, retryable(err)
	}
	return conv, nil
}

// CreateGroup creates a private group owned by ownerID. memberIDs are invited
// as active members; the owner and duplicates are skipped.
func (s *Store) CreateGroup(title string, ownerID uint, memberIDs []uint) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", apperror.ErrInvalidInput)
	}

	now := time.Now().Unix()
	conv := &model.Conversation{Variant: model.VariantGroup, Title: title, OwnerID: &ownerID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		members := []model.Membership{
			{ConversationID: conv.ID, UserID: ownerID, Role: model.RoleOwner, Status: model.StatusActive, JoinedAt: now},
		}
		seen := map[uint]bool{ownerID: true}
		for _, id := range memberIDs {
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			members = append(members, model.Membership{
				ConversationID: conv.ID, UserID: id, Role: model.RoleMember, Status: model.StatusActive, JoinedAt: now,
			})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, retryable(err)
	}
	return conv, nil
}

// CreateChannel creates a broadcast channel with a globally unique slug.
func (s *Store) CreateChannel(title, slug string, public bool, ownerID uint) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", apperror.ErrInvalidInput)
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugRegexp.MatchString(slug) {
		return nil, fmt.Errorf("%w: bad slug (3-32 chars: a-z0-9_-)", apperror.ErrInvalidInput)
	}

	now := time.Now().Unix()
	conv := &model.Conversation{
		Variant: model.VariantChannel,
		Title:   title,
		Slug:    &slug,
		Public:  public,
		OwnerID: &ownerID,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		owner := model.Membership{
			ConversationID: conv.ID, UserID: ownerID, Role: model.RoleOwner, Status: model.StatusActive, JoinedAt: now,
		}
		return tx.Create(&owner).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("%w: slug %q already used", apperror.ErrConflict, slug)
		}
		return nil, retryable(err)
	}
	return conv, nil
}

func (s *Store) GetConversation(id uint) (*model.Conversation, error) {
	conv := new(model.Conversation)
	err := s.db.First(conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: conversation %d", apperror.ErrNotFound, id)
	}
	if err != nil {
		return nil, retryable(err)
	}
	return conv, nil
}

// DeleteConversation removes the conversation with its memberships and
// messages. This is the only path that removes membership rows or messages.
// The rows are hard-deleted: a soft delete would keep the direct_key and
// slug unique-index entries alive, so the pair could never reopen a DM and
// the slug could never be reused.
func (s *Store) DeleteConversation(id uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("conversation_id = ?", id).Delete(&model.Membership{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&model.Conversation{}, id).Error
	})
	if err != nil {
		return retryable(err)
	}
	return nil
}

// AddMember is idempotent: re-adding an active member is a no-op and
// re-adding a left member reactivates it, reapplying the offered role unless
// the existing row is the owner's.
func (s *Store) AddMember(conversationID, userID uint, role string) error {
	now := time.Now().Unix()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing := new(model.Membership)
		err := tx.Where(&model.Membership{ConversationID: conversationID, UserID: userID}).First(existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			member := model.Membership{
				ConversationID: conversationID, UserID: userID, Role: role, Status: model.StatusActive, JoinedAt: now,
			}
			if err := tx.Create(&member).Error; err != nil {
				if isDuplicate(err) {
					// concurrent add won, nothing to do
					return nil
				}
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Status == model.StatusActive {
			return nil
		}
		updates := map[string]interface{}{"status": model.StatusActive, "joined_at": now}
		if existing.Role != model.RoleOwner {
			updates["role"] = role
		}
		return tx.Model(existing).Updates(updates).Error
	})
	if err != nil {
		return retryable(err)
	}
	return nil
}

func (s *Store) SetMemberStatus(conversationID, userID uint, status string) error {
	err := s.db.Model(&model.Membership{}).
		Where(&model.Membership{ConversationID: conversationID, UserID: userID}).
		Update("status", status).Error
	if err != nil {
		return retryable(err)
	}
	return nil
}

// GetRole returns the member's role, or "" when the user has no active
// membership in the conversation.
func (s *Store) GetRole(conversationID, userID uint) (string, error) {
	m := new(model.Membership)
	err := s.db.Where(&model.Membership{ConversationID: conversationID, UserID: userID}).First(m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", retryable(err)
	}
	if m.Status != model.StatusActive {
		return "", nil
	}
	return m.Role, nil
}

func (s *Store) ListActiveConversationsFor(userID uint) ([]model.Conversation, error) {
	convs := []model.Conversation{}
	err := s.db.
		Select("conversations.*").
		Joins("JOIN memberships ON memberships.conversation_id = conversations.id").
		Where("memberships.user_id = ? AND memberships.status = ? AND memberships.deleted_at IS NULL",
			userID, model.StatusActive).
		Order("conversations.id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, retryable(err)
	}
	return convs, nil
}

// DirectPeer returns the other active member of a direct conversation.
func (s *Store) DirectPeer(conversationID, userID uint) (*model.User, error) {
	peer := new(model.User)
	err := s.db.
		Select("users.*").
		Joins("JOIN memberships ON memberships.user_id = users.id").
		Where("memberships.conversation_id = ? AND users.id != ? AND memberships.deleted_at IS NULL",
			conversationID, userID).
		First(peer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: peer for conversation %d", apperror.ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, retryable(err)
	}
	return peer, nil
}

func (s *Store) CountActiveMembers(conversationID uint) (int64, error) {
	var count int64
	err := s.db.Model(&model.Membership{}).
		Where(&model.Membership{ConversationID: conversationID, Status: model.StatusActive}).
		Count(&count).Error
	if err != nil {
		return 0, retryable(err)
	}
	return count, nil
}

// ChannelListing is one row of the public channel directory.
type ChannelListing struct {
	ID         uint   `json:"id"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	Public     bool   `json:"is_public"`
	Members    int64  `json:"members"`
	Subscribed bool   `json:"subscribed"`
}

// ListPublicChannels returns public channels matching q by title or slug,
// newest first, annotated with the viewer's subscription state.
func (s *Store) ListPublicChannels(q string, viewerID uint, limit int) ([]ChannelListing, error) {
	like := "%" + strings.ReplaceAll(q, "%", "") + "%"
	convs := []model.Conversation{}
	err := s.db.
		Where("variant = ? AND public = ? AND (title LIKE ? OR slug LIKE ?)",
			model.VariantChannel, true, like, like).
		Order("id DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, retryable(err)
	}

	listings := make([]ChannelListing, 0, len(convs))
	for _, conv := range convs {
		members, err := s.CountActiveMembers(conv.ID)
		if err != nil {
			return nil, err
		}
		role, err := s.GetRole(conv.ID, viewerID)
		if err != nil {
			return nil, err
		}
		slug := ""
		if conv.Slug != nil {
			slug = *conv.Slug
		}
		listings = append(listings, ChannelListing{
			ID:         conv.ID,
			Title:      conv.Title,
			Slug:       slug,
			Public:     conv.Public,
			Members:    members,
			Subscribed: role != "",
		})
	}
	return listings, nil
}
