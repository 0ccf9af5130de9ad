package model

import "gorm.io/gorm"

// Conversation variants.
const (
	VariantDirect  = "direct"
	VariantGroup   = "group"
	VariantChannel = "channel"
)

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership statuses.
const (
	StatusActive = "active"
	StatusLeft   = "left"
)

// Message kinds.
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
	KindVoice = "voice"
)

type Conversation struct {
	gorm.Model
	Variant string  `gorm:"not null;index" json:"variant"`
	Title   string  `json:"title"`
	Slug    *string `gorm:"uniqueIndex" json:"slug,omitempty"`
	Public  bool    `gorm:"not null;default:false" json:"is_public"`
	OwnerID *uint   `json:"owner_id,omitempty"`

	// DirectKey is "<minUserID>:<maxUserID>" and only set for direct
	// conversations. The unique index makes concurrent find-or-create for
	// the same pair converge on one row.
	DirectKey *string `gorm:"uniqueIndex" json:"-"`
}

type Membership struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;uniqueIndex:idx_membership_pair" json:"conversation_id"`
	UserID         uint   `gorm:"not null;index;uniqueIndex:idx_membership_pair" json:"user_id"`
	Role           string `gorm:"not null;default:member" json:"role"`
	Status         string `gorm:"not null;default:active" json:"status"`
	JoinedAt       int64  `gorm:"not null;default:0" json:"joined_at"`
}

type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint   `gorm:"not null" json:"sender_id"`
	Kind           string `gorm:"not null" json:"kind"`
	Text           string `json:"text"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	Mime           string `json:"mime"`
	DurationSec    int    `json:"duration_sec"`
}
