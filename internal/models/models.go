package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Room is a conversation container. The creator is implicitly a member and
// admin; rooms are never hard-deleted.
type Room struct {
	ID          uint   `gorm:"primaryKey"`
	Title       string `gorm:"size:512;not null"`
	Description string `gorm:"type:text"`
	IsPublic    bool   `gorm:"default:true"`
	CreatorID   uint   `gorm:"index;not null"`
	Members     []User `gorm:"many2many:room_members"`
	Admins      []User `gorm:"many2many:room_admins"`
	MutedBy     []User `gorm:"many2many:room_muted_by"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomUser is a membership: one user's (or the system's) seat inside one
// room. UserID is nil for system message senders. At most one active row per
// (room, user) pair; deactivated rows are kept, never reused.
type RoomUser struct {
	ID        uint  `gorm:"primaryKey"`
	RoomID    uint  `gorm:"index;not null"`
	UserID    *uint `gorm:"index"`
	IsActive  bool  `gorm:"default:true"`
	CreatedAt time.Time
}

// Presence is the single global online flag per user, created lazily the
// first time the user connects to the broadcast engine. LastSeenAt is the
// heartbeat the staleness sweeper works from.
type Presence struct {
	ID         uint `gorm:"primaryKey"`
	UserID     uint `gorm:"uniqueIndex;not null"`
	IsOnline   bool `gorm:"default:false"`
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is a node in the message tree. A reaction is a child message with
// IsReaction set; a root message has a nil parent. Empty messages (no body,
// no images) may exist as placeholders for image-only flows.
type Message struct {
	ID         uint `gorm:"primaryKey"`
	RoomUserID uint `gorm:"index;not null"`
	RoomUser   RoomUser
	ParentID   *uint     `gorm:"index"`
	Children   []Message `gorm:"foreignKey:ParentID"`
	Body       string    `gorm:"type:text"`
	IsReaction bool      `gorm:"default:false"`
	Images     []MessageImage
	SeenBy     []User `gorm:"many2many:message_seen_by"`
	ReceivedBy []User `gorm:"many2many:message_received_by"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type MessageImage struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"index;not null"`
	URL       string `gorm:"size:1024;not null"`
	Width     int    `gorm:"default:500"`
	Height    int    `gorm:"default:300"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
