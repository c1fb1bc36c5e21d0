package chat

import (
	"time"

	"github.com/google/uuid"
)

// DeletedContentMarker replaces message content on soft delete. The
// original text must not survive anywhere in the row.
const DeletedContentMarker = "[deleted]"

type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID   uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`
	ChannelID uuid.UUID `gorm:"type:uuid;not null;index:idx_message_channel_created" json:"channel_id"`
	AuthorID  uuid.UUID `gorm:"type:uuid;not null;index" json:"author_id"`

	DiscordID string `gorm:"type:text;not null;uniqueIndex" json:"discord_id"`
	Content   string `gorm:"type:text;not null" json:"content"`

	// Platform message ID this one replies to, when part of a thread.
	ReplyToDiscordID string `gorm:"type:text;not null;default:'';index" json:"reply_to_discord_id,omitempty"`

	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `gorm:"" json:"deleted_at,omitempty"`

	// Set once the sessionizer folds this message into a session.
	SessionID *uuid.UUID `gorm:"type:uuid;index" json:"session_id,omitempty"`

	CreatedAt  time.Time  `gorm:"not null;index:idx_message_channel_created" json:"created_at"`
	EditedAt   *time.Time `gorm:"" json:"edited_at,omitempty"`
	IngestedAt time.Time  `gorm:"not null;default:now()" json:"ingested_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Message) TableName() string { return "message" }
