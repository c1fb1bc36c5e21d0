package files

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProcessingPending    = "pending"
	ProcessingInProgress = "processing"
	ProcessingCompleted  = "completed"
	ProcessingFailed     = "failed"
)

type Attachment struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID   uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`
	ChannelID uuid.UUID `gorm:"type:uuid;not null;index" json:"channel_id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`

	DiscordID   string `gorm:"type:text;not null;uniqueIndex" json:"discord_id"`
	Filename    string `gorm:"type:text;not null" json:"filename"`
	Extension   string `gorm:"type:text;not null;index" json:"extension"`
	ContentType string `gorm:"type:text;not null;default:''" json:"content_type"`
	SizeBytes   int64  `gorm:"not null;default:0" json:"size_bytes"`
	URL         string `gorm:"type:text;not null" json:"url"`

	ProcessingStatus string `gorm:"type:text;not null;default:'pending';index" json:"processing_status"`
	ProcessingError  string `gorm:"type:text;not null;default:''" json:"processing_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Attachment) TableName() string { return "attachment" }
