package tenant

import (
	"time"

	"github.com/google/uuid"
)

type Channel struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID   uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`
	DiscordID string    `gorm:"type:text;not null;uniqueIndex" json:"discord_id"`
	Name      string    `gorm:"type:text;not null" json:"name"`

	// Channels are indexed opt-in. Ingest drops events for channels
	// where this is false.
	IndexingEnabled bool `gorm:"not null;default:false;index" json:"indexing_enabled"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Channel) TableName() string { return "channel" }
