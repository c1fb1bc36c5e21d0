package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Member is a chat author as seen inside one guild. Display names are
// guild-local, so the same platform user appears once per guild.
type Member struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_member_guild_discord" json:"guild_id"`
	DiscordID   string    `gorm:"type:text;not null;uniqueIndex:uniq_member_guild_discord" json:"discord_id"`
	Username    string    `gorm:"type:text;not null" json:"username"`
	DisplayName string    `gorm:"type:text;not null;default:''" json:"display_name"`
	IsBot       bool      `gorm:"not null;default:false" json:"is_bot"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Member) TableName() string { return "member" }

func (m Member) BestName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}
