package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Guild is the tenancy root. Every row in every other table hangs off a
// guild, and every vector payload carries its ID.
type Guild struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DiscordID string    `gorm:"type:text;not null;uniqueIndex" json:"discord_id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	IsActive  bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Guild) TableName() string { return "guild" }
