package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeadLetter preserves a job that exhausted its attempts or failed
// permanently, with enough context to replay it by hand.
type DeadLetter struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID   uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	GuildID uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`

	Kind     string         `gorm:"type:text;not null;index" json:"kind"`
	Payload  datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`
	Attempts int            `gorm:"not null;default:0" json:"attempts"`

	LastError string    `gorm:"type:text;not null;default:''" json:"last_error"`
	FailedAt  time.Time `gorm:"not null;default:now();index" json:"failed_at"`
}

func (DeadLetter) TableName() string { return "dead_letter" }
