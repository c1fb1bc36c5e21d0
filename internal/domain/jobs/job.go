package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusPending = "pending"
	StatusLeased  = "leased"
)

// Priority classes. Lower rank drains first; FIFO within a class.
const (
	PriorityHigh    = 0
	PriorityDefault = 1
	PriorityLow     = 2
)

const (
	KindSessionize          = "sessionize"
	KindEmbedSession        = "embed_session"
	KindReindexSession      = "reindex_session"
	KindPurgeVectors        = "purge_vectors"
	KindPurgeChannelVectors = "purge_channel_vectors"
	KindPurgeGuildVectors   = "purge_guild_vectors"
	KindBackfillChannel     = "backfill_channel"
	KindProcessAttachment   = "process_attachment"
)

// Job is one queued unit of indexing work. Claiming flips status to
// leased and stamps LeaseExpiresAt; a crash is recovered when the
// sweeper finds the lease expired and returns the row to pending.
type Job struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`

	Kind     string `gorm:"type:text;not null;index" json:"kind"`
	Priority int    `gorm:"not null;default:1;index:idx_job_claim" json:"priority"`

	// DedupKey collapses bursts: an identical pending key inside the
	// dedup window absorbs the new enqueue.
	DedupKey string `gorm:"type:text;not null;default:'';index" json:"dedup_key,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`

	Status      string `gorm:"type:text;not null;default:'pending';index:idx_job_claim" json:"status"`
	Attempts    int    `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int    `gorm:"not null;default:5" json:"max_attempts"`

	RunAt          time.Time  `gorm:"not null;default:now();index:idx_job_claim" json:"run_at"`
	LeaseExpiresAt *time.Time `gorm:"index" json:"lease_expires_at,omitempty"`
	LastError      string     `gorm:"type:text;not null;default:''" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "job" }

func PriorityName(p int) string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "default"
	}
}
