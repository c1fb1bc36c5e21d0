package chat

import (
	"time"

	"github.com/google/uuid"
)

// Session is a conversational window over one channel: the unit that
// gets enriched, embedded and written to the vector store.
//
// VectorKey and IsIndexed move together: a session either has both set
// (its vector is live) or neither (nothing of it exists downstream).
// UpdatedAt strictly newer than IndexedAt marks the session stale.
type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID   uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`
	ChannelID uuid.UUID `gorm:"type:uuid;not null;index" json:"channel_id"`

	StartedAt time.Time `gorm:"not null;index" json:"started_at"`
	EndedAt   time.Time `gorm:"not null" json:"ended_at"`

	MessageCount int `gorm:"not null;default:0" json:"message_count"`
	TokenCount   int `gorm:"not null;default:0" json:"token_count"`

	// Enriched transcript, rebuilt whenever membership changes.
	Content string `gorm:"type:text;not null;default:''" json:"content"`
	Summary string `gorm:"type:text;not null;default:''" json:"summary"`

	VectorKey        string     `gorm:"type:text;not null;default:'';index" json:"vector_key,omitempty"`
	IsIndexed        bool       `gorm:"not null;default:false;index" json:"is_indexed"`
	IndexedAt        *time.Time `gorm:"index" json:"indexed_at,omitempty"`
	EmbedderIdentity string     `gorm:"type:text;not null;default:''" json:"embedder_identity,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Session) TableName() string { return "session" }

// Stale reports whether relational truth moved past the indexed copy.
func (s Session) Stale() bool {
	if !s.IsIndexed || s.IndexedAt == nil {
		return false
	}
	return s.UpdatedAt.After(*s.IndexedAt)
}
