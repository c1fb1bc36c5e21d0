package files

import (
	"time"

	"github.com/google/uuid"
)

// PreviewMaxBytes caps the stored preview of chunk text.
const PreviewMaxBytes = 1024

// Chunk is one embeddable slice of an extracted attachment. Same
// indexing contract as a session: VectorKey and IsIndexed move
// together, UpdatedAt past IndexedAt means stale.
type Chunk struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GuildID      uuid.UUID `gorm:"type:uuid;not null;index" json:"guild_id"`
	ChannelID    uuid.UUID `gorm:"type:uuid;not null;index" json:"channel_id"`
	AttachmentID uuid.UUID `gorm:"type:uuid;not null;index:idx_chunk_attachment_seq" json:"attachment_id"`
	ChunkIndex   int       `gorm:"not null;index:idx_chunk_attachment_seq" json:"chunk_index"`

	Text    string `gorm:"type:text;not null" json:"text"`
	Preview string `gorm:"type:text;not null;default:''" json:"preview"`

	VectorKey        string     `gorm:"type:text;not null;default:'';index" json:"vector_key,omitempty"`
	IsIndexed        bool       `gorm:"not null;default:false;index" json:"is_indexed"`
	IndexedAt        *time.Time `gorm:"index" json:"indexed_at,omitempty"`
	EmbedderIdentity string     `gorm:"type:text;not null;default:''" json:"embedder_identity,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Chunk) TableName() string { return "attachment_chunk" }

func (c Chunk) Stale() bool {
	if !c.IsIndexed || c.IndexedAt == nil {
		return false
	}
	return c.UpdatedAt.After(*c.IndexedAt)
}

// MakePreview truncates text to the preview cap on a rune boundary.
func MakePreview(text string) string {
	if len(text) <= PreviewMaxBytes {
		return text
	}
	cut := PreviewMaxBytes
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut]
}
