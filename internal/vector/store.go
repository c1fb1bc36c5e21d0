package vector

import (
	"context"
	"errors"
)

// Payload keys every point carries. GuildID scoping is not optional:
// a store implementation must refuse any operation without it.
const (
	PayloadGuildIDKey    = "guild_id"
	PayloadChannelIDKey  = "channel_id"
	PayloadSourceTypeKey = "source_type"
	PayloadSourceIDKey   = "source_id"
	PayloadVectorKeyKey  = "vector_key"
	PayloadPreviewKey    = "preview"
	PayloadCreatedAtKey  = "created_at"
	PayloadStartTimeKey  = "start_time"
	PayloadEndTimeKey    = "end_time"
)

const (
	SourceTypeSession         = "session"
	SourceTypeAttachmentChunk = "attachment_chunk"
)

var (
	ErrTenantViolation = errors.New("vector store: operation missing guild scope")
	ErrNotReady        = errors.New("vector store: not ready")
)

type Vector struct {
	Key     string
	Values  []float32
	Payload map[string]any
}

type Match struct {
	Key     string
	Score   float64
	Payload map[string]any
}

// KeyPage is one page of vector keys for a guild, used by reconciliation
// to enumerate what the store actually holds.
type KeyPage struct {
	Keys       []string
	NextOffset string
}

type Store interface {
	Upsert(ctx context.Context, guildID string, vectors []Vector) error
	Delete(ctx context.Context, guildID string, keys []string) error
	DeleteWhere(ctx context.Context, guildID string, filter map[string]any) error
	Query(ctx context.Context, guildID string, q []float32, topK int, filter map[string]any) ([]Match, error)
	Count(ctx context.Context, guildID string) (int64, error)
	ScrollKeys(ctx context.Context, guildID string, limit int, offset string) (KeyPage, error)
}
