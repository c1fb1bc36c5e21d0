package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	filesdomain "github.com/yungbote/guildsense-backend/internal/domain/files"
	"github.com/yungbote/guildsense-backend/internal/embed"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

var (
	ErrGuildRequired = errors.New("search: guild id required")
	ErrEmptyQuery    = errors.New("search: query text required")
)

// Params scope one semantic search. GuildID is mandatory; ChannelID
// and SourceType narrow the result set when set.
type Params struct {
	GuildID    uuid.UUID
	ChannelID  uuid.UUID
	Query      string
	TopK       int
	MinScore   float64
	SourceType string
}

// Hit is one search result hydrated back from the relational store.
// Matches whose backing row is already gone are dropped, so callers
// never see a vector the reconciler has yet to purge.
type Hit struct {
	Key        string    `json:"key"`
	Score      float64   `json:"score"`
	SourceType string    `json:"source_type"`
	SourceID   uuid.UUID `json:"source_id"`
	ChannelID  uuid.UUID `json:"channel_id"`
	CreatedAt  time.Time `json:"created_at"`
	Preview    string    `json:"preview"`
}

// Service is the read-only query surface over the vector store.
type Service struct {
	log      *logger.Logger
	repos    repos.All
	store    vector.Store
	embedder embed.Embedder
	cfg      config.SearchConfig
}

func New(baseLog *logger.Logger, all repos.All, store vector.Store, embedder embed.Embedder, cfg config.SearchConfig) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = cfg.DefaultTopK
	}
	return &Service{
		log:      baseLog.With("service", "Search"),
		repos:    all,
		store:    store,
		embedder: embedder,
		cfg:      cfg,
	}
}

// SearchSemantic embeds the query and returns the closest sessions and
// attachment chunks within the guild.
func (s *Service) SearchSemantic(ctx context.Context, p Params) ([]Hit, error) {
	if p.GuildID == uuid.Nil {
		return nil, ErrGuildRequired
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, ErrEmptyQuery
	}

	topK := p.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}

	filter := map[string]any{}
	if p.ChannelID != uuid.Nil {
		filter[vector.PayloadChannelIDKey] = p.ChannelID.String()
	}
	if p.SourceType != "" {
		filter[vector.PayloadSourceTypeKey] = p.SourceType
	}

	vecs, err := s.embedder.Embed(ctx, []string{p.Query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("search: embedder returned no query vector")
	}

	matches, err := s.store.Query(ctx, p.GuildID.String(), vecs[0], topK, filter)
	if err != nil {
		return nil, err
	}

	hits, err := s.hydrate(ctx, p.GuildID, matches, p.MinScore)
	if err != nil {
		return nil, err
	}
	s.log.Debug("semantic search served",
		"guild_id", p.GuildID,
		"matches", len(matches),
		"hits", len(hits),
	)
	return hits, nil
}

// ListRecent returns the guild's newest sessions, optionally scoped to
// one channel.
func (s *Service) ListRecent(ctx context.Context, guildID, channelID uuid.UUID, limit int) ([]*types.Session, error) {
	if guildID == uuid.Nil {
		return nil, ErrGuildRequired
	}
	if limit <= 0 {
		limit = s.cfg.DefaultTopK
	}
	if limit > s.cfg.MaxTopK {
		limit = s.cfg.MaxTopK
	}
	return s.repos.Sessions.ListRecent(dbctx.Context{Ctx: ctx}, guildID, channelID, limit)
}

func (s *Service) hydrate(ctx context.Context, guildID uuid.UUID, matches []vector.Match, minScore float64) ([]Hit, error) {
	dbc := dbctx.Context{Ctx: ctx}

	var sessionIDs []uuid.UUID
	for _, m := range matches {
		if payloadString(m.Payload, vector.PayloadSourceTypeKey) != vector.SourceTypeSession {
			continue
		}
		if id, err := uuid.Parse(payloadString(m.Payload, vector.PayloadSourceIDKey)); err == nil {
			sessionIDs = append(sessionIDs, id)
		}
	}
	sessions := make(map[uuid.UUID]*types.Session, len(sessionIDs))
	if len(sessionIDs) > 0 {
		rows, err := s.repos.Sessions.GetByIDs(dbc, sessionIDs)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sessions[row.ID] = row
		}
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		sourceType := payloadString(m.Payload, vector.PayloadSourceTypeKey)
		sourceID, err := uuid.Parse(payloadString(m.Payload, vector.PayloadSourceIDKey))
		if err != nil {
			continue
		}

		hit := Hit{
			Key:        m.Key,
			Score:      m.Score,
			SourceType: sourceType,
			SourceID:   sourceID,
		}
		if channelID, err := uuid.Parse(payloadString(m.Payload, vector.PayloadChannelIDKey)); err == nil {
			hit.ChannelID = channelID
		}
		if ts, err := time.Parse(time.RFC3339, payloadString(m.Payload, vector.PayloadCreatedAtKey)); err == nil {
			hit.CreatedAt = ts
		}

		switch sourceType {
		case vector.SourceTypeSession:
			session, ok := sessions[sourceID]
			if !ok || session.GuildID != guildID {
				continue
			}
			hit.Preview = filesdomain.MakePreview(session.Content)
		case vector.SourceTypeAttachmentChunk:
			chunk, err := s.repos.Chunks.GetByID(dbc, sourceID)
			if err != nil {
				return nil, err
			}
			if chunk == nil || chunk.GuildID != guildID {
				continue
			}
			hit.Preview = chunk.Preview
		default:
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}
