package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// IndexCounts summarizes a guild's session indexing state for the sync
// health report.
type IndexCounts struct {
	Total     int64
	Indexed   int64
	Stale     int64
	Unindexed int64
}

type SessionRepo interface {
	Create(dbc dbctx.Context, sessions []*types.Session) ([]*types.Session, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Session, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Session, error)
	ListByChannel(dbc dbctx.Context, channelID uuid.UUID) ([]*types.Session, error)

	// LatestByChannel returns the channel's most recent session, or nil.
	LatestByChannel(dbc dbctx.Context, channelID uuid.UUID) (*types.Session, error)

	// ListRecent pages a guild's sessions newest first. A non-nil
	// channelID narrows to one channel.
	ListRecent(dbc dbctx.Context, guildID, channelID uuid.UUID, limit int) ([]*types.Session, error)
	ListUnindexed(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Session, error)
	ListStale(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Session, error)

	UpdateDerived(dbc dbctx.Context, id uuid.UUID, content, summary string, tokenCount, messageCount int) error
	Touch(dbc dbctx.Context, ids []uuid.UUID) error

	// MarkIndexed flips the session to indexed only if it has not moved
	// since the worker read it. Returns false when the compare failed
	// and the vector just written is already out of date.
	MarkIndexed(dbc dbctx.Context, id uuid.UUID, vectorKey, embedderIdentity string, readUpdatedAt time.Time) (bool, error)
	ClearIndex(dbc dbctx.Context, ids []uuid.UUID) error

	// ClearIndexByGuild drops the indexed flag on every session in a
	// guild, so a later reactivation re-embeds from scratch.
	ClearIndexByGuild(dbc dbctx.Context, guildID uuid.UUID) (int64, error)

	// DeleteByIDs removes sessions and returns the vector keys that were
	// live, so the caller can purge them downstream.
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]string, error)

	// DeleteByChannel removes every session a channel produced. Used
	// when the channel leaves the index.
	DeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) (int64, error)

	ExistingVectorKeys(dbc dbctx.Context, guildID uuid.UUID, keys []string) (map[string]bool, error)
	CountsByGuild(dbc dbctx.Context, guildID uuid.UUID) (IndexCounts, error)
	ListByEmbedderNot(dbc dbctx.Context, guildID uuid.UUID, identity string, limit int) ([]*types.Session, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *sessionRepo) Create(dbc dbctx.Context, sessions []*types.Session) ([]*types.Session, error) {
	if len(sessions) == 0 {
		return []*types.Session{}, nil
	}
	for _, s := range sessions {
		if s.GuildID == uuid.Nil || s.ChannelID == uuid.Nil {
			return nil, errors.New("session requires guild and channel")
		}
	}
	if err := r.tx(dbc).Create(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Session, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var session types.Session
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *sessionRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Session, error) {
	var out []*types.Session
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.tx(dbc).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) ListByChannel(dbc dbctx.Context, channelID uuid.UUID) ([]*types.Session, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}
	var out []*types.Session
	if err := r.tx(dbc).
		Where("channel_id = ?", channelID).
		Order("started_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) LatestByChannel(dbc dbctx.Context, channelID uuid.UUID) (*types.Session, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}
	var session types.Session
	err := r.tx(dbc).
		Where("channel_id = ?", channelID).
		Order("ended_at DESC").
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *sessionRepo) ListRecent(dbc dbctx.Context, guildID, channelID uuid.UUID, limit int) ([]*types.Session, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ?", guildID).
		Order("ended_at DESC")
	if channelID != uuid.Nil {
		q = q.Where("channel_id = ?", channelID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Session
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) ListUnindexed(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Session, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND is_indexed = false", guildID).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Session
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) ListStale(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Session, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND is_indexed = true AND indexed_at IS NOT NULL AND updated_at > indexed_at", guildID).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Session
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepo) UpdateDerived(dbc dbctx.Context, id uuid.UUID, content, summary string, tokenCount, messageCount int) error {
	if id == uuid.Nil {
		return errors.New("session id required")
	}
	return r.tx(dbc).Model(&types.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":       content,
			"summary":       summary,
			"token_count":   tokenCount,
			"message_count": messageCount,
			"updated_at":    time.Now(),
		}).Error
}

func (r *sessionRepo) Touch(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.tx(dbc).Model(&types.Session{}).
		Where("id IN ?", ids).
		Update("updated_at", time.Now()).Error
}

func (r *sessionRepo) MarkIndexed(dbc dbctx.Context, id uuid.UUID, vectorKey, embedderIdentity string, readUpdatedAt time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, errors.New("session id required")
	}
	if strings.TrimSpace(vectorKey) == "" {
		return false, errors.New("vector key required")
	}
	now := time.Now()
	res := r.tx(dbc).Model(&types.Session{}).
		Where("id = ? AND updated_at = ?", id, readUpdatedAt).
		Updates(map[string]interface{}{
			"is_indexed":        true,
			"vector_key":        vectorKey,
			"indexed_at":        now,
			"embedder_identity": embedderIdentity,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepo) ClearIndex(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.tx(dbc).Model(&types.Session{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_indexed": false,
			"vector_key": "",
			"indexed_at": nil,
			"updated_at": time.Now(),
		}).Error
}

func (r *sessionRepo) ClearIndexByGuild(dbc dbctx.Context, guildID uuid.UUID) (int64, error) {
	if guildID == uuid.Nil {
		return 0, errors.New("guild id required")
	}
	res := r.tx(dbc).Model(&types.Session{}).
		Where("guild_id = ? AND is_indexed = true", guildID).
		Updates(map[string]interface{}{
			"is_indexed": false,
			"vector_key": "",
			"indexed_at": nil,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *sessionRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*types.Session
	if err := r.tx(dbc).
		Select("id", "vector_key", "is_indexed").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.IsIndexed && strings.TrimSpace(row.VectorKey) != "" {
			keys = append(keys, row.VectorKey)
		}
	}
	if err := r.tx(dbc).Where("id IN ?", ids).Delete(&types.Session{}).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *sessionRepo) DeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) (int64, error) {
	if channelID == uuid.Nil {
		return 0, errors.New("channel id required")
	}
	res := r.tx(dbc).Where("channel_id = ?", channelID).Delete(&types.Session{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *sessionRepo) ExistingVectorKeys(dbc dbctx.Context, guildID uuid.UUID, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if guildID == uuid.Nil || len(keys) == 0 {
		return out, nil
	}
	var found []string
	if err := r.tx(dbc).Model(&types.Session{}).
		Where("guild_id = ? AND vector_key IN ?", guildID, keys).
		Pluck("vector_key", &found).Error; err != nil {
		return nil, err
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

func (r *sessionRepo) CountsByGuild(dbc dbctx.Context, guildID uuid.UUID) (IndexCounts, error) {
	var counts IndexCounts
	if guildID == uuid.Nil {
		return counts, errors.New("guild id required")
	}
	base := func() *gorm.DB {
		return r.tx(dbc).Model(&types.Session{}).Where("guild_id = ?", guildID)
	}
	if err := base().Count(&counts.Total).Error; err != nil {
		return counts, err
	}
	if err := base().Where("is_indexed = true").Count(&counts.Indexed).Error; err != nil {
		return counts, err
	}
	if err := base().
		Where("is_indexed = true AND indexed_at IS NOT NULL AND updated_at > indexed_at").
		Count(&counts.Stale).Error; err != nil {
		return counts, err
	}
	counts.Unindexed = counts.Total - counts.Indexed
	return counts, nil
}

func (r *sessionRepo) ListByEmbedderNot(dbc dbctx.Context, guildID uuid.UUID, identity string, limit int) ([]*types.Session, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND is_indexed = true AND embedder_identity <> ?", guildID, identity).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Session
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
