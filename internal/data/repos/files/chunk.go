package files

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

type ChunkRepo interface {
	CreateBatch(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chunk, error)
	ListByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]*types.Chunk, error)
	ListUnindexed(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Chunk, error)
	ListStale(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Chunk, error)

	MarkIndexed(dbc dbctx.Context, id uuid.UUID, vectorKey, embedderIdentity string, readUpdatedAt time.Time) (bool, error)
	ClearIndex(dbc dbctx.Context, ids []uuid.UUID) error
	ClearIndexByGuild(dbc dbctx.Context, guildID uuid.UUID) (int64, error)

	// DeleteByAttachment removes an attachment's chunks and returns the
	// vector keys that were live for downstream purge.
	DeleteByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]string, error)

	// DeleteByChannel removes every chunk a channel produced. Used when
	// the channel leaves the index.
	DeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) (int64, error)

	ExistingVectorKeys(dbc dbctx.Context, guildID uuid.UUID, keys []string) (map[string]bool, error)
	CountsByGuild(dbc dbctx.Context, guildID uuid.UUID) (total, indexed int64, err error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{
		db:  db,
		log: baseLog.With("repo", "ChunkRepo"),
	}
}

func (r *chunkRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *chunkRepo) CreateBatch(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error) {
	if len(chunks) == 0 {
		return []*types.Chunk{}, nil
	}
	for _, c := range chunks {
		if c.GuildID == uuid.Nil || c.AttachmentID == uuid.Nil {
			return nil, errors.New("chunk requires guild and attachment")
		}
	}
	if err := r.tx(dbc).Create(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chunk, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var chunk types.Chunk
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&chunk).Error
	if err != nil {
		return nil, err
	}
	if chunk.ID == uuid.Nil {
		return nil, nil
	}
	return &chunk, nil
}

func (r *chunkRepo) ListByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]*types.Chunk, error) {
	if attachmentID == uuid.Nil {
		return nil, errors.New("attachment id required")
	}
	var out []*types.Chunk
	if err := r.tx(dbc).
		Where("attachment_id = ?", attachmentID).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListUnindexed(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Chunk, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND is_indexed = false", guildID).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Chunk
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListStale(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.Chunk, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND is_indexed = true AND indexed_at IS NOT NULL AND updated_at > indexed_at", guildID).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Chunk
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) MarkIndexed(dbc dbctx.Context, id uuid.UUID, vectorKey, embedderIdentity string, readUpdatedAt time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, errors.New("chunk id required")
	}
	if strings.TrimSpace(vectorKey) == "" {
		return false, errors.New("vector key required")
	}
	now := time.Now()
	res := r.tx(dbc).Model(&types.Chunk{}).
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

func (r *chunkRepo) ClearIndex(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.tx(dbc).Model(&types.Chunk{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_indexed": false,
			"vector_key": "",
			"indexed_at": nil,
			"updated_at": time.Now(),
		}).Error
}

func (r *chunkRepo) ClearIndexByGuild(dbc dbctx.Context, guildID uuid.UUID) (int64, error) {
	if guildID == uuid.Nil {
		return 0, errors.New("guild id required")
	}
	res := r.tx(dbc).Model(&types.Chunk{}).
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

func (r *chunkRepo) DeleteByAttachment(dbc dbctx.Context, attachmentID uuid.UUID) ([]string, error) {
	if attachmentID == uuid.Nil {
		return nil, errors.New("attachment id required")
	}
	var rows []*types.Chunk
	if err := r.tx(dbc).
		Select("id", "vector_key", "is_indexed").
		Where("attachment_id = ?", attachmentID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.IsIndexed && strings.TrimSpace(row.VectorKey) != "" {
			keys = append(keys, row.VectorKey)
		}
	}
	if err := r.tx(dbc).Where("attachment_id = ?", attachmentID).Delete(&types.Chunk{}).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *chunkRepo) DeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) (int64, error) {
	if channelID == uuid.Nil {
		return 0, errors.New("channel id required")
	}
	res := r.tx(dbc).Where("channel_id = ?", channelID).Delete(&types.Chunk{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *chunkRepo) ExistingVectorKeys(dbc dbctx.Context, guildID uuid.UUID, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if guildID == uuid.Nil || len(keys) == 0 {
		return out, nil
	}
	var found []string
	if err := r.tx(dbc).Model(&types.Chunk{}).
		Where("guild_id = ? AND vector_key IN ?", guildID, keys).
		Pluck("vector_key", &found).Error; err != nil {
		return nil, err
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

func (r *chunkRepo) CountsByGuild(dbc dbctx.Context, guildID uuid.UUID) (total, indexed int64, err error) {
	if guildID == uuid.Nil {
		return 0, 0, errors.New("guild id required")
	}
	if err = r.tx(dbc).Model(&types.Chunk{}).
		Where("guild_id = ?", guildID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = r.tx(dbc).Model(&types.Chunk{}).
		Where("guild_id = ? AND is_indexed = true", guildID).
		Count(&indexed).Error; err != nil {
		return 0, 0, err
	}
	return total, indexed, nil
}
