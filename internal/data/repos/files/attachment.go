package files

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	filesdomain "github.com/yungbote/guildsense-backend/internal/domain/files"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

type AttachmentRepo interface {
	Create(dbc dbctx.Context, att *types.Attachment) (*types.Attachment, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Attachment, error)
	GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Attachment, error)
	SetProcessingStatus(dbc dbctx.Context, id uuid.UUID, status, processingError string) error
	ListByStatus(dbc dbctx.Context, guildID uuid.UUID, status string, limit int) ([]*types.Attachment, error)
	ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.Attachment, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type attachmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttachmentRepo(db *gorm.DB, baseLog *logger.Logger) AttachmentRepo {
	return &attachmentRepo{
		db:  db,
		log: baseLog.With("repo", "AttachmentRepo"),
	}
}

func (r *attachmentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *attachmentRepo) Create(dbc dbctx.Context, att *types.Attachment) (*types.Attachment, error) {
	if att == nil {
		return nil, errors.New("attachment required")
	}
	if att.GuildID == uuid.Nil || att.MessageID == uuid.Nil {
		return nil, errors.New("attachment requires guild and message")
	}
	if att.ProcessingStatus == "" {
		att.ProcessingStatus = filesdomain.ProcessingPending
	}
	if err := r.tx(dbc).Create(att).Error; err != nil {
		return nil, err
	}
	return att, nil
}

func (r *attachmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Attachment, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var att types.Attachment
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&att).Error
	if err != nil {
		return nil, err
	}
	if att.ID == uuid.Nil {
		return nil, nil
	}
	return &att, nil
}

func (r *attachmentRepo) GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Attachment, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, nil
	}
	var att types.Attachment
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&att).Error
	if err != nil {
		return nil, err
	}
	if att.ID == uuid.Nil {
		return nil, nil
	}
	return &att, nil
}

func (r *attachmentRepo) SetProcessingStatus(dbc dbctx.Context, id uuid.UUID, status, processingError string) error {
	if id == uuid.Nil {
		return errors.New("attachment id required")
	}
	return r.tx(dbc).Model(&types.Attachment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": status,
			"processing_error":  processingError,
			"updated_at":        time.Now(),
		}).Error
}

func (r *attachmentRepo) ListByStatus(dbc dbctx.Context, guildID uuid.UUID, status string, limit int) ([]*types.Attachment, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	q := r.tx(dbc).
		Where("guild_id = ? AND processing_status = ?", guildID, status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Attachment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *attachmentRepo) ListByMessage(dbc dbctx.Context, messageID uuid.UUID) ([]*types.Attachment, error) {
	if messageID == uuid.Nil {
		return nil, errors.New("message id required")
	}
	var out []*types.Attachment
	if err := r.tx(dbc).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *attachmentRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.tx(dbc).Where("id IN ?", ids).Delete(&types.Attachment{}).Error
}
