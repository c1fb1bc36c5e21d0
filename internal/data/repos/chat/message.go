package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	chatdomain "github.com/yungbote/guildsense-backend/internal/domain/chat"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, msg *types.Message) (*types.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error)
	GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Message, error)
	UpdateContent(dbc dbctx.Context, id uuid.UUID, content string, editedAt *time.Time) error

	// SoftDelete blanks content with the deletion marker and returns the
	// sessions the deleted messages belonged to, so their transcripts can
	// be rebuilt.
	SoftDeleteByDiscordIDs(dbc dbctx.Context, discordIDs []string) ([]uuid.UUID, error)
	BulkSoftDeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) ([]uuid.UUID, error)

	ListByChannel(dbc dbctx.Context, channelID uuid.UUID, since time.Time, limit int) ([]*types.Message, error)

	// ListByChannelPage walks a channel's stored history in ascending
	// (created_at, discord_id) order, strictly after the cursor. A zero
	// afterCreatedAt starts from the oldest message.
	ListByChannelPage(dbc dbctx.Context, channelID uuid.UUID, afterCreatedAt time.Time, afterDiscordID string, limit int) ([]*types.Message, error)
	ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Message, error)

	// ListUnassigned returns live messages not yet folded into a session,
	// in ingestion order.
	ListUnassigned(dbc dbctx.Context, channelID uuid.UUID, limit int) ([]*types.Message, error)
	AssignSession(dbc dbctx.Context, messageIDs []uuid.UUID, sessionID uuid.UUID) error
	ClearSession(dbc dbctx.Context, sessionID uuid.UUID) error
	ClearSessionsForChannel(dbc dbctx.Context, channelID uuid.UUID) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

func (r *messageRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *messageRepo) Create(dbc dbctx.Context, msg *types.Message) (*types.Message, error) {
	if msg == nil {
		return nil, errors.New("message required")
	}
	if msg.GuildID == uuid.Nil || msg.ChannelID == uuid.Nil {
		return nil, errors.New("message requires guild and channel")
	}
	if strings.TrimSpace(msg.DiscordID) == "" {
		return nil, errors.New("message requires discord id")
	}
	if err := r.tx(dbc).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var msg types.Message
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&msg).Error
	if err != nil {
		return nil, err
	}
	if msg.ID == uuid.Nil {
		return nil, nil
	}
	return &msg, nil
}

func (r *messageRepo) GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Message, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, nil
	}
	var msg types.Message
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&msg).Error
	if err != nil {
		return nil, err
	}
	if msg.ID == uuid.Nil {
		return nil, nil
	}
	return &msg, nil
}

func (r *messageRepo) UpdateContent(dbc dbctx.Context, id uuid.UUID, content string, editedAt *time.Time) error {
	if id == uuid.Nil {
		return errors.New("message id required")
	}
	updates := map[string]interface{}{
		"content":    content,
		"updated_at": time.Now(),
	}
	if editedAt != nil {
		updates["edited_at"] = *editedAt
	}
	// An edit never resurrects a deleted message.
	return r.tx(dbc).Model(&types.Message{}).
		Where("id = ? AND is_deleted = false", id).
		Updates(updates).Error
}

func (r *messageRepo) SoftDeleteByDiscordIDs(dbc dbctx.Context, discordIDs []string) ([]uuid.UUID, error) {
	clean := make([]string, 0, len(discordIDs))
	for _, id := range discordIDs {
		if s := strings.TrimSpace(id); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil, nil
	}

	var rows []*types.Message
	if err := r.tx(dbc).
		Select("id", "session_id").
		Where("discord_id IN ? AND is_deleted = false", clean).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	sessionSet := map[uuid.UUID]struct{}{}
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.SessionID != nil && *row.SessionID != uuid.Nil {
			sessionSet[*row.SessionID] = struct{}{}
		}
	}

	now := time.Now()
	if err := r.tx(dbc).Model(&types.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"content":    chatdomain.DeletedContentMarker,
			"is_deleted": true,
			"deleted_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}

	sessions := make([]uuid.UUID, 0, len(sessionSet))
	for id := range sessionSet {
		sessions = append(sessions, id)
	}
	return sessions, nil
}

func (r *messageRepo) BulkSoftDeleteByChannel(dbc dbctx.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}

	var rows []*types.Message
	if err := r.tx(dbc).
		Select("id", "session_id").
		Where("channel_id = ? AND is_deleted = false", channelID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sessionSet := map[uuid.UUID]struct{}{}
	for _, row := range rows {
		if row.SessionID != nil && *row.SessionID != uuid.Nil {
			sessionSet[*row.SessionID] = struct{}{}
		}
	}

	now := time.Now()
	if err := r.tx(dbc).Model(&types.Message{}).
		Where("channel_id = ? AND is_deleted = false", channelID).
		Updates(map[string]interface{}{
			"content":    chatdomain.DeletedContentMarker,
			"is_deleted": true,
			"deleted_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return nil, err
	}

	sessions := make([]uuid.UUID, 0, len(sessionSet))
	for id := range sessionSet {
		sessions = append(sessions, id)
	}
	return sessions, nil
}

func (r *messageRepo) ListByChannel(dbc dbctx.Context, channelID uuid.UUID, since time.Time, limit int) ([]*types.Message, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}
	q := r.tx(dbc).Where("channel_id = ?", channelID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	q = q.Order("created_at ASC, discord_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListByChannelPage(dbc dbctx.Context, channelID uuid.UUID, afterCreatedAt time.Time, afterDiscordID string, limit int) ([]*types.Message, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}
	q := r.tx(dbc).Where("channel_id = ?", channelID)
	if !afterCreatedAt.IsZero() {
		q = q.Where(
			"(created_at > ? OR (created_at = ? AND discord_id > ?))",
			afterCreatedAt, afterCreatedAt, afterDiscordID,
		)
	}
	q = q.Order("created_at ASC, discord_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Message, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("session id required")
	}
	var out []*types.Message
	if err := r.tx(dbc).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, discord_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListUnassigned(dbc dbctx.Context, channelID uuid.UUID, limit int) ([]*types.Message, error) {
	if channelID == uuid.Nil {
		return nil, errors.New("channel id required")
	}
	q := r.tx(dbc).
		Where("channel_id = ? AND session_id IS NULL AND is_deleted = false", channelID).
		Order("created_at ASC, discord_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) AssignSession(dbc dbctx.Context, messageIDs []uuid.UUID, sessionID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if sessionID == uuid.Nil {
		return errors.New("session id required")
	}
	return r.tx(dbc).Model(&types.Message{}).
		Where("id IN ?", messageIDs).
		Update("session_id", sessionID).Error
}

func (r *messageRepo) ClearSession(dbc dbctx.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return errors.New("session id required")
	}
	return r.tx(dbc).Model(&types.Message{}).
		Where("session_id = ?", sessionID).
		Update("session_id", nil).Error
}

func (r *messageRepo) ClearSessionsForChannel(dbc dbctx.Context, channelID uuid.UUID) error {
	if channelID == uuid.Nil {
		return errors.New("channel id required")
	}
	return r.tx(dbc).Model(&types.Message{}).
		Where("channel_id = ?", channelID).
		Update("session_id", nil).Error
}
