package tenant

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

type ChannelRepo interface {
	UpsertByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID, name string) (*types.Channel, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Channel, error)
	GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Channel, error)
	ListIndexed(dbc dbctx.Context, guildID uuid.UUID) ([]*types.Channel, error)
	SetIndexingEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error
	Touch(dbc dbctx.Context, id uuid.UUID) error
}

type channelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelRepo(db *gorm.DB, baseLog *logger.Logger) ChannelRepo {
	return &channelRepo{
		db:  db,
		log: baseLog.With("repo", "ChannelRepo"),
	}
}

func (r *channelRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *channelRepo) UpsertByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID, name string) (*types.Channel, error) {
	discordID = strings.TrimSpace(discordID)
	if guildID == uuid.Nil || discordID == "" {
		return nil, errors.New("guild id and discord id required")
	}
	var channel types.Channel
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&channel).Error
	if err != nil {
		return nil, err
	}
	if channel.ID == uuid.Nil {
		channel = types.Channel{
			GuildID:   guildID,
			DiscordID: discordID,
			Name:      strings.TrimSpace(name),
		}
		if err := r.tx(dbc).Create(&channel).Error; err != nil {
			return nil, err
		}
		return &channel, nil
	}
	if channel.GuildID != guildID {
		return nil, errors.New("channel belongs to a different guild")
	}
	if n := strings.TrimSpace(name); n != "" && n != channel.Name {
		if err := r.tx(dbc).Model(&types.Channel{}).Where("id = ?", channel.ID).Updates(map[string]interface{}{
			"name":       n,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return nil, err
		}
		channel.Name = n
	}
	return &channel, nil
}

func (r *channelRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Channel, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var channel types.Channel
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&channel).Error
	if err != nil {
		return nil, err
	}
	if channel.ID == uuid.Nil {
		return nil, nil
	}
	return &channel, nil
}

func (r *channelRepo) GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Channel, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, nil
	}
	var channel types.Channel
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&channel).Error
	if err != nil {
		return nil, err
	}
	if channel.ID == uuid.Nil {
		return nil, nil
	}
	return &channel, nil
}

func (r *channelRepo) ListIndexed(dbc dbctx.Context, guildID uuid.UUID) ([]*types.Channel, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	var out []*types.Channel
	if err := r.tx(dbc).
		Where("guild_id = ? AND indexing_enabled = true", guildID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *channelRepo) SetIndexingEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error {
	if id == uuid.Nil {
		return errors.New("channel id required")
	}
	return r.tx(dbc).Model(&types.Channel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"indexing_enabled": enabled,
			"updated_at":       time.Now(),
		}).Error
}

func (r *channelRepo) Touch(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).Model(&types.Channel{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}
