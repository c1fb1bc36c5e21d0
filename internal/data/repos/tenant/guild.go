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

type GuildRepo interface {
	UpsertByDiscordID(dbc dbctx.Context, discordID, name string) (*types.Guild, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Guild, error)
	GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Guild, error)
	ListActive(dbc dbctx.Context) ([]*types.Guild, error)
	SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error
}

type guildRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGuildRepo(db *gorm.DB, baseLog *logger.Logger) GuildRepo {
	return &guildRepo{
		db:  db,
		log: baseLog.With("repo", "GuildRepo"),
	}
}

func (r *guildRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *guildRepo) UpsertByDiscordID(dbc dbctx.Context, discordID, name string) (*types.Guild, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, errors.New("discord id required")
	}
	var guild types.Guild
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&guild).Error
	if err != nil {
		return nil, err
	}
	if guild.ID == uuid.Nil {
		guild = types.Guild{
			DiscordID: discordID,
			Name:      strings.TrimSpace(name),
			IsActive:  true,
		}
		if err := r.tx(dbc).Create(&guild).Error; err != nil {
			return nil, err
		}
		return &guild, nil
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if n := strings.TrimSpace(name); n != "" && n != guild.Name {
		updates["name"] = n
		guild.Name = n
	}
	if len(updates) > 1 {
		if err := r.tx(dbc).Model(&types.Guild{}).Where("id = ?", guild.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &guild, nil
}

func (r *guildRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Guild, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var guild types.Guild
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&guild).Error
	if err != nil {
		return nil, err
	}
	if guild.ID == uuid.Nil {
		return nil, nil
	}
	return &guild, nil
}

func (r *guildRepo) GetByDiscordID(dbc dbctx.Context, discordID string) (*types.Guild, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, nil
	}
	var guild types.Guild
	err := r.tx(dbc).Where("discord_id = ?", discordID).Limit(1).Find(&guild).Error
	if err != nil {
		return nil, err
	}
	if guild.ID == uuid.Nil {
		return nil, nil
	}
	return &guild, nil
}

func (r *guildRepo) ListActive(dbc dbctx.Context) ([]*types.Guild, error) {
	var out []*types.Guild
	if err := r.tx(dbc).Where("is_active = true").Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guildRepo) SetActive(dbc dbctx.Context, id uuid.UUID, active bool) error {
	if id == uuid.Nil {
		return errors.New("guild id required")
	}
	return r.tx(dbc).Model(&types.Guild{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now(),
		}).Error
}
