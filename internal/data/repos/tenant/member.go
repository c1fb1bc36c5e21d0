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

type MemberRepo interface {
	UpsertByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID, username, displayName string, isBot bool) (*types.Member, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Member, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Member, error)
	GetByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID string) (*types.Member, error)
	GetByDiscordIDs(dbc dbctx.Context, guildID uuid.UUID, discordIDs []string) (map[string]*types.Member, error)
}

type memberRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemberRepo(db *gorm.DB, baseLog *logger.Logger) MemberRepo {
	return &memberRepo{
		db:  db,
		log: baseLog.With("repo", "MemberRepo"),
	}
}

func (r *memberRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *memberRepo) UpsertByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID, username, displayName string, isBot bool) (*types.Member, error) {
	discordID = strings.TrimSpace(discordID)
	if guildID == uuid.Nil || discordID == "" {
		return nil, errors.New("guild id and discord id required")
	}
	var member types.Member
	err := r.tx(dbc).Where("guild_id = ? AND discord_id = ?", guildID, discordID).Limit(1).Find(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == uuid.Nil {
		member = types.Member{
			GuildID:     guildID,
			DiscordID:   discordID,
			Username:    strings.TrimSpace(username),
			DisplayName: strings.TrimSpace(displayName),
			IsBot:       isBot,
		}
		if err := r.tx(dbc).Create(&member).Error; err != nil {
			return nil, err
		}
		return &member, nil
	}

	updates := map[string]interface{}{}
	if u := strings.TrimSpace(username); u != "" && u != member.Username {
		updates["username"] = u
		member.Username = u
	}
	if d := strings.TrimSpace(displayName); d != member.DisplayName {
		updates["display_name"] = d
		member.DisplayName = d
	}
	if isBot != member.IsBot {
		updates["is_bot"] = isBot
		member.IsBot = isBot
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := r.tx(dbc).Model(&types.Member{}).Where("id = ?", member.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &member, nil
}

func (r *memberRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Member, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var member types.Member
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == uuid.Nil {
		return nil, nil
	}
	return &member, nil
}

func (r *memberRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Member, error) {
	out := make(map[uuid.UUID]*types.Member, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*types.Member
	if err := r.tx(dbc).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

func (r *memberRepo) GetByDiscordID(dbc dbctx.Context, guildID uuid.UUID, discordID string) (*types.Member, error) {
	discordID = strings.TrimSpace(discordID)
	if guildID == uuid.Nil || discordID == "" {
		return nil, nil
	}
	var member types.Member
	err := r.tx(dbc).Where("guild_id = ? AND discord_id = ?", guildID, discordID).Limit(1).Find(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == uuid.Nil {
		return nil, nil
	}
	return &member, nil
}

func (r *memberRepo) GetByDiscordIDs(dbc dbctx.Context, guildID uuid.UUID, discordIDs []string) (map[string]*types.Member, error) {
	out := make(map[string]*types.Member, len(discordIDs))
	if guildID == uuid.Nil || len(discordIDs) == 0 {
		return out, nil
	}
	var rows []*types.Member
	if err := r.tx(dbc).Where("guild_id = ? AND discord_id IN ?", guildID, discordIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.DiscordID] = m
	}
	return out, nil
}
