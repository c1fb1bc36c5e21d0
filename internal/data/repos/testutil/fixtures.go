package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
)

func SeedGuild(tb testing.TB, ctx context.Context, tx *gorm.DB, discordID string) *types.Guild {
	tb.Helper()
	g := &types.Guild{
		ID:        uuid.New(),
		DiscordID: discordID,
		Name:      "guild",
		IsActive:  true,
	}
	if err := tx.WithContext(ctx).Create(g).Error; err != nil {
		tb.Fatalf("seed guild: %v", err)
	}
	return g
}

func SeedChannel(tb testing.TB, ctx context.Context, tx *gorm.DB, guildID uuid.UUID, discordID string) *types.Channel {
	tb.Helper()
	c := &types.Channel{
		ID:              uuid.New(),
		GuildID:         guildID,
		DiscordID:       discordID,
		Name:            "general",
		IndexingEnabled: true,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed channel: %v", err)
	}
	return c
}

func SeedMember(tb testing.TB, ctx context.Context, tx *gorm.DB, guildID uuid.UUID, discordID string) *types.Member {
	tb.Helper()
	m := &types.Member{
		ID:        uuid.New(),
		GuildID:   guildID,
		DiscordID: discordID,
		Username:  "user-" + discordID,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed member: %v", err)
	}
	return m
}

func SeedMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, guildID, channelID, authorID uuid.UUID, discordID, content string, createdAt time.Time) *types.Message {
	tb.Helper()
	m := &types.Message{
		ID:        uuid.New(),
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		DiscordID: discordID,
		Content:   content,
		CreatedAt: createdAt,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed message: %v", err)
	}
	return m
}

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, guildID, channelID uuid.UUID, startedAt time.Time) *types.Session {
	tb.Helper()
	s := &types.Session{
		ID:        uuid.New(),
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: startedAt,
		EndedAt:   startedAt.Add(10 * time.Minute),
		Content:   "transcript",
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

func SeedAttachment(tb testing.TB, ctx context.Context, tx *gorm.DB, guildID, channelID, messageID uuid.UUID, discordID string) *types.Attachment {
	tb.Helper()
	a := &types.Attachment{
		ID:               uuid.New(),
		GuildID:          guildID,
		ChannelID:        channelID,
		MessageID:        messageID,
		DiscordID:        discordID,
		Filename:         "notes.txt",
		Extension:        ".txt",
		URL:              "https://cdn.example/notes.txt",
		ProcessingStatus: "pending",
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed attachment: %v", err)
	}
	return a
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
