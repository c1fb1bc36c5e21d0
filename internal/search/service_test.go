package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/data/repos/testutil"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/embed"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

func testService(t *testing.T) (*Service, repos.All, *vector.MemoryStore, embed.Embedder) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	all := repos.NewAll(db, log)
	store := vector.NewMemoryStore()
	embedder, err := embed.NewLocalEmbedder(64)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	svc := New(log, all, store, embedder, config.Default().Search)
	return svc, all, store, embedder
}

func seedIndexedSession(t *testing.T, all repos.All, store *vector.MemoryStore, embedder embed.Embedder, guild *types.Guild, channel *types.Channel, content string) *types.Session {
	t.Helper()
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	now := time.Now().Truncate(time.Second)
	created, err := all.Sessions.Create(dbc, []*types.Session{{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		StartedAt: now.Add(-5 * time.Minute),
		EndedAt:   now,
		Content:   content,
	}})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s := created[0]

	vecs, err := embedder.Embed(ctx, []string{content})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	key := "session:" + s.ID.String()
	err = store.Upsert(ctx, guild.ID.String(), []vector.Vector{{
		Key:    key,
		Values: vecs[0],
		Payload: map[string]any{
			vector.PayloadChannelIDKey:  channel.ID.String(),
			vector.PayloadSourceTypeKey: vector.SourceTypeSession,
			vector.PayloadSourceIDKey:   s.ID.String(),
			vector.PayloadCreatedAtKey:  now.UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fresh, err := all.Sessions.GetByID(dbc, s.ID)
	if err != nil || fresh == nil {
		t.Fatalf("reload session: %v", err)
	}
	ok, err := all.Sessions.MarkIndexed(dbc, s.ID, key, embedder.Identity(), fresh.UpdatedAt)
	if err != nil || !ok {
		t.Fatalf("mark indexed: ok=%v err=%v", ok, err)
	}
	return s
}

func seedSearchTenant(t *testing.T, all repos.All) (*types.Guild, *types.Channel) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, err := all.Guilds.UpsertByDiscordID(dbc, uuid.NewString(), "g")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	channel, err := all.Channels.UpsertByDiscordID(dbc, guild.ID, uuid.NewString(), "general")
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	return guild, channel
}

func TestSearchSemanticReturnsHydratedHits(t *testing.T) {
	svc, all, store, embedder := testService(t)
	guild, channel := seedSearchTenant(t, all)
	s := seedIndexedSession(t, all, store, embedder, guild, channel, "deploy plans for the new raid boss strategy")

	hits, err := svc.SearchSemantic(context.Background(), Params{
		GuildID: guild.ID,
		Query:   "deploy plans for the new raid boss strategy",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.SourceID != s.ID || hit.SourceType != vector.SourceTypeSession {
		t.Fatalf("unexpected hit %+v", hit)
	}
	if hit.ChannelID != channel.ID {
		t.Fatalf("channel not hydrated: %+v", hit)
	}
	if hit.Preview == "" {
		t.Fatalf("preview missing")
	}
}

func TestSearchSemanticRequiresGuild(t *testing.T) {
	svc, _, _, _ := testService(t)
	if _, err := svc.SearchSemantic(context.Background(), Params{Query: "anything"}); err != ErrGuildRequired {
		t.Fatalf("expected ErrGuildRequired, got %v", err)
	}
	if _, err := svc.SearchSemantic(context.Background(), Params{GuildID: uuid.New()}); err != ErrEmptyQuery {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearchSemanticChannelFilter(t *testing.T) {
	svc, all, store, embedder := testService(t)
	guild, channel := seedSearchTenant(t, all)
	dbc := dbctx.Context{Ctx: context.Background()}
	other, err := all.Channels.UpsertByDiscordID(dbc, guild.ID, uuid.NewString(), "random")
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	seedIndexedSession(t, all, store, embedder, guild, channel, "talk about database migrations")
	seedIndexedSession(t, all, store, embedder, guild, other, "talk about database migrations")

	hits, err := svc.SearchSemantic(context.Background(), Params{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		Query:     "database migrations",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.ChannelID != channel.ID {
			t.Fatalf("filter leaked channel %s", h.ChannelID)
		}
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 filtered hit, got %d", len(hits))
	}
}

func TestSearchSemanticDropsOrphanedMatches(t *testing.T) {
	svc, all, store, embedder := testService(t)
	guild, channel := seedSearchTenant(t, all)

	vecs, err := embedder.Embed(context.Background(), []string{"ghost content"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	err = store.Upsert(context.Background(), guild.ID.String(), []vector.Vector{{
		Key:    "session:" + uuid.NewString(),
		Values: vecs[0],
		Payload: map[string]any{
			vector.PayloadChannelIDKey:  channel.ID.String(),
			vector.PayloadSourceTypeKey: vector.SourceTypeSession,
			vector.PayloadSourceIDKey:   uuid.NewString(),
		},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := svc.SearchSemantic(context.Background(), Params{
		GuildID: guild.ID,
		Query:   "ghost content",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("orphaned vector leaked into results: %+v", hits)
	}
}

func TestListRecentScopesToChannel(t *testing.T) {
	svc, all, store, embedder := testService(t)
	guild, channel := seedSearchTenant(t, all)
	dbc := dbctx.Context{Ctx: context.Background()}
	other, err := all.Channels.UpsertByDiscordID(dbc, guild.ID, uuid.NewString(), "random")
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	seedIndexedSession(t, all, store, embedder, guild, channel, "alpha")
	seedIndexedSession(t, all, store, embedder, guild, other, "beta")

	sessions, err := svc.ListRecent(context.Background(), guild.ID, channel.ID, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ChannelID != channel.ID {
		t.Fatalf("expected only the scoped channel, got %d", len(sessions))
	}

	all2, err := svc.ListRecent(context.Background(), guild.ID, uuid.Nil, 10)
	if err != nil {
		t.Fatalf("list recent all: %v", err)
	}
	if len(all2) != 2 {
		t.Fatalf("expected both sessions, got %d", len(all2))
	}
}
