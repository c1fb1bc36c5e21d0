package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/data/repos/testutil"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	filesdomain "github.com/yungbote/guildsense-backend/internal/domain/files"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/embed"
	"github.com/yungbote/guildsense-backend/internal/ingestion/fetcher"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

func testDeps(t *testing.T) (Deps, *vector.MemoryStore) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store := vector.NewMemoryStore()
	embedder, err := embed.NewLocalEmbedder(64)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	f, err := fetcher.New(log, config.Default().Attachments)
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	return Deps{
		Log:      log,
		DB:       db,
		Repos:    repos.NewAll(db, log),
		Store:    store,
		Embedder: embedder,
		Cfg:      config.Default(),
		Fetcher:  f,
	}, store
}

func jobFor(t *testing.T, kind string, payload any) *runtime.Context {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	job := &types.Job{ID: uuid.New(), Kind: kind, Payload: datatypes.JSON(raw)}
	return runtime.NewContext(context.Background(), nil, job)
}

func seedTenant(t *testing.T, deps Deps) (*types.Guild, *types.Channel, *types.Member) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, err := deps.Repos.Guilds.UpsertByDiscordID(dbc, uuid.NewString(), "g")
	if err != nil {
		t.Fatalf("guild: %v", err)
	}
	channel, err := deps.Repos.Channels.UpsertByDiscordID(dbc, guild.ID, uuid.NewString(), "general")
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if err := deps.Repos.Channels.SetIndexingEnabled(dbc, channel.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	member, err := deps.Repos.Members.UpsertByDiscordID(dbc, guild.ID, uuid.NewString(), "alice", "Alice", false)
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	return guild, channel, member
}

func seedMessages(t *testing.T, deps Deps, guild *types.Guild, channel *types.Channel, member *types.Member, n int, base time.Time) []*types.Message {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	out := make([]*types.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := deps.Repos.Messages.Create(dbc, &types.Message{
			GuildID:   guild.ID,
			ChannelID: channel.ID,
			AuthorID:  member.ID,
			DiscordID: uuid.NewString(),
			Content:   "message number with some content",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("message: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestSessionizeHandlerCreatesSessionsAndEnqueuesEmbeds(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)

	base := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	seedMessages(t, deps, guild, channel, member, 3, base)
	// A second burst past the gap timeout forms a second window.
	seedMessages(t, deps, guild, channel, member, 2, base.Add(time.Hour))

	h := &sessionizeHandler{deps}
	jc := jobFor(t, h.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})
	if err := h.Run(jc); err != nil {
		t.Fatalf("run: %v", err)
	}

	sessions, err := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.Content == "" {
			t.Fatalf("session transcript empty")
		}
		if !strings.Contains(s.Content, "Conversation in #general:") {
			t.Fatalf("transcript header missing: %q", s.Content[:40])
		}
		if s.MessageCount == 0 || s.TokenCount == 0 {
			t.Fatalf("derived counts missing")
		}
	}

	// Every unassigned message got folded in.
	left, err := deps.Repos.Messages.ListUnassigned(dbc, channel.ID, 0)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("%d messages left unassigned", len(left))
	}
}

func TestSessionizeHandlerIsIdempotentWhenNothingNew(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))

	h := &sessionizeHandler{deps}
	jc := jobFor(t, h.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})
	if err := h.Run(jc); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)

	if err := h.Run(jc); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if len(first) != len(second) {
		t.Fatalf("rerun changed session count: %d -> %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("rerun replaced an untouched session")
	}
}

func TestSessionizeHandlerSkipsSingleMessageWindows(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)

	// Two messages separated by well over the gap timeout land in two
	// one-message windows; neither may become a session.
	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	seedMessages(t, deps, guild, channel, member, 1, base)
	seedMessages(t, deps, guild, channel, member, 1, base.Add(time.Hour))

	h := &sessionizeHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}

	sessions, err := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("%d sessions created from one-message windows", len(sessions))
	}
	left, err := deps.Repos.Messages.ListUnassigned(dbc, channel.ID, 0)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("unassigned = %d, want 2", len(left))
	}
}

func TestEmbedSessionHandlerIndexesSession(t *testing.T) {
	deps, store := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if len(sessions) == 0 {
		t.Fatalf("no sessions")
	}
	session := sessions[0]

	h := &embedSessionHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("embed: %v", err)
	}

	got, _ := deps.Repos.Sessions.GetByID(dbc, session.ID)
	if !got.IsIndexed || got.VectorKey == "" {
		t.Fatalf("session not marked indexed")
	}
	if got.EmbedderIdentity != deps.Embedder.Identity() {
		t.Fatalf("identity = %q", got.EmbedderIdentity)
	}

	count, err := store.Count(context.Background(), guild.ID.String())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("vector count = %d, want 1", count)
	}

	// Second run is a no-op.
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("re-embed: %v", err)
	}
}

func TestEmbedSessionHandlerSkipsSingleMessageSession(t *testing.T) {
	deps, store := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, _ := seedTenant(t, deps)

	started := time.Now().Add(-time.Hour)
	created, err := deps.Repos.Sessions.Create(dbc, []*types.Session{{
		GuildID:      guild.ID,
		ChannelID:    channel.ID,
		StartedAt:    started,
		EndedAt:      started,
		MessageCount: 1,
		TokenCount:   4,
		Content:      "Conversation in #general:\n[alice @ 2026-01-01 10:00]: hi",
	}})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	h := &embedSessionHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: created[0].ID})); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := deps.Repos.Sessions.GetByID(dbc, created[0].ID)
	if got.IsIndexed {
		t.Fatalf("single-message session must not be embedded")
	}
	count, _ := store.Count(context.Background(), guild.ID.String())
	if count != 0 {
		t.Fatalf("vector count = %d, want 0", count)
	}
}

func TestEmbedSessionHandlerMissingSessionIsNoop(t *testing.T) {
	deps, _ := testDeps(t)
	h := &embedSessionHandler{deps}
	err := h.Run(jobFor(t, h.Kind(), jobsdomain.EmbedSessionPayload{GuildID: uuid.New(), SessionID: uuid.New()}))
	if err != nil {
		t.Fatalf("missing session must be a no-op, got %v", err)
	}
}

func TestReindexHandlerRemovesFullyDeletedSession(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 2, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	session := sessions[0]

	eh := &embedSessionHandler{deps}
	if err := eh.Run(jobFor(t, eh.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("embed: %v", err)
	}

	ids := []string{msgs[0].DiscordID, msgs[1].DiscordID}
	if _, err := deps.Repos.Messages.SoftDeleteByDiscordIDs(dbc, ids); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	rh := &reindexSessionHandler{deps}
	if err := rh.Run(jobFor(t, rh.Kind(), jobsdomain.ReindexSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	if got, _ := deps.Repos.Sessions.GetByID(dbc, session.ID); got != nil {
		t.Fatalf("fully deleted session must be removed")
	}
	count, _ := store.Count(ctx, guild.ID.String())
	if count != 0 {
		t.Fatalf("vector survived session removal")
	}
}

func TestReindexHandlerRemovesSessionLeftWithOneLiveMessage(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 2, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	session := sessions[0]

	eh := &embedSessionHandler{deps}
	if err := eh.Run(jobFor(t, eh.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("embed: %v", err)
	}

	if _, err := deps.Repos.Messages.SoftDeleteByDiscordIDs(dbc, []string{msgs[0].DiscordID}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	rh := &reindexSessionHandler{deps}
	if err := rh.Run(jobFor(t, rh.Kind(), jobsdomain.ReindexSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	if got, _ := deps.Repos.Sessions.GetByID(dbc, session.ID); got != nil {
		t.Fatalf("session below two live messages must be removed")
	}
	count, _ := store.Count(ctx, guild.ID.String())
	if count != 0 {
		t.Fatalf("vector survived session removal")
	}
	// The survivor returns to the unassigned pool for a later window.
	left, _ := deps.Repos.Messages.ListUnassigned(dbc, channel.ID, 0)
	if len(left) != 1 {
		t.Fatalf("unassigned = %d, want 1", len(left))
	}
}

func TestReindexHandlerRebuildsTranscriptWithoutDeletedContent(t *testing.T) {
	deps, _ := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	session := sessions[0]

	if _, err := deps.Repos.Messages.SoftDeleteByDiscordIDs(dbc, []string{msgs[1].DiscordID}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	rh := &reindexSessionHandler{deps}
	if err := rh.Run(jobFor(t, rh.Kind(), jobsdomain.ReindexSessionPayload{GuildID: guild.ID, SessionID: session.ID})); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	got, _ := deps.Repos.Sessions.GetByID(dbc, session.ID)
	if got == nil {
		t.Fatalf("session missing")
	}
	if got.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", got.MessageCount)
	}
	if !got.IsIndexed {
		t.Fatalf("session not re-indexed")
	}
}

func TestPurgeVectorsHandler(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	guildID := uuid.New()

	vec := make([]float32, 64)
	vec[0] = 1
	if err := store.Upsert(ctx, guildID.String(), []vector.Vector{{
		Key:    "session:x",
		Values: vec,
		Payload: map[string]any{
			vector.PayloadGuildIDKey: guildID.String(),
		},
	}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	h := &purgeVectorsHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.PurgeVectorsPayload{GuildID: guildID, Keys: []string{"session:x"}})); err != nil {
		t.Fatalf("purge: %v", err)
	}
	count, _ := store.Count(ctx, guildID.String())
	if count != 0 {
		t.Fatalf("vector not purged")
	}
}

func TestPurgeChannelHandlerSweepsBothStores(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if len(sessions) == 0 {
		t.Fatalf("no sessions")
	}
	eh := &embedSessionHandler{deps}
	if err := eh.Run(jobFor(t, eh.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: sessions[0].ID})); err != nil {
		t.Fatalf("embed: %v", err)
	}

	h := &purgeChannelHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.PurgeChannelVectorsPayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("purge: %v", err)
	}

	left, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if len(left) != 0 {
		t.Fatalf("%d sessions survived channel purge", len(left))
	}
	count, _ := store.Count(ctx, guild.ID.String())
	if count != 0 {
		t.Fatalf("vector count = %d after channel purge", count)
	}
	// Messages stay, unassigned, so a re-enabled channel rebuilds from
	// scratch.
	unassigned, err := deps.Repos.Messages.ListUnassigned(dbc, channel.ID, 0)
	if err != nil {
		t.Fatalf("unassigned: %v", err)
	}
	if len(unassigned) != 3 {
		t.Fatalf("unassigned = %d, want 3", len(unassigned))
	}
}

func TestBackfillHandlerQueuesSessionizeForStoredHistory(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 5, time.Now().Add(-2*time.Hour))

	h := &backfillChannelHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.BackfillChannelPayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}

	wantKey := jobsdomain.SessionizeDedupKey(channel.ID) + ":" + msgs[len(msgs)-1].DiscordID
	found := false
	for i := 0; i < 50; i++ {
		job, err := deps.Repos.Queue.Reserve(dbc, []string{jobsdomain.KindSessionize}, time.Minute)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if job == nil {
			break
		}
		match := job.DedupKey == wantKey
		if err := deps.Repos.Queue.Ack(dbc, job.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if match {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected a sessionize job keyed on the page boundary")
	}

	// A short page ends the walk: no follow-up crawl for this channel.
	for i := 0; i < 50; i++ {
		job, err := deps.Repos.Queue.Reserve(dbc, []string{jobsdomain.KindBackfillChannel}, time.Minute)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if job == nil {
			break
		}
		var payload jobsdomain.BackfillChannelPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if err := deps.Repos.Queue.Ack(dbc, job.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if payload.ChannelID == channel.ID {
			t.Fatalf("short page must finish the backfill")
		}
	}
}

func TestBackfillHandlerSkipsDisabledChannel(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))
	if err := deps.Repos.Channels.SetIndexingEnabled(dbc, channel.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	h := &backfillChannelHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.BackfillChannelPayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i := 0; i < 50; i++ {
		job, err := deps.Repos.Queue.Reserve(dbc, []string{jobsdomain.KindSessionize}, time.Minute)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if job == nil {
			break
		}
		match := job.GuildID == guild.ID
		if err := deps.Repos.Queue.Ack(dbc, job.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if match {
			t.Fatalf("backfill queued work for a disabled channel")
		}
	}
}

func TestPurgeGuildHandlerClearsIndexAcrossBothStores(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	seedMessages(t, deps, guild, channel, member, 3, time.Now().Add(-time.Hour))

	sz := &sessionizeHandler{deps}
	if err := sz.Run(jobFor(t, sz.Kind(), jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID})); err != nil {
		t.Fatalf("sessionize: %v", err)
	}
	sessions, _ := deps.Repos.Sessions.ListByChannel(dbc, channel.ID)
	if len(sessions) == 0 {
		t.Fatalf("no sessions")
	}
	eh := &embedSessionHandler{deps}
	if err := eh.Run(jobFor(t, eh.Kind(), jobsdomain.EmbedSessionPayload{GuildID: guild.ID, SessionID: sessions[0].ID})); err != nil {
		t.Fatalf("embed: %v", err)
	}

	h := &purgeGuildHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.PurgeGuildVectorsPayload{GuildID: guild.ID})); err != nil {
		t.Fatalf("purge: %v", err)
	}

	count, _ := store.Count(ctx, guild.ID.String())
	if count != 0 {
		t.Fatalf("vector count = %d after guild purge", count)
	}
	// Rows stay, unindexed, so reactivation re-embeds from scratch.
	got, _ := deps.Repos.Sessions.GetByID(dbc, sessions[0].ID)
	if got == nil {
		t.Fatalf("guild purge must not delete session rows")
	}
	if got.IsIndexed || got.VectorKey != "" {
		t.Fatalf("session still marked indexed after guild purge")
	}
}

func TestProcessAttachmentHandlerTextPath(t *testing.T) {
	deps, store := testDeps(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 1, time.Now().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("useful attachment text. ", 100)))
	}))
	defer srv.Close()

	att, err := deps.Repos.Attachments.Create(dbc, &types.Attachment{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		MessageID: msgs[0].ID,
		DiscordID: uuid.NewString(),
		Filename:  "notes.txt",
		Extension: ".txt",
		URL:       srv.URL,
	})
	if err != nil {
		t.Fatalf("attachment: %v", err)
	}

	h := &processAttachmentHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.ProcessAttachmentPayload{GuildID: guild.ID, AttachmentID: att.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := deps.Repos.Attachments.GetByID(dbc, att.ID)
	if got.ProcessingStatus != filesdomain.ProcessingCompleted {
		t.Fatalf("status = %s", got.ProcessingStatus)
	}
	chunks, err := deps.Repos.Chunks.ListByAttachment(dbc, att.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("no chunks created")
	}
	for _, c := range chunks {
		if !c.IsIndexed || c.VectorKey == "" {
			t.Fatalf("chunk not indexed")
		}
	}
	count, _ := store.Count(ctx, guild.ID.String())
	if count != int64(len(chunks)) {
		t.Fatalf("vector count = %d, chunks = %d", count, len(chunks))
	}
}

type fixedPageExtractor struct{ pages []string }

func (f fixedPageExtractor) ExtractPages(ctx context.Context, data []byte) ([]string, error) {
	return f.pages, nil
}

func TestProcessAttachmentHandlerPDFPath(t *testing.T) {
	deps, store := testDeps(t)
	deps.Extractor = fixedPageExtractor{pages: []string{
		strings.Repeat("first page prose about deployment. ", 30),
		strings.Repeat("second page prose about rollback. ", 30),
	}}
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 1, time.Now().Add(-time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 payload bytes"))
	}))
	defer srv.Close()

	att, err := deps.Repos.Attachments.Create(dbc, &types.Attachment{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		MessageID: msgs[0].ID,
		DiscordID: uuid.NewString(),
		Filename:  "runbook.pdf",
		Extension: ".pdf",
		URL:       srv.URL,
	})
	if err != nil {
		t.Fatalf("attachment: %v", err)
	}

	h := &processAttachmentHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.ProcessAttachmentPayload{GuildID: guild.ID, AttachmentID: att.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := deps.Repos.Attachments.GetByID(dbc, att.ID)
	if got.ProcessingStatus != filesdomain.ProcessingCompleted {
		t.Fatalf("status = %s, error = %q", got.ProcessingStatus, got.ProcessingError)
	}
	chunks, _ := deps.Repos.Chunks.ListByAttachment(dbc, att.ID)
	if len(chunks) == 0 {
		t.Fatalf("no chunks from pdf pages")
	}
	count, _ := store.Count(ctx, guild.ID.String())
	if count != int64(len(chunks)) {
		t.Fatalf("vector count = %d, chunks = %d", count, len(chunks))
	}
}

func TestProcessAttachmentHandlerSkipsDisabledChannel(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 1, time.Now().Add(-time.Hour))

	att, err := deps.Repos.Attachments.Create(dbc, &types.Attachment{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		MessageID: msgs[0].ID,
		DiscordID: uuid.NewString(),
		Filename:  "notes.txt",
		Extension: ".txt",
		URL:       "http://unused.invalid/",
	})
	if err != nil {
		t.Fatalf("attachment: %v", err)
	}
	if err := deps.Repos.Channels.SetIndexingEnabled(dbc, channel.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	h := &processAttachmentHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.ProcessAttachmentPayload{GuildID: guild.ID, AttachmentID: att.ID})); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := deps.Repos.Attachments.GetByID(dbc, att.ID)
	if got.ProcessingStatus != filesdomain.ProcessingPending {
		t.Fatalf("status = %s, want pending", got.ProcessingStatus)
	}
	chunks, _ := deps.Repos.Chunks.ListByAttachment(dbc, att.ID)
	if len(chunks) != 0 {
		t.Fatalf("chunks created for a de-indexed channel")
	}
}

func TestProcessAttachmentHandlerBlockedTypeFailsAttachmentNotJob(t *testing.T) {
	deps, _ := testDeps(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	guild, channel, member := seedTenant(t, deps)
	msgs := seedMessages(t, deps, guild, channel, member, 1, time.Now().Add(-time.Hour))

	att, err := deps.Repos.Attachments.Create(dbc, &types.Attachment{
		GuildID:   guild.ID,
		ChannelID: channel.ID,
		MessageID: msgs[0].ID,
		DiscordID: uuid.NewString(),
		Filename:  "payload.exe",
		Extension: ".exe",
		URL:       "http://unused.invalid/",
	})
	if err != nil {
		t.Fatalf("attachment: %v", err)
	}

	h := &processAttachmentHandler{deps}
	if err := h.Run(jobFor(t, h.Kind(), jobsdomain.ProcessAttachmentPayload{GuildID: guild.ID, AttachmentID: att.ID})); err != nil {
		t.Fatalf("blocked type must not fail the job: %v", err)
	}
	got, _ := deps.Repos.Attachments.GetByID(dbc, att.ID)
	if got.ProcessingStatus != filesdomain.ProcessingFailed {
		t.Fatalf("status = %s, want failed", got.ProcessingStatus)
	}
	if got.ProcessingError != "blocked_extension" {
		t.Fatalf("processing error = %q, want blocked_extension", got.ProcessingError)
	}
}
