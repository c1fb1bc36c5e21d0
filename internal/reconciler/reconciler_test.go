package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/data/repos/chat"
	"github.com/yungbote/guildsense-backend/internal/data/repos/testutil"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/realtime"
	"github.com/yungbote/guildsense-backend/internal/realtime/bus"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

const testIdentity = "local:sha256:64"

func testReconciler(t *testing.T) (*Reconciler, repos.All, *vector.MemoryStore, *bus.MemoryBus) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	all := repos.NewAll(db, log)
	store := vector.NewMemoryStore()
	eventBus := bus.NewMemoryBus()
	r := New(log, all, store, testIdentity, eventBus, config.Default().Reconciler)
	return r, all, store, eventBus
}

func seedGuild(t *testing.T, all repos.All) (*types.Guild, *types.Channel) {
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

func seedSession(t *testing.T, all repos.All, guild *types.Guild, channel *types.Channel) *types.Session {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	now := time.Now().Truncate(time.Second)
	created, err := all.Sessions.Create(dbc, []*types.Session{{
		GuildID:      guild.ID,
		ChannelID:    channel.ID,
		StartedAt:    now.Add(-10 * time.Minute),
		EndedAt:      now,
		MessageCount: 3,
		TokenCount:   40,
		Content:      "Conversation in #general:\nsomething happened",
	}})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return created[0]
}

func markIndexed(t *testing.T, all repos.All, s *types.Session, identity string) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	fresh, err := all.Sessions.GetByID(dbc, s.ID)
	if err != nil || fresh == nil {
		t.Fatalf("reload session: %v", err)
	}
	ok, err := all.Sessions.MarkIndexed(dbc, s.ID, "session:"+s.ID.String(), identity, fresh.UpdatedAt)
	if err != nil {
		t.Fatalf("mark indexed: %v", err)
	}
	if !ok {
		t.Fatalf("mark indexed did not apply")
	}
}

func TestReconcilerRepairsUnindexedSession(t *testing.T) {
	r, all, _, _ := testReconciler(t)
	guild, channel := seedGuild(t, all)
	seedSession(t, all, guild, channel)

	report, err := r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.RepairsEnqueued != 1 {
		t.Fatalf("expected 1 repair, got %d", report.RepairsEnqueued)
	}
	if report.Sessions.Unindexed != 1 {
		t.Fatalf("expected 1 unindexed session, got %d", report.Sessions.Unindexed)
	}
	if report.Healthy {
		t.Fatalf("guild with unindexed session should not be healthy")
	}

	// The repair is already pending, so a second sweep dedups.
	report, err = r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile again: %v", err)
	}
	if report.RepairsEnqueued != 0 {
		t.Fatalf("expected dedup on second sweep, got %d repairs", report.RepairsEnqueued)
	}
}

func TestReconcilerDetectsStaleSession(t *testing.T) {
	r, all, _, _ := testReconciler(t)
	guild, channel := seedGuild(t, all)
	s := seedSession(t, all, guild, channel)
	markIndexed(t, all, s, testIdentity)

	dbc := dbctx.Context{Ctx: context.Background()}
	if err := all.Sessions.Touch(dbc, []uuid.UUID{s.ID}); err != nil {
		t.Fatalf("touch: %v", err)
	}

	report, err := r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Sessions.Stale != 1 {
		t.Fatalf("expected 1 stale session, got %d", report.Sessions.Stale)
	}
	if report.RepairsEnqueued != 1 {
		t.Fatalf("expected 1 repair, got %d", report.RepairsEnqueued)
	}
	if report.Healthy {
		t.Fatalf("guild with stale session should not be healthy")
	}
}

func TestReconcilerDetectsEmbedderDrift(t *testing.T) {
	r, all, _, _ := testReconciler(t)
	guild, channel := seedGuild(t, all)
	s := seedSession(t, all, guild, channel)
	markIndexed(t, all, s, "openai:text-embedding-3-small")

	report, err := r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.DriftedSessions != 1 {
		t.Fatalf("expected 1 drifted session, got %d", report.DriftedSessions)
	}
	if report.RepairsEnqueued != 1 {
		t.Fatalf("expected 1 repair, got %d", report.RepairsEnqueued)
	}
}

func TestReconcilerPurgesOrphanVectors(t *testing.T) {
	r, all, store, _ := testReconciler(t)
	guild, _ := seedGuild(t, all)

	orphanKey := "session:" + uuid.NewString()
	err := store.Upsert(context.Background(), guild.ID.String(), []vector.Vector{{
		Key:    orphanKey,
		Values: []float32{0.1, 0.2, 0.3},
	}})
	if err != nil {
		t.Fatalf("upsert orphan: %v", err)
	}

	report, err := r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.OrphanKeys != 1 {
		t.Fatalf("expected 1 orphan key, got %d", report.OrphanKeys)
	}
	if report.RepairsEnqueued != 1 {
		t.Fatalf("expected 1 purge job, got %d", report.RepairsEnqueued)
	}
}

func TestReconcilerSkipsLiveVectors(t *testing.T) {
	r, all, store, _ := testReconciler(t)
	guild, channel := seedGuild(t, all)
	s := seedSession(t, all, guild, channel)
	markIndexed(t, all, s, testIdentity)

	err := store.Upsert(context.Background(), guild.ID.String(), []vector.Vector{{
		Key:    "session:" + s.ID.String(),
		Values: []float32{0.1, 0.2, 0.3},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	report, err := r.reconcileGuild(context.Background(), guild)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.OrphanKeys != 0 {
		t.Fatalf("live vector flagged as orphan")
	}
	if report.RepairsEnqueued != 0 {
		t.Fatalf("healthy guild should need no repairs, got %d", report.RepairsEnqueued)
	}
	if !report.Healthy || report.SyncHealth != 1 {
		t.Fatalf("expected full sync health, got %v healthy=%v", report.SyncHealth, report.Healthy)
	}
}

func TestReconcilerPublishesSyncHealth(t *testing.T) {
	r, all, _, eventBus := testReconciler(t)
	guild, channel := seedGuild(t, all)
	s := seedSession(t, all, guild, channel)
	markIndexed(t, all, s, testIdentity)

	if _, err := r.reconcileGuild(context.Background(), guild); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	events := eventBus.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != realtime.EventSyncHealth {
		t.Fatalf("unexpected event kind %q", events[0].Kind)
	}
	if events[0].Channel != realtime.GuildChannel(guild.ID) {
		t.Fatalf("unexpected event channel %q", events[0].Channel)
	}
}

func TestSyncHealthMath(t *testing.T) {
	if h := syncHealth(chat.IndexCounts{}, 0, 0); h != 1 {
		t.Fatalf("empty guild should be fully healthy, got %v", h)
	}
	if h := syncHealth(chat.IndexCounts{Total: 4, Indexed: 4}, 0, 0); h != 1 {
		t.Fatalf("all indexed should be 1, got %v", h)
	}
	if h := syncHealth(chat.IndexCounts{Total: 4, Indexed: 2, Unindexed: 2}, 0, 0); h != 0.5 {
		t.Fatalf("half indexed should be 0.5, got %v", h)
	}
	if h := syncHealth(chat.IndexCounts{Total: 2, Indexed: 2, Stale: 2}, 2, 2); h != 0.5 {
		t.Fatalf("stale sessions should count against health, got %v", h)
	}
}
