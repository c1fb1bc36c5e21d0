package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/data/repos/chat"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/realtime"
	"github.com/yungbote/guildsense-backend/internal/realtime/bus"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

// GuildReport is one sweep's findings for a guild: how far the vector
// store has drifted from relational truth and what repairs were queued.
type GuildReport struct {
	GuildID uuid.UUID `json:"guild_id"`

	Sessions chat.IndexCounts `json:"sessions"`

	ChunksTotal   int64 `json:"chunks_total"`
	ChunksIndexed int64 `json:"chunks_indexed"`

	OrphanKeys      int `json:"orphan_keys"`
	DriftedSessions int `json:"drifted_sessions"`
	RepairsEnqueued int `json:"repairs_enqueued"`

	SyncHealth float64 `json:"sync_health"`
	Healthy    bool    `json:"healthy"`
}

// Reconciler periodically drives the vector store back toward the
// relational store. It repairs four populations: rows never indexed,
// rows edited since indexing, vectors whose rows are gone, and vectors
// produced by a different embedder identity.
type Reconciler struct {
	log      *logger.Logger
	repos    repos.All
	store    vector.Store
	identity string
	bus      bus.Bus
	cfg      config.ReconcilerConfig
}

func New(baseLog *logger.Logger, all repos.All, store vector.Store, embedderIdentity string, eventBus bus.Bus, cfg config.ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.SyncHealthThreshold <= 0 || cfg.SyncHealthThreshold > 1 {
		cfg.SyncHealthThreshold = 0.95
	}
	return &Reconciler{
		log:      baseLog.With("service", "Reconciler"),
		repos:    all,
		store:    store,
		identity: embedderIdentity,
		bus:      eventBus,
		cfg:      cfg,
	}
}

// Run sweeps on the configured interval until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("reconcile sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles every active guild and returns the per-guild
// reports.
func (r *Reconciler) RunOnce(ctx context.Context) ([]GuildReport, error) {
	dbc := dbctx.Context{Ctx: ctx}

	guilds, err := r.repos.Guilds.ListActive(dbc)
	if err != nil {
		return nil, err
	}

	reports := make([]GuildReport, 0, len(guilds))
	for _, g := range guilds {
		report, err := r.reconcileGuild(ctx, g)
		if err != nil {
			r.log.Error("guild reconcile failed", "guild_id", g.ID, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (r *Reconciler) reconcileGuild(ctx context.Context, guild *types.Guild) (GuildReport, error) {
	dbc := dbctx.Context{Ctx: ctx}
	report := GuildReport{GuildID: guild.ID}

	repairs := 0

	n, err := r.repairUnindexedSessions(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	repairs += n

	n, err = r.repairStaleSessions(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	repairs += n

	n, err = r.repairChunks(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	repairs += n

	drifted, n, err := r.repairEmbedderDrift(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	report.DriftedSessions = drifted
	repairs += n

	orphans, n, err := r.purgeOrphans(ctx, dbc, guild.ID)
	if err != nil {
		return report, err
	}
	report.OrphanKeys = orphans
	repairs += n

	report.RepairsEnqueued = repairs

	counts, err := r.repos.Sessions.CountsByGuild(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	report.Sessions = counts

	chunksTotal, chunksIndexed, err := r.repos.Chunks.CountsByGuild(dbc, guild.ID)
	if err != nil {
		return report, err
	}
	report.ChunksTotal = chunksTotal
	report.ChunksIndexed = chunksIndexed

	report.SyncHealth = syncHealth(counts, chunksTotal, chunksIndexed)
	report.Healthy = report.SyncHealth >= r.cfg.SyncHealthThreshold

	if !report.Healthy {
		r.log.Warn("guild below sync health threshold",
			"guild_id", guild.ID,
			"sync_health", report.SyncHealth,
			"threshold", r.cfg.SyncHealthThreshold,
			"repairs", repairs,
		)
	}
	r.publish(ctx, report)
	return report, nil
}

// HealthReport computes the guild's sync health without enqueueing any
// repairs. The admin surface serves this on demand.
func (r *Reconciler) HealthReport(ctx context.Context, guildID uuid.UUID) (GuildReport, error) {
	dbc := dbctx.Context{Ctx: ctx}
	report := GuildReport{GuildID: guildID}

	counts, err := r.repos.Sessions.CountsByGuild(dbc, guildID)
	if err != nil {
		return report, err
	}
	report.Sessions = counts

	chunksTotal, chunksIndexed, err := r.repos.Chunks.CountsByGuild(dbc, guildID)
	if err != nil {
		return report, err
	}
	report.ChunksTotal = chunksTotal
	report.ChunksIndexed = chunksIndexed

	report.SyncHealth = syncHealth(counts, chunksTotal, chunksIndexed)
	report.Healthy = report.SyncHealth >= r.cfg.SyncHealthThreshold
	return report, nil
}

// syncHealth is the synced fraction of indexable rows. A guild with
// nothing to index is healthy.
func syncHealth(sessions chat.IndexCounts, chunksTotal, chunksIndexed int64) float64 {
	sessionSynced := sessions.Indexed - sessions.Stale
	if sessionSynced < 0 {
		sessionSynced = 0
	}
	denom := sessions.Total + chunksTotal
	if denom == 0 {
		return 1
	}
	return float64(sessionSynced+chunksIndexed) / float64(denom)
}

func (r *Reconciler) repairUnindexedSessions(dbc dbctx.Context, guildID uuid.UUID) (int, error) {
	sessions, err := r.repos.Sessions.ListUnindexed(dbc, guildID, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	return r.enqueueSessionRepairs(dbc, guildID, sessions, jobsdomain.KindEmbedSession, "emb:")
}

func (r *Reconciler) repairStaleSessions(dbc dbctx.Context, guildID uuid.UUID) (int, error) {
	sessions, err := r.repos.Sessions.ListStale(dbc, guildID, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	// Stale means the messages moved underneath the vector, so the
	// transcript is rebuilt before re-embedding.
	return r.enqueueSessionRepairs(dbc, guildID, sessions, jobsdomain.KindReindexSession, "rx:")
}

// repairEmbedderDrift re-embeds sessions indexed under a different
// embedder identity so one query vector space covers the guild.
func (r *Reconciler) repairEmbedderDrift(dbc dbctx.Context, guildID uuid.UUID) (drifted, enqueued int, err error) {
	sessions, err := r.repos.Sessions.ListByEmbedderNot(dbc, guildID, r.identity, r.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	n, err := r.enqueueSessionRepairs(dbc, guildID, sessions, jobsdomain.KindEmbedSession, "emb:")
	return len(sessions), n, err
}

func (r *Reconciler) enqueueSessionRepairs(dbc dbctx.Context, guildID uuid.UUID, sessions []*types.Session, kind, dedupPrefix string) (int, error) {
	enqueued := 0
	for _, s := range sessions {
		var payload any
		switch kind {
		case jobsdomain.KindReindexSession:
			payload = jobsdomain.ReindexSessionPayload{GuildID: guildID, SessionID: s.ID}
		default:
			payload = jobsdomain.EmbedSessionPayload{GuildID: guildID, SessionID: s.ID}
		}
		_, created, err := r.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  guildID,
			Kind:     kind,
			Priority: jobsdomain.PriorityLow,
			DedupKey: dedupPrefix + s.ID.String(),
			Payload:  payload,
		})
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

// repairChunks re-runs attachment processing for attachments whose
// chunks never indexed or went stale. Processing is idempotent: it
// replaces the attachment's chunks wholesale.
func (r *Reconciler) repairChunks(dbc dbctx.Context, guildID uuid.UUID) (int, error) {
	unindexed, err := r.repos.Chunks.ListUnindexed(dbc, guildID, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	stale, err := r.repos.Chunks.ListStale(dbc, guildID, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	attachments := make(map[uuid.UUID]bool)
	for _, c := range append(unindexed, stale...) {
		attachments[c.AttachmentID] = true
	}

	enqueued := 0
	for attID := range attachments {
		_, created, err := r.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  guildID,
			Kind:     jobsdomain.KindProcessAttachment,
			Priority: jobsdomain.PriorityLow,
			DedupKey: "att:" + attID.String(),
			Payload:  jobsdomain.ProcessAttachmentPayload{GuildID: guildID, AttachmentID: attID},
		})
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

// purgeOrphans scrolls the guild's vector keys and deletes those whose
// backing rows no longer exist.
func (r *Reconciler) purgeOrphans(ctx context.Context, dbc dbctx.Context, guildID uuid.UUID) (orphans, enqueued int, err error) {
	offset := ""
	var orphanKeys []string

	for {
		page, err := r.store.ScrollKeys(ctx, guildID.String(), r.cfg.BatchSize, offset)
		if err != nil {
			return 0, 0, err
		}
		if len(page.Keys) == 0 {
			break
		}

		var sessionKeys, chunkKeys []string
		for _, k := range page.Keys {
			switch {
			case strings.HasPrefix(k, "session:"):
				sessionKeys = append(sessionKeys, k)
			case strings.HasPrefix(k, "chunk:"):
				chunkKeys = append(chunkKeys, k)
			default:
				// Unrecognized keys have no backing row by definition.
				orphanKeys = append(orphanKeys, k)
			}
		}

		if len(sessionKeys) > 0 {
			existing, err := r.repos.Sessions.ExistingVectorKeys(dbc, guildID, sessionKeys)
			if err != nil {
				return 0, 0, err
			}
			for _, k := range sessionKeys {
				if !existing[k] {
					orphanKeys = append(orphanKeys, k)
				}
			}
		}
		if len(chunkKeys) > 0 {
			existing, err := r.repos.Chunks.ExistingVectorKeys(dbc, guildID, chunkKeys)
			if err != nil {
				return 0, 0, err
			}
			for _, k := range chunkKeys {
				if !existing[k] {
					orphanKeys = append(orphanKeys, k)
				}
			}
		}

		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}

	if len(orphanKeys) == 0 {
		return 0, 0, nil
	}

	for start := 0; start < len(orphanKeys); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(orphanKeys) {
			end = len(orphanKeys)
		}
		batch := orphanKeys[start:end]
		_, created, err := r.repos.Queue.Enqueue(dbc, repos.EnqueueParams{
			GuildID:  guildID,
			Kind:     jobsdomain.KindPurgeVectors,
			Priority: jobsdomain.PriorityHigh,
			DedupKey: "purge:" + guildID.String() + ":" + batch[0],
			Payload:  jobsdomain.PurgeVectorsPayload{GuildID: guildID, Keys: batch},
		})
		if err != nil {
			return len(orphanKeys), enqueued, err
		}
		if created {
			enqueued++
		}
	}
	return len(orphanKeys), enqueued, nil
}

func (r *Reconciler) publish(ctx context.Context, report GuildReport) {
	if r.bus == nil {
		return
	}
	event := realtime.Event{
		Channel: realtime.GuildChannel(report.GuildID),
		Kind:    realtime.EventSyncHealth,
		Data:    report,
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.log.Warn("sync health publish failed", "guild_id", report.GuildID, "error", err)
	}
}
