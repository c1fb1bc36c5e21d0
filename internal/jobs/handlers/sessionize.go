package handlers

import (
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/data/repos"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/sessionizer"
)

// sessionizeHandler folds a channel's unassigned messages into session
// windows. Only the tail can change: the latest session is re-split
// together with the new messages, older sessions are never touched.
type sessionizeHandler struct {
	Deps
}

func (h *sessionizeHandler) Kind() string { return jobsdomain.KindSessionize }

func (h *sessionizeHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.SessionizePayload
	if err := jc.Decode(&p); err != nil {
		return err
	}
	dbc := jc.DBC()

	guild, err := h.Repos.Guilds.GetByID(dbc, p.GuildID)
	if err != nil {
		return err
	}
	if guild == nil || !guild.IsActive {
		return nil
	}
	channel, err := h.Repos.Channels.GetByID(dbc, p.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil || !channel.IndexingEnabled {
		return nil
	}

	unassigned, err := h.Repos.Messages.ListUnassigned(dbc, channel.ID, 0)
	if err != nil {
		return err
	}
	if len(unassigned) == 0 {
		return nil
	}

	last, err := h.Repos.Sessions.LatestByChannel(dbc, channel.ID)
	if err != nil {
		return err
	}

	candidates := unassigned
	if last != nil {
		tail, err := h.Repos.Messages.ListBySession(dbc, last.ID)
		if err != nil {
			return err
		}
		candidates = mergeByTime(tail, unassigned)
	}

	msgs, err := h.toSessionMessages(dbc, candidates)
	if err != nil {
		return err
	}

	windows := sessionizer.Split(msgs, sessionizer.Options{
		GapTimeout:  h.Cfg.Sessionizer.GapTimeout,
		TokenBudget: h.Cfg.Sessionizer.TokenBudget,
	})
	if h.Cfg.Sessionizer.SemanticRefine {
		windows, err = h.refine(jc, windows)
		if err != nil {
			return err
		}
	}
	if len(windows) == 0 {
		return nil
	}

	// The latest session survives only when re-splitting left its
	// membership untouched.
	keepLast := false
	if last != nil {
		keepLast = sameMessages(windows[0].Messages, lastSessionIDs(candidates, last.ID))
	}

	var purgeKeys []string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: jc.Ctx, Tx: tx}

		if last != nil && !keepLast {
			if err := h.Repos.Messages.ClearSession(txc, last.ID); err != nil {
				return err
			}
			keys, err := h.Repos.Sessions.DeleteByIDs(txc, []uuid.UUID{last.ID})
			if err != nil {
				return err
			}
			purgeKeys = keys
		}

		start := 0
		if keepLast {
			start = 1
		}
		for _, w := range windows[start:] {
			// Single-message windows never become sessions; the
			// message stays unassigned until more traffic arrives.
			if len(w.Messages) < 2 {
				continue
			}
			transcript, err := h.buildTranscript(txc, channel, w.Messages)
			if err != nil {
				return err
			}
			created, err := h.Repos.Sessions.Create(txc, []*types.Session{{
				GuildID:      channel.GuildID,
				ChannelID:    channel.ID,
				StartedAt:    w.StartedAt,
				EndedAt:      w.EndedAt,
				MessageCount: len(w.Messages),
				TokenCount:   w.TokenCount,
				Content:      transcript,
			}})
			if err != nil {
				return err
			}
			session := created[0]

			ids := make([]uuid.UUID, 0, len(w.Messages))
			for _, m := range w.Messages {
				ids = append(ids, m.ID)
			}
			if err := h.Repos.Messages.AssignSession(txc, ids, session.ID); err != nil {
				return err
			}

			if _, _, err := h.Repos.Queue.Enqueue(txc, repos.EnqueueParams{
				GuildID:  channel.GuildID,
				Kind:     jobsdomain.KindEmbedSession,
				Priority: jobsdomain.PriorityDefault,
				DedupKey: "emb:" + session.ID.String(),
				Payload:  jobsdomain.EmbedSessionPayload{GuildID: channel.GuildID, SessionID: session.ID},
			}); err != nil {
				return err
			}
		}

		if len(purgeKeys) > 0 {
			if _, _, err := h.Repos.Queue.Enqueue(txc, repos.EnqueueParams{
				GuildID:  channel.GuildID,
				Kind:     jobsdomain.KindPurgeVectors,
				Priority: jobsdomain.PriorityHigh,
				Payload:  jobsdomain.PurgeVectorsPayload{GuildID: channel.GuildID, Keys: purgeKeys},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.Log.Info("channel sessionized",
		"channel_id", channel.ID,
		"windows", len(windows),
		"kept_last", keepLast,
	)
	return nil
}

// refine applies semantic sub-splitting to every window large enough to
// split.
func (h *sessionizeHandler) refine(jc *runtime.Context, windows []sessionizer.Window) ([]sessionizer.Window, error) {
	minSize := h.Cfg.Sessionizer.MinSubSession
	out := make([]sessionizer.Window, 0, len(windows))
	for _, w := range windows {
		if len(w.Messages) < 2*minSize {
			out = append(out, w)
			continue
		}
		texts := make([]string, len(w.Messages))
		for i, m := range w.Messages {
			texts[i] = m.Content
		}
		vecs, err := h.Embedder.Embed(jc.Ctx, texts)
		if err != nil {
			return nil, err
		}
		out = append(out, sessionizer.RefineWindow(w, vecs, h.Cfg.Sessionizer.BreakPercentile, minSize)...)
	}
	return out, nil
}

func mergeByTime(a, b []*types.Message) []*types.Message {
	out := make([]*types.Message, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DiscordID < out[j].DiscordID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// lastSessionIDs returns the IDs of candidate messages already assigned
// to the given session.
func lastSessionIDs(candidates []*types.Message, sessionID uuid.UUID) map[uuid.UUID]struct{} {
	out := map[uuid.UUID]struct{}{}
	for _, m := range candidates {
		if m.SessionID != nil && *m.SessionID == sessionID && !m.IsDeleted {
			out[m.ID] = struct{}{}
		}
	}
	return out
}

func sameMessages(window []sessionizer.Message, ids map[uuid.UUID]struct{}) bool {
	if len(window) != len(ids) {
		return false
	}
	for _, m := range window {
		if _, ok := ids[m.ID]; !ok {
			return false
		}
	}
	return true
}
