package handlers

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
)

// reindexSessionHandler rebuilds a session's transcript after edits or
// deletions and re-embeds it. A session left with fewer than two live
// messages is removed entirely, vector included; any survivor returns
// to the unassigned pool.
type reindexSessionHandler struct {
	Deps
}

func (h *reindexSessionHandler) Kind() string { return jobsdomain.KindReindexSession }

func (h *reindexSessionHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.ReindexSessionPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}
	dbc := jc.DBC()

	session, err := h.Repos.Sessions.GetByID(dbc, p.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	rows, err := h.Repos.Messages.ListBySession(dbc, session.ID)
	if err != nil {
		return err
	}
	msgs, err := h.toSessionMessages(dbc, rows)
	if err != nil {
		return err
	}

	if liveCount(msgs) < 2 {
		var keys []string
		err := h.DB.Transaction(func(tx *gorm.DB) error {
			txc := dbctx.Context{Ctx: jc.Ctx, Tx: tx}
			if err := h.Repos.Messages.ClearSession(txc, session.ID); err != nil {
				return err
			}
			keys, err = h.Repos.Sessions.DeleteByIDs(txc, []uuid.UUID{session.ID})
			return err
		})
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := h.Store.Delete(jc.Ctx, session.GuildID.String(), keys); err != nil {
				return err
			}
		}
		h.Log.Info("session removed, too few live messages", "session_id", session.ID)
		return nil
	}

	channel, err := h.Repos.Channels.GetByID(dbc, session.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return nil
	}
	transcript, err := h.buildTranscript(dbc, channel, msgs)
	if err != nil {
		return err
	}
	if err := h.Repos.Sessions.UpdateDerived(dbc, session.ID, transcript, session.Summary, transcriptTokens(msgs), liveCount(msgs)); err != nil {
		return err
	}

	// Re-read for the fresh updated_at snapshot the CAS compares against.
	session, err = h.Repos.Sessions.GetByID(dbc, session.ID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	embed := embedSessionHandler{h.Deps}
	return embed.embedAndMark(jc, session)
}
