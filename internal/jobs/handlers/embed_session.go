package handlers

import (
	"fmt"
	"time"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	filesdomain "github.com/yungbote/guildsense-backend/internal/domain/files"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

func sessionVectorKey(session *types.Session) string {
	return "session:" + session.ID.String()
}

// embedSessionHandler writes one session's transcript into the vector
// store and flips it to indexed, unless the row moved while the vector
// was in flight.
type embedSessionHandler struct {
	Deps
}

func (h *embedSessionHandler) Kind() string { return jobsdomain.KindEmbedSession }

func (h *embedSessionHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.EmbedSessionPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}
	dbc := jc.DBC()

	session, err := h.Repos.Sessions.GetByID(dbc, p.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		// Deleted between enqueue and claim.
		return nil
	}
	if session.MessageCount < 2 {
		// Single-message sessions are never embedded.
		return nil
	}
	if session.IsIndexed && !session.Stale() && session.EmbedderIdentity == h.Embedder.Identity() {
		return nil
	}
	return h.embedAndMark(jc, session)
}

// embedAndMark is the shared index step: embed the stored transcript,
// upsert the point, then CAS the row to indexed. A failed CAS means the
// session changed mid-flight; it stays stale for the reconciler.
func (h *embedSessionHandler) embedAndMark(jc *runtime.Context, session *types.Session) error {
	if session.Content == "" {
		return runtime.Permanent(fmt.Errorf("session %s has no transcript", session.ID))
	}
	readUpdatedAt := session.UpdatedAt

	vecs, err := h.Embedder.Embed(jc.Ctx, []string{session.Content})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedder returned %d vectors for one input", len(vecs))
	}

	key := sessionVectorKey(session)
	err = h.Store.Upsert(jc.Ctx, session.GuildID.String(), []vector.Vector{{
		Key:    key,
		Values: vecs[0],
		Payload: map[string]any{
			vector.PayloadGuildIDKey:    session.GuildID.String(),
			vector.PayloadChannelIDKey:  session.ChannelID.String(),
			vector.PayloadSourceTypeKey: vector.SourceTypeSession,
			vector.PayloadSourceIDKey:   session.ID.String(),
			vector.PayloadPreviewKey:    filesdomain.MakePreview(session.Content),
			vector.PayloadCreatedAtKey:  session.StartedAt.UTC().Format(time.RFC3339),
			vector.PayloadStartTimeKey:  session.StartedAt.UTC().Format(time.RFC3339),
			vector.PayloadEndTimeKey:    session.EndedAt.UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		return err
	}

	ok, err := h.Repos.Sessions.MarkIndexed(jc.DBC(), session.ID, key, h.Embedder.Identity(), readUpdatedAt)
	if err != nil {
		return err
	}
	if !ok {
		h.Log.Info("session moved during embed, left stale", "session_id", session.ID)
	}
	return nil
}
