package handlers

import (
	"gorm.io/gorm"

	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

// purgeVectorsHandler deletes vectors whose rows are already gone from
// the store. Deleting an absent key is a no-op, so retries are safe.
type purgeVectorsHandler struct {
	Deps
}

func (h *purgeVectorsHandler) Kind() string { return jobsdomain.KindPurgeVectors }

func (h *purgeVectorsHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.PurgeVectorsPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}
	if len(p.Keys) == 0 {
		return nil
	}
	if err := h.Store.Delete(jc.Ctx, p.GuildID.String(), p.Keys); err != nil {
		return err
	}
	h.Log.Info("vectors purged", "guild_id", p.GuildID, "keys", len(p.Keys))
	return nil
}

// purgeGuildHandler erases a deactivated guild's entire vector
// footprint. Rows stay in the relational store with their indexed flag
// cleared, so reactivating the guild re-embeds everything through the
// reconciler instead of resurrecting stale points.
type purgeGuildHandler struct {
	Deps
}

func (h *purgeGuildHandler) Kind() string { return jobsdomain.KindPurgeGuildVectors }

func (h *purgeGuildHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.PurgeGuildVectorsPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}

	var sessions, chunks int64
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		txc := jc.DBC()
		txc.Tx = tx

		n, err := h.Repos.Sessions.ClearIndexByGuild(txc, p.GuildID)
		if err != nil {
			return err
		}
		sessions = n
		n, err = h.Repos.Chunks.ClearIndexByGuild(txc, p.GuildID)
		if err != nil {
			return err
		}
		chunks = n
		return nil
	})
	if err != nil {
		return err
	}

	// Flags are cleared, so a failed delete here is finished by the
	// next attempt or by the orphan sweep.
	if err := h.Store.DeleteWhere(jc.Ctx, p.GuildID.String(), nil); err != nil {
		return err
	}

	h.Log.Info("guild vectors purged",
		"guild_id", p.GuildID,
		"sessions_cleared", sessions,
		"chunks_cleared", chunks,
	)
	return nil
}

// purgeChannelHandler drops everything a channel put in the index, used
// when a channel leaves it: session and chunk rows go first so the
// reconciler cannot re-embed them, messages are unassigned so a later
// re-enable sessionizes from scratch, then the vectors themselves.
type purgeChannelHandler struct {
	Deps
}

func (h *purgeChannelHandler) Kind() string { return jobsdomain.KindPurgeChannelVectors }

func (h *purgeChannelHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.PurgeChannelVectorsPayload
	if err := jc.Decode(&p); err != nil {
		return err
	}

	var sessions, chunks int64
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		txc := jc.DBC()
		txc.Tx = tx

		if err := h.Repos.Messages.ClearSessionsForChannel(txc, p.ChannelID); err != nil {
			return err
		}
		n, err := h.Repos.Sessions.DeleteByChannel(txc, p.ChannelID)
		if err != nil {
			return err
		}
		sessions = n
		n, err = h.Repos.Chunks.DeleteByChannel(txc, p.ChannelID)
		if err != nil {
			return err
		}
		chunks = n
		return nil
	})
	if err != nil {
		return err
	}

	// Rows are gone, so even if this delete fails the orphan sweep
	// finishes the job on the next pass.
	err = h.Store.DeleteWhere(jc.Ctx, p.GuildID.String(), map[string]any{
		vector.PayloadChannelIDKey: p.ChannelID.String(),
	})
	if err != nil {
		return err
	}

	h.Log.Info("channel purged",
		"guild_id", p.GuildID,
		"channel_id", p.ChannelID,
		"sessions_deleted", sessions,
		"chunks_deleted", chunks,
	)
	return nil
}
