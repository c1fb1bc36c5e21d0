package handlers

import (
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
)

const backfillPageSize = 500

// backfillChannelHandler walks a channel's stored messages in ascending
// timestamp order, one page per run, queueing sessionization for each
// page. Used when a channel opts into indexing after accumulating
// history: the sessionizer folds the old traffic exactly like live
// traffic, it just arrives in pages.
type backfillChannelHandler struct {
	Deps
}

func (h *backfillChannelHandler) Kind() string { return jobsdomain.KindBackfillChannel }

func (h *backfillChannelHandler) Run(jc *runtime.Context) error {
	var p jobsdomain.BackfillChannelPayload
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

	page, err := h.Repos.Messages.ListByChannelPage(dbc, channel.ID, p.AfterCreatedAt, p.AfterDiscordID, backfillPageSize)
	if err != nil {
		return err
	}
	if len(page) == 0 {
		h.Log.Info("backfill complete", "channel_id", channel.ID)
		return nil
	}
	last := page[len(page)-1]

	// One sessionize job per page, keyed on the page boundary so a
	// replayed page collapses but distinct pages do not.
	if _, _, err := h.Repos.Queue.Enqueue(dbc, repos.EnqueueParams{
		GuildID:  channel.GuildID,
		Kind:     jobsdomain.KindSessionize,
		Priority: jobsdomain.PriorityLow,
		DedupKey: jobsdomain.SessionizeDedupKey(channel.ID) + ":" + last.DiscordID,
		Payload:  jobsdomain.SessionizePayload{GuildID: channel.GuildID, ChannelID: channel.ID},
	}); err != nil {
		return err
	}

	h.Log.Info("backfill page queued",
		"channel_id", channel.ID,
		"page", len(page),
	)

	if len(page) < backfillPageSize {
		h.Log.Info("backfill complete", "channel_id", channel.ID)
		return nil
	}

	_, _, err = h.Repos.Queue.Enqueue(dbc, repos.EnqueueParams{
		GuildID:  p.GuildID,
		Kind:     jobsdomain.KindBackfillChannel,
		Priority: jobsdomain.PriorityLow,
		DedupKey: "bf:" + p.ChannelID.String() + ":" + last.DiscordID,
		Payload: jobsdomain.BackfillChannelPayload{
			GuildID:        p.GuildID,
			ChannelID:      p.ChannelID,
			AfterCreatedAt: last.CreatedAt,
			AfterDiscordID: last.DiscordID,
		},
	})
	return err
}
