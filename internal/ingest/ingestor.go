package ingest

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// Outcome says what the ingestor did with an event. Dropped events are
// not errors: the gateway keeps flowing either way.
type Outcome string

const (
	OutcomeStored           Outcome = "stored"
	OutcomeDroppedBot       Outcome = "dropped_bot"
	OutcomeDroppedDuplicate Outcome = "dropped_duplicate"
	OutcomeDroppedChannel   Outcome = "dropped_channel_not_indexed"
	OutcomeDroppedGuild     Outcome = "dropped_guild_inactive"
	OutcomeDroppedUnchanged Outcome = "dropped_unchanged"
	OutcomeDroppedUnknown   Outcome = "dropped_unknown_message"
)

// Ingestor turns gateway dispatches into store rows and queued work.
// Every write commits before its follow-up job becomes visible, so a
// worker can always read what it was enqueued for.
type Ingestor struct {
	log   *logger.Logger
	db    *gorm.DB
	repos repos.All
	cfg   config.BrokerConfig
}

func NewIngestor(log *logger.Logger, db *gorm.DB, all repos.All, cfg config.BrokerConfig) (*Ingestor, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if db == nil {
		return nil, errors.New("db required")
	}
	return &Ingestor{
		log:   log.With("service", "Ingestor"),
		db:    db,
		repos: all,
		cfg:   cfg,
	}, nil
}

func (s *Ingestor) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

// HandleGuildUpsert registers or renames a guild.
func (s *Ingestor) HandleGuildUpsert(ctx context.Context, ev GuildUpsertEvent) (*types.Guild, error) {
	return s.repos.Guilds.UpsertByDiscordID(s.dbc(ctx), ev.GuildDiscordID, ev.Name)
}

// HandleChannelUpsert registers or renames a channel. Indexing stays
// off until an operator opts the channel in.
func (s *Ingestor) HandleChannelUpsert(ctx context.Context, ev ChannelUpsertEvent) (*types.Channel, error) {
	guild, err := s.repos.Guilds.GetByDiscordID(s.dbc(ctx), ev.GuildDiscordID)
	if err != nil {
		return nil, err
	}
	if guild == nil {
		guild, err = s.repos.Guilds.UpsertByDiscordID(s.dbc(ctx), ev.GuildDiscordID, "")
		if err != nil {
			return nil, err
		}
	}
	return s.repos.Channels.UpsertByDiscordID(s.dbc(ctx), guild.ID, ev.ChannelDiscordID, ev.Name)
}

// HandleMessageCreate persists one message plus its attachments. The
// row is stored for every known guild and channel; only the follow-up
// indexing work is conditional, so opting a channel in later finds its
// history already in the store. Bot traffic, duplicate deliveries, and
// unknown guilds or channels are dropped without error.
func (s *Ingestor) HandleMessageCreate(ctx context.Context, ev MessageCreateEvent) (Outcome, error) {
	dbc := s.dbc(ctx)

	guild, err := s.repos.Guilds.GetByDiscordID(dbc, ev.GuildDiscordID)
	if err != nil {
		return "", err
	}
	if guild == nil {
		return OutcomeDroppedGuild, nil
	}

	channel, err := s.repos.Channels.GetByDiscordID(dbc, ev.ChannelDiscordID)
	if err != nil {
		return "", err
	}
	if channel == nil {
		return OutcomeDroppedChannel, nil
	}
	index := guild.IsActive && channel.IndexingEnabled

	member, err := s.repos.Members.UpsertByDiscordID(
		dbc, guild.ID, ev.AuthorDiscordID, ev.AuthorUsername, ev.AuthorDisplayName, ev.AuthorIsBot,
	)
	if err != nil {
		return "", err
	}
	if member.IsBot {
		return OutcomeDroppedBot, nil
	}

	existing, err := s.repos.Messages.GetByDiscordID(dbc, ev.MessageDiscordID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return OutcomeDroppedDuplicate, nil
	}

	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	priority := jobsdomain.PriorityDefault
	if index {
		priority, err = s.sessionizePriority(dbc)
		if err != nil {
			return "", err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}

		msg, err := s.repos.Messages.Create(txc, &types.Message{
			GuildID:          guild.ID,
			ChannelID:        channel.ID,
			AuthorID:         member.ID,
			DiscordID:        ev.MessageDiscordID,
			Content:          ev.Content,
			ReplyToDiscordID: ev.ReplyToDiscordID,
			CreatedAt:        createdAt,
			IngestedAt:       time.Now(),
		})
		if err != nil {
			return err
		}

		for _, a := range ev.Attachments {
			att, err := s.repos.Attachments.Create(txc, &types.Attachment{
				GuildID:     guild.ID,
				ChannelID:   channel.ID,
				MessageID:   msg.ID,
				DiscordID:   a.DiscordID,
				Filename:    a.Filename,
				Extension:   strings.ToLower(path.Ext(a.Filename)),
				ContentType: a.ContentType,
				SizeBytes:   a.SizeBytes,
				URL:         a.URL,
			})
			if err != nil {
				return err
			}
			if !index {
				continue
			}
			if _, _, err := s.repos.Queue.Enqueue(txc, repos.EnqueueParams{
				GuildID:  guild.ID,
				Kind:     jobsdomain.KindProcessAttachment,
				Priority: jobsdomain.PriorityDefault,
				Payload:  jobsdomain.ProcessAttachmentPayload{GuildID: guild.ID, AttachmentID: att.ID},
			}); err != nil {
				return err
			}
		}

		if !index {
			return nil
		}
		_, _, err = s.repos.Queue.Enqueue(txc, repos.EnqueueParams{
			GuildID:  guild.ID,
			Kind:     jobsdomain.KindSessionize,
			Priority: priority,
			DedupKey: jobsdomain.SessionizeDedupKey(channel.ID),
			Payload:  jobsdomain.SessionizePayload{GuildID: guild.ID, ChannelID: channel.ID},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return OutcomeStored, nil
}

// sessionizePriority sheds under load: past the back-pressure depth,
// new sessionize work drains after everything else instead of being
// dropped.
func (s *Ingestor) sessionizePriority(dbc dbctx.Context) (int, error) {
	if s.cfg.BackpressureDepth <= 0 {
		return jobsdomain.PriorityDefault, nil
	}
	depth, err := s.repos.Queue.Depth(dbc)
	if err != nil {
		return 0, err
	}
	if depth >= s.cfg.BackpressureDepth {
		s.log.Warn("queue depth over back-pressure threshold, degrading sessionize priority",
			"depth", depth,
			"threshold", s.cfg.BackpressureDepth,
		)
		return jobsdomain.PriorityLow, nil
	}
	return jobsdomain.PriorityDefault, nil
}

// HandleMessageUpdate applies an edit. Unchanged content is dropped so
// presence-only updates do not churn the index. A real edit marks the
// owning session stale and queues its reindex.
func (s *Ingestor) HandleMessageUpdate(ctx context.Context, ev MessageUpdateEvent) (Outcome, error) {
	dbc := s.dbc(ctx)

	msg, err := s.repos.Messages.GetByDiscordID(dbc, ev.MessageDiscordID)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return OutcomeDroppedUnknown, nil
	}
	if msg.IsDeleted || msg.Content == ev.Content {
		return OutcomeDroppedUnchanged, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}

		if err := s.repos.Messages.UpdateContent(txc, msg.ID, ev.Content, ev.EditedAt); err != nil {
			return err
		}
		if msg.SessionID == nil || *msg.SessionID == uuid.Nil {
			return nil
		}
		if err := s.repos.Sessions.Touch(txc, []uuid.UUID{*msg.SessionID}); err != nil {
			return err
		}
		_, _, err := s.repos.Queue.Enqueue(txc, repos.EnqueueParams{
			GuildID:  msg.GuildID,
			Kind:     jobsdomain.KindReindexSession,
			Priority: jobsdomain.PriorityDefault,
			DedupKey: "rx:" + msg.SessionID.String(),
			Payload:  jobsdomain.ReindexSessionPayload{GuildID: msg.GuildID, SessionID: *msg.SessionID},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return OutcomeStored, nil
}

// HandleMessageDelete soft-deletes and queues a high-priority reindex
// for every touched session, so deleted text leaves the vector index as
// fast as the queue can drain.
func (s *Ingestor) HandleMessageDelete(ctx context.Context, ev MessageDeleteEvent) (Outcome, error) {
	if len(ev.MessageDiscordIDs) == 0 {
		return OutcomeDroppedUnknown, nil
	}

	// Guild scope for the reindex jobs comes from the first resolvable
	// message; deletes never cross guilds in one dispatch.
	var guildID uuid.UUID
	for _, id := range ev.MessageDiscordIDs {
		msg, err := s.repos.Messages.GetByDiscordID(s.dbc(ctx), id)
		if err != nil {
			return "", err
		}
		if msg != nil {
			guildID = msg.GuildID
			break
		}
	}
	if guildID == uuid.Nil {
		return OutcomeDroppedUnknown, nil
	}

	var touched []uuid.UUID
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}

		sessions, err := s.repos.Messages.SoftDeleteByDiscordIDs(txc, ev.MessageDiscordIDs)
		if err != nil {
			return err
		}
		touched = sessions
		if len(sessions) == 0 {
			return nil
		}
		if err := s.repos.Sessions.Touch(txc, sessions); err != nil {
			return err
		}
		for _, sessionID := range sessions {
			if _, _, err := s.repos.Queue.Enqueue(txc, repos.EnqueueParams{
				GuildID:  guildID,
				Kind:     jobsdomain.KindReindexSession,
				Priority: jobsdomain.PriorityHigh,
				DedupKey: "rx:" + sessionID.String(),
				Payload:  jobsdomain.ReindexSessionPayload{GuildID: guildID, SessionID: sessionID},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info("messages soft deleted",
		"count", len(ev.MessageDiscordIDs),
		"sessions_touched", len(touched),
	)
	return OutcomeStored, nil
}

// HandleChannelDelete reacts to a channel being removed on the
// platform: every message it held is soft-deleted, indexing is switched
// off, and one purge job erases the channel's footprint in both stores.
func (s *Ingestor) HandleChannelDelete(ctx context.Context, ev ChannelDeleteEvent) (Outcome, error) {
	channel, err := s.repos.Channels.GetByDiscordID(s.dbc(ctx), ev.ChannelDiscordID)
	if err != nil {
		return "", err
	}
	if channel == nil {
		return OutcomeDroppedUnknown, nil
	}

	var deletedSessions []uuid.UUID
	err = s.db.Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}

		sessions, err := s.repos.Messages.BulkSoftDeleteByChannel(txc, channel.ID)
		if err != nil {
			return err
		}
		deletedSessions = sessions

		if err := s.repos.Channels.SetIndexingEnabled(txc, channel.ID, false); err != nil {
			return err
		}

		_, _, err = s.repos.Queue.Enqueue(txc, repos.EnqueueParams{
			GuildID:  channel.GuildID,
			Kind:     jobsdomain.KindPurgeChannelVectors,
			Priority: jobsdomain.PriorityHigh,
			DedupKey: "pcv:" + channel.ID.String(),
			Payload: jobsdomain.PurgeChannelVectorsPayload{
				GuildID:   channel.GuildID,
				ChannelID: channel.ID,
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}

	s.log.Info("channel deleted",
		"channel_id", channel.ID,
		"sessions_affected", len(deletedSessions),
	)
	return OutcomeStored, nil
}

// EnqueueBackfill queues a history crawl for one channel at low
// priority so it never starves live traffic.
func (s *Ingestor) EnqueueBackfill(ctx context.Context, guildID, channelID uuid.UUID) (*types.Job, error) {
	if guildID == uuid.Nil || channelID == uuid.Nil {
		return nil, errors.New("guild id and channel id required")
	}
	job, _, err := s.repos.Queue.Enqueue(s.dbc(ctx), repos.EnqueueParams{
		GuildID:  guildID,
		Kind:     jobsdomain.KindBackfillChannel,
		Priority: jobsdomain.PriorityLow,
		DedupKey: "bf:" + channelID.String(),
		Payload:  jobsdomain.BackfillChannelPayload{GuildID: guildID, ChannelID: channelID},
	})
	return job, err
}

// EnqueuePurge queues vector deletion for keys whose rows are already
// gone from the store.
func (s *Ingestor) EnqueuePurge(ctx context.Context, guildID uuid.UUID, keys []string) (*types.Job, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id required")
	}
	if len(keys) == 0 {
		return nil, nil
	}
	job, _, err := s.repos.Queue.Enqueue(s.dbc(ctx), repos.EnqueueParams{
		GuildID:  guildID,
		Kind:     jobsdomain.KindPurgeVectors,
		Priority: jobsdomain.PriorityHigh,
		Payload:  jobsdomain.PurgeVectorsPayload{GuildID: guildID, Keys: keys},
	})
	return job, err
}
