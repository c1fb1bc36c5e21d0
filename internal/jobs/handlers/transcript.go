package handlers

import (
	"github.com/google/uuid"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/sessionizer"
)

// toSessionMessages converts store rows into the sessionizer's view,
// resolving author display names in one batch.
func (d Deps) toSessionMessages(dbc dbctx.Context, msgs []*types.Message) ([]sessionizer.Message, error) {
	authorIDs := make([]uuid.UUID, 0, len(msgs))
	seen := map[uuid.UUID]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.AuthorID]; ok {
			continue
		}
		seen[m.AuthorID] = struct{}{}
		authorIDs = append(authorIDs, m.AuthorID)
	}
	authors, err := d.Repos.Members.GetByIDs(dbc, authorIDs)
	if err != nil {
		return nil, err
	}

	out := make([]sessionizer.Message, 0, len(msgs))
	for _, m := range msgs {
		name := "unknown"
		if a, ok := authors[m.AuthorID]; ok {
			name = a.BestName()
		}
		out = append(out, sessionizer.Message{
			ID:        m.ID,
			DiscordID: m.DiscordID,
			Author:    name,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			ReplyToID: m.ReplyToDiscordID,
			Deleted:   m.IsDeleted,
		})
	}
	return out, nil
}

// resolveMentions builds the mention maps for transcript enrichment.
func (d Deps) resolveMentions(dbc dbctx.Context, guildID uuid.UUID, msgs []sessionizer.Message) (sessionizer.Mentions, error) {
	memberIDs, channelIDs := sessionizer.CollectMentionIDs(msgs)

	mentions := sessionizer.Mentions{
		Members:  map[string]string{},
		Channels: map[string]string{},
	}

	if len(memberIDs) > 0 {
		members, err := d.Repos.Members.GetByDiscordIDs(dbc, guildID, memberIDs)
		if err != nil {
			return mentions, err
		}
		for id, m := range members {
			mentions.Members[id] = m.BestName()
		}
	}
	for _, id := range channelIDs {
		ch, err := d.Repos.Channels.GetByDiscordID(dbc, id)
		if err != nil {
			return mentions, err
		}
		if ch != nil && ch.GuildID == guildID {
			mentions.Channels[id] = ch.Name
		}
	}
	return mentions, nil
}

// buildTranscript renders the canonical enriched transcript for a set
// of session messages.
func (d Deps) buildTranscript(dbc dbctx.Context, channel *types.Channel, msgs []sessionizer.Message) (string, error) {
	mentions, err := d.resolveMentions(dbc, channel.GuildID, msgs)
	if err != nil {
		return "", err
	}
	return sessionizer.Enrich(channel.Name, msgs, mentions), nil
}

func transcriptTokens(msgs []sessionizer.Message) int {
	total := 0
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		total += sessionizer.EstimateTokens(m.Content)
	}
	return total
}

func liveCount(msgs []sessionizer.Message) int {
	n := 0
	for _, m := range msgs {
		if !m.Deleted {
			n++
		}
	}
	return n
}
