package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Job payloads. Every payload carries the guild so a handler can scope
// its vector writes without a second lookup.

type SessionizePayload struct {
	GuildID   uuid.UUID `json:"guild_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

type EmbedSessionPayload struct {
	GuildID   uuid.UUID `json:"guild_id"`
	SessionID uuid.UUID `json:"session_id"`
}

type ReindexSessionPayload struct {
	GuildID   uuid.UUID `json:"guild_id"`
	SessionID uuid.UUID `json:"session_id"`
}

type PurgeVectorsPayload struct {
	GuildID uuid.UUID `json:"guild_id"`
	Keys    []string  `json:"keys"`
}

type PurgeChannelVectorsPayload struct {
	GuildID   uuid.UUID `json:"guild_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

type PurgeGuildVectorsPayload struct {
	GuildID uuid.UUID `json:"guild_id"`
}

type BackfillChannelPayload struct {
	GuildID   uuid.UUID `json:"guild_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	// Cursor: resume strictly after this stored message. Zero values
	// mean start from the channel's oldest message.
	AfterCreatedAt time.Time `json:"after_created_at,omitempty"`
	AfterDiscordID string    `json:"after_discord_id,omitempty"`
}

type ProcessAttachmentPayload struct {
	GuildID      uuid.UUID `json:"guild_id"`
	AttachmentID uuid.UUID `json:"attachment_id"`
}

// SessionizeDedupKey collapses the burst of sessionize requests an
// active channel produces into one pending job.
func SessionizeDedupKey(channelID uuid.UUID) string {
	return "sz:" + channelID.String()
}
