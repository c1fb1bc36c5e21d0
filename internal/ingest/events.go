package ingest

import "time"

// Gateway event shapes, one per dispatch the ingestor consumes. Fields
// carry platform snowflake IDs; the ingestor resolves them to rows.

type GuildUpsertEvent struct {
	GuildDiscordID string `json:"guild_discord_id"`
	Name           string `json:"name"`
}

type ChannelUpsertEvent struct {
	GuildDiscordID   string `json:"guild_discord_id"`
	ChannelDiscordID string `json:"channel_discord_id"`
	Name             string `json:"name"`
}

type AttachmentEvent struct {
	DiscordID   string `json:"discord_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
}

type MessageCreateEvent struct {
	GuildDiscordID   string `json:"guild_discord_id"`
	ChannelDiscordID string `json:"channel_discord_id"`
	MessageDiscordID string `json:"message_discord_id"`

	AuthorDiscordID   string `json:"author_discord_id"`
	AuthorUsername    string `json:"author_username"`
	AuthorDisplayName string `json:"author_display_name"`
	AuthorIsBot       bool   `json:"author_is_bot"`

	Content          string    `json:"content"`
	ReplyToDiscordID string    `json:"reply_to_discord_id"`
	Timestamp        time.Time `json:"timestamp"`

	Attachments []AttachmentEvent `json:"attachments"`
}

type MessageUpdateEvent struct {
	MessageDiscordID string     `json:"message_discord_id"`
	Content          string     `json:"content"`
	EditedAt         *time.Time `json:"edited_at"`
}

type MessageDeleteEvent struct {
	MessageDiscordIDs []string `json:"message_discord_ids"`
}

type ChannelDeleteEvent struct {
	ChannelDiscordID string `json:"channel_discord_id"`
}
