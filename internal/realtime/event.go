package realtime

import "github.com/google/uuid"

type EventKind string

const (
	// EventSyncHealth carries a reconciler guild report.
	EventSyncHealth EventKind = "sync_health"
	// EventDeadLetter fires when a job lands in the dead-letter queue.
	EventDeadLetter EventKind = "dead_letter"
	// EventBackpressure fires when the broker sheds low-value work.
	EventBackpressure EventKind = "backpressure"
)

// Event is one operational notification on the bus. Channel scopes
// delivery, usually to one guild.
type Event struct {
	Channel string    `json:"channel"`
	Kind    EventKind `json:"kind"`
	Data    any       `json:"data,omitempty"`
}

// GuildChannel names the per-guild event channel.
func GuildChannel(guildID uuid.UUID) string {
	return "guild:" + guildID.String()
}
