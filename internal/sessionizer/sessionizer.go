package sessionizer

import (
	"time"

	"github.com/google/uuid"
)

// Message is the minimal view the sessionizer needs. Callers resolve
// authors and filter what should not be sessionized before handing
// messages over.
type Message struct {
	ID        uuid.UUID
	DiscordID string
	Author    string
	Content   string
	CreatedAt time.Time
	// Platform ID of the message this one replies to, if any.
	ReplyToID string
	Deleted   bool
}

// Window is one proposed session: a contiguous, time-ordered run of
// messages that belong to the same conversation.
type Window struct {
	Messages   []Message
	StartedAt  time.Time
	EndedAt    time.Time
	TokenCount int
}

type Options struct {
	// GapTimeout breaks a window when the silence between two messages
	// exceeds it, unless the newer message replies into the window.
	GapTimeout time.Duration
	// TokenBudget closes a window before it outgrows one embedding input.
	TokenBudget int
}

// Split partitions messages into session windows. It is pure and
// deterministic: same input, same options, same windows.
//
// A window breaks on a time gap larger than GapTimeout, except when the
// message replies to one already inside the window, which keeps slow
// reply threads together. Independently, a window never exceeds the
// token budget once it holds at least one message.
func Split(msgs []Message, opts Options) []Window {
	if opts.GapTimeout <= 0 {
		opts.GapTimeout = 15 * time.Minute
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 480
	}

	live := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		live = append(live, m)
	}
	if len(live) == 0 {
		return nil
	}

	var (
		windows []Window
		current []Message
		tokens  int
		chain   = map[string]struct{}{}
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		windows = append(windows, buildWindow(current, tokens))
		current = nil
		tokens = 0
		chain = map[string]struct{}{}
	}

	for _, msg := range live {
		cost := EstimateTokens(msg.Content)

		if len(current) > 0 {
			gap := msg.CreatedAt.Sub(current[len(current)-1].CreatedAt)
			_, repliesIn := chain[msg.ReplyToID]

			if gap > opts.GapTimeout && !repliesIn {
				flush()
			} else if tokens+cost > opts.TokenBudget {
				flush()
			}
		}

		current = append(current, msg)
		tokens += cost
		if msg.DiscordID != "" {
			chain[msg.DiscordID] = struct{}{}
		}
	}
	flush()

	return windows
}

func buildWindow(msgs []Message, tokens int) Window {
	return Window{
		Messages:   msgs,
		StartedAt:  msgs[0].CreatedAt,
		EndedAt:    msgs[len(msgs)-1].CreatedAt,
		TokenCount: tokens,
	}
}

// EstimateTokens is the cheap length heuristic used for budgeting:
// roughly one token per four bytes, never less than one per message.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
