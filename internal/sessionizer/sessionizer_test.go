package sessionizer

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func msgAt(id string, at time.Time, content string) Message {
	return Message{
		ID:        uuid.New(),
		DiscordID: id,
		Author:    "alice",
		Content:   content,
		CreatedAt: at,
	}
}

func TestSplitGapBreaks(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		msgAt("1", base, "hello"),
		msgAt("2", base.Add(2*time.Minute), "hi there"),
		msgAt("3", base.Add(40*time.Minute), "new topic"),
	}

	windows := Split(msgs, Options{GapTimeout: 15 * time.Minute, TokenBudget: 480})
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if len(windows[0].Messages) != 2 || len(windows[1].Messages) != 1 {
		t.Fatalf("unexpected window sizes: %d and %d", len(windows[0].Messages), len(windows[1].Messages))
	}
	if !windows[0].StartedAt.Equal(base) {
		t.Fatalf("window start mismatch: %s", windows[0].StartedAt)
	}
	if !windows[0].EndedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("window end mismatch: %s", windows[0].EndedAt)
	}
}

func TestSplitReplyExtendsAcrossGap(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	late := msgAt("3", base.Add(time.Hour), "late answer")
	late.ReplyToID = "1"

	msgs := []Message{
		msgAt("1", base, "question?"),
		msgAt("2", base.Add(time.Minute), "thinking"),
		late,
	}

	windows := Split(msgs, Options{GapTimeout: 15 * time.Minute, TokenBudget: 480})
	if len(windows) != 1 {
		t.Fatalf("expected reply to keep one window, got %d", len(windows))
	}
	if len(windows[0].Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(windows[0].Messages))
	}
}

func TestSplitReplyToOtherWindowStillBreaks(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	late := msgAt("3", base.Add(time.Hour), "unrelated reply")
	late.ReplyToID = "999"

	msgs := []Message{
		msgAt("1", base, "a"),
		late,
	}

	windows := Split(msgs, Options{GapTimeout: 15 * time.Minute})
	if len(windows) != 2 {
		t.Fatalf("reply outside the window must not bridge the gap, got %d windows", len(windows))
	}
}

func TestSplitTokenBudgetFlushes(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'x'
	}
	msgs := []Message{
		msgAt("1", base, string(big)),
		msgAt("2", base.Add(time.Minute), string(big)),
		msgAt("3", base.Add(2*time.Minute), string(big)),
	}

	windows := Split(msgs, Options{GapTimeout: 15 * time.Minute, TokenBudget: 150})
	if len(windows) != 3 {
		t.Fatalf("expected budget to split each message apart, got %d windows", len(windows))
	}
	for i, w := range windows {
		if w.TokenCount != 100 {
			t.Fatalf("window %d token count = %d, want 100", i, w.TokenCount)
		}
	}
}

func TestSplitSkipsDeleted(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	gone := msgAt("2", base.Add(time.Minute), "[deleted]")
	gone.Deleted = true

	msgs := []Message{
		msgAt("1", base, "keep"),
		gone,
		msgAt("3", base.Add(2*time.Minute), "also keep"),
	}

	windows := Split(msgs, Options{})
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if len(windows[0].Messages) != 2 {
		t.Fatalf("deleted message must be dropped, got %d messages", len(windows[0].Messages))
	}
	for _, m := range windows[0].Messages {
		if m.Deleted {
			t.Fatalf("deleted message leaked into window")
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		msgAt("1", base, "one"),
		msgAt("2", base.Add(time.Minute), "two"),
		msgAt("3", base.Add(30*time.Minute), "three"),
		msgAt("4", base.Add(31*time.Minute), "four"),
	}

	first := Split(msgs, Options{})
	second := Split(msgs, Options{})
	if len(first) != len(second) {
		t.Fatalf("window count differs between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Messages) != len(second[i].Messages) {
			t.Fatalf("window %d size differs between runs", i)
		}
		if first[i].TokenCount != second[i].TokenCount {
			t.Fatalf("window %d token count differs between runs", i)
		}
	}
}

func TestSplitEmptyAndAllDeleted(t *testing.T) {
	if got := Split(nil, Options{}); got != nil {
		t.Fatalf("expected nil windows for no input")
	}
	gone := msgAt("1", time.Now(), "x")
	gone.Deleted = true
	if got := Split([]Message{gone}, Options{}); got != nil {
		t.Fatalf("expected nil windows when every message is deleted")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 1 {
		t.Fatalf("empty content should cost 1 token, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("4 bytes should cost 1 token, got %d", got)
	}
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("8 bytes should cost 2 tokens, got %d", got)
	}
}
