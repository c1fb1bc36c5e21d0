package sessionizer

import (
	"testing"
	"time"
)

func refineFixture(n int) Window {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = msgAt(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), "msg")
	}
	tokens := 0
	for _, m := range msgs {
		tokens += EstimateTokens(m.Content)
	}
	return buildWindow(msgs, tokens)
}

func TestRefineWindowSplitsAtSimilarityDrop(t *testing.T) {
	w := refineFixture(6)
	// First three cluster on axis 0, last three on axis 1. The single
	// low-similarity boundary sits between index 2 and 3.
	vecs := [][]float32{
		{1, 0}, {1, 0}, {1, 0},
		{0, 1}, {0, 1}, {0, 1},
	}

	out := RefineWindow(w, vecs, 0.25, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 refined windows, got %d", len(out))
	}
	if len(out[0].Messages) != 3 || len(out[1].Messages) != 3 {
		t.Fatalf("unexpected split sizes: %d and %d", len(out[0].Messages), len(out[1].Messages))
	}
	if !out[0].EndedAt.Before(out[1].StartedAt) {
		t.Fatalf("refined windows out of order")
	}
}

func TestRefineWindowRespectsMinSize(t *testing.T) {
	w := refineFixture(4)
	// The only drop is after the first message; a split there would leave
	// a one-message side, so the window must stay whole.
	vecs := [][]float32{
		{1, 0},
		{0, 1}, {0, 1}, {0, 1},
	}

	out := RefineWindow(w, vecs, 0.25, 2)
	if len(out) != 1 {
		t.Fatalf("expected no split under minSize, got %d windows", len(out))
	}
}

func TestRefineWindowTooSmall(t *testing.T) {
	w := refineFixture(3)
	vecs := [][]float32{{1, 0}, {0, 1}, {1, 0}}

	out := RefineWindow(w, vecs, 0.25, 2)
	if len(out) != 1 {
		t.Fatalf("window below 2*minSize must not split, got %d", len(out))
	}
}

func TestRefineWindowVectorCountMismatch(t *testing.T) {
	w := refineFixture(6)
	out := RefineWindow(w, [][]float32{{1, 0}}, 0.25, 2)
	if len(out) != 1 {
		t.Fatalf("mismatched vector count must return the window unchanged")
	}
}

func TestRefineWindowRebuildsTokenCounts(t *testing.T) {
	w := refineFixture(6)
	vecs := [][]float32{
		{1, 0}, {1, 0}, {1, 0},
		{0, 1}, {0, 1}, {0, 1},
	}

	out := RefineWindow(w, vecs, 0.25, 2)
	total := 0
	for _, rw := range out {
		total += rw.TokenCount
	}
	if total != w.TokenCount {
		t.Fatalf("token counts do not add up: %d vs %d", total, w.TokenCount)
	}
}
