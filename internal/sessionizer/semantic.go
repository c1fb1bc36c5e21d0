package sessionizer

import (
	"math"
	"sort"
)

// RefineWindow splits one window at topic shifts. vecs holds one
// embedding per window message, in order. Breakpoints are the
// consecutive-similarity drops in the bottom percentile; a split is
// only taken when both sides keep at least minSize messages.
//
// Pure over its inputs so refinement stays deterministic for a fixed
// embedder.
func RefineWindow(w Window, vecs [][]float32, percentile float64, minSize int) []Window {
	if minSize < 1 {
		minSize = 2
	}
	if len(w.Messages) < 2*minSize || len(vecs) != len(w.Messages) {
		return []Window{w}
	}
	if percentile <= 0 || percentile >= 1 {
		return []Window{w}
	}

	sims := make([]float64, len(vecs)-1)
	for i := 0; i+1 < len(vecs); i++ {
		sims[i] = cosine(vecs[i], vecs[i+1])
	}

	threshold := percentileValue(sims, percentile)

	var cuts []int
	lastCut := 0
	for i, sim := range sims {
		boundary := i + 1
		if sim > threshold {
			continue
		}
		if boundary-lastCut < minSize {
			continue
		}
		if len(w.Messages)-boundary < minSize {
			continue
		}
		cuts = append(cuts, boundary)
		lastCut = boundary
	}
	if len(cuts) == 0 {
		return []Window{w}
	}

	out := make([]Window, 0, len(cuts)+1)
	start := 0
	for _, cut := range cuts {
		out = append(out, rebuildWindow(w.Messages[start:cut]))
		start = cut
	}
	out = append(out, rebuildWindow(w.Messages[start:]))
	return out
}

func rebuildWindow(msgs []Message) Window {
	tokens := 0
	for _, m := range msgs {
		tokens += EstimateTokens(m.Content)
	}
	return buildWindow(msgs, tokens)
}

// percentileValue returns the value at the given percentile of the
// sorted similarities, so everything at or below it is a cut candidate.
func percentileValue(values []float64, percentile float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Floor(percentile * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
