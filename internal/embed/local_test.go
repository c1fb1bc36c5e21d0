package embed

import (
	"context"
	"math"
	"testing"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e, err := NewLocalEmbedder(64)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	a, err := e.Embed(context.Background(), []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(context.Background(), []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 1 || len(a[0]) != 64 {
		t.Fatalf("unexpected shape %d x %d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
}

func TestLocalEmbedderUnitNorm(t *testing.T) {
	e, err := NewLocalEmbedder(32)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"some text to embed", ""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
			t.Fatalf("vector %d norm = %v, want 1", i, math.Sqrt(norm))
		}
	}
}

func TestLocalEmbedderIdentityEncodesDim(t *testing.T) {
	e, err := NewLocalEmbedder(128)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if e.Identity() != "local:fnv:128" {
		t.Fatalf("identity = %q", e.Identity())
	}
	if e.Dim() != 128 {
		t.Fatalf("dim = %d", e.Dim())
	}

	if _, err := NewLocalEmbedder(0); err == nil {
		t.Fatalf("zero dim accepted")
	}
}

func TestLocalEmbedderSimilarTextCloser(t *testing.T) {
	e, err := NewLocalEmbedder(256)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{
		"we shipped the new billing service today",
		"the new billing service shipped today",
		"cats enjoy sitting in cardboard boxes",
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Fatalf("paraphrase not closer than unrelated text")
	}
}
