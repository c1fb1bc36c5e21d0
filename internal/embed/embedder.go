package embed

import "context"

// Embedder turns text into fixed-dimension vectors. Identity names the
// provider, model and dimension; vectors written under one identity are
// not comparable to another, so an identity change forces re-embedding.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Identity() string
	Dim() int
}
