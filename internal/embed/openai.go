package embed

import (
	"context"
	"fmt"

	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/platform/openai"
)

type openAIEmbedder struct {
	log       *logger.Logger
	client    openai.Client
	dim       int
	batchSize int
}

func NewOpenAIEmbedder(log *logger.Logger, client openai.Client, dim, batchSize int) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("openai client required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim must be positive")
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &openAIEmbedder{
		log:       log.With("service", "OpenAIEmbedder"),
		client:    client,
		dim:       dim,
		batchSize: batchSize,
	}, nil
}

func (e *openAIEmbedder) Identity() string {
	return fmt.Sprintf("openai:%s:%d", e.client.EmbedModel(), e.dim)
}

func (e *openAIEmbedder) Dim() int { return e.dim }

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.client.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, v := range vecs {
			if len(v) != e.dim {
				return nil, fmt.Errorf(
					"embedding %d dimension mismatch: expected=%d got=%d",
					start+i,
					e.dim,
					len(v),
				)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}
