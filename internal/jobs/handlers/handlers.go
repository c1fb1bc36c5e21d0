package handlers

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	"github.com/yungbote/guildsense-backend/internal/embed"
	"github.com/yungbote/guildsense-backend/internal/ingestion/fetcher"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
	"github.com/yungbote/guildsense-backend/internal/platform/openai"
	"github.com/yungbote/guildsense-backend/internal/vector"
)

// PDFExtractor returns per-page text for a PDF. nil means PDFs cannot
// be processed in this deployment and fail permanently.
type PDFExtractor interface {
	ExtractPages(ctx context.Context, data []byte) ([]string, error)
}

// Deps carries everything the job handlers share.
type Deps struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Repos    repos.All
	Store    vector.Store
	Embedder embed.Embedder
	Cfg      config.Config

	Fetcher   *fetcher.Fetcher
	Caption   openai.Caption
	Extractor PDFExtractor
}

func (d Deps) validate() error {
	if d.Log == nil {
		return errors.New("logger required")
	}
	if d.DB == nil {
		return errors.New("db required")
	}
	if d.Store == nil {
		return errors.New("vector store required")
	}
	if d.Embedder == nil {
		return errors.New("embedder required")
	}
	return nil
}

// RegisterAll wires every handler into the registry.
func RegisterAll(reg *runtime.Registry, deps Deps) error {
	if err := deps.validate(); err != nil {
		return err
	}
	handlers := []runtime.Handler{
		&sessionizeHandler{deps},
		&embedSessionHandler{deps},
		&reindexSessionHandler{deps},
		&purgeVectorsHandler{deps},
		&purgeChannelHandler{deps},
		&purgeGuildHandler{deps},
		&backfillChannelHandler{deps},
		&processAttachmentHandler{deps},
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
