package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/guildsense-backend/internal/app"
	"github.com/yungbote/guildsense-backend/internal/ingestion/fetcher"
	"github.com/yungbote/guildsense-backend/internal/ingestion/pdfextract"
	"github.com/yungbote/guildsense-backend/internal/jobs/handlers"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/jobs/worker"
	"github.com/yungbote/guildsense-backend/internal/observability"
	"github.com/yungbote/guildsense-backend/internal/platform/openai"
)

func main() {
	base, err := app.NewBase()
	if err != nil {
		fmt.Printf("worker bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer base.Close()
	log := base.Log

	shutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "guildsense-worker",
		Environment: os.Getenv("ENVIRONMENT"),
		Version:     os.Getenv("SERVICE_VERSION"),
	})
	if shutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	// Image captioning is optional; attachments that need it fail
	// terminally when no client is configured.
	var caption openai.Caption
	if client, err := openai.NewClient(log); err != nil {
		log.Warn("openai client unavailable, image attachments will not be captioned", "error", err)
	} else if caption, err = openai.NewCaption(log, client); err != nil {
		log.Warn("caption client init failed", "error", err)
		caption = nil
	}

	fetch, err := fetcher.New(log, base.Cfg.Attachments)
	if err != nil {
		log.Error("init fetcher failed", "error", err)
		os.Exit(1)
	}
	extractor, err := pdfextract.New(log)
	if err != nil {
		log.Error("init pdf extractor failed", "error", err)
		os.Exit(1)
	}

	registry := runtime.NewRegistry()
	err = handlers.RegisterAll(registry, handlers.Deps{
		Log:       log,
		DB:        base.DB,
		Repos:     base.Repos,
		Store:     base.Store,
		Embedder:  base.Embedder,
		Cfg:       base.Cfg,
		Fetcher:   fetch,
		Caption:   caption,
		Extractor: extractor,
	})
	if err != nil {
		log.Error("register handlers failed", "error", err)
		os.Exit(1)
	}

	w, err := worker.New(log, base.DB, base.Repos.Queue, registry, base.Cfg.Worker, base.Cfg.Broker.LeaseTimeout)
	if err != nil {
		log.Error("init worker failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker running", "concurrency", base.Cfg.Worker.Concurrency)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
