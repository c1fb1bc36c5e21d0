package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/guildsense-backend/internal/app"
	"github.com/yungbote/guildsense-backend/internal/ingest"
	"github.com/yungbote/guildsense-backend/internal/observability"
	"github.com/yungbote/guildsense-backend/internal/reconciler"
	"github.com/yungbote/guildsense-backend/internal/search"
	"github.com/yungbote/guildsense-backend/internal/server"
	"github.com/yungbote/guildsense-backend/internal/server/handlers"
)

func main() {
	base, err := app.NewBase()
	if err != nil {
		fmt.Printf("api bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer base.Close()
	log := base.Log

	shutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "guildsense-api",
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

	ingestor, err := ingest.NewIngestor(log, base.DB, base.Repos, base.Cfg.Broker)
	if err != nil {
		log.Error("init ingestor failed", "error", err)
		os.Exit(1)
	}
	searchSvc := search.New(log, base.Repos, base.Store, base.Embedder, base.Cfg.Search)
	recon := reconciler.New(log, base.Repos, base.Store, base.Embedder.Identity(), base.Bus, base.Cfg.Reconciler)

	srv := server.NewServer(server.RouterConfig{
		Server:        base.Cfg.Server,
		HealthHandler: handlers.NewHealthHandler(base.DB),
		IngestHandler: handlers.NewIngestHandler(ingestor),
		QueryHandler:  handlers.NewQueryHandler(searchSvc),
		AdminHandler:  handlers.NewAdminHandler(log, base.Repos, recon),
	})

	addr := ":" + base.Cfg.Server.Port
	log.Info("api listening", "addr", addr)
	if err := srv.Run(addr); err != nil {
		log.Error("api server exited", "error", err)
		os.Exit(1)
	}
}
