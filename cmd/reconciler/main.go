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
	"github.com/yungbote/guildsense-backend/internal/observability"
	"github.com/yungbote/guildsense-backend/internal/reconciler"
)

func main() {
	base, err := app.NewBase()
	if err != nil {
		fmt.Printf("reconciler bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer base.Close()
	log := base.Log

	shutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "guildsense-reconciler",
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

	r := reconciler.New(log, base.Repos, base.Store, base.Embedder.Identity(), base.Bus, base.Cfg.Reconciler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("reconciler running", "interval", base.Cfg.Reconciler.Interval)
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reconciler exited", "error", err)
		os.Exit(1)
	}
	log.Info("reconciler stopped")
}
