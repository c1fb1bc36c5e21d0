package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/data/repos"
	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/jobs/runtime"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// Worker drains the queue: N polling loops share one registry, and a
// sweeper returns expired leases to pending so a crashed peer's work is
// retried.
type Worker struct {
	log      *logger.Logger
	db       *gorm.DB
	queue    repos.QueueRepo
	registry *runtime.Registry

	cfg   config.WorkerConfig
	lease time.Duration
}

func New(log *logger.Logger, db *gorm.DB, queue repos.QueueRepo, registry *runtime.Registry, cfg config.WorkerConfig, lease time.Duration) (*Worker, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if queue == nil || registry == nil {
		return nil, errors.New("queue and registry required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Worker{
		log:      log.With("component", "JobWorker"),
		db:       db,
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		lease:    lease,
	}, nil
}

// Run blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.pollLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.sweepLoop(ctx)
		return nil
	})

	return g.Wait()
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain until empty so a burst clears faster than one job
			// per tick.
			for {
				if ctx.Err() != nil {
					return
				}
				if !w.runOne(ctx) {
					break
				}
			}
		}
	}
}

// runOne claims and executes a single job. Returns false when the queue
// was empty.
func (w *Worker) runOne(ctx context.Context) bool {
	job, err := w.queue.Reserve(dbctx.Context{Ctx: ctx}, w.registry.Kinds(), w.lease)
	if err != nil {
		w.log.Warn("reserve failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	log := w.log.With("job_id", job.ID, "kind", job.Kind, "guild_id", job.GuildID, "attempt", job.Attempts)

	handler, ok := w.registry.Get(job.Kind)
	if !ok {
		// Reserve filters on registered kinds, so this only happens when
		// the registry changed underneath us.
		log.Error("no handler for reserved job")
		w.finish(ctx, job, runtime.Permanent(fmt.Errorf("no handler for kind=%s", job.Kind)), log)
		return true
	}

	start := time.Now()
	runErr := w.execute(ctx, handler, runtime.NewContext(ctx, w.db, job))
	w.finish(ctx, job, runErr, log.With("elapsed", time.Since(start).String()))
	return true
}

func (w *Worker) execute(ctx context.Context, h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic", "kind", jc.Job.Kind, "job_id", jc.Job.ID, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Run(jc)
}

func (w *Worker) finish(ctx context.Context, job *types.Job, runErr error, log *logger.Logger) {
	dbc := dbctx.Context{Ctx: ctx}
	if runErr == nil {
		if err := w.queue.Ack(dbc, job.ID); err != nil {
			log.Error("ack failed", "error", err)
		}
		log.Debug("job done")
		return
	}

	permanent := runtime.IsPermanent(runErr)
	if err := w.queue.Nack(dbc, job, runErr.Error(), permanent); err != nil {
		log.Error("nack failed", "error", err)
		return
	}
	if permanent {
		log.Error("job dead lettered", "error", runErr)
	} else {
		log.Warn("job failed, will retry", "error", runErr)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := w.queue.ReleaseExpired(dbctx.Context{Ctx: ctx})
			if err != nil {
				w.log.Warn("lease sweep failed", "error", err)
				continue
			}
			if released > 0 {
				w.log.Info("released expired leases", "count", released)
			}
		}
	}
}
