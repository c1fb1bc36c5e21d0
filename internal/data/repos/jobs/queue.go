package jobs

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// DefaultDedupWindow collapses duplicate pending work enqueued in a
// burst, such as every message of an active conversation asking for the
// same channel to be re-sessionized.
const DefaultDedupWindow = 5 * time.Minute

type EnqueueParams struct {
	GuildID     uuid.UUID
	Kind        string
	Priority    int
	DedupKey    string
	Payload     any
	MaxAttempts int
	RunAt       time.Time
}

type QueueRepo interface {
	// Enqueue inserts a job unless an identical pending dedup key exists
	// inside the window. Returns the job and whether a row was created.
	Enqueue(dbc dbctx.Context, p EnqueueParams) (*types.Job, bool, error)

	// Reserve claims the next runnable job: priority class first, FIFO
	// within the class. Returns nil when the queue is empty.
	Reserve(dbc dbctx.Context, kinds []string, leaseFor time.Duration) (*types.Job, error)

	Ack(dbc dbctx.Context, id uuid.UUID) error

	// Nack reschedules with backoff, or dead-letters when attempts are
	// exhausted or the failure is permanent.
	Nack(dbc dbctx.Context, job *types.Job, failure string, permanent bool) error

	// ReleaseExpired returns crashed workers' leases to pending.
	ReleaseExpired(dbc dbctx.Context) (int64, error)

	Depth(dbc dbctx.Context) (int64, error)
	DepthByPriority(dbc dbctx.Context) (map[int]int64, error)

	ListDeadLetters(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.DeadLetter, error)
	RequeueDeadLetter(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
}

type queueRepo struct {
	db  *gorm.DB
	log *logger.Logger

	dedupWindow time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
}

type QueueOption func(*queueRepo)

func WithDedupWindow(d time.Duration) QueueOption {
	return func(q *queueRepo) {
		if d > 0 {
			q.dedupWindow = d
		}
	}
}

func WithBackoff(base, cap time.Duration) QueueOption {
	return func(q *queueRepo) {
		if base > 0 {
			q.backoffBase = base
		}
		if cap > 0 {
			q.backoffCap = cap
		}
	}
}

func NewQueueRepo(db *gorm.DB, baseLog *logger.Logger, opts ...QueueOption) QueueRepo {
	q := &queueRepo{
		db:          db,
		log:         baseLog.With("repo", "QueueRepo"),
		dedupWindow: DefaultDedupWindow,
		backoffBase: 2 * time.Second,
		backoffCap:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (r *queueRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *queueRepo) Enqueue(dbc dbctx.Context, p EnqueueParams) (*types.Job, bool, error) {
	if p.GuildID == uuid.Nil {
		return nil, false, errors.New("guild id required")
	}
	kind := strings.TrimSpace(p.Kind)
	if kind == "" {
		return nil, false, errors.New("job kind required")
	}
	if p.Priority < jobsdomain.PriorityHigh || p.Priority > jobsdomain.PriorityLow {
		p.Priority = jobsdomain.PriorityDefault
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	runAt := p.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	dedupKey := strings.TrimSpace(p.DedupKey)
	if dedupKey != "" {
		cutoff := time.Now().Add(-r.dedupWindow)
		var existing types.Job
		err := r.tx(dbc).
			Where("dedup_key = ? AND status = ? AND created_at >= ?", dedupKey, jobsdomain.StatusPending, cutoff).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return nil, false, err
		}
		if existing.ID != uuid.Nil {
			return &existing, false, nil
		}
	}

	raw, err := marshalPayload(p.Payload)
	if err != nil {
		return nil, false, err
	}

	job := &types.Job{
		GuildID:     p.GuildID,
		Kind:        kind,
		Priority:    p.Priority,
		DedupKey:    dedupKey,
		Payload:     raw,
		Status:      jobsdomain.StatusPending,
		MaxAttempts: p.MaxAttempts,
		RunAt:       runAt,
	}
	if err := r.tx(dbc).Create(job).Error; err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (r *queueRepo) Reserve(dbc dbctx.Context, kinds []string, leaseFor time.Duration) (*types.Job, error) {
	if leaseFor <= 0 {
		leaseFor = 2 * time.Minute
	}
	now := time.Now()
	var claimed *types.Job
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", jobsdomain.StatusPending, now)
		if len(kinds) > 0 {
			q = q.Where("kind IN ?", kinds)
		}
		qErr := q.Order("priority ASC, created_at ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		leaseUntil := now.Add(leaseFor)
		uErr := txx.Model(&types.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":           jobsdomain.StatusLeased,
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_expires_at": leaseUntil,
				"updated_at":       now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = jobsdomain.StatusLeased
		job.Attempts++
		job.LeaseExpiresAt = &leaseUntil
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queueRepo) Ack(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("job id required")
	}
	return r.tx(dbc).Where("id = ?", id).Delete(&types.Job{}).Error
}

func (r *queueRepo) Nack(dbc dbctx.Context, job *types.Job, failure string, permanent bool) error {
	if job == nil || job.ID == uuid.Nil {
		return errors.New("job required")
	}
	failure = strings.TrimSpace(failure)

	if permanent || job.Attempts >= job.MaxAttempts {
		return r.tx(dbc).Transaction(func(txx *gorm.DB) error {
			dead := &types.DeadLetter{
				JobID:     job.ID,
				GuildID:   job.GuildID,
				Kind:      job.Kind,
				Payload:   job.Payload,
				Attempts:  job.Attempts,
				LastError: failure,
				FailedAt:  time.Now(),
			}
			if err := txx.Create(dead).Error; err != nil {
				return err
			}
			return txx.Where("id = ?", job.ID).Delete(&types.Job{}).Error
		})
	}

	delay := Backoff(r.backoffBase, r.backoffCap, job.Attempts)
	return r.tx(dbc).Model(&types.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":           jobsdomain.StatusPending,
			"run_at":           time.Now().Add(delay),
			"lease_expires_at": nil,
			"last_error":       failure,
			"updated_at":       time.Now(),
		}).Error
}

func (r *queueRepo) ReleaseExpired(dbc dbctx.Context) (int64, error) {
	res := r.tx(dbc).Model(&types.Job{}).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", jobsdomain.StatusLeased, time.Now()).
		Updates(map[string]interface{}{
			"status":           jobsdomain.StatusPending,
			"lease_expires_at": nil,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *queueRepo) Depth(dbc dbctx.Context) (int64, error) {
	var depth int64
	err := r.tx(dbc).Model(&types.Job{}).
		Where("status = ?", jobsdomain.StatusPending).
		Count(&depth).Error
	return depth, err
}

func (r *queueRepo) DepthByPriority(dbc dbctx.Context) (map[int]int64, error) {
	type row struct {
		Priority int
		Count    int64
	}
	var rows []row
	err := r.tx(dbc).Model(&types.Job{}).
		Select("priority, count(*) as count").
		Where("status = ?", jobsdomain.StatusPending).
		Group("priority").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]int64, len(rows))
	for _, item := range rows {
		out[item.Priority] = item.Count
	}
	return out, nil
}

func (r *queueRepo) ListDeadLetters(dbc dbctx.Context, guildID uuid.UUID, limit int) ([]*types.DeadLetter, error) {
	q := r.tx(dbc).Order("failed_at DESC")
	if guildID != uuid.Nil {
		q = q.Where("guild_id = ?", guildID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.DeadLetter
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *queueRepo) RequeueDeadLetter(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, errors.New("dead letter id required")
	}
	var job *types.Job
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var dead types.DeadLetter
		if err := txx.Where("id = ?", id).Limit(1).Find(&dead).Error; err != nil {
			return err
		}
		if dead.ID == uuid.Nil {
			return errors.New("dead letter not found")
		}
		job = &types.Job{
			GuildID:     dead.GuildID,
			Kind:        dead.Kind,
			Payload:     dead.Payload,
			Status:      jobsdomain.StatusPending,
			MaxAttempts: 5,
			RunAt:       time.Now(),
		}
		if err := txx.Create(job).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", dead.ID).Delete(&types.DeadLetter{}).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Backoff is exponential on attempts with full jitter of one base unit,
// capped.
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			delay = cap
			break
		}
	}
	if cap > 0 && delay > cap {
		delay = cap
	}
	return delay + time.Duration(rand.Int63n(int64(base)))
}

func marshalPayload(payload any) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	if raw, ok := payload.(datatypes.JSON); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
