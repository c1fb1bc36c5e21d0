package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"

	"github.com/yungbote/guildsense-backend/internal/data/repos/testutil"
)

func testQueue(t *testing.T, opts ...QueueOption) (QueueRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return NewQueueRepo(db, log, opts...), dbctx.Context{Ctx: context.Background()}
}

// uniqueKind isolates each test from jobs other tests left behind in a
// shared database.
func uniqueKind() string {
	return "test_kind_" + uuid.NewString()
}

func TestReserveDrainsPriorityThenFIFO(t *testing.T) {
	q, dbc := testQueue(t)
	guildID := uuid.New()
	kind := uniqueKind()

	enqueue := func(priority int) uuid.UUID {
		job, created, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, Priority: priority})
		if err != nil || !created {
			t.Fatalf("enqueue: created=%v err=%v", created, err)
		}
		return job.ID
	}
	lowID := enqueue(jobsdomain.PriorityLow)
	highID := enqueue(jobsdomain.PriorityHigh)
	defaultID := enqueue(jobsdomain.PriorityDefault)

	want := []uuid.UUID{highID, defaultID, lowID}
	for i, expected := range want {
		job, err := q.Reserve(dbc, []string{kind}, time.Minute)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if job == nil || job.ID != expected {
			t.Fatalf("reserve %d: got %v, want %s", i, job, expected)
		}
		if job.Attempts != 1 {
			t.Fatalf("reserve %d: attempts = %d, want 1", i, job.Attempts)
		}
		if job.Status != jobsdomain.StatusLeased {
			t.Fatalf("reserve %d: status = %q", i, job.Status)
		}
	}

	job, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil {
		t.Fatalf("reserve empty: %v", err)
	}
	if job != nil {
		t.Fatalf("expected empty queue, got %s", job.ID)
	}
}

func TestEnqueueDedupsPendingWork(t *testing.T) {
	q, dbc := testQueue(t)
	guildID := uuid.New()
	kind := uniqueKind()
	key := "dk:" + uuid.NewString()

	first, created, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, DedupKey: key})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	second, created, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, DedupKey: key})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Fatalf("duplicate pending key should not create a row")
	}
	if second.ID != first.ID {
		t.Fatalf("dedup returned a different job")
	}

	// A different key is independent work.
	_, created, err = q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, DedupKey: "dk:" + uuid.NewString()})
	if err != nil || !created {
		t.Fatalf("distinct key: created=%v err=%v", created, err)
	}

	// Once the original is claimed it no longer absorbs enqueues.
	if _, err := q.Reserve(dbc, []string{kind}, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, created, err = q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, DedupKey: key})
	if err != nil || !created {
		t.Fatalf("enqueue after claim: created=%v err=%v", created, err)
	}
}

func TestNackReschedulesWithBackoff(t *testing.T) {
	q, dbc := testQueue(t, WithBackoff(time.Minute, 5*time.Minute))
	guildID := uuid.New()
	kind := uniqueKind()

	if _, _, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil || job == nil {
		t.Fatalf("reserve: job=%v err=%v", job, err)
	}
	if err := q.Nack(dbc, job, "transient failure", false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// run_at moved into the future, so the job is not yet runnable.
	again, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil {
		t.Fatalf("reserve after nack: %v", err)
	}
	if again != nil {
		t.Fatalf("backed-off job reserved too early")
	}
}

func TestNackPermanentDeadLetters(t *testing.T) {
	q, dbc := testQueue(t)
	guildID := uuid.New()
	kind := uniqueKind()

	if _, _, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil || job == nil {
		t.Fatalf("reserve: job=%v err=%v", job, err)
	}
	if err := q.Nack(dbc, job, "bad payload", true); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead, err := q.ListDeadLetters(dbc, guildID, 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].JobID != job.ID || dead[0].LastError != "bad payload" {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if j, _ := q.Reserve(dbc, []string{kind}, time.Minute); j != nil {
		t.Fatalf("dead-lettered job still reservable")
	}

	requeued, err := q.RequeueDeadLetter(dbc, dead[0].ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Kind != kind || requeued.Status != jobsdomain.StatusPending {
		t.Fatalf("unexpected requeued job %+v", requeued)
	}
	dead, err = q.ListDeadLetters(dbc, guildID, 10)
	if err != nil {
		t.Fatalf("list after requeue: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("dead letter not removed after requeue")
	}
}

func TestNackExhaustedAttemptsDeadLetters(t *testing.T) {
	q, dbc := testQueue(t)
	guildID := uuid.New()
	kind := uniqueKind()

	if _, _, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind, MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil || job == nil {
		t.Fatalf("reserve: job=%v err=%v", job, err)
	}
	if err := q.Nack(dbc, job, "still failing", false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dead, err := q.ListDeadLetters(dbc, guildID, 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected exhausted job in dead letters, got %d", len(dead))
	}
}

func TestReleaseExpiredReturnsLeaseToPending(t *testing.T) {
	q, dbc := testQueue(t)
	guildID := uuid.New()
	kind := uniqueKind()

	if _, _, err := q.Enqueue(dbc, EnqueueParams{GuildID: guildID, Kind: kind}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Reserve(dbc, []string{kind}, time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("reserve: job=%v err=%v", job, err)
	}
	time.Sleep(10 * time.Millisecond)

	released, err := q.ReleaseExpired(dbc)
	if err != nil {
		t.Fatalf("release expired: %v", err)
	}
	if released < 1 {
		t.Fatalf("expected at least one released lease")
	}

	again, err := q.Reserve(dbc, []string{kind}, time.Minute)
	if err != nil || again == nil {
		t.Fatalf("reserve after release: job=%v err=%v", again, err)
	}
	if again.ID != job.ID {
		t.Fatalf("released a different job")
	}
	if again.Attempts != 2 {
		t.Fatalf("attempts = %d after re-claim, want 2", again.Attempts)
	}
}

func TestBackoffBounds(t *testing.T) {
	base := 2 * time.Second
	cap := 5 * time.Minute

	for attempts, floor := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	} {
		for i := 0; i < 20; i++ {
			d := Backoff(base, cap, attempts)
			if d < floor || d >= floor+base {
				t.Fatalf("attempts=%d: delay %v outside [%v, %v)", attempts, d, floor, floor+base)
			}
		}
	}

	// Deep retries saturate at the cap plus jitter.
	for i := 0; i < 20; i++ {
		d := Backoff(base, cap, 30)
		if d < cap || d >= cap+base {
			t.Fatalf("saturated delay %v outside [%v, %v)", d, cap, cap+base)
		}
	}
}
