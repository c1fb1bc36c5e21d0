package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	"github.com/yungbote/guildsense-backend/internal/platform/dbctx"
)

// Context is the execution handle for one claimed job: the request
// context, the database, and the job row. Handlers decode their typed
// payload through it and never touch the queue row directly.
type Context struct {
	Ctx context.Context
	DB  *gorm.DB
	Job *types.Job
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.Job) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{Ctx: ctx, DB: db, Job: job}
}

// Decode unmarshals the job payload into v. A payload that does not
// parse can never succeed on retry, so the error is permanent.
func (c *Context) Decode(v any) error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return Permanent(fmt.Errorf("job payload empty"))
	}
	if err := json.Unmarshal(c.Job.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

// DBC scopes repo calls to this job's context.
func (c *Context) DBC() dbctx.Context {
	return dbctx.Context{Ctx: c.Ctx}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable: the job goes straight to
// the dead letter table instead of backing off.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the job should dead-letter instead of
// retry. Errors that carry their own retryability verdict, like the
// vector store's operation errors, are consulted directly.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return !r.Retryable()
	}
	return false
}
