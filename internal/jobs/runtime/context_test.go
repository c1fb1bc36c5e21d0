package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/guildsense-backend/internal/domain"
	jobsdomain "github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/platform/qdrant"
)

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubHandler{kind: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stubHandler{kind: "a"}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := r.Register(stubHandler{kind: ""}); err == nil {
		t.Fatalf("expected empty kind to fail")
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatalf("registered handler not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("unknown kind must not resolve")
	}
	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != "a" {
		t.Fatalf("kinds = %v", kinds)
	}
}

type stubHandler struct{ kind string }

func (h stubHandler) Kind() string          { return h.kind }
func (h stubHandler) Run(jc *Context) error { return nil }

func TestDecodeTypedPayload(t *testing.T) {
	want := jobsdomain.EmbedSessionPayload{GuildID: uuid.New(), SessionID: uuid.New()}
	raw := fmt.Sprintf(`{"guild_id":%q,"session_id":%q}`, want.GuildID, want.SessionID)

	jc := NewContext(context.Background(), nil, &types.Job{Payload: datatypes.JSON(raw)})
	var got jobsdomain.EmbedSessionPayload
	if err := jc.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("payload = %+v, want %+v", got, want)
	}
}

func TestDecodeMalformedPayloadIsPermanent(t *testing.T) {
	jc := NewContext(context.Background(), nil, &types.Job{Payload: datatypes.JSON(`{not json`)})
	var got jobsdomain.EmbedSessionPayload
	err := jc.Decode(&got)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if !IsPermanent(err) {
		t.Fatalf("malformed payload must be permanent")
	}
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(fmt.Errorf("outer: %w", base))
	if !IsPermanent(err) {
		t.Fatalf("expected permanent")
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapping must preserve the cause")
	}
	if IsPermanent(base) {
		t.Fatalf("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must be nil")
	}
	if wrapped := fmt.Errorf("again: %w", err); !IsPermanent(wrapped) {
		t.Fatalf("permanence must survive further wrapping")
	}
}

func TestIsPermanentConsultsRetryableVerdict(t *testing.T) {
	nonRetryable := &qdrant.OperationError{Code: qdrant.OperationErrorValidation, Operation: "upsert"}
	if !IsPermanent(nonRetryable) {
		t.Fatalf("non-retryable store error must dead-letter on first failure")
	}
	if !IsPermanent(fmt.Errorf("upsert session: %w", nonRetryable)) {
		t.Fatalf("verdict must survive wrapping")
	}

	retryable := &qdrant.OperationError{Code: qdrant.OperationErrorTimeout, Operation: "upsert"}
	if IsPermanent(retryable) {
		t.Fatalf("retryable store error must back off, not dead-letter")
	}
	tenant := &qdrant.OperationError{Code: qdrant.OperationErrorTenantViolation, Operation: "query"}
	if !IsPermanent(tenant) {
		t.Fatalf("tenant violations must never retry")
	}
}
