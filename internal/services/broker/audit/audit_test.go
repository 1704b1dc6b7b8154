package audit

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

type fakeAuditStore struct {
	events []storage.AuditEvent
	err    error
}

func (f *fakeAuditStore) PutAuditEvent(_ context.Context, event storage.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) ListAuditEventsByIdentity(context.Context, string, int) ([]storage.AuditEvent, error) {
	return nil, nil
}

func (f *fakeAuditStore) ListAuditEventsByCorrelatingID(context.Context, string) ([]storage.AuditEvent, error) {
	return nil, nil
}

func TestRecorderRecord(t *testing.T) {
	store := &fakeAuditStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder := NewRecorder(store, log.New(io.Discard, "", 0), func() time.Time { return now })

	recorder.Record(context.Background(), ActionLogin, "alice", "corr-1",
		Client{IP: "203.0.113.9", Agent: "test-agent"}, true,
		map[string]any{"app_id": "dashboard"})

	if len(store.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(store.events))
	}
	event := store.events[0]
	if event.Action != ActionLogin {
		t.Errorf("Action = %q, want %q", event.Action, ActionLogin)
	}
	if event.IdentityID != "alice" || event.CorrelatingID != "corr-1" {
		t.Errorf("attribution = (%q, %q), want (alice, corr-1)", event.IdentityID, event.CorrelatingID)
	}
	if !event.Success {
		t.Error("Success = false, want true")
	}
	if !strings.Contains(event.DetailsJSON, `"app_id":"dashboard"`) {
		t.Errorf("DetailsJSON = %q, want app_id detail", event.DetailsJSON)
	}
	if !event.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", event.CreatedAt, now)
	}
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	store := &fakeAuditStore{err: errors.New("disk full")}
	var logged strings.Builder
	recorder := NewRecorder(store, log.New(&logged, "", 0), nil)

	recorder.Record(context.Background(), ActionLogout, "alice", "", Client{}, true, nil)

	if !strings.Contains(logged.String(), "disk full") {
		t.Errorf("log output = %q, want store failure logged", logged.String())
	}
}

func TestRecorderError(t *testing.T) {
	store := &fakeAuditStore{}
	recorder := NewRecorder(store, log.New(io.Discard, "", 0), nil)

	recorder.Error(context.Background(), "", "corr-2", Client{IP: "203.0.113.9"}, "INVALID_TOKEN")

	if len(store.events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(store.events))
	}
	event := store.events[0]
	if event.Action != ActionAuthError {
		t.Errorf("Action = %q, want %q", event.Action, ActionAuthError)
	}
	if event.Success {
		t.Error("Success = true, want false")
	}
	if !strings.Contains(event.DetailsJSON, "INVALID_TOKEN") {
		t.Errorf("DetailsJSON = %q, want error code", event.DetailsJSON)
	}
}
