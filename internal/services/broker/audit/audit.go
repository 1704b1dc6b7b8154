// Package audit records the broker's authentication audit trail.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

// Audit trail actions.
const (
	ActionLogin         = "LOGIN"
	ActionLogout        = "LOGOUT"
	ActionAuthorize     = "AUTHORIZE"
	ActionTokenExtended = "TOKEN_EXTENDED"
	ActionAuthError     = "AUTH_ERROR"
)

// Client captures the request attribution attached to audit rows.
type Client struct {
	IP    string
	Agent string
}

// Recorder writes audit events without ever failing the operation being
// audited. A write failure is logged and dropped; losing one audit row
// is preferable to failing a login.
type Recorder struct {
	store  storage.AuditStore
	logger *log.Logger
	now    func() time.Time
}

// NewRecorder creates an audit recorder over the given store.
func NewRecorder(store storage.AuditStore, logger *log.Logger, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, logger: logger, now: now}
}

// Record appends one audit event. Details are marshaled to JSON; an
// unmarshalable detail value drops the details, not the event.
func (r *Recorder) Record(ctx context.Context, action string, identityID, correlatingID string, client Client, success bool, details map[string]any) {
	if r == nil || r.store == nil {
		return
	}

	event := storage.AuditEvent{
		IdentityID:    identityID,
		Action:        action,
		CorrelatingID: correlatingID,
		ClientIP:      client.IP,
		ClientAgent:   client.Agent,
		Success:       success,
		CreatedAt:     r.now(),
	}
	if len(details) > 0 {
		encoded, err := json.Marshal(details)
		if err != nil {
			r.logf("audit: encode details for %s: %v", action, err)
		} else {
			event.DetailsJSON = string(encoded)
		}
	}

	if err := r.store.PutAuditEvent(ctx, event); err != nil {
		r.logf("audit: record %s: %v", action, err)
	}
}

// Error records a failed operation under the AUTH_ERROR action with the
// error code in the details.
func (r *Recorder) Error(ctx context.Context, identityID, correlatingID string, client Client, code string) {
	r.Record(ctx, ActionAuthError, identityID, correlatingID, client, false,
		map[string]any{"error": code})
}

func (r *Recorder) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
