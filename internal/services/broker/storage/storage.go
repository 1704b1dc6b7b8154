// Package storage defines the persistence contracts for the broker.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/ssobroker/internal/platform/errors"
	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// SessionStatus is the explicit session state derived once per read.
type SessionStatus string

const (
	// SessionActive means the session may authenticate requests and be
	// extended.
	SessionActive SessionStatus = "ACTIVE"
	// SessionExpired means the validity window elapsed; the row is kept for
	// audit until the maintenance sweep.
	SessionExpired SessionStatus = "EXPIRED"
	// SessionRevoked means the session was explicitly ended; terminal.
	SessionRevoked SessionStatus = "REVOKED"
)

// Session is the durable record behind one issued bearer credential. Only
// the credential's SHA-256 digest is stored, never the credential.
type Session struct {
	ID            string
	IdentityID    string
	AppID         string
	TokenDigest   string
	CorrelatingID string
	ExpiresAt     time.Time
	ClientIP      string
	ClientAgent   string
	Revoked       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StatusAt derives the enumerated session state for a point in time.
// Revocation wins over expiry so a revoked-then-expired session reads
// REVOKED in audit trails.
func (s Session) StatusAt(now time.Time) SessionStatus {
	if s.Revoked {
		return SessionRevoked
	}
	if !s.ExpiresAt.After(now) {
		return SessionExpired
	}
	return SessionActive
}

// App is a registered client application. Registrations are created and
// edited administratively; the broker only reads them.
type App struct {
	ID        int64
	AppID     string
	Name      string
	Patterns  []string
	Privacy   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEvent is one row of the broker's audit trail.
type AuditEvent struct {
	ID            int64
	IdentityID    string
	Action        string
	CorrelatingID string
	ClientIP      string
	ClientAgent   string
	Success       bool
	DetailsJSON   string
	CreatedAt     time.Time
}

// IdentityStore persists local identity records.
type IdentityStore interface {
	PutIdentity(ctx context.Context, record identity.Identity) error
	GetIdentity(ctx context.Context, identityID string) (identity.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (identity.Identity, error)
	DeactivateIdentity(ctx context.Context, identityID string, at time.Time) error
	ClearIdentityCredentials(ctx context.Context, identityID string, at time.Time) error
}

// SessionStore persists bearer credential sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSessionByDigest(ctx context.Context, digest string) (Session, error)
	// ExtendSession moves expiry forward iff the row is still active at
	// "now"; returns ErrNotFound when the guarded update matched no row.
	ExtendSession(ctx context.Context, sessionID string, expiresAt, now time.Time) error
	// RevokeSession is idempotent; revoking a missing or already revoked
	// session is not an error.
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	RevokeSessionByDigest(ctx context.Context, digest string, at time.Time) error
	ListActiveSessions(ctx context.Context, identityID string, now time.Time) ([]Session, error)
}

// AppStore reads client app registrations in stable registration order.
type AppStore interface {
	ListActiveApps(ctx context.Context) ([]App, error)
	GetAppByAppID(ctx context.Context, appID string) (App, error)
}

// AuditStore persists audit events.
type AuditStore interface {
	PutAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditEventsByIdentity(ctx context.Context, identityID string, limit int) ([]AuditEvent, error)
	ListAuditEventsByCorrelatingID(ctx context.Context, correlatingID string) ([]AuditEvent, error)
}

// MaintenanceStore supports the periodic sweep of dead rows.
type MaintenanceStore interface {
	// DeleteDeadSessions removes sessions that are expired or revoked as of
	// now and returns the number of rows deleted.
	DeleteDeadSessions(ctx context.Context, now time.Time) (int64, error)
	// DeleteOldAuditEvents removes audit rows created before cutoff.
	DeleteOldAuditEvents(ctx context.Context, cutoff time.Time) (int64, error)
}
