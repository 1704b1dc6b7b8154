package sqlite

import (
	"context"
	"fmt"

	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

const auditColumns = `id, identity_id, action, correlating_id, client_ip, client_agent,
success, details, created_at`

// PutAuditEvent appends one audit row.
func (s *Store) PutAuditEvent(ctx context.Context, event storage.AuditEvent) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO audit_logs
(identity_id, action, correlating_id, client_ip, client_agent, success, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(event.IdentityID),
		event.Action,
		nullIfEmpty(event.CorrelatingID),
		event.ClientIP,
		event.ClientAgent,
		boolToInt(event.Success),
		nullIfEmpty(event.DetailsJSON),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put audit event: %w", err)
	}
	return nil
}

// ListAuditEventsByIdentity returns an identity's audit trail, newest first.
func (s *Store) ListAuditEventsByIdentity(ctx context.Context, identityID string, limit int) ([]storage.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
WHERE identity_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events by identity: %w", err)
	}
	return collectAuditEvents(rows)
}

// ListAuditEventsByCorrelatingID returns the audit trail of one login flow in
// the order it happened.
func (s *Store) ListAuditEventsByCorrelatingID(ctx context.Context, correlatingID string) ([]storage.AuditEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
WHERE correlating_id = ? ORDER BY created_at ASC, id ASC`,
		correlatingID)
	if err != nil {
		return nil, fmt.Errorf("list audit events by correlating id: %w", err)
	}
	return collectAuditEvents(rows)
}

func collectAuditEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}) ([]storage.AuditEvent, error) {
	defer rows.Close()

	var events []storage.AuditEvent
	for rows.Next() {
		var event storage.AuditEvent
		var identityID, correlatingID, details *string
		var success int
		var createdAt int64
		err := rows.Scan(
			&event.ID,
			&identityID,
			&event.Action,
			&correlatingID,
			&event.ClientIP,
			&event.ClientAgent,
			&success,
			&details,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if identityID != nil {
			event.IdentityID = *identityID
		}
		if correlatingID != nil {
			event.CorrelatingID = *correlatingID
		}
		if details != nil {
			event.DetailsJSON = *details
		}
		event.Success = success != 0
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect audit events: %w", err)
	}
	return events, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
