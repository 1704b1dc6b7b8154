package sqlite

import (
	"context"
	"fmt"
	"time"
)

// DeleteDeadSessions removes sessions that are expired or revoked as of now.
func (s *Store) DeleteDeadSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE revoked = 1 OR expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete dead sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// DeleteOldAuditEvents removes audit rows created before cutoff.
func (s *Store) DeleteOldAuditEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old audit events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}
