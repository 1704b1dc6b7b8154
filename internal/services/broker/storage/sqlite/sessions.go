package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

const sessionColumns = `id, identity_id, app_id, token_digest, correlating_id, expires_at,
client_ip, client_agent, revoked, created_at, updated_at`

// PutSession inserts a new session row.
func (s *Store) PutSession(ctx context.Context, session storage.Session) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.IdentityID,
		session.AppID,
		session.TokenDigest,
		session.CorrelatingID,
		toMillis(session.ExpiresAt),
		session.ClientIP,
		session.ClientAgent,
		boolToInt(session.Revoked),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSessionByDigest loads a session by its credential digest.
func (s *Store) GetSessionByDigest(ctx context.Context, digest string) (storage.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_digest = ?`, digest)
	return scanSession(row)
}

// ExtendSession moves expiry forward iff the session is still active at now.
// The guard is part of the statement so a concurrent revocation can never be
// undone by a late extension.
func (s *Store) ExtendSession(ctx context.Context, sessionID string, expiresAt, now time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ?, updated_at = ?
WHERE id = ? AND revoked = 0 AND expires_at > ?`,
		toMillis(expiresAt), toMillis(now), sessionID, toMillis(now))
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	return requireRowAffected(result)
}

// RevokeSession marks a session revoked. Revoking a missing or already
// revoked session is a no-op.
func (s *Store) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1, updated_at = ? WHERE id = ? AND revoked = 0`,
		toMillis(at), sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeSessionByDigest marks the session behind a credential digest revoked.
func (s *Store) RevokeSessionByDigest(ctx context.Context, digest string, at time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1, updated_at = ? WHERE token_digest = ? AND revoked = 0`,
		toMillis(at), digest)
	if err != nil {
		return fmt.Errorf("revoke session by digest: %w", err)
	}
	return nil
}

// ListActiveSessions returns an identity's sessions that are neither revoked
// nor expired at now, newest first.
func (s *Store) ListActiveSessions(ctx context.Context, identityID string, now time.Time) ([]storage.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
WHERE identity_id = ? AND revoked = 0 AND expires_at > ?
ORDER BY created_at DESC, id DESC`,
		identityID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []storage.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (storage.Session, error) {
	var session storage.Session
	var revoked int
	var expiresAt, createdAt, updatedAt int64
	err := row.Scan(
		&session.ID,
		&session.IdentityID,
		&session.AppID,
		&session.TokenDigest,
		&session.CorrelatingID,
		&expiresAt,
		&session.ClientIP,
		&session.ClientAgent,
		&revoked,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Revoked = revoked != 0
	session.ExpiresAt = fromMillis(expiresAt)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}
