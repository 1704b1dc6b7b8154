package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

const identityColumns = `id, upstream_subject_id, email, name, given_name, family_name,
photo_url, profile_image_name, sealed_access_token, sealed_refresh_token,
last_correlating_id, active, last_login_at, created_at, updated_at`

// PutIdentity inserts or replaces an identity record keyed by ID.
func (s *Store) PutIdentity(ctx context.Context, record identity.Identity) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO identities (`+identityColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
upstream_subject_id = excluded.upstream_subject_id,
email = excluded.email,
name = excluded.name,
given_name = excluded.given_name,
family_name = excluded.family_name,
photo_url = excluded.photo_url,
profile_image_name = excluded.profile_image_name,
sealed_access_token = excluded.sealed_access_token,
sealed_refresh_token = excluded.sealed_refresh_token,
last_correlating_id = excluded.last_correlating_id,
active = excluded.active,
last_login_at = excluded.last_login_at,
updated_at = excluded.updated_at`,
		record.ID,
		record.UpstreamSubjectID,
		record.Email,
		record.Name,
		record.GivenName,
		record.FamilyName,
		record.PhotoURL,
		record.ProfileImageName,
		record.SealedAccessToken,
		record.SealedRefreshToken,
		record.LastCorrelatingID,
		boolToInt(record.Active),
		toMillis(record.LastLoginAt),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

// GetIdentity loads one identity by its broker ID.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (identity.Identity, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, identityID)
	return scanIdentity(row)
}

// GetIdentityByEmail loads one identity by its normalized email.
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (identity.Identity, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
	return scanIdentity(row)
}

// DeactivateIdentity marks an identity inactive without deleting its history.
func (s *Store) DeactivateIdentity(ctx context.Context, identityID string, at time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE identities SET active = 0, updated_at = ? WHERE id = ?`,
		toMillis(at), identityID)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	return requireRowAffected(result)
}

// ClearIdentityCredentials drops the sealed upstream credentials after logout.
func (s *Store) ClearIdentityCredentials(ctx context.Context, identityID string, at time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE identities SET sealed_access_token = '', sealed_refresh_token = '', updated_at = ?
WHERE id = ?`,
		toMillis(at), identityID)
	if err != nil {
		return fmt.Errorf("clear identity credentials: %w", err)
	}
	return requireRowAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (identity.Identity, error) {
	var record identity.Identity
	var active int
	var lastLoginAt, createdAt, updatedAt int64
	err := row.Scan(
		&record.ID,
		&record.UpstreamSubjectID,
		&record.Email,
		&record.Name,
		&record.GivenName,
		&record.FamilyName,
		&record.PhotoURL,
		&record.ProfileImageName,
		&record.SealedAccessToken,
		&record.SealedRefreshToken,
		&record.LastCorrelatingID,
		&active,
		&lastLoginAt,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, storage.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("scan identity: %w", err)
	}
	record.Active = active != 0
	record.LastLoginAt = fromMillis(lastLoginAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
