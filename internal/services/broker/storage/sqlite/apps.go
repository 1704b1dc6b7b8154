package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

const appColumns = `id, app_id, name, redirect_patterns, privacy, active, created_at, updated_at`

// ListActiveApps returns active client app registrations in registration
// order. Order matters: redirect matching is first-app-wins.
func (s *Store) ListActiveApps(ctx context.Context) ([]storage.App, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+appColumns+` FROM client_apps WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active apps: %w", err)
	}
	defer rows.Close()

	var apps []storage.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active apps: %w", err)
	}
	return apps, nil
}

// GetAppByAppID loads a registration by its public app identifier.
func (s *Store) GetAppByAppID(ctx context.Context, appID string) (storage.App, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM client_apps WHERE app_id = ?`, appID)
	return scanApp(row)
}

func scanApp(row rowScanner) (storage.App, error) {
	var app storage.App
	var patternsJSON string
	var active int
	var createdAt, updatedAt int64
	err := row.Scan(
		&app.ID,
		&app.AppID,
		&app.Name,
		&patternsJSON,
		&app.Privacy,
		&active,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.App{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.App{}, fmt.Errorf("scan app: %w", err)
	}
	if patternsJSON != "" {
		if err := json.Unmarshal([]byte(patternsJSON), &app.Patterns); err != nil {
			return storage.App{}, fmt.Errorf("decode redirect patterns: %w", err)
		}
	}
	app.Active = active != 0
	app.CreatedAt = fromMillis(createdAt)
	app.UpdatedAt = fromMillis(updatedAt)
	return app, nil
}

// PutApp inserts or replaces a client app registration keyed by app_id. It
// backs administrative seeding and tests; request paths only read apps.
func (s *Store) PutApp(ctx context.Context, app storage.App) error {
	patternsJSON, err := json.Marshal(app.Patterns)
	if err != nil {
		return fmt.Errorf("encode redirect patterns: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `INSERT INTO client_apps
(app_id, name, redirect_patterns, privacy, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(app_id) DO UPDATE SET
name = excluded.name,
redirect_patterns = excluded.redirect_patterns,
privacy = excluded.privacy,
active = excluded.active,
updated_at = excluded.updated_at`,
		app.AppID,
		app.Name,
		string(patternsJSON),
		app.Privacy,
		boolToInt(app.Active),
		toMillis(app.CreatedAt),
		toMillis(app.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put app: %w", err)
	}
	return nil
}
