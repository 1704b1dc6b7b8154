package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func testIdentity(id string, now time.Time) identity.Identity {
	return identity.Identity{
		ID:                 id,
		UpstreamSubjectID:  "subject-" + id,
		Email:              id + "@example.com",
		Name:               "Test User",
		GivenName:          "Test",
		FamilyName:         "User",
		PhotoURL:           "https://example.com/photo.jpg",
		SealedAccessToken:  "iv:access",
		SealedRefreshToken: "iv:refresh",
		LastCorrelatingID:  "corr-1",
		Active:             true,
		LastLoginAt:        now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestStoreIdentityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := testIdentity("alice", now)
	if err := store.PutIdentity(ctx, record); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}

	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got != record {
		t.Errorf("GetIdentity() = %+v, want %+v", got, record)
	}

	byEmail, err := store.GetIdentityByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetIdentityByEmail() error = %v", err)
	}
	if byEmail.ID != "alice" {
		t.Errorf("GetIdentityByEmail() ID = %q, want %q", byEmail.ID, "alice")
	}
}

func TestStoreIdentityNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetIdentity(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetIdentity() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetIdentityByEmail(ctx, "missing@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetIdentityByEmail() error = %v, want ErrNotFound", err)
	}
	if err := store.DeactivateIdentity(ctx, "missing", time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeactivateIdentity() error = %v, want ErrNotFound", err)
	}
}

func TestStoreIdentityUpsertKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := testIdentity("alice", now)
	if err := store.PutIdentity(ctx, record); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}

	record.Name = "Renamed User"
	record.UpdatedAt = now.Add(time.Hour)
	if err := store.PutIdentity(ctx, record); err != nil {
		t.Fatalf("PutIdentity() upsert error = %v", err)
	}

	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.Name != "Renamed User" {
		t.Errorf("Name = %q, want %q", got.Name, "Renamed User")
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now.Add(time.Hour))
	}
}

func TestStoreClearIdentityCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.ClearIdentityCredentials(ctx, "alice", now.Add(time.Minute)); err != nil {
		t.Fatalf("ClearIdentityCredentials() error = %v", err)
	}

	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.SealedAccessToken != "" || got.SealedRefreshToken != "" {
		t.Errorf("sealed credentials = (%q, %q), want empty",
			got.SealedAccessToken, got.SealedRefreshToken)
	}
}

func TestStoreDeactivateIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.DeactivateIdentity(ctx, "alice", now.Add(time.Minute)); err != nil {
		t.Fatalf("DeactivateIdentity() error = %v", err)
	}

	got, err := store.GetIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.Active {
		t.Error("Active = true, want false")
	}
}

func testSession(id, identityID, digest string, expiresAt time.Time) storage.Session {
	created := expiresAt.Add(-24 * time.Hour)
	return storage.Session{
		ID:            id,
		IdentityID:    identityID,
		AppID:         "dashboard",
		TokenDigest:   digest,
		CorrelatingID: "corr-1",
		ExpiresAt:     expiresAt,
		ClientIP:      "203.0.113.9",
		ClientAgent:   "test-agent",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	session := testSession("sess-1", "alice", "digest-1", now.Add(time.Hour))
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	got, err := store.GetSessionByDigest(ctx, "digest-1")
	if err != nil {
		t.Fatalf("GetSessionByDigest() error = %v", err)
	}
	if got != session {
		t.Errorf("GetSessionByDigest() = %+v, want %+v", got, session)
	}

	if _, err := store.GetSessionByDigest(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSessionByDigest(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreExtendSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.PutSession(ctx, testSession("sess-1", "alice", "digest-1", now.Add(time.Hour))); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	extended := now.Add(24 * time.Hour)
	if err := store.ExtendSession(ctx, "sess-1", extended, now); err != nil {
		t.Fatalf("ExtendSession() error = %v", err)
	}

	got, err := store.GetSessionByDigest(ctx, "digest-1")
	if err != nil {
		t.Fatalf("GetSessionByDigest() error = %v", err)
	}
	if !got.ExpiresAt.Equal(extended) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, extended)
	}
}

func TestStoreExtendSessionGuards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.PutSession(ctx, testSession("expired", "alice", "digest-expired", now.Add(-time.Hour))); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}
	if err := store.PutSession(ctx, testSession("revoked", "alice", "digest-revoked", now.Add(time.Hour))); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}
	if err := store.RevokeSession(ctx, "revoked", now); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}

	later := now.Add(24 * time.Hour)
	if err := store.ExtendSession(ctx, "expired", later, now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ExtendSession(expired) error = %v, want ErrNotFound", err)
	}
	if err := store.ExtendSession(ctx, "revoked", later, now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ExtendSession(revoked) error = %v, want ErrNotFound", err)
	}
	if err := store.ExtendSession(ctx, "missing", later, now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ExtendSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreRevokeSessionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.PutSession(ctx, testSession("sess-1", "alice", "digest-1", now.Add(time.Hour))); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	if err := store.RevokeSessionByDigest(ctx, "digest-1", now); err != nil {
		t.Fatalf("RevokeSessionByDigest() error = %v", err)
	}
	if err := store.RevokeSessionByDigest(ctx, "digest-1", now); err != nil {
		t.Errorf("RevokeSessionByDigest() second call error = %v", err)
	}
	if err := store.RevokeSession(ctx, "missing", now); err != nil {
		t.Errorf("RevokeSession(missing) error = %v", err)
	}

	got, err := store.GetSessionByDigest(ctx, "digest-1")
	if err != nil {
		t.Fatalf("GetSessionByDigest() error = %v", err)
	}
	if !got.Revoked {
		t.Error("Revoked = false, want true")
	}
}

func TestStoreListActiveSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := store.PutIdentity(ctx, testIdentity("bob", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}

	active := testSession("active", "alice", "digest-active", now.Add(time.Hour))
	expired := testSession("expired", "alice", "digest-expired", now.Add(-time.Hour))
	other := testSession("other", "bob", "digest-other", now.Add(time.Hour))
	revoked := testSession("revoked", "alice", "digest-revoked", now.Add(time.Hour))
	for _, session := range []storage.Session{active, expired, other, revoked} {
		if err := store.PutSession(ctx, session); err != nil {
			t.Fatalf("PutSession(%s) error = %v", session.ID, err)
		}
	}
	if err := store.RevokeSession(ctx, "revoked", now); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}

	sessions, err := store.ListActiveSessions(ctx, "alice", now)
	if err != nil {
		t.Fatalf("ListActiveSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("ListActiveSessions() returned %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != "active" {
		t.Errorf("session ID = %q, want %q", sessions[0].ID, "active")
	}
}

func TestStoreAppRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := storage.App{
		AppID:     "dashboard",
		Name:      "Dashboard",
		Patterns:  []string{"https://dashboard.example.com/*"},
		Privacy:   "full",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	second := storage.App{
		AppID:     "wiki",
		Name:      "Wiki",
		Patterns:  []string{"https://wiki.example.com/login"},
		Privacy:   "id_only",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inactive := storage.App{
		AppID:     "legacy",
		Name:      "Legacy",
		Patterns:  []string{"https://legacy.example.com/*"},
		Active:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, app := range []storage.App{first, second, inactive} {
		if err := store.PutApp(ctx, app); err != nil {
			t.Fatalf("PutApp(%s) error = %v", app.AppID, err)
		}
	}

	apps, err := store.ListActiveApps(ctx)
	if err != nil {
		t.Fatalf("ListActiveApps() error = %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("ListActiveApps() returned %d apps, want 2", len(apps))
	}
	if apps[0].AppID != "dashboard" || apps[1].AppID != "wiki" {
		t.Errorf("app order = [%q, %q], want [dashboard, wiki]", apps[0].AppID, apps[1].AppID)
	}
	if len(apps[0].Patterns) != 1 || apps[0].Patterns[0] != "https://dashboard.example.com/*" {
		t.Errorf("Patterns = %v, want the registered pattern", apps[0].Patterns)
	}

	got, err := store.GetAppByAppID(ctx, "wiki")
	if err != nil {
		t.Fatalf("GetAppByAppID() error = %v", err)
	}
	if got.Privacy != "id_only" {
		t.Errorf("Privacy = %q, want %q", got.Privacy, "id_only")
	}

	if _, err := store.GetAppByAppID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAppByAppID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreAuditTrail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []storage.AuditEvent{
		{IdentityID: "alice", Action: "LOGIN", CorrelatingID: "corr-1", ClientIP: "203.0.113.9", Success: true, CreatedAt: now},
		{IdentityID: "alice", Action: "AUTHORIZE", CorrelatingID: "corr-1", Success: true, CreatedAt: now.Add(time.Second)},
		{Action: "AUTH_ERROR", Success: false, DetailsJSON: `{"error":"INVALID_TOKEN"}`, CreatedAt: now.Add(2 * time.Second)},
		{IdentityID: "bob", Action: "LOGIN", CorrelatingID: "corr-2", Success: true, CreatedAt: now.Add(3 * time.Second)},
	}
	for i, event := range events {
		if err := store.PutAuditEvent(ctx, event); err != nil {
			t.Fatalf("PutAuditEvent(%d) error = %v", i, err)
		}
	}

	byIdentity, err := store.ListAuditEventsByIdentity(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListAuditEventsByIdentity() error = %v", err)
	}
	if len(byIdentity) != 2 {
		t.Fatalf("ListAuditEventsByIdentity() returned %d events, want 2", len(byIdentity))
	}
	if byIdentity[0].Action != "AUTHORIZE" {
		t.Errorf("newest action = %q, want %q", byIdentity[0].Action, "AUTHORIZE")
	}

	byFlow, err := store.ListAuditEventsByCorrelatingID(ctx, "corr-1")
	if err != nil {
		t.Fatalf("ListAuditEventsByCorrelatingID() error = %v", err)
	}
	if len(byFlow) != 2 {
		t.Fatalf("ListAuditEventsByCorrelatingID() returned %d events, want 2", len(byFlow))
	}
	if byFlow[0].Action != "LOGIN" || byFlow[1].Action != "AUTHORIZE" {
		t.Errorf("flow order = [%q, %q], want [LOGIN, AUTHORIZE]", byFlow[0].Action, byFlow[1].Action)
	}
}

func TestStoreMaintenanceSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.PutIdentity(ctx, testIdentity("alice", now)); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	for _, session := range []storage.Session{
		testSession("active", "alice", "digest-active", now.Add(time.Hour)),
		testSession("expired", "alice", "digest-expired", now.Add(-time.Hour)),
		testSession("revoked", "alice", "digest-revoked", now.Add(time.Hour)),
	} {
		if err := store.PutSession(ctx, session); err != nil {
			t.Fatalf("PutSession(%s) error = %v", session.ID, err)
		}
	}
	if err := store.RevokeSession(ctx, "revoked", now); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}

	deleted, err := store.DeleteDeadSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteDeadSessions() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteDeadSessions() = %d, want 2", deleted)
	}
	if _, err := store.GetSessionByDigest(ctx, "digest-active"); err != nil {
		t.Errorf("active session removed by sweep: %v", err)
	}

	old := storage.AuditEvent{IdentityID: "alice", Action: "LOGIN", Success: true, CreatedAt: now.Add(-48 * time.Hour)}
	recent := storage.AuditEvent{IdentityID: "alice", Action: "LOGOUT", Success: true, CreatedAt: now}
	for _, event := range []storage.AuditEvent{old, recent} {
		if err := store.PutAuditEvent(ctx, event); err != nil {
			t.Fatalf("PutAuditEvent() error = %v", err)
		}
	}

	removed, err := store.DeleteOldAuditEvents(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldAuditEvents() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteOldAuditEvents() = %d, want 1", removed)
	}
}
