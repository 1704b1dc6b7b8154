// Package engine implements the broker's credential exchange and session
// lifecycle state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
	"github.com/louisbranch/ssobroker/internal/platform/id"
	"github.com/louisbranch/ssobroker/internal/services/broker/audit"
	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
	"github.com/louisbranch/ssobroker/internal/services/broker/projection"
	"github.com/louisbranch/ssobroker/internal/services/broker/redirect"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
	"github.com/louisbranch/ssobroker/internal/services/broker/token"
	"github.com/louisbranch/ssobroker/internal/services/broker/upstream"
	"github.com/louisbranch/ssobroker/internal/services/broker/vault"
)

// Config wires the engine's collaborators. All fields except Logger, Now,
// and IDGenerator are required.
type Config struct {
	Identities storage.IdentityStore
	Sessions   storage.SessionStore
	Apps       storage.AppStore
	Issuer     *token.Issuer
	Vault      *vault.Vault
	Checker    upstream.Checker
	Revoker    upstream.Revoker
	Audit      *audit.Recorder
	Logger     *log.Logger

	// Now and IDGenerator exist for tests; nil means the real clock and
	// random identifiers.
	Now         func() time.Time
	IDGenerator func() (string, error)
}

// Engine executes the broker's credential operations.
//
// Every operation reads "now" exactly once so a request observes one
// consistent instant, and audit writes never decide an operation's
// outcome.
type Engine struct {
	identities  storage.IdentityStore
	sessions    storage.SessionStore
	apps        storage.AppStore
	issuer      *token.Issuer
	vault       *vault.Vault
	checker     upstream.Checker
	revoker     upstream.Revoker
	audit       *audit.Recorder
	logger      *log.Logger
	now         func() time.Time
	idGenerator func() (string, error)
}

// New validates config and builds an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Identities == nil:
		return nil, errors.New("identity store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store is required")
	case cfg.Apps == nil:
		return nil, errors.New("app store is required")
	case cfg.Issuer == nil:
		return nil, errors.New("token issuer is required")
	case cfg.Vault == nil:
		return nil, errors.New("vault is required")
	case cfg.Checker == nil:
		return nil, errors.New("upstream checker is required")
	case cfg.Revoker == nil:
		return nil, errors.New("upstream revoker is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Engine{
		identities:  cfg.Identities,
		sessions:    cfg.Sessions,
		apps:        cfg.Apps,
		issuer:      cfg.Issuer,
		vault:       cfg.Vault,
		checker:     cfg.Checker,
		revoker:     cfg.Revoker,
		audit:       cfg.Audit,
		logger:      cfg.Logger,
		now:         cfg.Now,
		idGenerator: cfg.IDGenerator,
	}, nil
}

// CallbackResult is the outcome of a completed upstream login.
type CallbackResult struct {
	TemporalCredential string
	RedirectURL        string
	IdentityID         string
	AppID              string
}

// HandleUpstreamCallback turns a successful upstream login into a local
// identity record and a temporal credential bound to the validated
// redirect URL. No upstream network calls happen here; the assertion is
// already verified by the OAuth leg.
func (e *Engine) HandleUpstreamCallback(ctx context.Context, assertion identity.Assertion, correlatingID, redirectURL string, client audit.Client) (CallbackResult, error) {
	normalized, err := assertion.Normalize()
	if err != nil {
		return CallbackResult{}, apperrors.Wrap(apperrors.CodeInvalidToken, "upstream assertion is incomplete", err)
	}

	if err := redirect.ValidateURL(redirectURL); err != nil {
		e.auditError(ctx, "", correlatingID, client, err)
		return CallbackResult{}, err
	}
	appID, ok, err := e.matchApp(ctx, redirectURL)
	if err != nil {
		return CallbackResult{}, err
	}
	if !ok {
		err := apperrors.WithMetadata(apperrors.CodeUnauthorizedRedirectURL,
			"redirect url is not whitelisted by any app",
			map[string]string{"RedirectURL": redirectURL})
		e.auditError(ctx, "", correlatingID, client, err)
		return CallbackResult{}, err
	}

	sealedAccess, err := e.vault.Seal(normalized.AccessToken)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("seal access credential: %w", err)
	}
	sealedRefresh, err := e.vault.Seal(normalized.RefreshToken)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("seal refresh credential: %w", err)
	}

	record, err := e.upsertIdentity(ctx, normalized, sealedAccess, sealedRefresh, correlatingID)
	if err != nil {
		return CallbackResult{}, err
	}

	temporal, err := e.issuer.IssueTemporal(record.ID, record.Email, correlatingID, redirectURL)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("issue temporal credential: %w", err)
	}

	e.auditRecord(ctx, audit.ActionAuthorize, record.ID, correlatingID, client, true,
		map[string]any{"app_id": appID})

	return CallbackResult{
		TemporalCredential: temporal,
		RedirectURL:        redirectURL,
		IdentityID:         record.ID,
		AppID:              appID,
	}, nil
}

// ExchangeResult is the outcome of a temporal-to-bearer exchange.
type ExchangeResult struct {
	BearerCredential string
	ExpiresAt        time.Time
	SessionID        string
	Identity         projection.PublicIdentity
}

// ExchangeTemporalForBearer redeems a temporal credential for a long-lived
// bearer credential and its backing session row.
//
// A temporal credential that is exchanged twice inside its validity window
// yields two independent sessions; revoking either leaves the other live.
func (e *Engine) ExchangeTemporalForBearer(ctx context.Context, temporal string, client audit.Client) (ExchangeResult, error) {
	claims, err := e.issuer.VerifyTemporal(temporal)
	if err != nil {
		e.auditError(ctx, "", "", client, err)
		return ExchangeResult{}, err
	}

	record, err := e.identities.GetIdentity(ctx, claims.IdentityID)
	if errors.Is(err, storage.ErrNotFound) {
		err := apperrors.New(apperrors.CodeUserNotFound, "identity no longer exists")
		e.auditError(ctx, claims.IdentityID, claims.CorrelatingID, client, err)
		return ExchangeResult{}, err
	}
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("load identity: %w", err)
	}
	if !record.Active {
		err := apperrors.New(apperrors.CodeUserNotFound, "identity is deactivated")
		e.auditError(ctx, record.ID, claims.CorrelatingID, client, err)
		return ExchangeResult{}, err
	}

	bearer, err := e.issuer.IssueBearer(record.ID, record.Email)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("issue bearer credential: %w", err)
	}

	sessionID, err := e.idGenerator()
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("generate session id: %w", err)
	}

	appID, _, err := e.resolveAppForRedirect(ctx, claims.RedirectURL)
	if err != nil {
		return ExchangeResult{}, err
	}

	now := e.now().UTC()
	expiresAt := now.Add(e.issuer.BearerLifetime())
	session := storage.Session{
		ID:            sessionID,
		IdentityID:    record.ID,
		AppID:         appID,
		TokenDigest:   token.Digest(bearer),
		CorrelatingID: claims.CorrelatingID,
		ExpiresAt:     expiresAt,
		ClientIP:      client.IP,
		ClientAgent:   client.Agent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.sessions.PutSession(ctx, session); err != nil {
		return ExchangeResult{}, fmt.Errorf("store session: %w", err)
	}

	e.auditRecord(ctx, audit.ActionLogin, record.ID, claims.CorrelatingID, client, true,
		map[string]any{"session_id": sessionID, "app_id": appID})

	return ExchangeResult{
		BearerCredential: bearer,
		ExpiresAt:        expiresAt,
		SessionID:        sessionID,
		Identity:         e.project(ctx, record, appID),
	}, nil
}

// VerifyResult is the outcome of a successful bearer verification.
type VerifyResult struct {
	Identity  projection.PublicIdentity
	SessionID string
	ExpiresAt time.Time
}

// VerifyAndExtend authenticates a bearer credential against its session row
// and slides the session window forward.
//
// Session state governs: a structurally valid credential whose row is
// expired or revoked fails with SESSION_NOT_FOUND regardless of the
// credential's own exp claim. The upstream liveness probe runs before any
// mutation so a dead upstream session never extends the local one.
func (e *Engine) VerifyAndExtend(ctx context.Context, bearer, expectedCorrelatingID string, client audit.Client) (VerifyResult, error) {
	claims, err := e.issuer.VerifyBearer(bearer)
	if err != nil {
		e.auditError(ctx, "", expectedCorrelatingID, client, err)
		return VerifyResult{}, err
	}

	now := e.now().UTC()
	digest := token.Digest(bearer)
	session, err := e.sessions.GetSessionByDigest(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		err := apperrors.New(apperrors.CodeSessionNotFound, "session does not exist")
		e.auditError(ctx, claims.IdentityID, expectedCorrelatingID, client, err)
		return VerifyResult{}, err
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load session: %w", err)
	}
	if session.StatusAt(now) != storage.SessionActive {
		err := apperrors.WithMetadata(apperrors.CodeSessionNotFound, "session is no longer active",
			map[string]string{"Status": string(session.StatusAt(now))})
		e.auditError(ctx, session.IdentityID, session.CorrelatingID, client, err)
		return VerifyResult{}, err
	}

	if expectedCorrelatingID != "" && session.CorrelatingID != expectedCorrelatingID {
		err := apperrors.New(apperrors.CodeUniqueIDMismatch, "correlating id does not match session")
		e.auditError(ctx, session.IdentityID, session.CorrelatingID, client, err)
		return VerifyResult{}, err
	}

	record, err := e.identities.GetIdentity(ctx, session.IdentityID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !record.Active) {
		// Orphaned session; close it so later calls fail fast.
		if revokeErr := e.sessions.RevokeSession(ctx, session.ID, now); revokeErr != nil {
			e.logf("engine: revoke orphaned session %s: %v", session.ID, revokeErr)
		}
		err := apperrors.New(apperrors.CodeUserNotFound, "identity no longer exists")
		e.auditError(ctx, session.IdentityID, session.CorrelatingID, client, err)
		return VerifyResult{}, err
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load identity: %w", err)
	}

	if !e.upstreamLive(ctx, record) {
		err := apperrors.New(apperrors.CodeGoogleSessionExpired, "upstream session is no longer valid")
		e.auditError(ctx, record.ID, session.CorrelatingID, client, err)
		return VerifyResult{}, err
	}

	expiresAt := now.Add(e.issuer.BearerLifetime())
	if err := e.sessions.ExtendSession(ctx, session.ID, expiresAt, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Lost the race against a concurrent revocation.
			err := apperrors.New(apperrors.CodeSessionNotFound, "session is no longer active")
			e.auditError(ctx, record.ID, session.CorrelatingID, client, err)
			return VerifyResult{}, err
		}
		return VerifyResult{}, fmt.Errorf("extend session: %w", err)
	}

	e.auditRecord(ctx, audit.ActionTokenExtended, record.ID, session.CorrelatingID, client, true,
		map[string]any{"session_id": session.ID})

	return VerifyResult{
		Identity:  e.project(ctx, record, session.AppID),
		SessionID: session.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// RevokeResult reports what logout managed to clean up.
type RevokeResult struct {
	SessionID       string
	UpstreamRevoked bool
}

// Revoke ends the session behind a bearer credential.
//
// Local revocation is the operation's result; the upstream revocation is
// best-effort and its failure is recorded but never surfaced. Revoking an
// unknown or already revoked session succeeds.
func (e *Engine) Revoke(ctx context.Context, bearer string, client audit.Client) (RevokeResult, error) {
	claims, err := e.issuer.VerifyBearer(bearer)
	if err != nil {
		e.auditError(ctx, "", "", client, err)
		return RevokeResult{}, err
	}

	now := e.now().UTC()
	digest := token.Digest(bearer)

	var result RevokeResult
	session, err := e.sessions.GetSessionByDigest(ctx, digest)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return RevokeResult{}, fmt.Errorf("load session: %w", err)
	}
	if err == nil {
		result.SessionID = session.ID
	}

	if err := e.sessions.RevokeSessionByDigest(ctx, digest, now); err != nil {
		return RevokeResult{}, fmt.Errorf("revoke session: %w", err)
	}

	result.UpstreamRevoked = e.revokeUpstream(ctx, claims.IdentityID, now)

	e.auditRecord(ctx, audit.ActionLogout, claims.IdentityID, session.CorrelatingID, client, true,
		map[string]any{"upstream_revoked": result.UpstreamRevoked})

	return result, nil
}

// ActiveSessions lists an identity's sessions that are live right now.
func (e *Engine) ActiveSessions(ctx context.Context, identityID string) ([]storage.Session, error) {
	return e.sessions.ListActiveSessions(ctx, identityID, e.now().UTC())
}

// upsertIdentity creates or merges the identity record for an assertion,
// keyed by normalized email.
func (e *Engine) upsertIdentity(ctx context.Context, a identity.Assertion, sealedAccess, sealedRefresh, correlatingID string) (identity.Identity, error) {
	existing, err := e.identities.GetIdentityByEmail(ctx, a.Email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		record, err := identity.New(a, sealedAccess, sealedRefresh, correlatingID, e.now, e.idGenerator)
		if err != nil {
			return identity.Identity{}, err
		}
		if err := e.identities.PutIdentity(ctx, record); err != nil {
			return identity.Identity{}, fmt.Errorf("store identity: %w", err)
		}
		return record, nil
	case err != nil:
		return identity.Identity{}, fmt.Errorf("load identity by email: %w", err)
	}

	merged := identity.Merge(existing, a, sealedAccess, sealedRefresh, correlatingID, e.now)
	if err := e.identities.PutIdentity(ctx, merged); err != nil {
		return identity.Identity{}, fmt.Errorf("store identity: %w", err)
	}
	return merged, nil
}

// matchApp resolves a redirect URL to the first whitelisting app.
func (e *Engine) matchApp(ctx context.Context, redirectURL string) (string, bool, error) {
	apps, err := e.listRedirectApps(ctx)
	if err != nil {
		return "", false, err
	}
	appID, ok := redirect.Match(apps, redirectURL)
	return appID, ok, nil
}

// resolveAppForRedirect is matchApp minus the whitelist requirement: an
// empty or unmatched URL resolves to no app, which downstream projection
// treats as fail-closed.
func (e *Engine) resolveAppForRedirect(ctx context.Context, redirectURL string) (string, bool, error) {
	if redirectURL == "" {
		return "", false, nil
	}
	return e.matchApp(ctx, redirectURL)
}

func (e *Engine) listRedirectApps(ctx context.Context) ([]redirect.App, error) {
	records, err := e.apps.ListActiveApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	apps := make([]redirect.App, 0, len(records))
	for _, record := range records {
		apps = append(apps, redirect.App{AppID: record.AppID, Patterns: record.Patterns})
	}
	return apps, nil
}

// project applies the app's privacy policy to an identity. No app means no
// policy to apply and the full projection; a named app whose policy cannot
// be resolved projects the identifier only.
func (e *Engine) project(ctx context.Context, record identity.Identity, appID string) projection.PublicIdentity {
	if appID == "" {
		return projection.Project(record, nil, projection.PolicyFull)
	}
	app, err := e.apps.GetAppByAppID(ctx, appID)
	if err != nil {
		e.logf("engine: resolve privacy policy for app %s: %v", appID, err)
		return projection.Project(record, nil, projection.PolicyIDOnly)
	}
	return projection.Project(record, nil, projection.ParsePolicy(app.Privacy))
}

// upstreamLive unseals the stored access credential and probes the
// provider. Identities without a stored credential are treated as live;
// the broker has nothing to check against.
func (e *Engine) upstreamLive(ctx context.Context, record identity.Identity) bool {
	if record.SealedAccessToken == "" {
		return true
	}
	accessCredential, err := e.vault.Open(record.SealedAccessToken)
	if err != nil {
		e.logf("engine: unseal access credential for %s: %v", record.ID, err)
		return false
	}
	return e.checker.CheckLiveness(ctx, accessCredential)
}

// revokeUpstream best-effort revokes the identity's upstream credentials
// and clears the sealed copies once the provider confirmed.
func (e *Engine) revokeUpstream(ctx context.Context, identityID string, now time.Time) bool {
	record, err := e.identities.GetIdentity(ctx, identityID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logf("engine: load identity %s for upstream revoke: %v", identityID, err)
		}
		return false
	}
	if record.SealedAccessToken == "" {
		return false
	}
	accessCredential, err := e.vault.Open(record.SealedAccessToken)
	if err != nil {
		e.logf("engine: unseal access credential for %s: %v", identityID, err)
		return false
	}

	if !e.revoker.Revoke(ctx, accessCredential) {
		return false
	}
	if err := e.identities.ClearIdentityCredentials(ctx, identityID, now); err != nil {
		e.logf("engine: clear credentials for %s: %v", identityID, err)
	}
	return true
}

func (e *Engine) auditRecord(ctx context.Context, action, identityID, correlatingID string, client audit.Client, success bool, details map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, action, identityID, correlatingID, client, success, details)
}

func (e *Engine) auditError(ctx context.Context, identityID, correlatingID string, client audit.Client, err error) {
	if e.audit == nil {
		return
	}
	e.audit.Error(ctx, identityID, correlatingID, client, string(apperrors.CodeOf(err)))
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
