package token

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
)

func testIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Config{Secret: []byte("test-secret"), Now: now})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestTemporalRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, func() time.Time { return at })

	credential, err := issuer.IssueTemporal("identity-1", "a@x.com", "req-1", "https://app.example.com/cb")
	if err != nil {
		t.Fatalf("issue temporal: %v", err)
	}

	claims, err := issuer.VerifyTemporal(credential)
	if err != nil {
		t.Fatalf("verify temporal: %v", err)
	}
	if claims.IdentityID != "identity-1" || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.CorrelatingID != "req-1" {
		t.Fatalf("expected correlating id req-1, got %q", claims.CorrelatingID)
	}
	if claims.RedirectURL != "https://app.example.com/cb" {
		t.Fatalf("expected redirect url, got %q", claims.RedirectURL)
	}
	if !claims.ExpiresAt.Equal(at.Add(DefaultTemporalLifetime)) {
		t.Fatalf("expected expiry %v, got %v", at.Add(DefaultTemporalLifetime), claims.ExpiresAt)
	}
}

func TestBearerRejectsTemporalType(t *testing.T) {
	issuer := testIssuer(t, nil)

	credential, err := issuer.IssueTemporal("identity-1", "a@x.com", "req-1", "")
	if err != nil {
		t.Fatalf("issue temporal: %v", err)
	}

	_, err = issuer.VerifyBearer(credential)
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidTokenType, "")) {
		t.Fatalf("expected INVALID_TOKEN_TYPE, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	issuer := testIssuer(t, func() time.Time { return clock })

	credential, err := issuer.IssueTemporal("identity-1", "a@x.com", "req-1", "")
	if err != nil {
		t.Fatalf("issue temporal: %v", err)
	}

	clock = issued.Add(DefaultTemporalLifetime + time.Minute)
	_, err = issuer.VerifyTemporal(credential)
	if !errors.Is(err, apperrors.New(apperrors.CodeTokenExpired, "")) {
		t.Fatalf("expected TOKEN_EXPIRED, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	issuer := testIssuer(t, nil)
	other, err := NewIssuer(Config{Secret: []byte("other-secret")})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	credential, err := other.IssueBearer("identity-1", "a@x.com")
	if err != nil {
		t.Fatalf("issue bearer: %v", err)
	}

	_, err = issuer.VerifyBearer(credential)
	if !errors.Is(err, apperrors.New(apperrors.CodeInvalidToken, "")) {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := testIssuer(t, nil)
	for _, credential := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := issuer.VerifyBearer(credential); err == nil {
			t.Fatalf("expected error for %q", credential)
		}
	}
}

func TestDigestStableAndHex(t *testing.T) {
	first := Digest("credential")
	second := Digest("credential")
	if first != second {
		t.Fatal("expected digest to be deterministic")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(first))
	}
	if Digest("other") == first {
		t.Fatal("expected distinct digests for distinct credentials")
	}
}

func TestIssueBearerUniquePerCall(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := testIssuer(t, func() time.Time { return now })

	first, err := issuer.IssueBearer("identity-1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue first bearer: %v", err)
	}
	second, err := issuer.IssueBearer("identity-1", "alice@example.com")
	if err != nil {
		t.Fatalf("issue second bearer: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct credentials for back-to-back issuance")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SSO_BROKER_JWT_SECRET", "env-secret")
	t.Setenv("SSO_BROKER_TEMPORAL_TOKEN_EXPIRY", "120")
	t.Setenv("SSO_BROKER_BEARER_TOKEN_EXPIRY", "3600")

	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if string(cfg.Secret) != "env-secret" {
		t.Fatalf("unexpected secret %q", cfg.Secret)
	}
	if cfg.TemporalLifetime != 120*time.Second {
		t.Fatalf("unexpected temporal lifetime %v", cfg.TemporalLifetime)
	}
	if cfg.BearerLifetime != 3600*time.Second {
		t.Fatalf("unexpected bearer lifetime %v", cfg.BearerLifetime)
	}
}

func TestLoadConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("SSO_BROKER_JWT_SECRET", "  ")
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
