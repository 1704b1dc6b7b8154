// Package token issues and verifies the broker's signed credentials.
//
// Two credential kinds exist: a short-lived temporal credential minted right
// after the upstream callback, and a longer-lived bearer credential backed by
// a session row keyed on the credential's SHA-256 digest. Both are HS256 JWTs
// carrying a "type" discriminator so one kind cannot be replayed as the other.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
	"github.com/louisbranch/ssobroker/internal/platform/id"
)

const (
	// TypeTemporal marks a credential exchangeable for a bearer credential.
	TypeTemporal = "temporal"
	// TypeBearer marks a credential presented on authenticated requests.
	TypeBearer = "bearer"

	// DefaultTemporalLifetime bounds the upstream-callback-to-exchange window.
	DefaultTemporalLifetime = 600 * time.Second
	// DefaultBearerLifetime is the session validity window per issue/renewal.
	DefaultBearerLifetime = 86400 * time.Second
)

// issuerEnv holds raw env values before post-parse validation.
type issuerEnv struct {
	Secret           string `env:"SSO_BROKER_JWT_SECRET"`
	TemporalLifetime int    `env:"SSO_BROKER_TEMPORAL_TOKEN_EXPIRY"`
	BearerLifetime   int    `env:"SSO_BROKER_BEARER_TOKEN_EXPIRY"`
}

// Config defines how broker credentials are signed and verified.
type Config struct {
	Secret           []byte
	TemporalLifetime time.Duration
	BearerLifetime   time.Duration
	Now              func() time.Time
}

// LoadConfigFromEnv reads the signing secret and lifetimes from environment.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw issuerEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return Config{}, fmt.Errorf("SSO_BROKER_JWT_SECRET is required")
	}
	cfg := Config{
		Secret:           []byte(secret),
		TemporalLifetime: DefaultTemporalLifetime,
		BearerLifetime:   DefaultBearerLifetime,
		Now:              now,
	}
	if raw.TemporalLifetime > 0 {
		cfg.TemporalLifetime = time.Duration(raw.TemporalLifetime) * time.Second
	}
	if raw.BearerLifetime > 0 {
		cfg.BearerLifetime = time.Duration(raw.BearerLifetime) * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg, nil
}

// Claims captures the validated contents of a broker credential.
type Claims struct {
	IdentityID    string
	Email         string
	CorrelatingID string
	RedirectURL   string
	Type          string
	ExpiresAt     time.Time
}

// brokerClaims is the internal claims type used for JWT parsing.
type brokerClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	CorrelatingID string `json:"unique_id,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	Type          string `json:"type"`
}

// Issuer mints and verifies broker credentials with a shared HS256 secret.
type Issuer struct {
	cfg Config
}

// NewIssuer builds an issuer from config, defaulting the clock.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if cfg.TemporalLifetime <= 0 {
		cfg.TemporalLifetime = DefaultTemporalLifetime
	}
	if cfg.BearerLifetime <= 0 {
		cfg.BearerLifetime = DefaultBearerLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{cfg: cfg}, nil
}

// BearerLifetime exposes the configured bearer validity window so the engine
// can compute session expiry from the same value.
func (i *Issuer) BearerLifetime() time.Duration {
	return i.cfg.BearerLifetime
}

// IssueTemporal mints the short-lived credential returned from the upstream
// callback, bound to the correlating request and the validated redirect URL.
func (i *Issuer) IssueTemporal(identityID, email, correlatingID, redirectURL string) (string, error) {
	registered, err := i.registered(identityID, i.cfg.TemporalLifetime)
	if err != nil {
		return "", err
	}
	return i.sign(brokerClaims{
		RegisteredClaims: registered,
		Email:            email,
		CorrelatingID:    correlatingID,
		RedirectURL:      redirectURL,
		Type:             TypeTemporal,
	})
}

// IssueBearer mints the longer-lived credential backing a session row.
func (i *Issuer) IssueBearer(identityID, email string) (string, error) {
	registered, err := i.registered(identityID, i.cfg.BearerLifetime)
	if err != nil {
		return "", err
	}
	return i.sign(brokerClaims{
		RegisteredClaims: registered,
		Email:            email,
		Type:             TypeBearer,
	})
}

// VerifyTemporal parses a temporal credential and validates its type.
func (i *Issuer) VerifyTemporal(credential string) (Claims, error) {
	return i.verify(credential, TypeTemporal)
}

// VerifyBearer parses a bearer credential and validates its type.
func (i *Issuer) VerifyBearer(credential string) (Claims, error) {
	return i.verify(credential, TypeBearer)
}

// Digest returns the SHA-256 hex digest of a credential. Only the digest of
// a bearer credential is persisted, never the credential itself.
func Digest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// registered assigns a fresh jti so two credentials minted for the same
// subject inside one clock tick never collide byte for byte.
func (i *Issuer) registered(subject string, lifetime time.Duration) (jwt.RegisteredClaims, error) {
	tokenID, err := id.NewID()
	if err != nil {
		return jwt.RegisteredClaims{}, fmt.Errorf("generate credential id: %w", err)
	}
	now := i.cfg.Now().UTC()
	return jwt.RegisteredClaims{
		ID:        tokenID,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}, nil
}

func (i *Issuer) sign(claims brokerClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s credential: %w", claims.Type, err)
	}
	return signed, nil
}

func (i *Issuer) verify(credential string, wantType string) (Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Claims{}, apperrors.New(apperrors.CodeInvalidToken, "credential is required")
	}

	var parsed brokerClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(t *jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return i.cfg.Now().UTC() }),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Type != wantType {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTokenType,
			"credential type mismatch",
			map[string]string{"Expected": wantType, "Actual": parsed.Type},
		)
	}
	if parsed.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeInvalidToken, "credential subject is required")
	}

	claims := Claims{
		IdentityID:    parsed.Subject,
		Email:         parsed.Email,
		CorrelatingID: parsed.CorrelatingID,
		RedirectURL:   parsed.RedirectURL,
		Type:          parsed.Type,
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to broker errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.New(apperrors.CodeTokenExpired, "credential is expired")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeInvalidToken, "credential signature is invalid")
	}
	return apperrors.New(apperrors.CodeInvalidToken, "credential is invalid")
}
