// Package identity provides the broker's local identity records.
package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/ssobroker/internal/platform/id"
)

// Identity is the durable local record for one upstream subject.
//
// Upstream credentials are stored sealed; callers go through the vault to
// read them. Records are deactivated, never deleted, so audit rows keep a
// valid owner.
type Identity struct {
	ID                 string
	UpstreamSubjectID  string
	Email              string
	Name               string
	GivenName          string
	FamilyName         string
	PhotoURL           string
	ProfileImageName   string
	SealedAccessToken  string
	SealedRefreshToken string
	LastCorrelatingID  string
	Active             bool
	LastLoginAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Assertion is the upstream identity assertion handed to the broker by the
// OAuth collaborator after a successful provider login.
type Assertion struct {
	SubjectID    string
	Email        string
	DisplayName  string
	GivenName    string
	FamilyName   string
	PhotoURL     string
	AccessToken  string
	RefreshToken string
}

// Normalize trims the assertion and validates the fields the broker keys on.
func (a Assertion) Normalize() (Assertion, error) {
	a.SubjectID = strings.TrimSpace(a.SubjectID)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	a.GivenName = strings.TrimSpace(a.GivenName)
	a.FamilyName = strings.TrimSpace(a.FamilyName)
	a.PhotoURL = strings.TrimSpace(a.PhotoURL)
	if a.SubjectID == "" {
		return Assertion{}, fmt.Errorf("upstream subject id is required")
	}
	if a.Email == "" {
		return Assertion{}, fmt.Errorf("email is required")
	}
	return a, nil
}

// New creates a durable identity from a normalized assertion.
//
// The engine treats this as the canonical point where an upstream profile
// becomes a stable local identity other client apps key on.
func New(a Assertion, sealedAccess, sealedRefresh, correlatingID string, now func() time.Time, idGenerator func() (string, error)) (Identity, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	identityID, err := idGenerator()
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity id: %w", err)
	}

	createdAt := now().UTC()
	return Identity{
		ID:                 identityID,
		UpstreamSubjectID:  a.SubjectID,
		Email:              a.Email,
		Name:               a.DisplayName,
		GivenName:          a.GivenName,
		FamilyName:         a.FamilyName,
		PhotoURL:           a.PhotoURL,
		SealedAccessToken:  sealedAccess,
		SealedRefreshToken: sealedRefresh,
		LastCorrelatingID:  correlatingID,
		Active:             true,
		LastLoginAt:        createdAt,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}, nil
}

// Merge applies a later assertion for the same email onto an existing record.
// ID, email, and creation time are preserved; profile fields and the last
// correlating id always follow the assertion, and sealed credentials are
// replaced only when the assertion carried rotated plaintext (non-empty
// sealed values).
func Merge(existing Identity, a Assertion, sealedAccess, sealedRefresh, correlatingID string, now func() time.Time) Identity {
	if now == nil {
		now = time.Now
	}
	at := now().UTC()

	existing.Name = a.DisplayName
	existing.GivenName = a.GivenName
	existing.FamilyName = a.FamilyName
	existing.PhotoURL = a.PhotoURL
	existing.LastCorrelatingID = correlatingID
	if sealedAccess != "" {
		existing.SealedAccessToken = sealedAccess
	}
	if sealedRefresh != "" {
		existing.SealedRefreshToken = sealedRefresh
	}
	existing.LastLoginAt = at
	existing.UpdatedAt = at
	return existing
}
