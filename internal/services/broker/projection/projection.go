// Package projection filters identity fields per client app privacy policy.
package projection

import (
	"encoding/base64"

	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
)

// Policy is a client app's privacy policy tag.
type Policy string

const (
	// PolicyFull exposes the complete public profile.
	PolicyFull Policy = "full"
	// PolicyIDOnly exposes nothing but the stable local identifier.
	PolicyIDOnly Policy = "id_only"
)

// ParsePolicy normalizes a stored policy tag. Unknown or empty tags read as
// full, matching the pre-privacy-column behavior of existing registrations;
// callers that cannot resolve a policy at all must use PolicyIDOnly instead
// (fail closed).
func ParsePolicy(tag string) Policy {
	if tag == string(PolicyIDOnly) {
		return PolicyIDOnly
	}
	return PolicyFull
}

// PublicIdentity is the caller-facing shape of an identity record.
type PublicIdentity struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	Photo        string `json:"photo,omitempty"`
	ProfileImage string `json:"profileImageBase64,omitempty"`
}

// Project filters an identity according to policy. The optional profile
// image bytes are inlined base64 only under the full policy.
func Project(record identity.Identity, profileImage []byte, policy Policy) PublicIdentity {
	if policy == PolicyIDOnly {
		return PublicIdentity{ID: record.ID}
	}

	projected := PublicIdentity{
		ID:    record.ID,
		Email: record.Email,
		Name:  record.Name,
		Photo: record.PhotoURL,
	}
	if len(profileImage) > 0 {
		projected.ProfileImage = base64.StdEncoding.EncodeToString(profileImage)
	}
	return projected
}
