package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
	"github.com/louisbranch/ssobroker/internal/platform/id"
	"github.com/louisbranch/ssobroker/internal/services/broker/identity"
	"golang.org/x/oauth2"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// loginState rides the OAuth state parameter through the provider round
// trip. It is integrity-protected only by the provider echoing it back;
// the redirect URL inside is re-validated on callback.
type loginState struct {
	RedirectURL   string `json:"redirect_url"`
	CorrelatingID string `json:"unique_id"`
}

func encodeState(state loginState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeState(encoded string) (loginState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return loginState{}, apperrors.Wrap(apperrors.CodeInvalidToken, "oauth state is malformed", err)
	}
	var state loginState
	if err := json.Unmarshal(raw, &state); err != nil {
		return loginState{}, apperrors.Wrap(apperrors.CodeInvalidToken, "oauth state is malformed", err)
	}
	return state, nil
}

// handleLogin sends the browser to the provider's consent screen for the
// requested app, minting a correlating id for the flow when the app did
// not supply one.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "web.login")
	defer span.End()

	config, ok := h.registry.Config(r.PathValue("app"))
	if !ok {
		writeError(w, h.logger, apperrors.New(apperrors.CodeNotFound, "unknown app"))
		return
	}

	correlatingID := r.URL.Query().Get("unique_id")
	if correlatingID == "" {
		generated, err := id.NewID()
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		correlatingID = generated
	}

	state, err := encodeState(loginState{
		RedirectURL:   r.URL.Query().Get("redirect_url"),
		CorrelatingID: correlatingID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, config.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
}

// googleProfile is the subset of the provider's userinfo payload the
// broker consumes.
type googleProfile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// handleCallback finishes the provider round trip: exchange the code,
// fetch the profile, hand the assertion to the engine, and bounce the
// browser back to the app with the temporal credential attached.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "web.callback")
	defer span.End()

	config, ok := h.registry.Config(r.PathValue("app"))
	if !ok {
		writeError(w, h.logger, apperrors.New(apperrors.CodeNotFound, "unknown app"))
		return
	}

	state, err := decodeState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, h.logger, apperrors.New(apperrors.CodeInvalidToken, "authorization code is missing"))
		return
	}

	providerToken, err := config.Exchange(ctx, code)
	if err != nil {
		writeError(w, h.logger, apperrors.Wrap(apperrors.CodeInvalidToken, "authorization code exchange failed", err))
		return
	}

	profile, err := h.fetchProfile(ctx, config, providerToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	assertion := identity.Assertion{
		SubjectID:    profile.ID,
		Email:        profile.Email,
		DisplayName:  profile.Name,
		GivenName:    profile.GivenName,
		FamilyName:   profile.FamilyName,
		PhotoURL:     profile.Picture,
		AccessToken:  providerToken.AccessToken,
		RefreshToken: providerToken.RefreshToken,
	}

	result, err := h.engine.HandleUpstreamCallback(ctx, assertion,
		state.CorrelatingID, state.RedirectURL, clientFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	target, err := url.Parse(result.RedirectURL)
	if err != nil {
		writeError(w, h.logger, apperrors.Wrap(apperrors.CodeUnauthorizedRedirectURL, "redirect url is malformed", err))
		return
	}
	query := target.Query()
	query.Set("token", result.TemporalCredential)
	target.RawQuery = query.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) fetchProfile(ctx context.Context, config *oauth2.Config, providerToken *oauth2.Token) (googleProfile, error) {
	client := config.Client(ctx, providerToken)
	resp, err := client.Get(h.userInfoURL)
	if err != nil {
		return googleProfile{}, fmt.Errorf("fetch provider profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return googleProfile{}, fmt.Errorf("fetch provider profile: status %d", resp.StatusCode)
	}

	var profile googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return googleProfile{}, fmt.Errorf("decode provider profile: %w", err)
	}
	return profile, nil
}
