// Package redirect restricts which return URLs a client app may request.
//
// Patterns are matched against the whole already-decoded URL, query string
// included. The only metacharacter is `*`, which matches any substring with
// no path-segment awareness; everything else is literal.
package redirect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
)

// App is the subset of a client app registration the matcher consumes.
// Apps must be supplied in stable registration order so repeated calls
// resolve ties deterministically.
type App struct {
	AppID    string
	Patterns []string
}

// ValidateURL rejects URLs the matcher must never see: relative URLs,
// non-http(s) schemes, and strings that do not parse at all.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apperrors.New(apperrors.CodeUnauthorizedRedirectURL, "redirect url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnauthorizedRedirectURL, "redirect url is malformed", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return apperrors.WithMetadata(
			apperrors.CodeUnauthorizedRedirectURL,
			"redirect url scheme is not allowed",
			map[string]string{"Scheme": parsed.Scheme},
		)
	}
	if parsed.Host == "" {
		return apperrors.New(apperrors.CodeUnauthorizedRedirectURL, "redirect url must be absolute")
	}
	return nil
}

// Allowed reports whether any active app whitelists the URL.
func Allowed(apps []App, rawURL string) bool {
	_, ok := Match(apps, rawURL)
	return ok
}

// Match resolves the URL to the first app that whitelists it. Apps are
// scanned in the given order; within an app, patterns are scanned in
// registration order and the first hit wins.
func Match(apps []App, rawURL string) (string, bool) {
	for _, app := range apps {
		for _, pattern := range app.Patterns {
			if matchesPattern(rawURL, pattern) {
				return app.AppID, true
			}
		}
	}
	return "", false
}

// matchesPattern tests exact equality first, then the `*` glob form.
func matchesPattern(rawURL, pattern string) bool {
	if pattern == "" {
		return false
	}
	if rawURL == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(rawURL)
}

// compilePattern escapes every regexp metacharacter except `*`, which
// becomes `.*`, and anchors the result to the full string.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile(fmt.Sprintf("^%s$", strings.Join(parts, ".*")))
}
