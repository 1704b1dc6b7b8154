package upstream

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Credentials holds the broker's OAuth client registration with the
// upstream provider. One registration is shared by every client app;
// apps differ only in their redirect handling after the broker callback.
type Credentials struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID,required"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET,required"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL,required"`
}

// LoadCredentialsFromEnv reads the OAuth client registration from
// SSO_BROKER_GOOGLE_* variables.
func LoadCredentialsFromEnv() (Credentials, error) {
	var creds Credentials
	if err := env.ParseWithOptions(&creds, env.Options{Prefix: "SSO_BROKER_"}); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Registry is an immutable snapshot of per-app OAuth configurations.
//
// Snapshots are rebuilt from app registrations and swapped whole; a
// snapshot is never mutated after construction, so lookups need no
// locking and a flow that started against one snapshot keeps it.
type Registry struct {
	version int64
	configs map[string]*oauth2.Config
}

// NewRegistry builds the first snapshot from active app registrations.
func NewRegistry(creds Credentials, apps []storage.App) *Registry {
	return buildRegistry(creds, apps, 1)
}

// Rebuild derives the next snapshot from the current app registrations.
// Rebuilding with unchanged registrations yields an equivalent snapshot;
// apps present in both keep identical configuration.
func (r *Registry) Rebuild(creds Credentials, apps []storage.App) *Registry {
	version := int64(1)
	if r != nil {
		version = r.version + 1
	}
	return buildRegistry(creds, apps, version)
}

func buildRegistry(creds Credentials, apps []storage.App, version int64) *Registry {
	configs := make(map[string]*oauth2.Config, len(apps))
	for _, app := range apps {
		if !app.Active {
			continue
		}
		if _, ok := configs[app.AppID]; ok {
			continue
		}
		configs[app.AppID] = &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  callbackURL(creds.CallbackURL, app.AppID),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}
	}
	return &Registry{version: version, configs: configs}
}

func callbackURL(base, appID string) string {
	return strings.TrimSuffix(base, "/") + "/" + appID
}

// Version identifies this snapshot. Versions only grow.
func (r *Registry) Version() int64 {
	return r.version
}

// Config returns the OAuth configuration for one app.
func (r *Registry) Config(appID string) (*oauth2.Config, bool) {
	config, ok := r.configs[appID]
	return config, ok
}

// AppIDs lists the apps present in this snapshot.
func (r *Registry) AppIDs() []string {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}
