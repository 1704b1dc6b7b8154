// Package server parses configuration for the broker server command.
package server

import (
	"context"
	"flag"
	"strings"

	"github.com/louisbranch/ssobroker/internal/services/broker/app"
)

// Config holds broker server command configuration.
type Config struct {
	Addr   string
	DBPath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config, with environment fallbacks.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:   envOrDefault(lookup, []string{"SSO_BROKER_HTTP_ADDR"}, ":8080"),
		DBPath: envOrDefault(lookup, []string{"SSO_BROKER_DB_PATH"}, "broker.db"),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The broker HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the broker SQLite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the broker server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, app.Config{Addr: cfg.Addr, DBPath: cfg.DBPath})
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
