// Package maintenance sweeps dead sessions and stale audit rows.
package maintenance

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath         string
	AuditRetention time.Duration
	Timeout        time.Duration
	DryRun         bool
}

type envConfig struct {
	DBPath         string        `env:"SSO_BROKER_DB_PATH"`
	AuditRetention time.Duration `env:"SSO_BROKER_AUDIT_RETENTION" envDefault:"2160h"`
	Timeout        time.Duration `env:"SSO_BROKER_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:         envCfg.DBPath,
		AuditRetention: envCfg.AuditRetention,
		Timeout:        envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "broker.db"
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the broker sqlite database (default: SSO_BROKER_DB_PATH or broker.db)")
	fs.DurationVar(&cfg.AuditRetention, "audit-retention", cfg.AuditRetention, "drop audit rows older than this")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "report what would be deleted without deleting")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the sweep.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()

	if cfg.DryRun {
		fmt.Fprintf(out, "dry run: would sweep sessions dead at %s and audit rows older than %s\n",
			now.Format(time.RFC3339), cfg.AuditRetention)
		return nil
	}

	sessionsDeleted, err := store.DeleteDeadSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	fmt.Fprintf(out, "deleted %d dead sessions\n", sessionsDeleted)

	if cfg.AuditRetention > 0 {
		cutoff := now.Add(-cfg.AuditRetention)
		auditDeleted, err := store.DeleteOldAuditEvents(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("sweep audit rows: %w", err)
		}
		fmt.Fprintf(out, "deleted %d audit rows older than %s\n", auditDeleted, cutoff.Format(time.RFC3339))
	}

	return nil
}
