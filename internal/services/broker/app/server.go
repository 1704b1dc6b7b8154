// Package app wires the broker's collaborators into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	platformotel "github.com/louisbranch/ssobroker/internal/platform/otel"
	"github.com/louisbranch/ssobroker/internal/platform/timeouts"
	"github.com/louisbranch/ssobroker/internal/services/broker/api/web"
	"github.com/louisbranch/ssobroker/internal/services/broker/audit"
	"github.com/louisbranch/ssobroker/internal/services/broker/engine"
	"github.com/louisbranch/ssobroker/internal/services/broker/storage/sqlite"
	"github.com/louisbranch/ssobroker/internal/services/broker/token"
	"github.com/louisbranch/ssobroker/internal/services/broker/upstream"
	"github.com/louisbranch/ssobroker/internal/services/broker/vault"
)

// Config holds the server's runtime settings.
type Config struct {
	Addr   string
	DBPath string
}

// Server hosts the broker's HTTP surface.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *sqlite.Store
	otelShutdown func(context.Context) error
}

// New creates a configured broker server listening on cfg.Addr.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := log.New(os.Stderr, "[BROKER] ", log.LstdFlags)

	otelShutdown, err := platformotel.Setup(ctx, "ssobroker")
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	secretVault, err := vault.LoadFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tokenConfig, err := token.LoadConfigFromEnv(nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	issuer, err := token.NewIssuer(tokenConfig)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	google := upstream.NewGoogle()
	eng, err := engine.New(engine.Config{
		Identities: store,
		Sessions:   store,
		Apps:       store,
		Issuer:     issuer,
		Vault:      secretVault,
		Checker:    google,
		Revoker:    google,
		Audit:      audit.NewRecorder(store, logger, nil),
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var handlerOpts []web.Option
	creds, err := upstream.LoadCredentialsFromEnv()
	if err != nil {
		// The exchange endpoints still work without the OAuth leg; the
		// callback then lives with a separate OAuth front.
		logger.Printf("oauth login routes disabled: %v", err)
	} else {
		apps, err := store.ListActiveApps(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		handlerOpts = append(handlerOpts, web.WithRegistry(upstream.NewRegistry(creds, apps)))
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	handler := web.NewHandler(eng, logger, handlerOpts...)
	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		listener:     listener,
		httpServer:   httpServer,
		store:        store,
		otelShutdown: otelShutdown,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a broker server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve blocks until the server stops or the context ends, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.cleanup(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)
	s.cleanup(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("shutdown http server: %w", shutdownErr)
	}
	return nil
}

func (s *Server) cleanup(ctx context.Context) {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.otelShutdown != nil {
		flushCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = s.otelShutdown(flushCtx)
	}
}
