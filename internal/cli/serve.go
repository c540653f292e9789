package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/spacesync/internal/config"
	"github.com/roach88/spacesync/internal/engine"
	"github.com/roach88/spacesync/internal/httpapi"
	"github.com/roach88/spacesync/internal/kv"
	"github.com/roach88/spacesync/internal/mutators"
	"github.com/roach88/spacesync/internal/poke"
	"github.com/roach88/spacesync/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the HTTP sync server.

Opens the database (creating the schema if needed), then serves pull,
push, static and poke endpoints until interrupted.

Example:
  spacesync serve --db ./spacesync.db --listen :8080
  spacesync serve --config ./spacesync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if opts.Listen != "" {
				cfg.Listen = opts.Listen
			}
			if opts.Database != "" {
				cfg.Database = opts.Database
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "database DSN (overrides config)")

	return cmd
}

// service is the wired server and the resources it holds.
type service struct {
	store   *store.Store
	hub     *poke.Hub
	handler http.Handler
}

func (s *service) Close() error {
	return s.store.Close()
}

// newService opens the store and wires the engine behind the HTTP API.
func newService(cfg config.Config) (*service, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry, err := mutators.NewRegistry()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build mutator registry: %w", err)
	}
	cache, err := kv.NewLRU(cfg.Static.CacheSize)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build static cache: %w", err)
	}

	svc := &service{store: st}
	var notifiers poke.Multi
	if cfg.Poke.WebSocket {
		svc.hub = poke.NewHub(nil)
		notifiers = append(notifiers, svc.hub)
	}
	if cfg.Poke.URL != "" {
		notifiers = append(notifiers, poke.NewHTTPNotifier(cfg.Poke.URL, nil))
	}

	eng := engine.New(st, registry,
		engine.WithNotifier(notifiers),
		engine.WithStaticCache(cache, cfg.Static.TTL),
		engine.WithPushConcurrency(cfg.Push.Concurrency),
		engine.WithMaxMutationAttempts(cfg.Push.MaxAttempts),
		engine.WithMaxPokeAttempts(cfg.Poke.MaxAttempts),
	)

	serverOpts := []httpapi.ServerOption{httpapi.WithHealthCheck(st)}
	if cfg.JWTSecret != "" {
		serverOpts = append(serverOpts, httpapi.WithAuthenticator(httpapi.NewAuthenticator([]byte(cfg.JWTSecret))))
	} else {
		log.Warn("jwt_secret is not set: every request is anonymous")
	}
	if svc.hub != nil {
		serverOpts = append(serverOpts, httpapi.WithPokeHandler(svc.hub))
	}
	svc.handler = httpapi.NewServer(eng, serverOpts...)
	return svc, nil
}

// runServe serves until ctx is cancelled, then drains in-flight requests.
func runServe(ctx context.Context, cfg config.Config, cmd *cobra.Command) error {
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			log.WithField("err", closeErr).Error("error closing database")
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.WithFields(log.Fields{
		"addr":      ln.Addr().String(),
		"database":  cfg.Database,
		"websocket": cfg.Poke.WebSocket,
		"pokeURL":   cfg.Poke.URL,
	}).Info("server started")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	select {
	case err := <-errCh:
		return WrapExitError(ExitFailure, "server error", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info("server stopped gracefully")
	return nil
}
