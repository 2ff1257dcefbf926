package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/quickassist/internal/config"
	"github.com/roach88/quickassist/internal/identity"
	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/sched"
	"github.com/roach88/quickassist/internal/session"
	"github.com/roach88/quickassist/internal/transport"
)

// shutdownTimeout bounds how long open connections get to finish.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Fixture string
	Route   string

	// Ready, when set, receives the bound address once the listener is up.
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP and websockets",
		Long: `Start the session server.

Routes:
  POST /register  create an account and return a token
  POST /login     return a token for mobile and password
  GET  /ws        one session per connection (?token=...)
  GET  /metrics   Prometheus metrics

The JWT secret must be configured (server.jwt_secret or
QUICKASSIST_JWT_SECRET).

Examples:
  quickassist serve --addr :8080 --fixture providers.yaml
  quickassist serve --config quickassist.yaml --route route.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "answer from a YAML fixture directory")
	cmd.Flags().StringVar(&opts.Route, "route", "", "scripted positioning route (YAML)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Fixture != "" {
		cfg.Directory.Fixture = opts.Fixture
	}

	tokens, err := identity.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "server.jwt_secret is required", err)
	}
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}
	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		return err
	}
	source, err := jobSource(cfg.Jobs)
	if err != nil {
		return err
	}

	var positioner location.Positioner
	if opts.Route != "" {
		route, err := location.LoadRoute(opts.Route)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load route", err)
		}
		positioner = location.NewScripted(*route, sched.Real{}, nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := session.NewMetrics(reg)

	sessionOpts := []session.Option{
		session.WithFallback(cfg.Fallback),
		session.WithWatchOptions(cfg.WatchOptions()),
		session.WithTrackingOptions(cfg.TrackingOptions()),
		session.WithDonationDelay(cfg.Donation.Delay),
		session.WithJobs(source),
		session.WithMetrics(metrics),
	}
	if positioner != nil {
		sessionOpts = append(sessionOpts, session.WithPositioner(positioner))
	}

	srv := transport.NewServer(transport.Config{
		Accounts:   identity.NewMemory(),
		Tokens:     tokens,
		NewSession: func() *session.Orchestrator { return session.New(cat, dir, sessionOpts...) },
		Gatherer:   reg,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := ln.Addr().String()
	slog.Info("server starting", "addr", addr, "jobs", cfg.Jobs.Mode, "fixture", cfg.Directory.Fixture)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// jobSource picks the partner job collaborator for the configured mode.
func jobSource(cfg config.Jobs) (jobs.Source, error) {
	switch cfg.Mode {
	case config.JobsNone:
		return jobs.None{}, nil
	case config.JobsDemo:
		return jobs.NewDemoSource(sched.Real{}, cfg.DemoDelay), nil
	case config.JobsAMQP:
		return jobs.NewAMQPSource(jobs.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.Exchange}), nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown jobs mode %q", cfg.Mode))
}
