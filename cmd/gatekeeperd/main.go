// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Command gatekeeperd runs the authorization daemon: the DuckDB-backed
// RBAC store, the Badger session store, the decision cache with its
// janitor, the invalidation bus subscriber, and an operational HTTP
// listener serving health and Prometheus metrics. Decision and
// administration operations are Go APIs consumed in-process by the
// embedding application; the daemon itself exposes no request routing.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/visdata/gatekeeper/internal/auth"
	"github.com/visdata/gatekeeper/internal/authz"
	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("addr", cfg.Addr()).Msg("Gatekeeper starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable RBAC store.
	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	if err := db.EnsureSystemRoles(ctx, cfg.Authz.DefaultOrg); err != nil {
		return fmt.Errorf("ensure system roles: %w", err)
	}

	// Session store and manager.
	sessions, err := auth.OpenBadgerSessionStore(cfg.Sessions.Path)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close session store")
		}
	}()

	sessionCfg := cfg.Sessions
	if sessionCfg.SigningSecret == "" {
		// Sessions signed with an ephemeral secret do not verify across
		// restarts. Set SESSION_SIGNING_SECRET in production.
		sessionCfg.SigningSecret = ephemeralSecret()
		logging.Warn().Msg("No session signing secret configured, using an ephemeral one")
	}
	sessionMgr, err := auth.NewSessionManager(sessions, &sessionCfg)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	// Decision engine.
	cache := authz.NewDecisionCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	engine := authz.NewEngine(db, cache, &cfg.Authz)

	var bus *authz.InvalidationBus
	switch cfg.Bus.Driver {
	case config.BusDriverNATS:
		bus, err = authz.NewNATSBus(&cfg.Bus)
		if err != nil {
			return fmt.Errorf("connect invalidation bus: %w", err)
		}
		logging.Info().Str("url", cfg.Bus.URL).Msg("Invalidation bus connected")
	default:
		bus = authz.NewGoChannelBus(cfg.Bus.Topic)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close invalidation bus")
		}
	}()

	// Supervision tree: each long-running concern restarts
	// independently on failure.
	sup := suture.New("gatekeeper", suture.Spec{
		EventHook: func(event suture.Event) {
			logging.Warn().
				Str("event", event.String()).
				Msg("Supervisor event")
		},
	})

	sup.Add(serviceFunc{name: "cache-janitor", fn: func(ctx context.Context) error {
		cache.StartJanitor(ctx, cfg.Cache.CleanupInterval)
		return nil
	}})
	sup.Add(serviceFunc{name: "session-cleanup", fn: func(ctx context.Context) error {
		sessionMgr.StartCleanupRoutine(ctx, cfg.Sessions.CleanupInterval)
		return nil
	}})
	sup.Add(serviceFunc{name: "invalidation-subscriber", fn: func(ctx context.Context) error {
		return bus.Run(ctx, cache)
	}})
	sup.Add(&httpService{cfg: cfg, db: db, engine: engine})

	logging.Info().Msg("Gatekeeper started")
	err = sup.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("Gatekeeper stopped")
	return nil
}

// serviceFunc adapts a function to suture.Service.
type serviceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (s serviceFunc) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

func (s serviceFunc) String() string {
	return s.name
}

// httpService serves the operational endpoints: liveness, readiness,
// and Prometheus metrics.
type httpService struct {
	cfg    *config.Config
	db     *store.DB
	engine *authz.Engine
}

func (s *httpService) Serve(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      r,
		ReadTimeout:  s.cfg.Server.Timeout,
		WriteTimeout: s.cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logging.Info().Str("addr", s.cfg.Addr()).Msg("Operational HTTP server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// handleReady checks store connectivity and runs one decision for a
// probe subject with no role assignments. The expected answer is a
// deny; any error means the resolution path is down.
func (s *httpService) handleReady(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := s.engine.IsAllowed(ctx, s.cfg.Authz.DefaultOrg,
		"readiness-probe", http.MethodGet, "settings:default", ""); err != nil {
		http.Error(w, "decision path unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *httpService) String() string {
	return "http-server"
}

func ephemeralSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("generate ephemeral secret: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
