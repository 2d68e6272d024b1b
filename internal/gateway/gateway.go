// ABOUTME: Gateway orchestrator that wires the HTTP server and reconciler
// ABOUTME: Owns component lifecycle from construction through graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxplane/voxplane/internal/auth"
	"github.com/voxplane/voxplane/internal/config"
	"github.com/voxplane/voxplane/internal/control"
	"github.com/voxplane/voxplane/internal/convo"
	"github.com/voxplane/voxplane/internal/hub"
	"github.com/voxplane/voxplane/internal/reconcile"
	"github.com/voxplane/voxplane/internal/session"
	"github.com/voxplane/voxplane/internal/store"
)

const (
	// dedupeTTL bounds how long webhook event ids are remembered. Providers
	// redeliver within minutes; anything older is handled by the database
	// constraints anyway.
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000
)

// Gateway orchestrates the voxplane server components. It manages the HTTP
// server for webhooks, the dashboard API and the background reconciler.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sessions   *session.Manager
	control    *control.Coordinator
	contexts   *convo.Service
	hub        *hub.Hub
	reconciler *reconcile.Reconciler
	httpServer *http.Server
	logger     *slog.Logger

	// dedupe short-circuits redelivered webhook events by id
	dedupe *convo.Memory

	verifier auth.TokenVerifier
}

// New creates a gateway with all components wired. The caller owns the
// store's lifetime until Run is called; after that Shutdown closes it.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := hub.New(logger)

	var cache convo.Cache = convo.Noop{}
	if cfg.Cache.Enabled {
		cache = convo.NewMemory(cfg.Cache.TTL, cfg.Cache.MaxSize)
	}
	contexts := convo.NewService(st, cache, convo.Options{
		CacheTTL:      cfg.Cache.TTL,
		MessageWindow: cfg.Context.MessageWindow,
		SummaryWindow: cfg.Context.SummaryWindow,
	}, logger)

	sessions := session.NewManager(st, h, contexts, logger)
	coordinator := control.NewCoordinator(st, h, contexts, logger)
	reconciler := reconcile.New(st, sessions, coordinator,
		cfg.Reconcile.Interval, cfg.Reconcile.SessionMaxAge, logger)

	gw := &Gateway{
		config:     cfg,
		store:      st,
		sessions:   sessions,
		control:    coordinator,
		contexts:   contexts,
		hub:        h,
		reconciler: reconciler,
		dedupe:     convo.NewMemory(dedupeTTL, dedupeMaxSize),
		verifier:   auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:     logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      gw.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
	}

	return gw, nil
}

// routes builds the HTTP mux. Webhooks authenticate with a shared secret,
// dashboard endpoints with JWTs.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/webhooks/call-events", g.handleCallEvent)

	authMiddleware := auth.Middleware(g.verifier)
	mux.Handle("/api/control/join", authMiddleware(http.HandlerFunc(g.handleJoin)))
	mux.Handle("/api/control/leave", authMiddleware(http.HandlerFunc(g.handleLeave)))
	mux.Handle("/api/control/send", authMiddleware(http.HandlerFunc(g.handleSend)))
	mux.Handle("/api/control/sessions", authMiddleware(http.HandlerFunc(g.handleActiveSessions)))
	mux.Handle("/api/stats", authMiddleware(http.HandlerFunc(g.handleStats)))
	mux.Handle("/api/stream", authMiddleware(http.HandlerFunc(g.handleStream)))

	return mux
}

// Run starts the HTTP server and the reconciler, blocking until ctx is
// cancelled or a component fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		err := g.reconciler.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return g.gracefulShutdown()
	})

	return group.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, drains the hub and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.hub.Close()
	if err := g.dedupe.Close(); err != nil {
		errs = append(errs, fmt.Errorf("dedupe close: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := g.store.ListOrganizations(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store not ready: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
