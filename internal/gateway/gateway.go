// ABOUTME: Gateway orchestrator that wires store, provider, auth and the HTTP server
// ABOUTME: Manages listeners (TCP or tailnet), routes and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/pdfchat-gateway/internal/auth"
	"github.com/2389/pdfchat-gateway/internal/config"
	"github.com/2389/pdfchat-gateway/internal/conversation"
	"github.com/2389/pdfchat-gateway/internal/dedupe"
	"github.com/2389/pdfchat-gateway/internal/extract"
	"github.com/2389/pdfchat-gateway/internal/mcp"
	"github.com/2389/pdfchat-gateway/internal/metrics"
	"github.com/2389/pdfchat-gateway/internal/provider"
	"github.com/2389/pdfchat-gateway/internal/store"
)

// Gateway orchestrates the pdfchat-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	sessions     *auth.Sessions // nil when Google sign-in is not configured
	tokens       *auth.JWTVerifier
	extractor    extract.Extractor
	metrics      *metrics.Metrics
	mcpServer    *mcp.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// components are the collaborators New builds from config. Tests supply their own.
type components struct {
	store     store.Store
	provider  provider.Provider
	identity  auth.IdentityVerifier
	extractor extract.Extractor
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p, err := provider.New(context.Background(), provider.Config{
		Kind:              cfg.Provider.Kind,
		APIKey:            cfg.Provider.APIKey,
		Model:             cfg.Provider.Model,
		Endpoint:          cfg.Provider.Endpoint,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, logger.With("component", "provider"))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	var identity auth.IdentityVerifier
	if cfg.Auth.GoogleClientID != "" {
		identity, err = auth.NewGoogleVerifier(cfg.Auth.GoogleClientID)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating google verifier: %w", err)
		}
	} else {
		logger.Warn("auth.google_client_id not set - Google sign-in disabled")
	}

	gw, err := newGateway(cfg, components{
		store:     s,
		provider:  p,
		identity:  identity,
		extractor: extract.NewPDF(),
	}, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, c components, logger *slog.Logger) (*Gateway, error) {
	tokens, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	m := metrics.New()
	replay := dedupe.New(cfg.Conversation.ReplayWindow, dedupe.DefaultMaxEntries)

	convService := conversation.New(c.store, c.provider, conversation.Options{
		ProviderTimeout: cfg.Provider.Timeout,
		AppendTimeout:   cfg.Conversation.AppendTimeout,
		HistoryTurns:    cfg.Conversation.HistoryTurns,
		Replay:          replay,
		Metrics:         m,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        c.store,
		conversation: convService,
		tokens:       tokens,
		extractor:    c.extractor,
		metrics:      m,
		logger:       logger.With("component", "gateway"),
	}

	if c.identity != nil {
		gw.sessions = auth.NewSessions(c.identity, c.store, tokens, cfg.Auth.SessionTTL, logger)
	}

	if cfg.MCP.Enabled {
		gw.mcpServer, err = mcp.NewServer(convService, logger)
		if err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux. Every route is instrumented under its pattern.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	requireAuth := auth.HTTPAuthMiddleware(g.store, g.tokens)
	optionalAuth := auth.OptionalAuthMiddleware(g.store, g.tokens)

	// Health endpoints - no auth required
	g.handle(mux, "GET /health", http.HandlerFunc(g.handleHealth))
	g.handle(mux, "GET /health/ready", http.HandlerFunc(g.handleReady))

	g.handle(mux, "POST /auth/google", http.HandlerFunc(g.handleGoogleSignIn))
	g.handle(mux, "GET /auth/session", optionalAuth(http.HandlerFunc(g.handleSession)))
	g.handle(mux, "POST /auth/logout", http.HandlerFunc(g.handleLogout))

	g.handle(mux, "POST /api/upload", requireAuth(http.HandlerFunc(g.handleUpload)))
	g.handle(mux, "POST /api/chat", requireAuth(http.HandlerFunc(g.handleAsk)))
	g.handle(mux, "GET /api/chat", requireAuth(http.HandlerFunc(g.handleListThreads)))
	g.handle(mux, "GET /api/threads/{id}", requireAuth(http.HandlerFunc(g.handleGetThread)))
	g.handle(mux, "GET /api/usage", requireAuth(http.HandlerFunc(g.handleUsage)))

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
		g.logger.Info("metrics enabled", "path", g.config.Metrics.Path)
	}

	if g.mcpServer != nil {
		g.handle(mux, g.config.MCP.Path, requireAuth(g.mcpServer.Handler()))
		g.logger.Info("MCP endpoint enabled", "path", g.config.MCP.Path)
	}

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The original context is already canceled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pdfchat", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
