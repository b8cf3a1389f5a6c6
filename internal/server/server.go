package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/server/handler"
	"github.com/jmercadal/pairvault/internal/server/middleware"
	"github.com/jmercadal/pairvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per client IP per RateWindow; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Treasuries *handler.TreasuryHandler
	Interest   *handler.InterestHandler
	Fees       *handler.FeeHandler
	Audit      *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil to disable per-IP rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Treasury endpoints.
	mux.HandleFunc("POST /api/treasuries", handlers.Treasuries.CreateTreasury)
	mux.HandleFunc("GET /api/treasuries", handlers.Treasuries.ListTreasuries)
	mux.HandleFunc("GET /api/treasuries/{id}", handlers.Treasuries.GetTreasury)
	mux.HandleFunc("POST /api/treasuries/{id}/deposit", handlers.Treasuries.Deposit)
	mux.HandleFunc("POST /api/treasuries/{id}/transactions", handlers.Treasuries.SubmitTransaction)
	mux.HandleFunc("GET /api/treasuries/{id}/transactions", handlers.Treasuries.ListTransactions)
	mux.HandleFunc("GET /api/treasuries/{id}/transactions/{txid}", handlers.Treasuries.GetTransaction)
	mux.HandleFunc("POST /api/treasuries/{id}/transactions/{txid}/approve", handlers.Treasuries.ApproveTransaction)
	mux.HandleFunc("POST /api/treasuries/{id}/transactions/{txid}/revoke", handlers.Treasuries.RevokeApproval)
	mux.HandleFunc("POST /api/treasuries/{id}/transactions/{txid}/execute", handlers.Treasuries.ExecuteTransaction)

	// Interest and match endpoints.
	mux.HandleFunc("POST /api/interest", handlers.Interest.ExpressInterest)
	mux.HandleFunc("GET /api/matches", handlers.Interest.ListMatches)
	mux.HandleFunc("GET /api/matches/pair", handlers.Interest.GetPairMatch)

	// Fee custody endpoints.
	mux.HandleFunc("GET /api/fees", handlers.Fees.GetStatus)
	mux.HandleFunc("POST /api/fees/withdrawals", handlers.Fees.RequestWithdrawal)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	mux.HandleFunc("GET /api/audit/archives", handlers.Audit.ListArchives)
	mux.HandleFunc("GET /api/audit/archives/{name}", handlers.Audit.GetArchive)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply per-IP rate limiting when a limiter is configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
