// Package http exposes the shared-expense API: member directory, invoice
// projections, settlement, and the real-time refresh socket.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contas/internal/auth"
	"contas/internal/middleware/ratelimit"
	"contas/internal/middleware/trace"
	"contas/internal/services"
	"contas/internal/storage"
	"contas/internal/websocket"
)

type Server struct {
	http.Server

	invoices     *services.InvoiceService
	settlements  *services.SettlementService
	transactions *services.TransactionService
	store        storage.Store
	tokens       *auth.JWTManager
	hub          *websocket.Hub

	rateLimiter  *ratelimit.Limiter
	shutdownOnce sync.Once
}

// Deps carries everything the server routes over.
type Deps struct {
	Invoices     *services.InvoiceService
	Settlements  *services.SettlementService
	Transactions *services.TransactionService
	Store        storage.Store
	Tokens       *auth.JWTManager
	Hub          *websocket.Hub
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		invoices:     deps.Invoices,
		settlements:  deps.Settlements,
		transactions: deps.Transactions,
		store:        deps.Store,
		tokens:       deps.Tokens,
		hub:          deps.Hub,
		rateLimiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /ws", websocket.Handle(s.hub, func(r *http.Request) (string, error) {
		claims, err := s.tokens.FromRequest(r)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}))

	mux.HandleFunc("GET /api/members", s.requireAuth(s.handleListMembers))
	mux.HandleFunc("GET /api/invoice", s.requireAuth(s.handleInvoice))
	mux.HandleFunc("GET /api/invoice/summary", s.requireAuth(s.handleInvoiceSummary))
	mux.HandleFunc("POST /api/settle", s.requireAuth(s.withRateLimit(s.handleSettle)))
	mux.HandleFunc("POST /api/settle/undo", s.requireAuth(s.withRateLimit(s.handleUndoSettle)))
	mux.HandleFunc("POST /api/transactions", s.requireAuth(s.withRateLimit(s.handleCreateTransaction)))
	mux.HandleFunc("POST /api/transactions/anticipate", s.requireAuth(s.withRateLimit(s.handleAnticipate)))
	mux.HandleFunc("GET /api/notifications", s.requireAuth(s.handleListNotifications))

	tracer := trace.NewMiddleware(extractClientIP)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           tracer.Middleware(withSecurityHeaders(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		securityHeaders(w)
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRateLimit limits mutating endpoints per client IP.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(extractClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
