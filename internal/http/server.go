package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/extraction"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
)

// DefaultUserHeader is the header an authenticating proxy sets with the
// caller's user id.
const DefaultUserHeader = "X-Forwarded-User"

// RecordAPI is the record service the handlers call.
// *services.RecordService satisfies it.
type RecordAPI interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	DeleteExpense(ctx context.Context, userID string, id int64) error
	GetExpense(ctx context.Context, userID string, id int64) (core.Expense, error)
	ListExpenses(ctx context.Context, userID string, p core.Period) ([]core.Expense, error)

	CreateCardBill(ctx context.Context, b core.CardBill) (core.CardBill, error)
	UpdateCardBill(ctx context.Context, b core.CardBill) (core.CardBill, error)
	DeleteCardBill(ctx context.Context, userID string, id int64) error
	GetCardBill(ctx context.Context, userID string, id int64) (core.CardBill, error)
	ListCardBills(ctx context.Context, userID string, p core.Period) ([]core.CardBill, error)

	CreateIncome(ctx context.Context, in core.Income) (core.Income, error)
	UpdateIncome(ctx context.Context, in core.Income) (core.Income, error)
	GetIncome(ctx context.Context, userID string, id int64) (core.Income, error)
	DeleteIncome(ctx context.Context, userID string, id int64) error
	ListIncomes(ctx context.Context, userID string, p core.Period) ([]core.Income, error)

	CreateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error)
	UpdateSubscription(ctx context.Context, s core.Subscription) (core.Subscription, error)
	GetSubscription(ctx context.Context, userID string, id int64) (core.Subscription, error)
	DeleteSubscription(ctx context.Context, userID string, id int64) error
	ListSubscriptions(ctx context.Context, userID string) ([]core.Subscription, error)

	MonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error)
}

// Extractor runs uploaded documents through the extraction pipeline.
// *extraction.Pipeline satisfies it.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Record, error)
	MaxUploadBytes() int64
}

// ReadinessCheck reports whether a dependency is able to serve traffic.
type ReadinessCheck func(ctx context.Context) error

// ServerConfig holds the HTTP-facing settings.
type ServerConfig struct {
	Addr       string
	UserHeader string
	// RateLimit applies per client IP to every API request.
	RateLimit ratelimit.Config
	// ExtractPerMinute limits extractions per user; 0 disables it.
	ExtractPerMinute int
}

type Server struct {
	http.Server
	records   RecordAPI
	extractor Extractor
	ready     ReadinessCheck
	logger    *log.Logger
	now       func() time.Time

	userHeader     string
	ipResolver     *security.ClientIPResolver
	rateLimiter    *ratelimit.Limiter
	extractLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. extractor may be nil, in which case extraction responds 503.
func NewServer(cfg ServerConfig, records RecordAPI, extractor Extractor, ready ReadinessCheck, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		records:     records,
		extractor:   extractor,
		ready:       ready,
		logger:      logger.WithComponent(log.ComponentHTTP),
		now:         time.Now,
		userHeader:  cfg.UserHeader,
		ipResolver:  security.NewClientIPResolver(),
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
	}
	if cfg.ExtractPerMinute > 0 {
		s.extractLimiter = ratelimit.NewLimiter(ratelimit.PerMinute(cfg.ExtractPerMinute))
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	extract := http.Handler(s.withUser(s.handleExtract))
	if s.extractLimiter != nil {
		extract = s.extractLimiter.Middleware(s.userOf, s.onRateLimited)(extract)
	}
	mux.Handle("POST /api/extractions", extract)

	mux.HandleFunc("GET /api/expenses", s.withUser(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.withUser(s.handleCreateExpense))
	mux.HandleFunc("GET /api/expenses/{id}", s.withUser(s.handleGetExpense))
	mux.HandleFunc("PUT /api/expenses/{id}", s.withUser(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withUser(s.handleDeleteExpense))

	mux.HandleFunc("GET /api/card-bills", s.withUser(s.handleListCardBills))
	mux.HandleFunc("POST /api/card-bills", s.withUser(s.handleCreateCardBill))
	mux.HandleFunc("GET /api/card-bills/{id}", s.withUser(s.handleGetCardBill))
	mux.HandleFunc("PUT /api/card-bills/{id}", s.withUser(s.handleUpdateCardBill))
	mux.HandleFunc("DELETE /api/card-bills/{id}", s.withUser(s.handleDeleteCardBill))

	mux.HandleFunc("GET /api/incomes", s.withUser(s.handleListIncomes))
	mux.HandleFunc("POST /api/incomes", s.withUser(s.handleCreateIncome))
	mux.HandleFunc("GET /api/incomes/{id}", s.withUser(s.handleGetIncome))
	mux.HandleFunc("PUT /api/incomes/{id}", s.withUser(s.handleUpdateIncome))
	mux.HandleFunc("DELETE /api/incomes/{id}", s.withUser(s.handleDeleteIncome))

	mux.HandleFunc("GET /api/subscriptions", s.withUser(s.handleListSubscriptions))
	mux.HandleFunc("POST /api/subscriptions", s.withUser(s.handleCreateSubscription))
	mux.HandleFunc("GET /api/subscriptions/{id}", s.withUser(s.handleGetSubscription))
	mux.HandleFunc("PUT /api/subscriptions/{id}", s.withUser(s.handleUpdateSubscription))
	mux.HandleFunc("DELETE /api/subscriptions/{id}", s.withUser(s.handleDeleteSubscription))

	mux.HandleFunc("GET /api/overview", s.withUser(s.handleMonthOverview))
	mux.HandleFunc("GET /api/taxonomy", s.withUser(handleTaxonomy))

	// Outermost first: headers, tracing, then per-IP limiting.
	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.apiClientIP, s.onRateLimited)(handler)
	handler = trace.NewMiddleware(s.ipResolver.ClientIP, s.logger).Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	s.Handler = handler

	return s
}

// Shutdown gracefully shuts down the server and its limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		if s.extractLimiter != nil {
			s.extractLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type userKey struct{}

// withUser rejects requests without the identity header and stores the
// user id in the request context.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := s.userOf(r)
		if userID == "" {
			s.logger.WarnContext(r.Context(), "Request without user identity",
				log.FieldPath, r.URL.Path,
				"header", s.userHeader)
			UnauthorizedError("missing user identity").Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, userID)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, userID))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) userOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.userHeader))
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// apiClientIP keys the per-IP limiter; probes are never limited.
func (s *Server) apiClientIP(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return ""
	}
	return s.ipResolver.ClientIP(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.ipResolver.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	TooManyRequestsError("rate limit exceeded, please try again later").Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "not ready").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
