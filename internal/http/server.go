package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"hazine/internal/core"
	"hazine/internal/log"
	"hazine/internal/metrics"
	"hazine/internal/middleware/ratelimit"
	"hazine/internal/middleware/security"
	"hazine/internal/middleware/trace"
	"hazine/internal/rates"
	"hazine/internal/report"
	"hazine/internal/storage"
)

// ExpenseService is the expense use-case layer the handlers drive.
type ExpenseService interface {
	Create(ctx context.Context, in core.ExpenseInput) (int64, error)
	Update(ctx context.Context, id int64, in core.ExpenseInput) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (core.Expense, error)
	List(ctx context.Context) ([]core.Expense, error)
	ListPage(ctx context.Context, limit int, cursor string) (storage.Page, error)
	Summary(ctx context.Context, r report.Range) (report.Summary, error)
	Ping(ctx context.Context) error
}

type TagService interface {
	Resolve(ctx context.Context, name string) (core.Tag, bool, error)
	List(ctx context.Context) ([]core.Tag, error)
}

// RateService serves the cached USD rate.
type RateService interface {
	Get(ctx context.Context) (rates.Snapshot, error)
	Rate(ctx context.Context) (decimal.Decimal, rates.Snapshot, error)
}

// Options wires the server. Metrics may be nil.
type Options struct {
	Expenses ExpenseService
	Tags     TagService
	Rates    RateService
	Logger   *log.Logger
	Metrics  *metrics.Metrics

	AllowedOrigins     []string
	RateLimitPerMinute int
	// RateMaxAge caps the freshness window advertised on GET /exchange-rate.
	RateMaxAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	http.Server
	limiter      *ratelimit.Limiter
	shutdownOnce sync.Once
}

type handlers struct {
	expenses   ExpenseService
	tags       TagService
	rates      RateService
	logger     *log.Logger
	rateMaxAge time.Duration
	now        func() time.Time
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.RateMaxAge <= 0 {
		opts.RateMaxAge = rates.DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
			Metrics:           opts.Metrics,
		}),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	h := &handlers{
		expenses:   opts.Expenses,
		tags:       opts.Tags,
		rates:      opts.Rates,
		logger:     opts.Logger.WithComponent(log.ComponentHTTP),
		rateMaxAge: opts.RateMaxAge,
		now:        opts.Now,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader, "Retry-After", "Warning"},
		MaxAge:         300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(trace.NewMiddleware(opts.Logger, opts.Metrics, security.ClientIP).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", h.handleReady)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(security.ClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		}))

		r.Get("/expenses", h.handleListExpenses)
		r.Post("/expenses", h.handleCreateExpense)
		r.Get("/expenses/{id}", h.handleGetExpense)
		r.Put("/expenses/{id}", h.handleUpdateExpense)
		r.Delete("/expenses/{id}", h.handleDeleteExpense)
		r.Get("/tags", h.handleListTags)
		r.Post("/tags", h.handleCreateTag)
		r.Get("/categories", handleCategories)
		r.Get("/exchange-rate", h.handleExchangeRate)
		r.Get("/convert", h.handleConvert)
		r.Get("/reports/summary", h.handleSummary)
	})

	return r
}

// Shutdown stops the rate limiter and drains the HTTP server. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady checks the store with a short deadline.
func (h *handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.expenses.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
