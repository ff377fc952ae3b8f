package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hazine/internal/amqp"
	"hazine/internal/cache"
	"hazine/internal/core"
	"hazine/internal/log"
	"hazine/internal/metrics"
	"hazine/internal/report"
	"hazine/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// EventPublisher receives expense change events. Publishing is best effort:
// a failure is logged and never fails the write that caused it.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, ev amqp.ExpenseEvent) error
}

// ExpenseService validates expense input, writes it through the store and
// keeps derived state (report cache, events) in step with every write.
type ExpenseService struct {
	store      storage.Store
	events     EventPublisher
	reports    cache.Cache[report.Summary]
	// reportGen counts invalidations so a summary computed across a write
	// is not cached.
	reportMu   sync.Mutex
	reportGen  uint64
	now        func() time.Time
	loc        *time.Location
	logger     *log.Logger
	structured *log.StructuredLogger
	metrics    *metrics.Metrics
}

type Option func(*ExpenseService)

func WithEvents(p EventPublisher) Option {
	return func(s *ExpenseService) { s.events = p }
}

// WithReportCache memoizes summaries until the next write.
func WithReportCache(c cache.Cache[report.Summary]) Option {
	return func(s *ExpenseService) { s.reports = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *ExpenseService) { s.now = now }
}

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *ExpenseService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *ExpenseService) { s.logger = l.WithComponent(log.ComponentExpense) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ExpenseService) { s.metrics = m }
}

func NewExpenseService(store storage.Store, opts ...Option) *ExpenseService {
	s := &ExpenseService{
		store:  store,
		now:    time.Now,
		loc:    time.UTC,
		logger: log.New(log.DefaultConfig()).WithComponent(log.ComponentExpense),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.structured = log.NewStructuredLogger(s.logger)
	return s
}

// Today is the current calendar day in the service location.
func (s *ExpenseService) Today() core.Date {
	return core.DateOf(s.now().In(s.loc))
}

func validID(id int64) error {
	if id <= 0 {
		return core.NewValidationError("id", "id must be a positive integer")
	}
	return nil
}

func (s *ExpenseService) Create(ctx context.Context, in core.ExpenseInput) (int64, error) {
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return 0, err
	}

	id, err := s.store.CreateExpense(ctx, in, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}
	s.afterWrite(ctx, log.OpCreate, amqp.EventCreated, id, in)
	return id, nil
}

func (s *ExpenseService) Update(ctx context.Context, id int64, in core.ExpenseInput) error {
	if err := validID(id); err != nil {
		return err
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return err
	}

	if err := s.store.UpdateExpense(ctx, id, in); err != nil {
		return fmt.Errorf("update expense %d: %w", id, err)
	}
	s.afterWrite(ctx, log.OpUpdate, amqp.EventUpdated, id, in)
	return nil
}

func (s *ExpenseService) Delete(ctx context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}

	s.invalidateReports()
	s.metrics.ExpenseMutation(log.OpDelete)
	s.structured.LogExpenseChange(ctx, log.OpDelete, id, "", 0, "", 0)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventDeleted, id, nil, s.now()))
	return nil
}

// afterWrite runs the bookkeeping shared by create and update. The event
// carries the stored row; if it cannot be read back the event is skipped.
func (s *ExpenseService) afterWrite(ctx context.Context, op string, typ amqp.EventType, id int64, in core.ExpenseInput) {
	s.invalidateReports()
	s.metrics.ExpenseMutation(op)
	s.structured.LogExpenseChange(ctx, op, id, in.Category, in.PriceToman, in.PriceUSD.StringFixed(2), len(in.TagIDs))

	if s.events == nil {
		s.metrics.EventPublished(metrics.OutcomeSkipped)
		return
	}
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		s.structured.LogError(ctx, "Failed to load expense for event", err, log.ComponentAMQP, log.OpPublish,
			log.NewFields().WithExpense(id, in.Category, in.PriceToman, in.PriceUSD.String(), len(in.TagIDs)))
		s.metrics.EventPublished(metrics.OutcomeError)
		return
	}
	s.publish(ctx, amqp.NewExpenseEvent(typ, id, &e, s.now()))
}

func (s *ExpenseService) publish(ctx context.Context, ev amqp.ExpenseEvent) {
	if s.events == nil {
		s.metrics.EventPublished(metrics.OutcomeSkipped)
		return
	}
	// The write already committed; the request being cancelled must not
	// drop its event.
	if err := s.events.PublishExpenseEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish expense event",
			log.FieldExpenseID, ev.ExpenseID,
			log.FieldOperation, log.OpPublish,
			log.FieldError, err.Error(),
		)
		s.metrics.EventPublished(metrics.OutcomeError)
		return
	}
	s.metrics.EventPublished(metrics.OutcomeSuccess)
}

func (s *ExpenseService) invalidateReports() {
	if s.reports == nil {
		return
	}
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	s.reportGen++
	s.reports.Clear()
}

func (s *ExpenseService) reportGeneration() uint64 {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	return s.reportGen
}

// cacheReport stores sum unless a write invalidated reports after gen was
// read.
func (s *ExpenseService) cacheReport(gen uint64, key string, sum report.Summary) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.reportGen == gen {
		s.reports.Set(key, sum)
	}
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (core.Expense, error) {
	if err := validID(id); err != nil {
		return core.Expense{}, err
	}
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

func (s *ExpenseService) List(ctx context.Context) ([]core.Expense, error) {
	exps, err := s.store.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return exps, nil
}

// ListPage returns one page of the listing. limit 0 means DefaultPageSize;
// larger than MaxPageSize is clamped. token is the nextCursor of the
// previous page, empty for the first.
func (s *ExpenseService) ListPage(ctx context.Context, limit int, token string) (storage.Page, error) {
	switch {
	case limit < 0:
		return storage.Page{}, core.NewValidationError("limit", "limit must be a positive integer")
	case limit == 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	cursor, err := storage.DecodeCursor(token)
	if err != nil {
		return storage.Page{}, err
	}
	page, err := s.store.ListExpensesPage(ctx, limit, cursor)
	if err != nil {
		return storage.Page{}, fmt.Errorf("list expenses page: %w", err)
	}
	return page, nil
}

// Summary aggregates every expense over r as of today. Results are cached
// per range and day until the next write.
func (s *ExpenseService) Summary(ctx context.Context, r report.Range) (report.Summary, error) {
	today := s.Today()
	key := string(r) + "|" + today.String()

	var gen uint64
	if s.reports != nil {
		gen = s.reportGeneration()
		if sum, ok := s.reports.Get(key); ok {
			s.metrics.ReportLookup(metrics.OutcomeHit)
			return sum, nil
		}
		s.metrics.ReportLookup(metrics.OutcomeMiss)
	}

	all, err := s.store.ListExpenses(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("summarize expenses: %w", err)
	}
	sum := report.Summarize(all, r, today)

	if s.reports != nil {
		s.cacheReport(gen, key, sum)
	}
	s.logger.DebugContext(ctx, "Report computed",
		log.FieldRange, string(r),
		"expense_count", sum.Stats.Count,
	)
	return sum, nil
}

// Ping reports whether the store is reachable.
func (s *ExpenseService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the store and the event publisher when it is closable.
func (s *ExpenseService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.events.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %w", errors.Join(errs...))
	}
	return nil
}
