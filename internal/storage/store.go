// Package storage defines the persistence contract for expenses and tags.
// Engines live in subpackages (sqlite, postgres) and share one test suite.
package storage

import (
	"context"
	"time"

	"hazine/internal/core"
)

// Store is implemented by every relational backend.
//
// Multi-statement writes (expense plus tag joins) run in a single
// transaction. Lookups of a missing row return an error wrapping
// core.ErrNotFound; unknown tag ids on write return a *core.ValidationError.
type Store interface {
	CreateExpense(ctx context.Context, in core.ExpenseInput, createdAt time.Time) (int64, error)
	UpdateExpense(ctx context.Context, id int64, in core.ExpenseInput) error
	DeleteExpense(ctx context.Context, id int64) error
	GetExpense(ctx context.Context, id int64) (core.Expense, error)

	// ListExpenses returns every expense ordered by date, created_at and id,
	// all descending, with tags attached.
	ListExpenses(ctx context.Context) ([]core.Expense, error)

	// ListExpensesPage returns up to limit expenses strictly after cursor in
	// the ListExpenses ordering. A nil cursor starts at the beginning.
	ListExpensesPage(ctx context.Context, limit int, after *Cursor) (Page, error)

	ListTags(ctx context.Context) ([]core.Tag, error)
	// FindTagByName matches case-insensitively.
	FindTagByName(ctx context.Context, name string) (core.Tag, error)
	// InsertTag creates a tag. When a tag with the same case-insensitive
	// name already exists nothing is written, ok is false and the existing
	// tag is returned.
	InsertTag(ctx context.Context, name string, createdAt time.Time) (tag core.Tag, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// Page is one slice of the paginated listing.
type Page struct {
	Expenses []core.Expense
	Next     *Cursor
	HasMore  bool
}
