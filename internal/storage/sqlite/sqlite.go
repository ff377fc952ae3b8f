// Package sqlite provides a SQLite-backed implementation of storage.Store
// on the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"hazine/internal/core"
	"hazine/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// timeLayout is fixed width so that text comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// tagChunk bounds the number of bound parameters in one IN list.
const tagChunk = 500

type Store struct {
	db *sql.DB
}

// dsn enables foreign keys on every pooled connection, not just the first.
func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// New opens (creating if needed) the database at dbPath and applies
// pending migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry a shorter RFC 3339 form.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func (s *Store) CreateExpense(ctx context.Context, in core.ExpenseInput, createdAt time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureTags(ctx, tx, in.TagIDs); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO expenses (date, category, description, price_toman, price_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		in.Date.String(), in.Category, in.Description, in.PriceToman, in.PriceUSD.String(), formatTime(createdAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	if err := linkTags(ctx, tx, id, in.TagIDs); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite", "id", id, "tags", len(in.TagIDs))
	return id, nil
}

func (s *Store) UpdateExpense(ctx context.Context, id int64, in core.ExpenseInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET date = ?, category = ?, description = ?, price_toman = ?, price_usd = ?
		 WHERE id = ?`,
		in.Date.String(), in.Category, in.Description, in.PriceToman, in.PriceUSD.String(), id,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update expense: %w", err)
	} else if n == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}

	if err := ensureTags(ctx, tx, in.TagIDs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM expense_tags WHERE expense_id = ?", id); err != nil {
		return fmt.Errorf("clear expense tags: %w", err)
	}
	if err := linkTags(ctx, tx, id, in.TagIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	// expense_tags rows go with the expense via ON DELETE CASCADE.
	res, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return nil
}

const selectExpense = `SELECT id, date, category, description, price_toman, price_usd, created_at FROM expenses`

const listingOrder = ` ORDER BY date DESC, created_at DESC, id DESC`

func (s *Store) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	rows, err := s.db.QueryContext(ctx, selectExpense+" WHERE id = ?", id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	expenses, err := scanExpenses(rows)
	if err != nil {
		return core.Expense{}, err
	}
	if len(expenses) == 0 {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err := attachTags(ctx, s.db, expenses); err != nil {
		return core.Expense{}, err
	}
	return expenses[0], nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := s.db.QueryContext(ctx, selectExpense+listingOrder)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if err := attachTags(ctx, s.db, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) ListExpensesPage(ctx context.Context, limit int, after *storage.Cursor) (storage.Page, error) {
	query := selectExpense
	var args []any
	if after != nil {
		day, created := after.Date.String(), formatTime(after.CreatedAt)
		query += ` WHERE date < ? OR (date = ? AND (created_at < ? OR (created_at = ? AND id < ?)))`
		args = append(args, day, day, created, created, after.ID)
	}
	query += listingOrder + " LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Page{}, fmt.Errorf("list expenses page: %w", err)
	}
	expenses, err := scanExpenses(rows)
	if err != nil {
		return storage.Page{}, err
	}
	page := storage.PageFromRows(expenses, limit)
	if err := attachTags(ctx, s.db, page.Expenses); err != nil {
		return storage.Page{}, err
	}
	return page, nil
}

func scanExpenses(rows *sql.Rows) ([]core.Expense, error) {
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		var (
			e                 core.Expense
			day, created, usd string
		)
		if err := rows.Scan(&e.ID, &day, &e.Category, &e.Description, &e.PriceToman, &usd, &created); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		var err error
		if e.Date, err = core.ParseDate(day); err != nil {
			return nil, fmt.Errorf("expense %d: %w", e.ID, err)
		}
		if e.PriceUSD, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("expense %d price_usd: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("expense %d created_at: %w", e.ID, err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// attachTags loads the tags of all expenses with one query per chunk of ids.
func attachTags(ctx context.Context, q queryer, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	ids := storage.ExpenseIDs(expenses)
	var all []storage.ExpenseTagRow
	for start := 0; start < len(ids); start += tagChunk {
		end := min(start+tagChunk, len(ids))
		chunk := ids[start:end]

		rows, err := q.QueryContext(ctx,
			`SELECT et.expense_id, t.id, t.name, t.created_at
			 FROM expense_tags et JOIN tags t ON t.id = et.tag_id
			 WHERE et.expense_id IN (`+placeholders(len(chunk))+`)
			 ORDER BY t.name COLLATE NOCASE, t.id`,
			int64Args(chunk)...,
		)
		if err != nil {
			return fmt.Errorf("load expense tags: %w", err)
		}
		for rows.Next() {
			var (
				r       storage.ExpenseTagRow
				created string
			)
			if err := rows.Scan(&r.ExpenseID, &r.Tag.ID, &r.Tag.Name, &created); err != nil {
				rows.Close()
				return fmt.Errorf("scan expense tag: %w", err)
			}
			if r.Tag.CreatedAt, err = parseTime(created); err != nil {
				rows.Close()
				return fmt.Errorf("tag %d created_at: %w", r.Tag.ID, err)
			}
			all = append(all, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate expense tags: %w", err)
		}
	}
	storage.AttachTags(expenses, all)
	return nil
}

// ensureTags rejects ids that do not name an existing tag.
func ensureTags(ctx context.Context, q queryer, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := q.QueryContext(ctx,
		"SELECT id FROM tags WHERE id IN ("+placeholders(len(ids))+")",
		int64Args(ids)...,
	)
	if err != nil {
		return fmt.Errorf("check tags: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan tag id: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tag ids: %w", err)
	}
	for _, id := range ids {
		if !found[id] {
			return core.NewValidationError("tagIds", fmt.Sprintf("unknown tag id %d", id))
		}
	}
	return nil
}

func linkTags(ctx context.Context, q queryer, expenseID int64, tagIDs []int64) error {
	for _, tagID := range tagIDs {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO expense_tags (expense_id, tag_id) VALUES (?, ?)",
			expenseID, tagID,
		); err != nil {
			return fmt.Errorf("link tag %d: %w", tagID, err)
		}
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context) ([]core.Tag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM tags ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := []core.Tag{}
	for rows.Next() {
		var (
			t       core.Tag
			created string
		)
		if err := rows.Scan(&t.ID, &t.Name, &created); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("tag %d created_at: %w", t.ID, err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

func (s *Store) FindTagByName(ctx context.Context, name string) (core.Tag, error) {
	return findTag(ctx, s.db, name)
}

func findTag(ctx context.Context, q queryer, name string) (core.Tag, error) {
	var (
		t       core.Tag
		created string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM tags WHERE name = ? COLLATE NOCASE",
		name,
	).Scan(&t.ID, &t.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Tag{}, fmt.Errorf("tag %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return core.Tag{}, fmt.Errorf("find tag: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.Tag{}, fmt.Errorf("tag %d created_at: %w", t.ID, err)
	}
	return t, nil
}

func (s *Store) InsertTag(ctx context.Context, name string, createdAt time.Time) (core.Tag, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Tag{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	t := core.Tag{Name: name, CreatedAt: createdAt.UTC()}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO tags (name, created_at) VALUES (?, ?)
		 ON CONFLICT (name) DO NOTHING RETURNING id`,
		name, formatTime(createdAt),
	).Scan(&t.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := findTag(ctx, tx, name)
		if err != nil {
			return core.Tag{}, false, err
		}
		return existing, false, nil
	case err != nil:
		return core.Tag{}, false, fmt.Errorf("insert tag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Tag{}, false, fmt.Errorf("commit transaction: %w", err)
	}
	return t, true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
