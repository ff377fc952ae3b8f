// Package postgres implements storage.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"hazine/internal/core"
	"hazine/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// A pool lets the app reuse connections instead of dialing per query.
type Store struct {
	pool *pgxpool.Pool
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// New connects to connURL, using authToken as the password when set, and
// applies pending migrations.
func New(ctx context.Context, connURL, authToken string) (*Store, error) {
	pool, err := Connect(ctx, connURL, authToken)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Connect opens and pings a pool without touching the schema.
func Connect(ctx context.Context, connURL, authToken string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if authToken != "" {
		cfg.ConnConfig.Password = authToken
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Pool exposes the underlying pool for migrations tooling.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateExpense(ctx context.Context, in core.ExpenseInput, createdAt time.Time) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureTags(ctx, tx, in.TagIDs); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO expenses (date, category, description, price_toman, price_usd, created_at)
		 VALUES ($1::date, $2, $3, $4, $5::numeric, $6)
		 RETURNING id`,
		in.Date.String(), in.Category, in.Description, in.PriceToman, in.PriceUSD.String(), createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	if err := linkTags(ctx, tx, id, in.TagIDs); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to PostgreSQL", "id", id, "tags", len(in.TagIDs))
	return id, nil
}

func (s *Store) UpdateExpense(ctx context.Context, id int64, in core.ExpenseInput) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE expenses
		 SET date = $1::date, category = $2, description = $3, price_toman = $4, price_usd = $5::numeric
		 WHERE id = $6`,
		in.Date.String(), in.Category, in.Description, in.PriceToman, in.PriceUSD.String(), id,
	)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}

	if err := ensureTags(ctx, tx, in.TagIDs); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM expense_tags WHERE expense_id = $1", id); err != nil {
		return fmt.Errorf("clear expense tags: %w", err)
	}
	if err := linkTags(ctx, tx, id, in.TagIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpense(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM expenses WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// Dates and amounts come back as text so they decode without float detours.
const selectExpense = `SELECT id, date::text, category, description, price_toman, price_usd::text, created_at FROM expenses`

const listingOrder = ` ORDER BY date DESC, created_at DESC, id DESC`

func (s *Store) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	expenses, err := queryExpenses(ctx, s.pool, selectExpense+" WHERE id = $1", id)
	if err != nil {
		return core.Expense{}, err
	}
	if len(expenses) == 0 {
		return core.Expense{}, fmt.Errorf("expense %d: %w", id, core.ErrNotFound)
	}
	if err := attachTags(ctx, s.pool, expenses); err != nil {
		return core.Expense{}, err
	}
	return expenses[0], nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	expenses, err := queryExpenses(ctx, s.pool, selectExpense+listingOrder)
	if err != nil {
		return nil, err
	}
	if err := attachTags(ctx, s.pool, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) ListExpensesPage(ctx context.Context, limit int, after *storage.Cursor) (storage.Page, error) {
	var (
		expenses []core.Expense
		err      error
	)
	if after == nil {
		expenses, err = queryExpenses(ctx, s.pool, selectExpense+listingOrder+" LIMIT $1", limit+1)
	} else {
		// Every ordering column is descending, so a row comparison expresses
		// "strictly after the cursor".
		expenses, err = queryExpenses(ctx, s.pool,
			selectExpense+` WHERE (date, created_at, id) < ($1::date, $2, $3)`+listingOrder+" LIMIT $4",
			after.Date.String(), after.CreatedAt.UTC(), after.ID, limit+1,
		)
	}
	if err != nil {
		return storage.Page{}, err
	}

	page := storage.PageFromRows(expenses, limit)
	if err := attachTags(ctx, s.pool, page.Expenses); err != nil {
		return storage.Page{}, err
	}
	return page, nil
}

func queryExpenses(ctx context.Context, q querier, query string, args ...any) ([]core.Expense, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		var (
			e        core.Expense
			day, usd string
		)
		if err := rows.Scan(&e.ID, &day, &e.Category, &e.Description, &e.PriceToman, &usd, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if e.Date, err = core.ParseDate(day); err != nil {
			return nil, fmt.Errorf("expense %d: %w", e.ID, err)
		}
		if e.PriceUSD, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("expense %d price_usd: %w", e.ID, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

func attachTags(ctx context.Context, q querier, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	rows, err := q.Query(ctx,
		`SELECT et.expense_id, t.id, t.name, t.created_at
		 FROM expense_tags et JOIN tags t ON t.id = et.tag_id
		 WHERE et.expense_id = ANY($1)
		 ORDER BY lower(t.name), t.id`,
		storage.ExpenseIDs(expenses),
	)
	if err != nil {
		return fmt.Errorf("load expense tags: %w", err)
	}
	defer rows.Close()

	var all []storage.ExpenseTagRow
	for rows.Next() {
		var r storage.ExpenseTagRow
		if err := rows.Scan(&r.ExpenseID, &r.Tag.ID, &r.Tag.Name, &r.Tag.CreatedAt); err != nil {
			return fmt.Errorf("scan expense tag: %w", err)
		}
		r.Tag.CreatedAt = r.Tag.CreatedAt.UTC()
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate expense tags: %w", err)
	}
	storage.AttachTags(expenses, all)
	return nil
}

// ensureTags rejects ids that do not name an existing tag.
func ensureTags(ctx context.Context, q querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := q.Query(ctx, "SELECT id FROM tags WHERE id = ANY($1)", ids)
	if err != nil {
		return fmt.Errorf("check tags: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("scan tag ids: %w", err)
	}

	known := make(map[int64]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return core.NewValidationError("tagIds", fmt.Sprintf("unknown tag id %d", id))
		}
	}
	return nil
}

func linkTags(ctx context.Context, q querier, expenseID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`INSERT INTO expense_tags (expense_id, tag_id)
		 SELECT $1, unnest($2::bigint[])
		 ON CONFLICT DO NOTHING`,
		expenseID, tagIDs,
	)
	if err != nil {
		return fmt.Errorf("link tags: %w", err)
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context) ([]core.Tag, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, created_at FROM tags ORDER BY lower(name), id")
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags, err := pgx.CollectRows(rows, scanTag)
	if err != nil {
		return nil, fmt.Errorf("scan tags: %w", err)
	}
	return tags, nil
}

func scanTag(row pgx.CollectableRow) (core.Tag, error) {
	var t core.Tag
	err := row.Scan(&t.ID, &t.Name, &t.CreatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func (s *Store) FindTagByName(ctx context.Context, name string) (core.Tag, error) {
	return findTag(ctx, s.pool, name)
}

func findTag(ctx context.Context, q querier, name string) (core.Tag, error) {
	rows, err := q.Query(ctx, "SELECT id, name, created_at FROM tags WHERE lower(name) = lower($1)", name)
	if err != nil {
		return core.Tag{}, fmt.Errorf("find tag: %w", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTag)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Tag{}, fmt.Errorf("tag %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return core.Tag{}, fmt.Errorf("find tag: %w", err)
	}
	return t, nil
}

func (s *Store) InsertTag(ctx context.Context, name string, createdAt time.Time) (core.Tag, bool, error) {
	t := core.Tag{Name: name, CreatedAt: createdAt.UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tags (name, created_at) VALUES ($1, $2)
		 ON CONFLICT ((lower(name))) DO NOTHING
		 RETURNING id, created_at`,
		name, createdAt.UTC(),
	).Scan(&t.ID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := findTag(ctx, s.pool, name)
		if err != nil {
			return core.Tag{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return core.Tag{}, false, fmt.Errorf("insert tag: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, true, nil
}
