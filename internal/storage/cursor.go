package storage

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"hazine/internal/core"
)

// Cursor is a position in the (date desc, created_at desc, id desc) ordering.
// The id breaks ties between rows created in the same instant.
type Cursor struct {
	Date      core.Date `json:"d"`
	CreatedAt time.Time `json:"c"`
	ID        int64     `json:"i"`
}

// CursorAt returns the cursor positioned on e.
func CursorAt(e core.Expense) *Cursor {
	return &Cursor{Date: e.Date, CreatedAt: e.CreatedAt.UTC(), ID: e.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by Encode. An empty token yields a
// nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, core.NewValidationError("cursor", "malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, core.NewValidationError("cursor", "malformed cursor")
	}
	if c.Date.IsZero() || c.CreatedAt.IsZero() || c.ID <= 0 {
		return nil, core.NewValidationError("cursor", "malformed cursor")
	}
	return &c, nil
}

// PageFromRows trims a limit+1 fetch down to limit and derives the next
// cursor. rows must already be in listing order.
func PageFromRows(rows []core.Expense, limit int) Page {
	p := Page{Expenses: rows}
	if len(rows) > limit {
		p.Expenses = rows[:limit]
		p.HasMore = true
	}
	if p.HasMore && len(p.Expenses) > 0 {
		p.Next = CursorAt(p.Expenses[len(p.Expenses)-1])
	}
	if p.Expenses == nil {
		p.Expenses = []core.Expense{}
	}
	return p
}

// ExpenseTagRow is one row of the batched tag lookup shared by the backends.
type ExpenseTagRow struct {
	ExpenseID int64
	Tag       core.Tag
}

// AttachTags distributes rows onto expenses. Expenses without tags get an
// empty, non-nil slice.
func AttachTags(expenses []core.Expense, rows []ExpenseTagRow) {
	byExpense := make(map[int64][]core.Tag, len(expenses))
	for _, r := range rows {
		byExpense[r.ExpenseID] = append(byExpense[r.ExpenseID], r.Tag)
	}
	for i := range expenses {
		tags := byExpense[expenses[i].ID]
		if tags == nil {
			tags = []core.Tag{}
		}
		expenses[i].Tags = tags
	}
}

// ExpenseIDs collects ids in order.
func ExpenseIDs(expenses []core.Expense) []int64 {
	ids := make([]int64, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	return ids
}
