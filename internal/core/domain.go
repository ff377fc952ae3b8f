package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of expense dates.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds free-text descriptions.
const MaxDescriptionLength = 500

func init() {
	// Amounts travel as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type (
	// Date is a calendar day without time of day, always at UTC midnight.
	Date struct {
		time.Time
	}

	Tag struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
	}

	Expense struct {
		ID          int64           `json:"id"`
		Date        Date            `json:"date"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		PriceToman  int64           `json:"price_toman"`
		PriceUSD    decimal.Decimal `json:"price_usd"`
		CreatedAt   time.Time       `json:"created_at"`
		Tags        []Tag           `json:"tags"`
	}

	// ExpenseInput carries the user-confirmed fields of a create or update.
	// Both prices are taken as given; neither is derived from the other.
	ExpenseInput struct {
		Date        Date
		Category    string
		Description string
		PriceToman  int64
		PriceUSD    decimal.Decimal
		TagIDs      []int64
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyDescription = errors.New("empty description")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrNegativeAmount   = errors.New("amount cannot be negative")
)

// NewDate creates a new Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Validate checks the fields every create and update must carry.
func (in ExpenseInput) Validate() error {
	if err := in.Date.Validate(); err != nil {
		return NewValidationError("date", "date is required in YYYY-MM-DD format")
	}
	if !IsKnownCategory(in.Category) {
		return NewValidationError("category", fmt.Sprintf("unknown category %q", in.Category))
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return NewValidationError("description", ErrEmptyDescription.Error())
	}
	if len(desc) > MaxDescriptionLength {
		return NewValidationError("description", fmt.Sprintf("description too long (max %d characters)", MaxDescriptionLength))
	}
	if in.PriceToman < 0 {
		return NewValidationError("price_toman", ErrNegativeAmount.Error())
	}
	if in.PriceUSD.IsNegative() {
		return NewValidationError("price_usd", ErrNegativeAmount.Error())
	}
	if !in.PriceUSD.Equal(in.PriceUSD.Round(2)) {
		return NewValidationError("price_usd", "price_usd has more than 2 decimal places")
	}
	for _, id := range in.TagIDs {
		if id <= 0 {
			return NewValidationError("tagIds", fmt.Sprintf("invalid tag id %d", id))
		}
	}
	return nil
}

// Normalized trims the description and drops duplicate tag ids, keeping order.
func (in ExpenseInput) Normalized() ExpenseInput {
	out := in
	out.Description = strings.TrimSpace(in.Description)
	out.Category = strings.TrimSpace(in.Category)
	if len(in.TagIDs) > 0 {
		seen := make(map[int64]struct{}, len(in.TagIDs))
		out.TagIDs = make([]int64, 0, len(in.TagIDs))
		for _, id := range in.TagIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out.TagIDs = append(out.TagIDs, id)
		}
	}
	return out
}

// NormalizeTagName trims surrounding whitespace from a tag name.
func NormalizeTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", NewValidationError("name", "tag name is required")
	}
	return name, nil
}
