// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// JSON bodies, path ids and pagination parameters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"hazine/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// expenseBody is the create/update payload. Prices stay raw so that a price
// sent as a string is rejected instead of coerced.
type expenseBody struct {
	Date        *string         `json:"date"`
	Category    *string         `json:"category"`
	Description *string         `json:"description"`
	PriceToman  json.RawMessage `json:"price_toman"`
	PriceUSD    json.RawMessage `json:"price_usd"`
	TagIDs      []int64         `json:"tagIds"`
}

type tagBody struct {
	Name string `json:"name"`
}

// decodeJSON reads one JSON value from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return core.NewValidationError("body", "request body too large")
		case errors.Is(err, io.EOF):
			return core.NewValidationError("body", "request body is required")
		default:
			return core.NewValidationError("body", "invalid JSON body")
		}
	}
	return nil
}

// ParseExpenseInput decodes and converts an expense payload. Field-level rules
// (known category, non-negative prices) are left to ExpenseInput.Validate.
func ParseExpenseInput(w http.ResponseWriter, r *http.Request) (core.ExpenseInput, error) {
	var body expenseBody
	if err := decodeJSON(w, r, &body); err != nil {
		return core.ExpenseInput{}, err
	}

	if body.Date == nil || body.Category == nil || body.Description == nil ||
		isMissing(body.PriceToman) || isMissing(body.PriceUSD) {
		return core.ExpenseInput{}, core.NewValidationError("", "All fields are required")
	}

	in := core.ExpenseInput{
		Category:    *body.Category,
		Description: *body.Description,
		TagIDs:      body.TagIDs,
	}

	date, err := core.ParseDate(*body.Date)
	if err != nil {
		return core.ExpenseInput{}, core.NewValidationError("date", "date must be in YYYY-MM-DD format")
	}
	in.Date = date

	toman, err := parseNumber(body.PriceToman)
	if err != nil {
		return core.ExpenseInput{}, err
	}
	if !toman.IsInteger() {
		return core.ExpenseInput{}, core.NewValidationError("price_toman", "price_toman must be a whole number")
	}
	if in.PriceToman, err = core.WholeToman(toman); err != nil {
		return core.ExpenseInput{}, core.NewValidationError("price_toman", "price_toman is out of range")
	}

	if in.PriceUSD, err = parseNumber(body.PriceUSD); err != nil {
		return core.ExpenseInput{}, err
	}
	return in, nil
}

func isMissing(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseNumber accepts a JSON number literal only.
func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	s := string(bytes.TrimSpace(raw))
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return decimal.Zero, core.NewValidationError("", "Prices must be numbers")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, core.NewValidationError("", "Prices must be numbers")
	}
	return d, nil
}

// ParseID reads the {id} path parameter.
func ParseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError("id", "Invalid expense ID")
	}
	return id, nil
}

// PageParams holds the pagination query of GET /expenses.
type PageParams struct {
	Limit  int
	Cursor string
}

// ParsePageParams reports whether the request asked for a page at all; a
// bare GET /expenses returns the full list.
func ParsePageParams(r *http.Request) (PageParams, bool, error) {
	q := r.URL.Query()
	if !q.Has("limit") && !q.Has("cursor") {
		return PageParams{}, false, nil
	}

	p := PageParams{Cursor: strings.TrimSpace(q.Get("cursor"))}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return PageParams{}, true, core.NewValidationError("limit", "limit must be a positive integer")
		}
		p.Limit = n
	}
	return p, true, nil
}

// ConvertParams is the query of GET /convert: exactly one of the amounts.
type ConvertParams struct {
	Toman *int64
	USD   *decimal.Decimal
}

func ParseConvertParams(r *http.Request) (ConvertParams, error) {
	q := r.URL.Query()
	tomanStr := strings.TrimSpace(q.Get("toman"))
	usdStr := strings.TrimSpace(q.Get("usd"))

	switch {
	case tomanStr != "" && usdStr != "":
		return ConvertParams{}, core.NewValidationError("", "pass either toman or usd, not both")
	case tomanStr != "":
		n, err := strconv.ParseInt(tomanStr, 10, 64)
		if err != nil || n < 0 {
			return ConvertParams{}, core.NewValidationError("toman", "toman must be a non-negative whole number")
		}
		return ConvertParams{Toman: &n}, nil
	case usdStr != "":
		d, err := decimal.NewFromString(usdStr)
		if err != nil || d.IsNegative() {
			return ConvertParams{}, core.NewValidationError("usd", "usd must be a non-negative number")
		}
		return ConvertParams{USD: &d}, nil
	default:
		return ConvertParams{}, core.NewValidationError("", "toman or usd is required")
	}
}
