package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validInput() ExpenseInput {
	return ExpenseInput{
		Date:        NewDate(2025, time.January, 1),
		Category:    "Groceries",
		Description: "bread",
		PriceToman:  100_000,
		PriceUSD:    decimal.RequireFromString("1.66"),
	}
}

func TestExpenseInputValidate(t *testing.T) {
	if err := validInput().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name  string
		field string
		mut   func(*ExpenseInput)
	}{
		{"zero date", "date", func(in *ExpenseInput) { in.Date = Date{} }},
		{"unknown category", "category", func(in *ExpenseInput) { in.Category = "Food" }},
		{"empty category", "category", func(in *ExpenseInput) { in.Category = "" }},
		{"blank description", "description", func(in *ExpenseInput) { in.Description = "   " }},
		{"long description", "description", func(in *ExpenseInput) { in.Description = strings.Repeat("x", MaxDescriptionLength+1) }},
		{"negative toman", "price_toman", func(in *ExpenseInput) { in.PriceToman = -1 }},
		{"negative usd", "price_usd", func(in *ExpenseInput) { in.PriceUSD = decimal.NewFromInt(-1) }},
		{"sub-cent usd", "price_usd", func(in *ExpenseInput) { in.PriceUSD = decimal.RequireFromString("1.005") }},
		{"bad tag id", "tagIds", func(in *ExpenseInput) { in.TagIDs = []int64{1, 0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mut(&in)
			err := in.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestExpenseInputNormalized(t *testing.T) {
	in := validInput()
	in.Description = "  bread  "
	in.TagIDs = []int64{3, 1, 3, 2, 1}

	got := in.Normalized()
	if got.Description != "bread" {
		t.Fatalf("description = %q", got.Description)
	}
	want := []int64{3, 1, 2}
	if len(got.TagIDs) != len(want) {
		t.Fatalf("tag ids = %v, want %v", got.TagIDs, want)
	}
	for i := range want {
		if got.TagIDs[i] != want[i] {
			t.Fatalf("tag ids = %v, want %v", got.TagIDs, want)
		}
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2025-03-09"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Year() != 2025 || d.Month() != time.March || d.Day() != 9 {
		t.Fatalf("unexpected date %v", d)
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2025-03-09"` {
		t.Fatalf("marshal = %s", b)
	}

	if err := json.Unmarshal([]byte(`"09/03/2025"`), &d); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
}

func TestExpenseJSONUsesNumbers(t *testing.T) {
	e := Expense{ID: 1, Date: NewDate(2025, 1, 2), Category: "Coffee", PriceToman: 150000, PriceUSD: decimal.RequireFromString("2.5")}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"price_usd":2.5`) || !strings.Contains(s, `"price_toman":150000`) {
		t.Fatalf("unexpected JSON: %s", s)
	}
}

func TestNormalizeTagName(t *testing.T) {
	if got, err := NormalizeTagName("  Food "); err != nil || got != "Food" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := NormalizeTagName(" \t "); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCategoryLabel(t *testing.T) {
	if got := CategoryLabel("Rent"); got.LabelFa != "اجاره" {
		t.Fatalf("unexpected label %+v", got)
	}
	if got := CategoryLabel("Legacy"); got.Label != "Legacy" || got.LabelFa != "Legacy" {
		t.Fatalf("fallback label %+v", got)
	}
	if len(Categories()) != 12 {
		t.Fatalf("expected 12 categories, got %d", len(Categories()))
	}
}
