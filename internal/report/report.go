// Package report aggregates expenses for the dashboard: range filters, time
// buckets, category totals and month-over-month comparison. Everything here
// is a pure function of the expenses and a caller-supplied "today".
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hazine/internal/core"
)

type Range string

const (
	Range7D        Range = "7D"
	Range30D       Range = "30D"
	RangeThisMonth Range = "THIS_MONTH"
	RangeLastMonth Range = "LAST_MONTH"
	RangeYTD       Range = "YTD"
	RangeAllTime   Range = "ALL_TIME"
)

// Ranges lists every supported range in display order.
var Ranges = []Range{Range7D, Range30D, RangeThisMonth, RangeLastMonth, RangeYTD, RangeAllTime}

// ParseRange accepts a range name case-insensitively. Empty means ALL_TIME.
func ParseRange(s string) (Range, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return RangeAllTime, nil
	}
	for _, r := range Ranges {
		if string(r) == s {
			return r, nil
		}
	}
	return "", core.NewValidationError("range", fmt.Sprintf("unknown range %q", s))
}

type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Bounds is an inclusive date interval.
type Bounds struct {
	Start core.Date `json:"start"`
	End   core.Date `json:"end"`
}

// Contains reports whether d falls inside b, both ends included.
func (b Bounds) Contains(d core.Date) bool {
	return !d.Before(b.Start) && !d.After(b.End)
}

// Days is the number of calendar days covered.
func (b Bounds) Days() int {
	return daysBetween(b.Start, b.End) + 1
}

func daysBetween(from, to core.Date) int {
	return int(to.Sub(from.Time).Hours() / 24)
}

func firstOfMonth(d core.Date) core.Date {
	return core.NewDate(d.Year(), d.Month(), 1)
}

// Bounds resolves r against today. ALL_TIME has no bounds and returns false.
func (r Range) Bounds(today core.Date) (Bounds, bool) {
	switch r {
	case Range7D:
		return Bounds{Start: today.AddDays(-6), End: today}, true
	case Range30D:
		return Bounds{Start: today.AddDays(-29), End: today}, true
	case RangeThisMonth:
		return Bounds{Start: firstOfMonth(today), End: today}, true
	case RangeLastMonth:
		first := firstOfMonth(today)
		return Bounds{Start: core.Date{Time: first.AddDate(0, -1, 0)}, End: first.AddDays(-1)}, true
	case RangeYTD:
		return Bounds{Start: core.NewDate(today.Year(), time.January, 1), End: today}, true
	default:
		return Bounds{}, false
	}
}

// Granularity picks the bucket size from the span of r. ALL_TIME is always
// monthly.
func (r Range) Granularity(today core.Date) Granularity {
	b, ok := r.Bounds(today)
	if !ok {
		return Monthly
	}
	switch days := b.Days(); {
	case days <= 31:
		return Daily
	case days <= 180:
		return Weekly
	default:
		return Monthly
	}
}

// Filter keeps the expenses dated inside r, preserving order.
func Filter(expenses []core.Expense, r Range, today core.Date) []core.Expense {
	b, ok := r.Bounds(today)
	if !ok {
		return expenses
	}
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if b.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// WeekKey numbers weeks from January 1st, with weeks starting on Sunday:
// week = ceil((dayOfYear0 + weekday(Jan 1) + 1) / 7).
func WeekKey(d core.Date) string {
	jan1 := core.NewDate(d.Year(), time.January, 1)
	past := daysBetween(jan1, d)
	week := (past + int(jan1.Weekday()) + 1 + 6) / 7
	return fmt.Sprintf("%d-W%02d", d.Year(), week)
}

func MonthKey(d core.Date) string {
	return fmt.Sprintf("%d-%02d", d.Year(), int(d.Month()))
}

// BucketKey returns the time-series key of d at granularity g.
func BucketKey(d core.Date, g Granularity) string {
	switch g {
	case Weekly:
		return WeekKey(d)
	case Monthly:
		return MonthKey(d)
	default:
		return d.String()
	}
}

// Amount pairs the two currencies. They are always summed independently.
type Amount struct {
	Toman int64           `json:"toman"`
	USD   decimal.Decimal `json:"usd"`
}

func (a *Amount) add(e core.Expense) {
	a.Toman += e.PriceToman
	a.USD = a.USD.Add(e.PriceUSD)
}

// Total sums both currencies over expenses.
func Total(expenses []core.Expense) Amount {
	var a Amount
	for _, e := range expenses {
		a.add(e)
	}
	return a
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Label    string          `json:"label"`
	LabelFa  string          `json:"labelFa"`
	Toman    int64           `json:"toman"`
	USD      decimal.Decimal `json:"usd"`
	Count    int             `json:"count"`
	// Share is this category's percentage of the Toman total.
	Share decimal.Decimal `json:"share"`
}

// CategoryTotals groups by category, sorted by Toman descending and then by
// category name.
func CategoryTotals(expenses []core.Expense) []CategoryTotal {
	index := map[string]int{}
	totals := []CategoryTotal{}
	var grand int64
	for _, e := range expenses {
		i, ok := index[e.Category]
		if !ok {
			label := core.CategoryLabel(e.Category)
			totals = append(totals, CategoryTotal{Category: e.Category, Label: label.Label, LabelFa: label.LabelFa})
			i = len(totals) - 1
			index[e.Category] = i
		}
		totals[i].Toman += e.PriceToman
		totals[i].USD = totals[i].USD.Add(e.PriceUSD)
		totals[i].Count++
		grand += e.PriceToman
	}

	for i := range totals {
		totals[i].Share = percent(decimal.NewFromInt(totals[i].Toman), decimal.NewFromInt(grand))
	}
	sort.SliceStable(totals, func(a, b int) bool {
		if totals[a].Toman != totals[b].Toman {
			return totals[a].Toman > totals[b].Toman
		}
		return totals[a].Category < totals[b].Category
	})
	return totals
}

// percent returns part/whole*100 to one decimal, or zero when whole is zero.
func percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(1)
}

type Bucket struct {
	Key   string          `json:"key"`
	Toman int64           `json:"toman"`
	USD   decimal.Decimal `json:"usd"`
	Count int             `json:"count"`
}

// TimeSeries buckets expenses at granularity g, sorted by key ascending.
func TimeSeries(expenses []core.Expense, g Granularity) []Bucket {
	index := map[string]int{}
	buckets := []Bucket{}
	for _, e := range expenses {
		key := BucketKey(e.Date, g)
		i, ok := index[key]
		if !ok {
			buckets = append(buckets, Bucket{Key: key})
			i = len(buckets) - 1
			index[key] = i
		}
		buckets[i].Toman += e.PriceToman
		buckets[i].USD = buckets[i].USD.Add(e.PriceUSD)
		buckets[i].Count++
	}
	sort.Slice(buckets, func(a, b int) bool { return buckets[a].Key < buckets[b].Key })
	return buckets
}

// MonthComparison compares the calendar month of today with the one before.
// Change percentages are nil when the previous month has nothing to compare
// against.
type MonthComparison struct {
	CurrentMonth       string           `json:"currentMonth"`
	PreviousMonth      string           `json:"previousMonth"`
	Current            Amount           `json:"current"`
	Previous           Amount           `json:"previous"`
	ChangeUSDPercent   *decimal.Decimal `json:"changeUsdPercent"`
	ChangeTomanPercent *decimal.Decimal `json:"changeTomanPercent"`
}

func MonthOverMonth(expenses []core.Expense, today core.Date) MonthComparison {
	cur := firstOfMonth(today)
	prev := core.Date{Time: cur.AddDate(0, -1, 0)}
	curKey, prevKey := MonthKey(cur), MonthKey(prev)

	mc := MonthComparison{CurrentMonth: curKey, PreviousMonth: prevKey}
	for _, e := range expenses {
		switch MonthKey(e.Date) {
		case curKey:
			mc.Current.add(e)
		case prevKey:
			mc.Previous.add(e)
		}
	}

	hundred := decimal.NewFromInt(100)
	if mc.Previous.USD.IsPositive() {
		p := mc.Current.USD.Sub(mc.Previous.USD).Div(mc.Previous.USD).Mul(hundred).Round(1)
		mc.ChangeUSDPercent = &p
	}
	if mc.Previous.Toman > 0 {
		prevToman := decimal.NewFromInt(mc.Previous.Toman)
		p := decimal.NewFromInt(mc.Current.Toman).Sub(prevToman).Div(prevToman).Mul(hundred).Round(1)
		mc.ChangeTomanPercent = &p
	}
	return mc
}

// Highest returns the expense with the largest Toman amount, the first one
// in input order on ties, or nil for an empty set.
func Highest(expenses []core.Expense) *core.Expense {
	if len(expenses) == 0 {
		return nil
	}
	best := expenses[0]
	for _, e := range expenses[1:] {
		if e.PriceToman > best.PriceToman {
			best = e
		}
	}
	return &best
}

// TopCategories returns the n largest categories of the current month
// within expenses, or of all of expenses when the month has none.
func TopCategories(expenses []core.Expense, today core.Date, n int) []CategoryTotal {
	month := MonthKey(today)
	var current []core.Expense
	for _, e := range expenses {
		if MonthKey(e.Date) == month {
			current = append(current, e)
		}
	}
	if len(current) == 0 {
		current = expenses
	}
	totals := CategoryTotals(current)
	if len(totals) > n {
		totals = totals[:n]
	}
	return totals
}
