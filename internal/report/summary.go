package report

import (
	"github.com/shopspring/decimal"

	"hazine/internal/core"
)

// TopCategoryCount is how many categories Summary.TopCategories holds.
const TopCategoryCount = 3

// Stats are the headline numbers of a filtered set.
type Stats struct {
	Count             int    `json:"count"`
	Total             Amount `json:"total"`
	AveragePerExpense Amount `json:"averagePerExpense"`
	AverageDaily      Amount `json:"averageDaily"`
	// Days is the divisor of AverageDaily: from the earliest expense to today.
	Days int `json:"days"`
}

// Summary is the payload of GET /reports/summary.
type Summary struct {
	Range          Range           `json:"range"`
	Today          core.Date       `json:"today"`
	Bounds         *Bounds         `json:"bounds"`
	Granularity    Granularity     `json:"granularity"`
	Stats          Stats           `json:"stats"`
	Categories     []CategoryTotal `json:"categories"`
	TopCategories  []CategoryTotal `json:"topCategories"`
	Series         []Bucket        `json:"series"`
	MonthOverMonth MonthComparison `json:"monthOverMonth"`
	Highest        *core.Expense   `json:"highest"`
}

// Summarize builds the report of r over all expenses. Month-over-month always
// looks at the unfiltered set; everything else at the expenses inside r.
func Summarize(all []core.Expense, r Range, today core.Date) Summary {
	filtered := Filter(all, r, today)
	g := r.Granularity(today)

	s := Summary{
		Range:          r,
		Today:          today,
		Granularity:    g,
		Stats:          ComputeStats(filtered, today),
		Categories:     CategoryTotals(filtered),
		TopCategories:  TopCategories(filtered, today, TopCategoryCount),
		Series:         TimeSeries(filtered, g),
		MonthOverMonth: MonthOverMonth(all, today),
		Highest:        Highest(filtered),
	}
	if b, ok := r.Bounds(today); ok {
		s.Bounds = &b
	}
	return s
}

// ComputeStats totals expenses and averages them per expense and per day.
func ComputeStats(expenses []core.Expense, today core.Date) Stats {
	st := Stats{Count: len(expenses), Total: Total(expenses)}

	earliest := today
	for _, e := range expenses {
		if e.Date.Before(earliest) {
			earliest = e.Date
		}
	}
	st.Days = daysBetween(earliest, today) + 1

	st.AveragePerExpense = average(st.Total, st.Count)
	st.AverageDaily = average(st.Total, st.Days)
	return st
}

// average divides both currencies by n, rounding Toman to a whole number and
// USD to cents. Zero n yields zero.
func average(a Amount, n int) Amount {
	if n <= 0 {
		return Amount{USD: decimal.Zero}
	}
	d := decimal.NewFromInt(int64(n))
	return Amount{
		Toman: decimal.NewFromInt(a.Toman).Div(d).Round(0).IntPart(),
		USD:   a.USD.Div(d).Round(2),
	}
}
