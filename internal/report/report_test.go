package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazine/internal/core"
)

func day(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func expense(id int64, date, category string, toman int64, price string) core.Expense {
	return core.Expense{
		ID:         id,
		Date:       day(date),
		Category:   category,
		PriceToman: toman,
		PriceUSD:   usd(price),
	}
}

func TestParseRange(t *testing.T) {
	for in, want := range map[string]Range{
		"":           RangeAllTime,
		"7d":         Range7D,
		" 30D ":      Range30D,
		"this_month": RangeThisMonth,
		"LAST_MONTH": RangeLastMonth,
		"ytd":        RangeYTD,
		"ALL_TIME":   RangeAllTime,
	} {
		got, err := ParseRange(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRange("90D")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestBounds(t *testing.T) {
	today := day("2025-03-15")
	cases := []struct {
		r          Range
		start, end string
		g          Granularity
	}{
		{Range7D, "2025-03-09", "2025-03-15", Daily},
		{Range30D, "2025-02-14", "2025-03-15", Daily},
		{RangeThisMonth, "2025-03-01", "2025-03-15", Daily},
		{RangeLastMonth, "2025-02-01", "2025-02-28", Daily},
		{RangeYTD, "2025-01-01", "2025-03-15", Weekly},
	}
	for _, tc := range cases {
		t.Run(string(tc.r), func(t *testing.T) {
			b, ok := tc.r.Bounds(today)
			require.True(t, ok)
			assert.Equal(t, tc.start, b.Start.String())
			assert.Equal(t, tc.end, b.End.String())
			assert.Equal(t, tc.g, tc.r.Granularity(today))
		})
	}

	_, ok := RangeAllTime.Bounds(today)
	assert.False(t, ok)
	assert.Equal(t, Monthly, RangeAllTime.Granularity(today))
	assert.Equal(t, Monthly, RangeYTD.Granularity(day("2025-12-01")))
}

func TestLastMonthAcrossYearBoundary(t *testing.T) {
	b, ok := RangeLastMonth.Bounds(day("2025-01-31"))
	require.True(t, ok)
	assert.Equal(t, "2024-12-01", b.Start.String())
	assert.Equal(t, "2024-12-31", b.End.String())
}

func TestSevenDayFilterIsInclusive(t *testing.T) {
	today := day("2025-03-15")
	all := []core.Expense{
		expense(1, "2025-03-15", "Coffee", 100, "1"),
		expense(2, "2025-03-09", "Coffee", 100, "1"), // six days ago
		expense(3, "2025-03-07", "Coffee", 100, "1"), // eight days ago
	}

	got := Filter(all, Range7D, today)
	ids := []int64{}
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Len(t, Filter(all, RangeAllTime, today), 3)
}

func TestCategoryTotalsSumCurrenciesIndependently(t *testing.T) {
	totals := CategoryTotals([]core.Expense{
		expense(1, "2025-03-01", "Food", 100000, "1.50"),
		expense(2, "2025-03-02", "Rent", 120000, "2.00"),
		expense(3, "2025-03-03", "Food", 50000, "0.75"),
	})

	require.Len(t, totals, 2)
	food := totals[0]
	assert.Equal(t, "Food", food.Category)
	assert.Equal(t, int64(150000), food.Toman)
	assert.True(t, food.USD.Equal(usd("2.25")), food.USD.String())
	assert.Equal(t, 2, food.Count)
	assert.True(t, food.Share.Equal(usd("55.6")), food.Share.String())

	assert.Equal(t, "Rent", totals[1].Category)
	assert.Equal(t, "اجاره", totals[1].LabelFa)
}

func TestCategoryTotalsTieBreaksByName(t *testing.T) {
	totals := CategoryTotals([]core.Expense{
		expense(1, "2025-03-01", "Travel", 500, "1"),
		expense(2, "2025-03-01", "Coffee", 500, "1"),
	})
	require.Len(t, totals, 2)
	assert.Equal(t, "Coffee", totals[0].Category)
	assert.Equal(t, "Travel", totals[1].Category)
}

func TestWeekKey(t *testing.T) {
	// 2025-01-01 is a Wednesday; weeks roll over on Sunday.
	cases := map[string]string{
		"2025-01-01": "2025-W01",
		"2025-01-04": "2025-W01",
		"2025-01-05": "2025-W02",
		"2025-03-15": "2025-W11",
		"2024-12-31": "2024-W53",
	}
	for in, want := range cases {
		assert.Equal(t, want, WeekKey(day(in)), in)
	}
}

func TestTimeSeriesSortedAscending(t *testing.T) {
	exps := []core.Expense{
		expense(1, "2025-03-02", "Coffee", 10, "0.10"),
		expense(2, "2025-01-20", "Coffee", 20, "0.20"),
		expense(3, "2025-03-28", "Coffee", 30, "0.30"),
	}

	monthly := TimeSeries(exps, Monthly)
	require.Len(t, monthly, 2)
	assert.Equal(t, "2025-01", monthly[0].Key)
	assert.Equal(t, "2025-03", monthly[1].Key)
	assert.Equal(t, int64(40), monthly[1].Toman)
	assert.True(t, monthly[1].USD.Equal(usd("0.40")))

	daily := TimeSeries(exps, Daily)
	require.Len(t, daily, 3)
	assert.Equal(t, "2025-01-20", daily[0].Key)
	assert.Equal(t, "2025-03-28", daily[2].Key)

	assert.Empty(t, TimeSeries(nil, Weekly))
}

func TestMonthOverMonth(t *testing.T) {
	today := day("2025-03-15")
	mc := MonthOverMonth([]core.Expense{
		expense(1, "2025-03-02", "Coffee", 300000, "30"),
		expense(2, "2025-02-10", "Coffee", 200000, "20"),
		expense(3, "2025-01-10", "Coffee", 999999, "99"),
	}, today)

	assert.Equal(t, "2025-03", mc.CurrentMonth)
	assert.Equal(t, "2025-02", mc.PreviousMonth)
	assert.Equal(t, int64(300000), mc.Current.Toman)
	assert.Equal(t, int64(200000), mc.Previous.Toman)
	require.NotNil(t, mc.ChangeUSDPercent)
	require.NotNil(t, mc.ChangeTomanPercent)
	assert.True(t, mc.ChangeUSDPercent.Equal(decimal.NewFromInt(50)))
	assert.True(t, mc.ChangeTomanPercent.Equal(decimal.NewFromInt(50)))
}

func TestMonthOverMonthWithoutPriorMonthIsNull(t *testing.T) {
	mc := MonthOverMonth([]core.Expense{
		expense(1, "2025-03-02", "Coffee", 300000, "30"),
	}, day("2025-03-15"))
	assert.Nil(t, mc.ChangeUSDPercent)
	assert.Nil(t, mc.ChangeTomanPercent)

	b, err := json.Marshal(mc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"changeUsdPercent":null`)
}

func TestHighest(t *testing.T) {
	assert.Nil(t, Highest(nil))

	h := Highest([]core.Expense{
		expense(1, "2025-03-01", "Coffee", 100, "1"),
		expense(2, "2025-03-01", "Rent", 900, "9"),
		expense(3, "2025-03-01", "Travel", 900, "9"),
	})
	require.NotNil(t, h)
	assert.Equal(t, int64(2), h.ID)
}

func TestTopCategoriesPrefersCurrentMonth(t *testing.T) {
	today := day("2025-03-15")
	exps := []core.Expense{
		expense(1, "2025-03-01", "Coffee", 100, "1"),
		expense(2, "2025-03-02", "Transport", 300, "3"),
		expense(3, "2025-03-03", "Travel", 200, "2"),
		expense(4, "2025-03-04", "Other", 50, "0.5"),
		expense(5, "2025-02-01", "Rent", 9000, "90"),
	}

	top := TopCategories(exps, today, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "Transport", top[0].Category)
	assert.Equal(t, "Travel", top[1].Category)
	assert.Equal(t, "Coffee", top[2].Category)

	// No rows this month: fall back to the whole set.
	top = TopCategories(exps[4:], today, 3)
	require.Len(t, top, 1)
	assert.Equal(t, "Rent", top[0].Category)
}

func TestComputeStats(t *testing.T) {
	today := day("2025-03-10")
	st := ComputeStats([]core.Expense{
		expense(1, "2025-03-10", "Coffee", 2000, "2.00"),
		expense(2, "2025-03-01", "Coffee", 1000, "1.00"),
	}, today)

	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 10, st.Days)
	assert.Equal(t, int64(3000), st.Total.Toman)
	assert.Equal(t, int64(1500), st.AveragePerExpense.Toman)
	assert.True(t, st.AveragePerExpense.USD.Equal(usd("1.50")))
	assert.Equal(t, int64(300), st.AverageDaily.Toman)
	assert.True(t, st.AverageDaily.USD.Equal(usd("0.30")))

	empty := ComputeStats(nil, today)
	assert.Equal(t, 0, empty.Count)
	assert.Equal(t, 1, empty.Days)
	assert.Zero(t, empty.AveragePerExpense.Toman)
	assert.True(t, empty.AveragePerExpense.USD.IsZero())
}

func TestSummarize(t *testing.T) {
	today := core.DateOf(time.Date(2025, 3, 15, 23, 0, 0, 0, time.UTC))
	all := []core.Expense{
		expense(1, "2025-03-14", "Coffee", 100000, "1.60"),
		expense(2, "2025-03-01", "Rent", 500000, "8.00"),
		expense(3, "2025-02-20", "Coffee", 50000, "0.80"),
	}

	s := Summarize(all, Range7D, today)
	require.NotNil(t, s.Bounds)
	assert.Equal(t, "2025-03-09", s.Bounds.Start.String())
	assert.Equal(t, Daily, s.Granularity)
	assert.Equal(t, 1, s.Stats.Count)
	require.Len(t, s.Series, 1)
	assert.Equal(t, "2025-03-14", s.Series[0].Key)
	require.NotNil(t, s.Highest)
	assert.Equal(t, int64(1), s.Highest.ID)

	// Month-over-month ignores the range filter.
	assert.Equal(t, int64(600000), s.MonthOverMonth.Current.Toman)
	assert.Equal(t, int64(50000), s.MonthOverMonth.Previous.Toman)

	all7 := Summarize(all, RangeAllTime, today)
	assert.Nil(t, all7.Bounds)
	assert.Equal(t, Monthly, all7.Granularity)
	assert.Len(t, all7.Series, 2)

	b, err := json.Marshal(all7)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"bounds":null`)
	assert.Contains(t, string(b), `"range":"ALL_TIME"`)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, RangeThisMonth, day("2025-03-15"))
	assert.Nil(t, s.Highest)
	assert.NotNil(t, s.Categories)
	assert.NotNil(t, s.Series)
	assert.Empty(t, s.TopCategories)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"categories":[]`)
	assert.Contains(t, string(b), `"series":[]`)
}
