// Package storagetest holds the behavioural suite every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"hazine/internal/core"
	"hazine/internal/storage"
)

// StoreSuite runs against a fresh, empty store per test.
type StoreSuite struct {
	suite.Suite

	// NewStore opens an empty store. The suite closes it after each test.
	NewStore func() (storage.Store, error)

	store storage.Store
	ctx   context.Context
	clock time.Time
}

func (s *StoreSuite) SetupTest() {
	store, err := s.NewStore()
	require.NoError(s.T(), err, "could not open store")
	s.store = store
	s.ctx = context.Background()
	s.clock = time.Date(2025, time.March, 1, 9, 0, 0, 123456000, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *StoreSuite) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *StoreSuite) input(day int, category string, toman int64, usd string, tags ...int64) core.ExpenseInput {
	return core.ExpenseInput{
		Date:        core.NewDate(2025, time.February, day),
		Category:    category,
		Description: fmt.Sprintf("%s on %d", category, day),
		PriceToman:  toman,
		PriceUSD:    decimal.RequireFromString(usd),
		TagIDs:      tags,
	}
}

func (s *StoreSuite) tag(name string) core.Tag {
	t, ok, err := s.store.InsertTag(s.ctx, name, s.tick())
	require.NoError(s.T(), err)
	require.True(s.T(), ok, "tag %q should be new", name)
	return t
}

func (s *StoreSuite) create(in core.ExpenseInput) int64 {
	id, err := s.store.CreateExpense(s.ctx, in, s.tick())
	require.NoError(s.T(), err)
	require.Positive(s.T(), id)
	return id
}

func tagNames(tags []core.Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

func (s *StoreSuite) TestCreateThenGetRoundTrips() {
	food := s.tag("food")
	work := s.tag("work")

	in := s.input(3, "Groceries", 150_000, "2.47", food.ID, work.ID)
	id := s.create(in)

	got, err := s.store.GetExpense(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(id, got.ID)
	s.Equal("2025-02-03", got.Date.String())
	s.Equal("Groceries", got.Category)
	s.Equal(in.Description, got.Description)
	s.Equal(int64(150_000), got.PriceToman)
	s.True(got.PriceUSD.Equal(decimal.RequireFromString("2.47")), "price_usd = %s", got.PriceUSD)
	s.True(got.CreatedAt.Equal(s.clock), "created_at = %s, want %s", got.CreatedAt, s.clock)
	s.ElementsMatch([]string{"food", "work"}, tagNames(got.Tags))
}

func (s *StoreSuite) TestListMatchesCreated() {
	coffee := s.tag("coffee")
	ids := []int64{
		s.create(s.input(1, "Coffee", 90_000, "1.5", coffee.ID)),
		s.create(s.input(5, "Rent", 10_000_000, "166.67")),
		s.create(s.input(5, "Transport", 40_000, "0.66")),
	}

	list, err := s.store.ListExpenses(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 3)

	// date desc, then created_at desc
	s.Equal([]int64{ids[2], ids[1], ids[0]}, []int64{list[0].ID, list[1].ID, list[2].ID})
	s.Equal([]string{"coffee"}, tagNames(list[2].Tags))
	s.NotNil(list[0].Tags)
	s.Empty(list[0].Tags)
}

func (s *StoreSuite) TestUpdateReplacesFieldsAndTags() {
	a := s.tag("a")
	b := s.tag("b")
	c := s.tag("c")
	id := s.create(s.input(2, "Coffee", 50_000, "0.83", a.ID, b.ID))
	before, err := s.store.GetExpense(s.ctx, id)
	s.Require().NoError(err)

	upd := s.input(4, "Entertainment", 75_000, "1.25", c.ID)
	upd.Description = "cinema"
	s.Require().NoError(s.store.UpdateExpense(s.ctx, id, upd))

	got, err := s.store.GetExpense(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("2025-02-04", got.Date.String())
	s.Equal("Entertainment", got.Category)
	s.Equal("cinema", got.Description)
	s.Equal(int64(75_000), got.PriceToman)
	s.Equal([]string{"c"}, tagNames(got.Tags))
	s.True(got.CreatedAt.Equal(before.CreatedAt), "update must not touch created_at")

	upd.TagIDs = nil
	s.Require().NoError(s.store.UpdateExpense(s.ctx, id, upd))
	got, err = s.store.GetExpense(s.ctx, id)
	s.Require().NoError(err)
	s.Empty(got.Tags)
}

func (s *StoreSuite) TestMissingRowsReportNotFound() {
	_, err := s.store.GetExpense(s.ctx, 999)
	s.True(errors.Is(err, core.ErrNotFound), "get: %v", err)

	err = s.store.UpdateExpense(s.ctx, 999, s.input(1, "Other", 1, "0"))
	s.True(errors.Is(err, core.ErrNotFound), "update: %v", err)

	err = s.store.DeleteExpense(s.ctx, 999)
	s.True(errors.Is(err, core.ErrNotFound), "delete: %v", err)

	_, err = s.store.FindTagByName(s.ctx, "nope")
	s.True(errors.Is(err, core.ErrNotFound), "find tag: %v", err)
}

func (s *StoreSuite) TestUnknownTagIsRejectedAtomically() {
	_, err := s.store.CreateExpense(s.ctx, s.input(1, "Other", 1, "0", 12345), s.tick())
	s.True(core.IsValidation(err), "expected validation error, got %v", err)

	list, err := s.store.ListExpenses(s.ctx)
	s.Require().NoError(err)
	s.Empty(list, "failed create must not leave a row behind")

	t := s.tag("keep")
	id := s.create(s.input(1, "Other", 1, "0", t.ID))
	err = s.store.UpdateExpense(s.ctx, id, s.input(9, "Rent", 2, "0", t.ID, 12345))
	s.True(core.IsValidation(err), "expected validation error, got %v", err)

	got, err := s.store.GetExpense(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Other", got.Category, "failed update must roll back")
	s.Equal([]string{"keep"}, tagNames(got.Tags))
}

func (s *StoreSuite) TestDeleteRemovesAssociations() {
	t := s.tag("travel")
	id := s.create(s.input(7, "Travel", 5_000_000, "80", t.ID))
	other := s.create(s.input(8, "Travel", 1_000, "0.02", t.ID))

	s.Require().NoError(s.store.DeleteExpense(s.ctx, id))

	_, err := s.store.GetExpense(s.ctx, id)
	s.True(errors.Is(err, core.ErrNotFound))

	// The tag survives and still labels the remaining expense.
	tags, err := s.store.ListTags(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"travel"}, tagNames(tags))
	got, err := s.store.GetExpense(s.ctx, other)
	s.Require().NoError(err)
	s.Equal([]string{"travel"}, tagNames(got.Tags))

	// Re-creating with the same tag must not trip over a stale join row.
	s.create(s.input(7, "Travel", 5_000_000, "80", t.ID))
}

func (s *StoreSuite) TestTagNamesAreCaseInsensitive() {
	orig := s.tag("Food")

	got, ok, err := s.store.InsertTag(s.ctx, "food", s.tick())
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(orig.ID, got.ID)
	s.Equal("Food", got.Name)

	found, err := s.store.FindTagByName(s.ctx, "FOOD")
	s.Require().NoError(err)
	s.Equal(orig.ID, found.ID)

	tags, err := s.store.ListTags(s.ctx)
	s.Require().NoError(err)
	s.Len(tags, 1)
}

func (s *StoreSuite) TestListTagsSortedByName() {
	s.tag("zeta")
	s.tag("Alpha")
	s.tag("mid")

	tags, err := s.store.ListTags(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Alpha", "mid", "zeta"}, tagNames(tags))
}

func (s *StoreSuite) TestPaginationConcatenatesToFullListing() {
	t := s.tag("x")
	// Several expenses share a date, and two share created_at, to exercise
	// every tie-breaker in the ordering.
	sameInstant := s.tick()
	for day := 1; day <= 6; day++ {
		for n := 0; n < 3; n++ {
			tags := []int64{}
			if n == 1 {
				tags = append(tags, t.ID)
			}
			in := s.input(day, "Other", int64(day*100+n), "0", tags...)
			createdAt := s.tick()
			if day == 3 {
				createdAt = sameInstant
			}
			_, err := s.store.CreateExpense(s.ctx, in, createdAt)
			s.Require().NoError(err)
		}
	}

	full, err := s.store.ListExpenses(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(full, 18)

	for _, size := range []int{1, 4, 7, 18, 50} {
		var (
			got    []core.Expense
			cursor *storage.Cursor
		)
		for i := 0; i < 100; i++ {
			page, err := s.store.ListExpensesPage(s.ctx, size, cursor)
			s.Require().NoError(err)
			s.LessOrEqual(len(page.Expenses), size)
			got = append(got, page.Expenses...)
			if !page.HasMore {
				s.Nil(page.Next)
				break
			}
			s.Require().NotNil(page.Next)

			// Cursors survive their wire encoding.
			cursor, err = storage.DecodeCursor(page.Next.Encode())
			s.Require().NoError(err)
		}

		s.Require().Len(got, len(full), "page size %d", size)
		for i := range full {
			s.Equal(full[i].ID, got[i].ID, "page size %d position %d", size, i)
			s.Equal(tagNames(full[i].Tags), tagNames(got[i].Tags))
		}
	}
}

func (s *StoreSuite) TestEmptyPage() {
	page, err := s.store.ListExpensesPage(s.ctx, 20, nil)
	s.Require().NoError(err)
	s.NotNil(page.Expenses)
	s.Empty(page.Expenses)
	s.False(page.HasMore)
	s.Nil(page.Next)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}
