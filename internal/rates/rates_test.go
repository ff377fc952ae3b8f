package rates

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazine/internal/log"
)

type fakeNavasan struct {
	latestCalls atomic.Int32
	usageCalls  atomic.Int32
	failing     atomic.Bool
	delay       atomic.Int64

	mu    sync.Mutex
	value string
}

func (f *fakeNavasan) setValue(v string) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *fakeNavasan) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != "secret" {
		http.Error(w, "bad key", http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/latest/":
		f.latestCalls.Add(1)
		time.Sleep(time.Duration(f.delay.Load()))
		if f.failing.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		f.mu.Lock()
		value := f.value
		f.mu.Unlock()
		if value == "" {
			value = "60250"
		}
		io.WriteString(w, `{"usd":{"value":"`+value+`","change":-150,"timestamp":1735700000,"date":"1403-10-12 10:00:00"}}`)
	case "/usage/":
		f.usageCalls.Add(1)
		io.WriteString(w, `{"monthly_usage":120,"daily_usage":4,"hourly_usage":"1"}`)
	default:
		http.NotFound(w, r)
	}
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Format: log.FormatText, Output: io.Discard})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) (*fakeNavasan, *clock, *Cache) {
	t.Helper()
	fake := &fakeNavasan{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	clk := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCache(
		NewNavasanClient(srv.URL, "secret", srv.Client()),
		WithClock(clk.Now),
		WithLogger(quietLogger()),
	)
	t.Cleanup(c.Wait)
	return fake, clk, c
}

func TestLatestParsesQuote(t *testing.T) {
	fake := &fakeNavasan{}
	fake.setValue("61,337")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	q, err := NewNavasanClient(srv.URL+"/", "secret", nil).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "61,337", q.Value)
	assert.True(t, q.Change.Equal(decimal.NewFromInt(-150)))
	assert.Equal(t, int64(1735700000), q.Timestamp)
	assert.Equal(t, "1403-10-12 10:00:00", q.Date)

	rate, err := q.Rate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(61337)))
}

func TestLatestAcceptsBareAndQuotedFields(t *testing.T) {
	cases := map[string]struct {
		body string
		rate int64
	}{
		"bare number":      {`{"usd":{"value":60250,"change":"-1,500","timestamp":"1735700000","date":"d"}}`, 60250},
		"quoted number":    {`{"usd":{"value":"60250","change":null,"timestamp":1735700000,"date":"d"}}`, 60250},
		"thousands commas": {`{"usd":{"value":" 1,061,337 ","change":0,"timestamp":1735700000,"date":"d"}}`, 1061337},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			q, err := NewNavasanClient(srv.URL, "secret", nil).Latest(context.Background())
			require.NoError(t, err)
			rate, err := q.Rate()
			require.NoError(t, err)
			assert.True(t, rate.Equal(decimal.NewFromInt(tc.rate)), rate.String())
			assert.Equal(t, int64(1735700000), q.Timestamp)
		})
	}
}

func TestLatestRejectsNonNumericValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"usd":{"value":"n/a","change":0,"timestamp":1,"date":"d"}}`)
	}))
	defer srv.Close()

	_, err := NewNavasanClient(srv.URL, "secret", nil).Latest(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
}

func TestUsageAcceptsQuotedNumbers(t *testing.T) {
	srv := httptest.NewServer(&fakeNavasan{})
	defer srv.Close()

	u, err := NewNavasanClient(srv.URL, "secret", nil).Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Usage{Monthly: 120, Daily: 4, Hourly: 1}, u)
}

func TestMissingKeyIsNotConfigured(t *testing.T) {
	fake := &fakeNavasan{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewCache(NewNavasanClient(srv.URL, "", nil), WithLogger(quietLogger()))
	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, fake.latestCalls.Load(), "no request may be sent without a key")
}

func TestUpstreamErrorsDoNotLeakKey(t *testing.T) {
	fake := &fakeNavasan{}
	fake.failing.Store(true)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := NewNavasanClient(srv.URL, "secret", nil).Latest(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "502")
	assert.NotContains(t, err.Error(), "secret")

	// Transport failure: nothing listens on a closed server.
	srv.Close()
	_, err = NewNavasanClient(srv.URL, "secret", nil).Latest(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
	assert.NotContains(t, err.Error(), "secret")
}

func TestMalformedPayloadIsUpstreamError(t *testing.T) {
	for name, body := range map[string]string{
		"not json":  `<html>`,
		"no usd":    `{"eur":{"value":"70000"}}`,
		"bad value": `{"usd":{"value":"0"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()
			_, err := NewNavasanClient(srv.URL, "secret", nil).Latest(context.Background())
			assert.ErrorIs(t, err, ErrUpstream)
		})
	}
}

func TestCacheServesWithinTTLWithoutNetwork(t *testing.T) {
	fake, clk, c := newFixture(t)
	ctx := context.Background()

	first, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "60250", first.USD.Value)
	assert.Equal(t, clk.Now(), first.Meta.FetchedAt)
	assert.Equal(t, clk.Now().Add(DefaultTTL), first.Meta.CachedUntil)
	assert.False(t, first.Meta.Stale)

	clk.Advance(DefaultTTL - time.Second)
	second, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.latestCalls.Load())

	c.Wait()
	assert.Equal(t, int32(1), fake.usageCalls.Load(), "usage is looked up once per successful fetch")
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	fake, clk, c := newFixture(t)
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)

	clk.Advance(DefaultTTL)
	fake.setValue("62000")
	snap, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "62000", snap.USD.Value)
	assert.Equal(t, int32(2), fake.latestCalls.Load())
}

func TestCacheServesStaleOnFailure(t *testing.T) {
	fake, clk, c := newFixture(t)
	ctx := context.Background()

	fresh, err := c.Get(ctx)
	require.NoError(t, err)

	clk.Advance(DefaultTTL + time.Hour)
	fake.failing.Store(true)

	stale, err := c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, stale.Meta.Stale)
	assert.Equal(t, fresh.USD, stale.USD)
	assert.Equal(t, fresh.Meta.FetchedAt, stale.Meta.FetchedAt)

	// Recovery replaces the snapshot wholesale.
	fake.failing.Store(false)
	recovered, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, recovered.Meta.Stale)
	assert.Equal(t, clk.Now(), recovered.Meta.FetchedAt)
}

func TestCacheFailsWithoutSnapshot(t *testing.T) {
	fake, _, c := newFixture(t)
	fake.failing.Store(true)

	_, err := c.Get(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(0), fake.usageCalls.Load())
}

func TestClearForcesRefetch(t *testing.T) {
	fake, _, c := newFixture(t)
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)
	c.Clear()
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.latestCalls.Load())
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	fake, _, c := newFixture(t)
	fake.delay.Store(int64(50 * time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fake.latestCalls.Load())
}

func TestUsageFailureDoesNotAffectRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/usage") {
			http.Error(w, "quota service down", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"usd":{"value":"60000","change":0,"timestamp":1,"date":"x"}}`)
	}))
	defer srv.Close()

	c := NewCache(NewNavasanClient(srv.URL, "k", nil), WithLogger(quietLogger()))
	rate, snap, err := c.Rate(context.Background())
	c.Wait()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(60000)))
	assert.Equal(t, "60000", snap.USD.Value)
}

func TestSnapshotJSONShape(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := json.Marshal(Snapshot{
		USD:  Quote{Value: "60250", Change: decimal.NewFromInt(-150), Timestamp: 1, Date: "d"},
		Meta: Meta{FetchedAt: at, CachedUntil: at.Add(DefaultTTL)},
	})
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"usd":{"value":"60250","change":-150,"timestamp":1,"date":"d"}`)
	assert.Contains(t, s, `"_meta":{"fetchedAt":"2025-01-01T00:00:00Z","cachedUntil":"2025-01-02T00:00:00Z"}`)
}

func TestTTLOption(t *testing.T) {
	c := NewCache(NewNavasanClient("", "", nil), WithTTL(time.Minute), WithTTL(0))
	assert.Equal(t, time.Minute, c.TTL())
}
