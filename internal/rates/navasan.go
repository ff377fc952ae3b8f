// Package rates fetches the USD/Toman rate from Navasan and keeps the latest
// snapshot in memory.
package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hazine/internal/core"
)

// DefaultBaseURL is the public Navasan API.
const DefaultBaseURL = "https://api.navasan.tech"

const defaultTimeout = 10 * time.Second

var (
	// ErrNotConfigured is returned by every call of a client built without
	// an API key.
	ErrNotConfigured = errors.New("exchange rate API key not configured")
	// ErrUpstream wraps provider transport, status and decoding failures.
	ErrUpstream = errors.New("exchange rate provider failed")
)

// Quote is the provider's USD entry. Value is whole Toman per dollar as the
// provider sends it; Change is the signed delta against the previous close.
type Quote struct {
	Value     string          `json:"value"`
	Change    decimal.Decimal `json:"change"`
	Timestamp int64           `json:"timestamp"`
	Date      string          `json:"date"`
}

// Rate parses Value.
func (q Quote) Rate() (decimal.Decimal, error) {
	return core.ParseRate(q.Value)
}

// Usage is the provider's quota report.
type Usage struct {
	Monthly int64 `json:"monthly_usage"`
	Daily   int64 `json:"daily_usage"`
	Hourly  int64 `json:"hourly_usage"`
}

// Provider returns the latest USD quote.
type Provider interface {
	Latest(ctx context.Context) (Quote, error)
}

// UsageReporter is implemented by providers that expose quota usage.
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

type NavasanClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var (
	_ Provider      = (*NavasanClient)(nil)
	_ UsageReporter = (*NavasanClient)(nil)
)

// NewNavasanClient builds a client. An empty baseURL means DefaultBaseURL;
// a nil httpClient gets one with a 10s timeout.
func NewNavasanClient(baseURL, apiKey string, httpClient *http.Client) *NavasanClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &NavasanClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// Configured reports whether an API key is present.
func (c *NavasanClient) Configured() bool {
	return c.apiKey != ""
}

// wireField is a provider value sent either as a bare number or as a
// string, possibly with thousands separators ("61,337").
type wireField string

func (f *wireField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = wireField(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = wireField(n)
	}
	return nil
}

// wire mirrors the provider payload, which sends numbers both bare and quoted.
type wireQuote struct {
	Value     wireField `json:"value"`
	Change    wireField `json:"change"`
	Timestamp wireField `json:"timestamp"`
	Date      string    `json:"date"`
}

type wireUsage struct {
	Monthly json.Number `json:"monthly_usage"`
	Daily   json.Number `json:"daily_usage"`
	Hourly  json.Number `json:"hourly_usage"`
}

func (c *NavasanClient) Latest(ctx context.Context) (Quote, error) {
	var body struct {
		USD *wireQuote `json:"usd"`
	}
	if err := c.get(ctx, "/latest/", url.Values{"item": {"usd"}}, &body); err != nil {
		return Quote{}, err
	}
	if body.USD == nil {
		return Quote{}, fmt.Errorf("%w: response has no usd item", ErrUpstream)
	}

	q := Quote{Value: string(body.USD.Value), Date: body.USD.Date}
	if _, err := q.Rate(); err != nil {
		return Quote{}, fmt.Errorf("%w: invalid usd value %q", ErrUpstream, q.Value)
	}
	if s := string(body.USD.Change); s != "" {
		change, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return Quote{}, fmt.Errorf("%w: invalid usd change %q", ErrUpstream, s)
		}
		q.Change = change
	}
	if s := string(body.USD.Timestamp); s != "" {
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: invalid usd timestamp %q", ErrUpstream, s)
		}
		q.Timestamp = ts
	}
	return q, nil
}

func (c *NavasanClient) Usage(ctx context.Context) (Usage, error) {
	var body wireUsage
	if err := c.get(ctx, "/usage/", nil, &body); err != nil {
		return Usage{}, err
	}
	var u Usage
	u.Monthly, _ = body.Monthly.Int64()
	u.Daily, _ = body.Daily.Int64()
	u.Hourly, _ = body.Hourly.Int64()
	return u, nil
}

func (c *NavasanClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The request URL carries the key; report only the cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%w: GET %s: %v", ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s returned %d: %s", ErrUpstream, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}
