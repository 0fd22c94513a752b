// Copyright 2025 Coinrank Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coingecko implements the client for the CoinGecko REST API, the
// upstream source of the daily market-cap listing. The client is injected
// into the context; requests classify failures into the sentinels below so
// the collector can decide between retrying and aborting.
package coingecko

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

type contextKey int

const (
	clientContextKey contextKey = iota
	httpClientContextKey
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://api.coingecko.com/api/v3"

// MaxPerPage is the provider's page size ceiling; requests always use the
// maximum to minimize the number of round-trips.
const MaxPerPage = 250

// DefaultTimeout bounds each page request.
const DefaultTimeout = 30 * time.Second

// Failure classification sentinels. Anything not wrapped in one of these is a
// permanent failure (malformed payload, client-side bug, non-throttling 4xx).
var (
	// ErrThrottled: the upstream returned 429.
	ErrThrottled = errors.Reason("upstream throttled the request")
	// ErrServer: the upstream returned a 5xx.
	ErrServer = errors.Reason("upstream server error")
	// ErrTimeout: the page request exceeded its deadline.
	ErrTimeout = errors.Reason("page request timed out")
	// ErrClient: the upstream rejected the request (non-throttling 4xx).
	ErrClient = errors.Reason("upstream rejected the request")
)

// IsTransient reports whether err is worth retrying on the same page:
// throttling, server errors and timeouts are transient; everything else is
// permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrServer) ||
		errors.Is(err, ErrTimeout)
}

// Config for the upstream client.
type Config struct {
	APIKey  string        // demo API key; empty selects the keyless tier
	PerPage int           // page size; 0 or out of range becomes MaxPerPage
	Timeout time.Duration // per-request timeout; 0 becomes DefaultTimeout
}

// Client for querying the markets listing.
type Client struct {
	baseURL string
	apiKey  string
	perPage int
	timeout time.Duration
}

// newClient creates a new client.
func newClient(baseURL string, cfg Config) *Client {
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		perPage: perPage,
		timeout: timeout,
	}
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client from the config and injects it into the
// context.
func UseClient(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, clientContextKey, newClient(URL, cfg))
}

// UseHTTPClient injects a custom HTTP client, primarily for tests.
func UseHTTPClient(ctx context.Context, c *http.Client) context.Context {
	return context.WithValue(ctx, httpClientContextKey, c)
}

func getHTTPClient(ctx context.Context) *http.Client {
	c, ok := ctx.Value(httpClientContextKey).(*http.Client)
	if !ok {
		return http.DefaultClient
	}
	return c
}

// PerPage is the page size the client requests.
func (c *Client) PerPage() int { return c.perPage }

// HasKey reports whether an API key is configured; the rate limiter's base
// tier depends on it.
func (c *Client) HasKey() bool { return c.apiKey != "" }

// Coin is one raw listing entry exactly as received. Values are untrusted:
// the same logical field may arrive as a number for one coin and as a string
// for another, so nothing is coerced at this layer.
type Coin map[string]any

// ID returns the coin identifier, if present as a string.
func (c Coin) ID() (string, bool) {
	id, ok := c["id"].(string)
	return id, ok && id != ""
}

// Markets fetches one page of the market-cap-ordered listing using the Client
// from the context. Failures are wrapped in the classification sentinels.
func Markets(ctx context.Context, page int) ([]Coin, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("Markets: no client in context")
	}
	uri := client.baseURL + "/coins/markets"
	query := make(url.Values)
	query.Set("vs_currency", "usd")
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(client.perPage))
	query.Set("page", strconv.Itoa(page))
	query.Set("sparkline", "false")
	query.Set("price_change_percentage", "24h")
	if client.apiKey != "" {
		query.Set("x_cg_demo_api_key", client.apiKey)
	}

	tctx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tctx, http.MethodGet, uri+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Annotate(err, "Markets: failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := getHTTPClient(ctx).Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.Annotate(ErrTimeout, "Markets: page %d", page)
		}
		return nil, errors.Annotate(err, "Markets: page %d request failed", page)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			logging.Warningf(ctx, "throttled on page %d, Retry-After: %ss", page, ra)
		}
		return nil, errors.Annotate(ErrThrottled, "Markets: page %d", page)
	case resp.StatusCode >= 500:
		return nil, errors.Annotate(ErrServer, "Markets: page %d: status %d",
			page, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Annotate(ErrClient, "Markets: page %d: status %d",
			page, resp.StatusCode)
	}

	var coins []Coin
	if err := json.NewDecoder(resp.Body).Decode(&coins); err != nil {
		return nil, errors.Annotate(err, "Markets: malformed payload on page %d", page)
	}
	return coins, nil
}

func isTimeout(err error) bool {
	if ue, ok := err.(*url.Error); ok {
		return ue.Timeout()
	}
	return false
}

// TestCoin creates a plausible raw listing entry for use in tests.
func TestCoin(id string, rank int64) Coin {
	c := make(Coin)
	c["id"] = id
	c["symbol"] = id[:min(3, len(id))]
	c["name"] = id
	c["market_cap_rank"] = float64(rank)
	c["market_cap"] = float64(1000000 * rank)
	c["current_price"] = float64(100 * rank)
	c["total_volume"] = float64(5000 * rank)
	c["price_change_percentage_24h"] = -1.5
	return c
}
