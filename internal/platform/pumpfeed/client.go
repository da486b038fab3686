// Package pumpfeed is the REST/WS client for the external token-metrics
// feed: ranked candidate tokens, per-token metrics, and OHLC candle history.
package pumpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/solcast/marketd/internal/domain"
)

// Client is the REST client for the token feed. Calls are throttled by a
// local token-bucket limiter and, when configured, a shared distributed
// limiter so multiple processes respect the feed's rate limit together.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	local      *rate.Limiter
	shared     domain.RateLimiter // may be nil
}

// sharedLimit is the per-minute call budget enforced across processes when a
// distributed limiter is configured.
const (
	sharedLimitKey    = "pumpfeed:calls"
	sharedLimit       = 120
	sharedLimitWindow = time.Minute
)

// New creates a feed client. rps bounds local request throughput; shared may
// be nil when no cross-process limiting is wanted.
func New(baseURL string, pageSize int, rps float64, shared domain.RateLimiter) *Client {
	if pageSize <= 0 {
		pageSize = 50
	}
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		baseURL:    baseURL,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		local:      rate.NewLimiter(rate.Limit(rps), 1),
		shared:     shared,
	}
}

// ListCandidateTokens returns the feed's current ranked candidate page.
func (c *Client) ListCandidateTokens(ctx context.Context) ([]domain.Token, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("sort", "usd_market_cap")
	params.Set("order", "desc")

	body, err := c.doGet(ctx, "/coins?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pumpfeed: list candidates: %w", err)
	}

	var apiTokens []APIToken
	if err := json.Unmarshal(body, &apiTokens); err != nil {
		return nil, fmt.Errorf("pumpfeed: decode candidates: %w", err)
	}

	now := time.Now().Unix()
	tokens := make([]domain.Token, 0, len(apiTokens))
	for _, t := range apiTokens {
		tokens = append(tokens, t.ToDomainToken(now))
	}
	return tokens, nil
}

// GetToken returns a single token's current metrics.
func (c *Client) GetToken(ctx context.Context, address string) (domain.Token, error) {
	body, err := c.doGet(ctx, "/coins/"+url.PathEscape(address))
	if err != nil {
		return domain.Token{}, fmt.Errorf("pumpfeed: get token %s: %w", address, err)
	}

	var apiToken APIToken
	if err := json.Unmarshal(body, &apiToken); err != nil {
		return domain.Token{}, fmt.Errorf("pumpfeed: decode token: %w", err)
	}
	return apiToken.ToDomainToken(time.Now().Unix()), nil
}

// GetCandleHistory returns up to limit candles for the token in
// chronological order.
func (c *Client) GetCandleHistory(ctx context.Context, address string, g domain.Granularity, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("timeframe", string(g))
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doGet(ctx, "/candlesticks/"+url.PathEscape(address)+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("pumpfeed: candle history %s: %w", address, err)
	}

	var apiCandles []APICandle
	if err := json.Unmarshal(body, &apiCandles); err != nil {
		return nil, fmt.Errorf("pumpfeed: decode candles: %w", err)
	}

	candles := make([]domain.Candle, 0, len(apiCandles))
	for _, ac := range apiCandles {
		candles = append(candles, ac.ToDomainCandle())
	}
	// The feed returns oldest-first already; keep the guarantee explicit.
	for i := 1; i < len(candles); i++ {
		if candles[i].Time < candles[i-1].Time {
			return nil, fmt.Errorf("pumpfeed: candles for %s out of order", address)
		}
	}
	return candles, nil
}

// doGet performs a rate-limited GET and returns the response body.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.local.Wait(ctx); err != nil {
		return nil, fmt.Errorf("local limiter: %w", err)
	}
	if c.shared != nil {
		ok, err := c.shared.Allow(ctx, sharedLimitKey, sharedLimit, sharedLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("shared limiter: %w", err)
		}
		if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
