// Package exchange implements venue connectivity: the REST depth-snapshot
// client and the WebSocket market-data feeds.
//
// The REST client (Client) covers the single call the engine needs:
//   - GetDepthSnapshot: GET /api/v3/depth — top-N book levels + lastUpdateId
//
// Requests are rate-limited through a token bucket and retried on 5xx.
// A 4xx (including regional 451 blocks) is a provider rejection: it is
// surfaced to the caller once and must not produce a retry storm.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// Client is the spot venue REST client.
type Client struct {
	http   *resty.Client
	rl     *RateLimiter
	depth  int
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		rl:     NewRateLimiter(),
		depth:  cfg.Depth,
		logger: logger.With("component", "exchange_rest"),
	}
}

// GetDepthSnapshot fetches the top-N depth snapshot used to seed the local
// book before applying diff-depth deltas.
func (c *Client) GetDepthSnapshot(ctx context.Context, symbol string) (*types.DepthSnapshot, error) {
	if err := c.rl.Depth.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.DepthSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", fmt.Sprintf("%d", c.depth)).
		SetResult(&result).
		Get("/api/v3/depth")
	if err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get depth: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
