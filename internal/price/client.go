package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrRateLimited is returned once the 429 retry budget is spent.
var ErrRateLimited = errors.New("price provider rate limit exceeded")

// DefaultPlatforms maps chain names to provider platform ids.
var DefaultPlatforms = map[string]string{
	"ETHEREUM": "eth",
	"BSC":      "bsc",
	"ARBITRUM": "arbitrum",
	"BASE":     "base",
}

// Config controls the price client.
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	Retries          int
	RetryWait        time.Duration
	RateLimitRetries int
	RateLimitDelay   time.Duration
	Platforms        map[string]string
}

// Client queries USD token prices. Transport errors and 5xx responses are retried by
// resty with a short fixed wait; 429 responses get their own longer backoff.
type Client struct {
	http      *resty.Client
	cfg       Config
	platforms map[string]string
	logger    *zap.Logger
	observe   func(status string)
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = time.Minute
	}

	platforms := make(map[string]string, len(DefaultPlatforms)+len(cfg.Platforms))
	for chain, id := range DefaultPlatforms {
		platforms[chain] = id
	}
	for chain, id := range cfg.Platforms {
		platforms[strings.ToUpper(chain)] = id
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})
	if cfg.APIKey != "" {
		httpClient.SetHeader("x-cg-pro-api-key", cfg.APIKey)
	}

	return &Client{
		http:      httpClient,
		cfg:       cfg,
		platforms: platforms,
		logger:    logger,
		observe:   func(string) {},
	}
}

// OnRequest registers a hook receiving the outcome of every request.
func (c *Client) OnRequest(fn func(status string)) {
	if fn != nil {
		c.observe = fn
	}
}

// TokenPrice returns the USD price of a token, or 0 when the provider does not know it.
func (c *Client) TokenPrice(ctx context.Context, chain string, token common.Address) (float64, error) {
	platform, ok := c.platforms[strings.ToUpper(chain)]
	if !ok {
		return 0, fmt.Errorf("no price platform for chain %s", chain)
	}
	contract := strings.ToLower(token.Hex())

	resp, err := c.get(ctx, "/simple/token_price/"+platform, map[string]string{
		"contract_addresses": contract,
		"vs_currencies":      "usd",
	})
	if err != nil {
		return 0, err
	}

	var data map[string]map[string]float64
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	return data[contract]["usd"], nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (*resty.Response, error) {
	limited := 0
	for {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(path)
		if err != nil {
			c.observe("error")
			return nil, fmt.Errorf("price request: %w", err)
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			c.observe("rate_limited")
			limited++
			if limited > c.cfg.RateLimitRetries {
				c.logger.Error("price rate limit retries exhausted", zap.String("path", path), zap.Int("retries", c.cfg.RateLimitRetries))
				return nil, ErrRateLimited
			}
			c.logger.Warn("price rate limited, backing off",
				zap.Duration("delay", c.cfg.RateLimitDelay),
				zap.Int("attempt", limited),
				zap.Int("max_attempts", c.cfg.RateLimitRetries),
			)
			timer := time.NewTimer(c.cfg.RateLimitDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if resp.IsError() {
			c.observe("error")
			return nil, fmt.Errorf("price request failed with status %d", resp.StatusCode())
		}
		c.observe("ok")
		return resp, nil
	}
}
