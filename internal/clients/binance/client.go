// Package binance wraps the exchange's spot and USD-M futures REST
// APIs behind paginated fetchers returning normalized records. It is
// the only package that knows the provider's wire shapes, page sizes,
// pagination cursors, rate limits, and retry policy.
package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/domain"
)

const (
	defaultSpotBaseURL    = "https://api.binance.com"
	defaultFuturesBaseURL = "https://fapi.binance.com"

	maxAttempts = 3

	spotKlinesPageSize   = 1000
	fundingPageSize      = 1000
	markKlinesPageSize   = 1500
	indexKlinesPageSize  = 1500
	openInterestPageSize = 500
)

// Config holds client configuration
type Config struct {
	SpotBaseURL          string
	FuturesBaseURL       string
	RequestsPerMinute    int
	MinRequestDelay      time.Duration
	MaxConcurrentRequest int
	Timeout              time.Duration
}

// Client is the Binance REST client shared by spot and futures fetchers.
type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	client         *http.Client
	limiter        *RateLimiter
	log            zerolog.Logger
}

// New creates a new Binance client
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.SpotBaseURL == "" {
		cfg.SpotBaseURL = defaultSpotBaseURL
	}
	if cfg.FuturesBaseURL == "" {
		cfg.FuturesBaseURL = defaultFuturesBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		spotBaseURL:    cfg.SpotBaseURL,
		futuresBaseURL: cfg.FuturesBaseURL,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        NewRateLimiter(cfg.RequestsPerMinute, cfg.MinRequestDelay, cfg.MaxConcurrentRequest),
		log:            log.With().Str("component", "binance_client").Logger(),
	}
}

// get performs one rate-limited GET with the retry policy: up to three
// attempts, Retry-After honoured on 429, exponential backoff on 5xx
// and network errors, fail-fast on other 4xx.
func (c *Client) get(ctx context.Context, baseURL, path string, params url.Values) ([]byte, error) {
	endpoint := baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		body, retryAfter, err := c.doOnce(ctx, endpoint)
		c.limiter.Release()

		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if retryAfter > 0 {
			backoff = retryAfter
			c.limiter.Pause(retryAfter)
		}
		c.log.Warn().
			Err(err).
			Str("url", endpoint).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Request failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// doOnce executes a single HTTP round trip. A non-zero retryAfter is
// returned for 429 responses carrying a Retry-After header.
func (c *Client) doOnce(ctx context.Context, endpoint string) (body []byte, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, domain.PermanentProvider(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, domain.TransientProvider(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, domain.TransientProvider(fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter = time.Second
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, parseErr := strconv.Atoi(header); parseErr == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, retryAfter, domain.TransientProvider(fmt.Errorf("rate limited (429)"))
	case resp.StatusCode >= 500:
		return nil, 0, domain.TransientProvider(fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(data)))
	default:
		return nil, 0, domain.PermanentProvider(fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(data)))
	}
}

func isRetryable(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrProviderPermanent)
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
