// Package gios reads the GIOŚ air quality REST API.
package gios

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

const (
	DefaultBaseURL  = "https://api.gios.gov.pl/pjp-api/v1/rest"
	DefaultPageSize = 100
	DefaultTimezone = "Europe/Warsaw"
)

// PageObserver is told about every page request. endpoint has numeric ids
// replaced by ":id"; outcome is one of "ok", "remote_error", "connectivity", "malformed", "error".
type PageObserver func(endpoint, outcome string, elapsed time.Duration)

// Client fetches pages from the remote. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	baseURL       string
	pageSize      int
	location      *time.Location
	rateLimitCode string
	httpCfg       HTTPClientConfig
	circuit       *gobreaker.CircuitBreaker
	observe       PageObserver
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPageSize sets the page size requested from the remote.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLocation sets the zone in which the remote reports wall-clock times.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithRateLimitCode sets the remote error code meaning "too many requests".
func WithRateLimitCode(code string) Option {
	return func(c *Client) {
		if code != "" {
			c.rateLimitCode = code
		}
	}
}

// WithBackoff overrides the retry settings.
func WithBackoff(b BackoffConfig) Option {
	return func(c *Client) {
		c.httpCfg.Backoff = b
	}
}

// WithPageObserver registers an observer for page requests.
func WithPageObserver(fn PageObserver) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient creates a client; httpClient carries the request timeout.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:       DefaultBaseURL,
		pageSize:      DefaultPageSize,
		location:      time.UTC,
		rateLimitCode: airquality.DefaultRateLimitCode,
		httpCfg: HTTPClientConfig{
			Client: httpClient,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: newCircuitBreaker("gios"),
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		c.location = loc
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) pageURL(endpoint string, page int, params url.Values) string {
	values := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			values.Add(k, v)
		}
	}
	values.Set("page", strconv.Itoa(page))
	values.Set("size", strconv.Itoa(c.pageSize))
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/") + "?" + values.Encode()
}

func (c *Client) get(ctx context.Context, endpoint string, page int, params url.Values) ([]byte, error) {
	u := c.pageURL(endpoint, page, params)
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
	return doRequestWithResilience(ctx, c.httpCfg, c.circuit, c.rateLimitCode, buildRequest)
}
