package gios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// maxBodySize caps a single page body.
const maxBodySize = 32 << 20

var (
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Structured remote errors prove the remote is up; only
		// connectivity failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !airquality.IsConnectivity(err)
		},
	})
}

// doRequestWithResilience executes the request through the circuit breaker and
// retries connectivity failures with exponential backoff. It returns the body
// of a 2xx response. Structured error payloads become *airquality.RemoteError.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	rateLimitCode string,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	operation := func() ([]byte, error) {
		req, err := buildRequest(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return roundTrip(ctx, cfg.Client, req, rateLimitCode)
		})
		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return nil, backoff.Permanent(fmt.Errorf("unexpected result type from circuit breaker"))
			}
			return body, nil
		}

		// An open circuit will not close within the retry window.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("%w: circuit breaker: %v", airquality.ErrConnectivity, err))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if airquality.IsConnectivity(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Backoff.InitialInterval
	if cfg.Backoff.MaxInterval > 0 {
		b.MaxInterval = cfg.Backoff.MaxInterval
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.Backoff.MaxRetries+1),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, err
	}
	return body, nil
}

func roundTrip(ctx context.Context, client *http.Client, req *http.Request, rateLimitCode string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", airquality.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", airquality.ErrConnectivity, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	if remoteErr, ok := parseRemoteError(body, resp.StatusCode); ok {
		remoteErr.RateLimitCode = rateLimitCode
		return nil, remoteErr
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: server error: %d", airquality.ErrConnectivity, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &airquality.RemoteError{
			Status:        resp.StatusCode,
			Code:          rateLimitCode,
			Reason:        "too many requests",
			RateLimitCode: rateLimitCode,
		}
	default:
		return nil, fmt.Errorf("%w: unexpected status code %d", airquality.ErrMalformedResponse, resp.StatusCode)
	}
}

// parseRemoteError decodes a structured error payload; ok is false when the
// body is not one.
func parseRemoteError(body []byte, status int) (*airquality.RemoteError, bool) {
	var payload airquality.RemoteError
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	if payload.Code == "" {
		return nil, false
	}
	payload.Status = status
	return &payload, true
}
