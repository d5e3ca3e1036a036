package airquality

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the store holds no row for the requested entity.
	ErrNotFound = errors.New("not found")

	// ErrNoData is returned when neither the cache nor the remote can answer a read.
	ErrNoData = errors.New("no cached data and remote unavailable")

	// ErrConnectivity marks failures to reach the remote at all.
	ErrConnectivity = errors.New("remote unreachable")

	// ErrMalformedResponse marks remote payloads of an unexpected shape.
	ErrMalformedResponse = errors.New("malformed remote response")
)

// DefaultRateLimitCode is the remote error code for exceeded request quotas.
const DefaultRateLimitCode = "API-ERR-100003"

// RemoteError is a well-formed error payload returned by the remote.
type RemoteError struct {
	Status   int    `json:"-"`
	Code     string `json:"error_code"`
	Reason   string `json:"error_reason"`
	Result   string `json:"error_result"`
	Solution string `json:"error_solution"`

	// RateLimitCode overrides DefaultRateLimitCode when set.
	RateLimitCode string `json:"-"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%s]: %s %s %s", e.Code, e.Reason, e.Result, e.Solution)
}

// IsRateLimit reports whether the remote rejected the call for exceeding its quota.
func (e *RemoteError) IsRateLimit() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	code := e.RateLimitCode
	if code == "" {
		code = DefaultRateLimitCode
	}
	return e.Code == code
}

// IsRateLimit reports whether err carries a rate-limit RemoteError.
func IsRateLimit(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.IsRateLimit()
}

// IsConnectivity reports whether err was caused by the remote being unreachable.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}
