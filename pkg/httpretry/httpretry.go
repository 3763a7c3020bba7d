// Package httpretry wraps an HTTP round trip in a retry policy plus a
// circuit breaker, grounded on the teacher's pkg/clients.NewHTTPExecutor:
// failsafe-go's combinator for retry-with-backoff plus a circuit breaker
// that trips once a source's failure ratio crosses a threshold.
package httpretry

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/cpopescu/streamgraph/pkg/logging"
)

// Config tunes the retry/circuit-breaker behavior around one HTTP client.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig mirrors the teacher's DefaultHTTPExecutorConfig.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (cfg Config) normalized() Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// ShouldRetry reports whether a round trip's outcome is worth retrying:
// network errors, 5xx responses, and 429 rate limiting.
func ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Executor runs an HTTP round trip through a retry policy (exponential
// backoff with jitter) backed by a circuit breaker, so a source that's
// consistently failing stops being hammered once its failure ratio crosses
// the breaker's threshold.
type Executor struct {
	exec failsafe.Executor[*http.Response]
	cb   circuitbreaker.CircuitBreaker[*http.Response]
}

// New builds an Executor for one named HTTP source (used only in log
// lines/state-change notifications).
func New(cfg Config, logger logging.Logger, name string) *Executor {
	cfg = cfg.normalized()

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool { return ShouldRetry(resp, err) }).
		Build()

	cbBuilder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool { return ShouldRetry(resp, err) })
	if logger != nil {
		cbBuilder = cbBuilder.OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"http_source": name,
				"from_state":  e.OldState.String(),
				"to_state":    e.NewState.String(),
			}).Warn("httpretry: circuit breaker state change")
		})
	}
	cb := cbBuilder.Build()

	return &Executor{exec: failsafe.With(retry, cb), cb: cb}
}

// Do runs fn (one round-trip attempt) through the retry policy and
// circuit breaker, retrying fn itself on a retryable outcome.
func (x *Executor) Do(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	return x.exec.WithContext(ctx).Get(fn)
}

// IsOpen reports whether the circuit breaker is currently open, i.e.
// further attempts would be rejected without calling fn.
func (x *Executor) IsOpen() bool {
	return x.cb.IsOpen()
}
