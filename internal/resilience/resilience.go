// Package resilience decorates outbound calls with retry, circuit breaking
// and rate limiting. The composition order is fixed and visible: retry is the
// outermost layer, so a call rejected by the open breaker still counts as a
// failed attempt; the breaker sits inside retry; the rate limiter guards
// admission before the call reaches the breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"authgate.dev/internal/obs"
)

// Config carries the tunables for one wrapper instance.
type Config struct {
	// Retry: total attempts including the first, with a fixed wait between.
	MaxAttempts int
	RetryWait   time.Duration

	// Circuit breaker: failure-rate threshold over the observed calls, with
	// a minimum sample size before the breaker may open, and the open-state
	// cool-down before a probe is allowed.
	FailureRateThreshold float64
	MinimumCalls         uint32
	SlidingWindow        time.Duration
	OpenStateDuration    time.Duration

	// Rate limiter: permits per refresh period and the bounded wait for a
	// permit.
	PermitsPerPeriod    int
	PermitRefreshPeriod time.Duration
	PermitWaitTimeout   time.Duration
}

// DefaultConfig mirrors the platform-wide resilience defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		RetryWait:            2 * time.Second,
		FailureRateThreshold: 0.5,
		MinimumCalls:         5,
		SlidingWindow:        10 * time.Second,
		OpenStateDuration:    30 * time.Second,
		PermitsPerPeriod:     10,
		PermitRefreshPeriod:  time.Second,
		PermitWaitTimeout:    2 * time.Second,
	}
}

// CircuitOpenError is raised when the breaker short-circuits a call.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit open for %s", e.Service)
}

// UserMessage is safe to surface to clients.
func (e *CircuitOpenError) UserMessage() string {
	return "Service temporarily unavailable. Please try again later."
}

// RateLimitedError is raised when no permit became available in time.
type RateLimitedError struct {
	Service string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("resilience: rate limited calling %s", e.Service)
}

// UserMessage is safe to surface to clients.
func (e *RateLimitedError) UserMessage() string {
	return "Too many requests. Please try again later."
}

// RetryExhaustedError is raised when every attempt failed.
type RetryExhaustedError struct {
	Service  string
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %d attempts against %s exhausted: %v", e.Attempts, e.Service, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// UserMessage is safe to surface to clients.
func (e *RetryExhaustedError) UserMessage() string {
	return "Service temporarily unavailable. Please try again later."
}

// UserMessage maps any resilience failure to its client-safe message. The
// second return reports whether err came from this package; callers do not
// need to distinguish the variants to produce a correct response.
func UserMessage(err error) (string, bool) {
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co.UserMessage(), true
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.UserMessage(), true
	}
	var re *RetryExhaustedError
	if errors.As(err, &re) {
		return re.UserMessage(), true
	}
	return "", false
}

// IsRateLimited reports whether the failure is a permit rejection, for
// callers that answer 429 instead of 503.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// Wrapper guards calls to one logical downstream service. Safe for use from
// many goroutines: breaker counters and limiter permits are internally
// synchronized.
type Wrapper struct {
	name    string
	service string
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
}

// New builds a wrapper named after the caller with a human-readable service
// label used in error messages.
func New(name, service string, cfg Config) *Wrapper {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.SlidingWindow,
		Timeout:     cfg.OpenStateDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinimumCalls {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			obs.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}
	var limiter *rate.Limiter
	if cfg.PermitsPerPeriod > 0 {
		interval := cfg.PermitRefreshPeriod
		if interval <= 0 {
			interval = time.Second
		}
		limiter = rate.NewLimiter(rate.Every(interval/time.Duration(cfg.PermitsPerPeriod)), cfg.PermitsPerPeriod)
	}
	return &Wrapper{
		name:    name,
		service: service,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		limiter: limiter,
	}
}

// Do runs fn under the full decorator chain. The error returned is one of
// the typed resilience failures or nil; fn's own error surfaces only wrapped
// inside RetryExhaustedError.
func (w *Wrapper) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			obs.RetryAttempts.WithLabelValues(w.name).Inc()
		}
		if err := w.acquirePermit(ctx); err != nil {
			return err
		}
		_, err := w.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &CircuitOpenError{Service: w.service}
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.RetryWait), uint64(w.cfg.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl
	}
	return &RetryExhaustedError{Service: w.service, Attempts: attempt, Cause: err}
}

func (w *Wrapper) acquirePermit(ctx context.Context) error {
	if w.limiter == nil {
		return nil
	}
	waitCtx := ctx
	if w.cfg.PermitWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.cfg.PermitWaitTimeout)
		defer cancel()
	}
	if err := w.limiter.Wait(waitCtx); err != nil {
		obs.RateLimitedTotal.WithLabelValues(w.name).Inc()
		return &RateLimitedError{Service: w.service}
	}
	return nil
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Registry hands out named wrapper instances, creating them on first use.
// The instance name defaults to the caller's identity at the call site.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	wrappers map[string]*Wrapper
}

// NewRegistry builds a registry with the given defaults.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, wrappers: make(map[string]*Wrapper)}
}

// Get returns the wrapper registered under name, creating it with the
// registry defaults and the given service label when absent.
func (r *Registry) Get(name, service string) *Wrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wrappers[name]; ok {
		return w
	}
	w := New(name, service, r.cfg)
	r.wrappers[name] = w
	return w
}
