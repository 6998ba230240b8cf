package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0)
	Jitter               float64
	RetryableStatusCodes []int
	// RetryableMethods limits retries to requests that are safe to repeat.
	// POST inserts are excluded so a slow 5xx never duplicates a row.
	RetryableMethods []string
}

// DefaultRetryConfig returns the defaults used against the hosted project.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		RetryableMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		backoff += backoff * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}

func (c RetryConfig) retryableStatus(code int) bool {
	for _, retryable := range c.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

func (c RetryConfig) retryableMethod(method string) bool {
	if len(c.RetryableMethods) == 0 {
		return true
	}
	for _, m := range c.RetryableMethods {
		if m == method {
			return true
		}
	}
	return false
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout       time.Duration
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing upstream for a cool-down period.
type CircuitBreaker struct {
	mu sync.RWMutex

	config CircuitBreakerConfig
	state  CircuitState

	failures  int
	successes int
	lastError error
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config, state: CircuitClosed}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Allow checks if a request should be allowed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.openedAt) > cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = err

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state
	cb.state = newState

	switch newState {
	case CircuitClosed:
		cb.failures = 0
		cb.successes = 0
	case CircuitOpen:
		cb.openedAt = time.Now()
		cb.successes = 0
	case CircuitHalfOpen:
		cb.successes = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastError returns the last recorded error.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastError
}

// =============================================================================
// Resilient Transport
// =============================================================================

// Stats counts requests seen by a ResilientTransport.
type Stats struct {
	Total   int64
	Success int64
	Failed  int64
	Retried int64
}

// ResilientTransport is an http.RoundTripper adding retries and a circuit
// breaker in front of another transport.
type ResilientTransport struct {
	base    http.RoundTripper
	retry   RetryConfig
	breaker *CircuitBreaker
	onRetry func(req *http.Request, attempt int, err error)

	total   int64
	success int64
	failed  int64
	retried int64
}

// ResilienceOptions configures NewResilient.
type ResilienceOptions struct {
	Retry   RetryConfig
	Breaker CircuitBreakerConfig
	// OnRetry is called before every retry.
	OnRetry func(req *http.Request, attempt int, err error)
}

// DefaultResilienceOptions returns the default retry and breaker settings.
func DefaultResilienceOptions() ResilienceOptions {
	return ResilienceOptions{Retry: DefaultRetryConfig(), Breaker: DefaultCircuitBreakerConfig()}
}

// NewResilientTransport wraps base (http.DefaultTransport when nil).
func NewResilientTransport(base http.RoundTripper, opts ResilienceOptions) *ResilientTransport {
	if base == nil {
		base = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}
	return &ResilientTransport{
		base:    base,
		retry:   opts.Retry,
		breaker: NewCircuitBreaker(opts.Breaker),
		onRetry: opts.OnRetry,
	}
}

// RoundTrip executes req with retry and circuit breaker.
func (rt *ResilientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&rt.total, 1)

	if err := rt.breaker.Allow(); err != nil {
		atomic.AddInt64(&rt.failed, 1)
		return nil, err
	}

	maxRetries := rt.retry.MaxRetries
	if !rt.retry.retryableMethod(req.Method) || (req.Body != nil && req.GetBody == nil) {
		maxRetries = 0
	}

	var (
		lastErr error
		resp    *http.Response
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&rt.retried, 1)
			if rt.onRetry != nil {
				rt.onRetry(req, attempt, lastErr)
			}

			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(rt.retry.Backoff(attempt)):
			}

			next := req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				next.Body = body
			}
			req = next
		}

		resp, lastErr = rt.base.RoundTrip(req)
		if lastErr != nil {
			if isRetryableError(lastErr) && attempt < maxRetries {
				continue
			}
			rt.breaker.RecordFailure(lastErr)
			atomic.AddInt64(&rt.failed, 1)
			return nil, lastErr
		}

		if rt.retry.retryableStatus(resp.StatusCode) {
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			if attempt < maxRetries {
				resp.Body.Close()
				continue
			}
			// Out of attempts: hand the last response back so callers can
			// read the upstream error body.
			rt.breaker.RecordFailure(lastErr)
			atomic.AddInt64(&rt.failed, 1)
			return resp, nil
		}

		rt.breaker.RecordSuccess()
		atomic.AddInt64(&rt.success, 1)
		return resp, nil
	}

	rt.breaker.RecordFailure(lastErr)
	atomic.AddInt64(&rt.failed, 1)
	return nil, lastErr
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// HTTPError represents a retryable HTTP status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return http.StatusText(e.StatusCode)
}

// Stats returns request counters.
func (rt *ResilientTransport) Stats() Stats {
	return Stats{
		Total:   atomic.LoadInt64(&rt.total),
		Success: atomic.LoadInt64(&rt.success),
		Failed:  atomic.LoadInt64(&rt.failed),
		Retried: atomic.LoadInt64(&rt.retried),
	}
}

// CircuitState returns the current circuit breaker state.
func (rt *ResilientTransport) CircuitState() CircuitState {
	return rt.breaker.State()
}

// NewResilient creates a client whose requests go through a
// ResilientTransport. The transport is returned so callers can read Stats.
func NewResilient(cfg Config, opts ResilienceOptions) (*Client, *ResilientTransport, error) {
	var base http.RoundTripper
	timeout := 30 * time.Second
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
		if cfg.HTTPClient.Timeout > 0 {
			timeout = cfg.HTTPClient.Timeout
		}
	}

	transport := NewResilientTransport(base, opts)
	cfg.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}

	c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, transport, nil
}

// =============================================================================
// Request ID
// =============================================================================

type requestIDKey struct{}

// WithRequestID attaches a request ID that is forwarded as X-Request-ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	return uuid.NewString()
}
