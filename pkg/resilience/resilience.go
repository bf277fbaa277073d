package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"callsignal-backend/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// Config tunes retries and the breaker
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	FailureLimit    int           // consecutive failures that open the breaker
	Cooldown        time.Duration // open duration before a half-open probe
}

// DefaultConfig returns the settings used for storage backends
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		FailureLimit:    3,
		Cooldown:        10 * time.Second,
	}
}

// CircuitBreaker wraps calls to a flaky dependency with retry and a breaker
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time

	metrics *breakerMetrics
}

type breakerMetrics struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	state         prometheus.Gauge
}

// NewCircuitBreaker creates a breaker for the named dependency. reg may be nil.
func NewCircuitBreaker(name string, cfg Config, reg prometheus.Registerer) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: CircuitBreakerClosed,
	}
	if reg != nil {
		labels := prometheus.Labels{"dependency": name}
		cb.metrics = &breakerMetrics{
			requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:        "dependency_requests_total",
				Help:        "Total number of requests to a guarded dependency",
				ConstLabels: labels,
			}, []string{"operation", "status"}),
			errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:        "dependency_errors_total",
				Help:        "Total number of guarded dependency errors",
				ConstLabels: labels,
			}, []string{"operation", "error_type"}),
			state: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "dependency_circuit_breaker_state",
				Help:        "State of the circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			}),
		}
		reg.MustRegister(cb.metrics.requestsTotal, cb.metrics.errorsTotal, cb.metrics.state)
	}
	return cb
}

// Execute runs fn with retries while the breaker allows it
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cb.cfg.MaxAttempts; attempt++ {
		if !cb.allow() {
			cb.record(operation, "circuit_breaker_open")
			return ErrCircuitOpen
		}

		err := fn(ctx)
		if err == nil {
			cb.onSuccess()
			cb.record(operation, "success")
			return nil
		}

		lastErr = err
		cb.onFailure(operation, err)

		if attempt == cb.cfg.MaxAttempts {
			break
		}
		backoff := time.Duration(attempt) * cb.cfg.InitialInterval
		if backoff > cb.cfg.MaxInterval {
			backoff = cb.cfg.MaxInterval
		}
		logger.Debug("Dependency operation failed, backing off",
			zap.String("dependency", cb.name),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitBreakerOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
		return false
	}
	cb.setState(CircuitBreakerHalfOpen)
	return true
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != CircuitBreakerClosed {
		logger.Info("Circuit breaker closed", zap.String("dependency", cb.name))
		cb.setState(CircuitBreakerClosed)
	}
}

func (cb *CircuitBreaker) onFailure(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.metrics != nil {
		cb.metrics.errorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
		cb.metrics.requestsTotal.WithLabelValues(operation, "failure").Inc()
	}

	if cb.state == CircuitBreakerHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureLimit {
		if cb.state != CircuitBreakerOpen {
			logger.Warn("Circuit breaker opened",
				zap.String("dependency", cb.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", cb.consecutiveFailures))
		}
		cb.openedAt = cb.now()
		cb.setState(CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) setState(state CircuitBreakerState) {
	cb.state = state
	if cb.metrics == nil {
		return
	}
	switch state {
	case CircuitBreakerClosed:
		cb.metrics.state.Set(0)
	case CircuitBreakerHalfOpen:
		cb.metrics.state.Set(1)
	case CircuitBreakerOpen:
		cb.metrics.state.Set(2)
	}
}

func (cb *CircuitBreaker) record(operation, status string) {
	if cb.metrics != nil {
		cb.metrics.requestsTotal.WithLabelValues(operation, status).Inc()
	}
}

// classifyError classifies errors for metrics labels
func classifyError(err error) string {
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
