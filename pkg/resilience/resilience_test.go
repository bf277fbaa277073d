package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		FailureLimit:    2,
		Cooldown:        time.Minute,
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), prometheus.NewRegistry())

	calls := 0
	err := cb.Execute(context.Background(), "put", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestExecute_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(), nil)
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	failing := errors.New("timeout")
	err := cb.Execute(context.Background(), "put", func(context.Context) error { return failing })
	assert.ErrorIs(t, err, failing)
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	calls := 0
	err = cb.Execute(context.Background(), "put", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	clock = clock.Add(2 * time.Minute)
	err = cb.Execute(context.Background(), "put", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "dns", classifyError(errors.New("dial tcp: lookup minio: no such host")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
}
