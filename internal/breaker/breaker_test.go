package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMax:      2,
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 2; i++ {
		b.Failure()
		require.Equal(t, StateClosed, b.State(), "should stay closed below threshold")
	}

	b.Failure()
	require.Equal(t, StateOpen, b.State())
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(testConfig())

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	assert.Equal(t, StateClosed, b.State(), "success should reset the failure run")
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenClosesAfterProbeSuccesses(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	time.Sleep(60 * time.Millisecond)

	// Two successful probes (HalfOpenMax=2) close the circuit
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow(), "probe %d should be allowed", i)
		b.Success()
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenReopensOnProbeFailure(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Failure()

	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenLimitsProbeCount(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "third concurrent probe should be rejected")
}

func TestAdaptiveThresholdLowering(t *testing.T) {
	cfg := Config{
		Name:             "adaptive",
		FailureThreshold: 6,
		RecoveryTimeout:  time.Minute,
		HalfOpenMax:      3,
		Adaptive:         true,
	}
	b := New(cfg)

	// Burst 11 failures interleaved with successes so the breaker never
	// accumulates 6 consecutive failures under the base threshold.
	for i := 0; i < 11; i++ {
		b.Failure()
		if i%3 == 2 {
			b.Success()
		}
	}
	b.Reset()

	// Window now holds >10 recent failures: effective threshold is
	// max(3, 6-2) = 4.
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, StateClosed, b.State(), "3 failures should not trip lowered threshold of 4")
	b.Failure()
	assert.Equal(t, StateOpen, b.State(), "expected trip at lowered threshold of 4")
}

func TestDo(t *testing.T) {
	b := New(testConfig())
	ctx := context.Background()

	calls := 0
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, func() error { calls++; return boom })
		require.ErrorIs(t, err, boom)
	}

	// Circuit is open: fn must not run
	err := b.Do(ctx, func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls, "fn should not run while open")
}

func TestDoCancelledContext(t *testing.T) {
	b := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.Stats().TotalCalls, "cancelled call should not count")
}

func TestReset(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	require.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow(), "calls should pass after reset")
}

func TestStats(t *testing.T) {
	b := New(testConfig())
	b.Success()
	b.Failure()
	b.Failure()

	s := b.Stats()
	assert.EqualValues(t, 3, s.TotalCalls)
	assert.EqualValues(t, 1, s.TotalSuccesses)
	assert.EqualValues(t, 2, s.TotalFailures)
	assert.Equal(t, "closed", s.State)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(New(Config{Name: "vector"}))
	r.Register(New(Config{Name: "chat"}))

	require.NotNil(t, r.Get("vector"))
	require.NotNil(t, r.Get("chat"))
	require.Nil(t, r.Get("missing"))

	assert.Len(t, r.Snapshots(), 2)

	for i := 0; i < 5; i++ {
		r.Get("vector").Failure()
	}
	require.Equal(t, StateOpen, r.Get("vector").State())
	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get("vector").State())
}
