package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStrategy struct {
	name  string
	ok    bool
	err   error
	delay time.Duration
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Authenticate(ctx context.Context, _ Request) (bool, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.ok, s.err
}

func TestDispatcherAnySuccessWins(t *testing.T) {
	d := NewDispatcher([]Strategy{
		stubStrategy{name: "miss", ok: false},
		stubStrategy{name: "hit", ok: true},
	}, nil, nil)

	ok, err := d.Authenticate(context.Background(), "1.2.3.4", Request{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatcherAllMiss(t *testing.T) {
	d := NewDispatcher([]Strategy{
		stubStrategy{name: "a"},
		stubStrategy{name: "b"},
	}, nil, nil)

	ok, err := d.Authenticate(context.Background(), "1.2.3.4", Request{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatcherNoStrategies(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	ok, err := d.Authenticate(context.Background(), "1.2.3.4", Request{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatcherForbiddenAbortsRace(t *testing.T) {
	// The forbidden verdict lands well before the would-be success, so a
	// weaker strategy must not override the denial.
	d := NewDispatcher([]Strategy{
		stubStrategy{name: "denies", err: ErrForbidden},
		stubStrategy{name: "slow-success", ok: true, delay: 200 * time.Millisecond},
	}, nil, nil)

	ok, err := d.Authenticate(context.Background(), "1.2.3.4", Request{})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, ok)
}

func TestDispatcherReportsFirstInfrastructureError(t *testing.T) {
	boom := errors.New("jwks fetch failed")
	d := NewDispatcher([]Strategy{
		stubStrategy{name: "broken", err: boom},
	}, nil, nil)

	ok, err := d.Authenticate(context.Background(), "1.2.3.4", Request{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestDispatcherThrottleDelaysAfterFailures(t *testing.T) {
	throttle := NewFailureThrottle(2, 50*time.Millisecond)
	d := NewDispatcher([]Strategy{stubStrategy{name: "miss"}}, throttle, nil)

	for i := 0; i < 2; i++ {
		ok, err := d.Authenticate(context.Background(), "10.0.0.1", Request{})
		require.NoError(t, err)
		require.False(t, ok)
	}

	start := time.Now()
	ok, err := d.Authenticate(context.Background(), "10.0.0.1", Request{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// A different peer is not delayed.
	start = time.Now()
	_, _ = d.Authenticate(context.Background(), "10.0.0.2", Request{})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDispatcherSuccessResetsThrottle(t *testing.T) {
	throttle := NewFailureThrottle(1, 200*time.Millisecond)
	throttle.RecordFailure("10.0.0.1")

	d := NewDispatcher([]Strategy{stubStrategy{name: "hit", ok: true}}, throttle, nil)

	// First attempt pays the delay, succeeds and resets.
	ok, err := d.Authenticate(context.Background(), "10.0.0.1", Request{})
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = d.Authenticate(context.Background(), "10.0.0.1", Request{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestFailureThrottleDelayHonorsContext(t *testing.T) {
	throttle := NewFailureThrottle(1, 5*time.Second)
	throttle.RecordFailure("10.0.0.1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	throttle.Delay(ctx, "10.0.0.1")
	assert.Less(t, time.Since(start), time.Second)
}
