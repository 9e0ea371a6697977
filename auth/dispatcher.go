package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher races the configured strategies against each request: every
// strategy evaluates the same credentials concurrently, any single
// success authenticates the request, and a definitive denial
// (ErrForbidden) aborts the race so no weaker strategy can override it.
type Dispatcher struct {
	strategies []Strategy
	throttle   *FailureThrottle
	logger     *slog.Logger
}

func NewDispatcher(strategies []Strategy, throttle *FailureThrottle, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		strategies: strategies,
		throttle:   throttle,
		logger:     logger,
	}
}

// Authenticate evaluates all strategies concurrently. peer identifies the
// caller for brute-force throttling (typically the remote address).
func (d *Dispatcher) Authenticate(ctx context.Context, peer string, req Request) (bool, error) {
	if len(d.strategies) == 0 {
		return false, nil
	}

	if d.throttle != nil {
		d.throttle.Delay(ctx, peer)
	}

	type verdict struct {
		name string
		ok   bool
		err  error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan verdict, len(d.strategies))
	var wg sync.WaitGroup
	for _, strategy := range d.strategies {
		strategy := strategy
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := strategy.Authenticate(ctx, req)
			results <- verdict{name: strategy.Name(), ok: ok, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for v := range results {
		if v.ok {
			cancel()
			if d.throttle != nil {
				d.throttle.Reset(peer)
			}
			d.logger.Debug("request authenticated", "strategy", v.name)
			return true, nil
		}
		if errors.Is(v.err, ErrForbidden) {
			cancel()
			d.logger.Warn("request forbidden", "strategy", v.name)
			return false, v.err
		}
		if v.err != nil && firstErr == nil {
			firstErr = v.err
		}
	}

	if d.throttle != nil {
		d.throttle.RecordFailure(peer)
	}
	return false, firstErr
}

// FailureThrottle slows brute-force attempts: once a peer accumulates
// enough consecutive failures, each further attempt is delayed before any
// strategy runs.
type FailureThrottle struct {
	threshold int
	delay     time.Duration

	mu       sync.Mutex
	failures map[string]int
}

// NewFailureThrottle creates a throttle that delays after threshold
// consecutive failures.
func NewFailureThrottle(threshold int, delay time.Duration) *FailureThrottle {
	if threshold <= 0 {
		threshold = 3
	}
	if delay <= 0 {
		delay = time.Second
	}
	return &FailureThrottle{
		threshold: threshold,
		delay:     delay,
		failures:  make(map[string]int),
	}
}

// Delay blocks when the peer is over threshold, honoring ctx cancellation.
func (t *FailureThrottle) Delay(ctx context.Context, peer string) {
	t.mu.Lock()
	over := t.failures[peer] >= t.threshold
	t.mu.Unlock()
	if !over {
		return
	}

	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (t *FailureThrottle) RecordFailure(peer string) {
	t.mu.Lock()
	t.failures[peer]++
	t.mu.Unlock()
}

func (t *FailureThrottle) Reset(peer string) {
	t.mu.Lock()
	delete(t.failures, peer)
	t.mu.Unlock()
}
