package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errUpstream = errors.New("upstream down")

func failing(ctx context.Context) error { return errUpstream }
func succeeding(ctx context.Context) error { return nil }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:        "test",
		MaxFailures: 3,
		Timeout:     10 * time.Second,
		Now:         clock.Now,
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.Advance(11 * time.Second)

	assert.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.Advance(11 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
}

func TestCircuitBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
