// Package poll waits on remote state with a fixed initial delay followed by
// fixed-interval checks.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition did not hold before Poller.Timeout.
var ErrTimeout = errors.New("poll timeout")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// CheckFunc reports whether the awaited condition holds.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poller calls a CheckFunc until it reports done.
// Zero value checks immediately and then continuously with no delay.
type Poller struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// Timeout bounds the whole wait, initial delay included. Zero means no bound.
	Timeout time.Duration
	// Sleep defaults to Sleep when nil.
	Sleep SleepFunc
	// OnPending is called after each check that was not done.
	OnPending func(attempt int, next time.Duration)
}

// Until blocks until check reports done, check fails, the timeout elapses or
// ctx is cancelled.
func (p Poller) Until(ctx context.Context, check CheckFunc) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	if err := sleep(ctx, p.InitialDelay); err != nil {
		return p.wrap(err)
	}

	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return p.wrap(err)
		}
		if done {
			return nil
		}
		if p.OnPending != nil {
			p.OnPending(attempt, p.Interval)
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return p.wrap(err)
		}
	}
}

func (p Poller) wrap(err error) error {
	if p.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, p.Timeout, err)
	}
	return err
}

// Sleep waits for d honouring ctx cancellation. Non-positive durations only
// check ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
