// CLAUDE:SUMMARY Fixed-cadence cycle loop with drift correction and overrun reset; screensaver rotator over a local image directory.
// Package schedule drives the periodic work of framesync: the main sync
// cycle on a drift-corrected cadence and the screensaver rotation on a
// plain fixed interval.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Next returns the start of the cycle after the one targeted at target, and
// how long to wait for it from now. Targets advance by interval so slow
// cycles do not accumulate drift. When the cycle ran past its successor's
// target the next one is due at once and the baseline resets to now.
func Next(target, now time.Time, interval time.Duration) (time.Time, time.Duration) {
	target = target.Add(interval)
	delay := target.Sub(now)
	if delay <= 0 {
		return now, 0
	}
	return target, delay
}

// Loop runs a function on a drift-corrected cadence.
type Loop struct {
	Interval time.Duration

	// Now and Sleep default to the wall clock. Sleep returns early with
	// ctx.Err() when ctx is done.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// Run calls fn with cycle numbers 1, 2, ... until ctx is done, and returns
// ctx.Err(). The first cycle starts immediately.
func (l *Loop) Run(ctx context.Context, fn func(ctx context.Context, cycle int)) error {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	target := now()
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(ctx, cycle)

		var delay time.Duration
		target, delay = Next(target, now(), l.Interval)
		if delay == 0 {
			log.Warn("schedule: cycle overran its interval, starting next at once",
				"cycle", cycle, "interval", l.Interval)
			continue
		}
		log.Debug("schedule: sleeping", "cycle", cycle, "delay", delay.Round(time.Millisecond))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
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
