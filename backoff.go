package main

import (
	"context"
	"time"
)

// RestartPolicy governs how the supervisor reacts to crashes. A zero
// MaxAttempts means retry forever.
type RestartPolicy struct {
	Backoff         []time.Duration
	MaxAttempts     int
	StabilityWindow time.Duration

	attempts int
}

// Attempts is the number of restarts since the last stable run.
func (p *RestartPolicy) Attempts() int { return p.attempts }

// Exhausted reports whether another restart is allowed.
func (p *RestartPolicy) Exhausted() bool {
	return p.MaxAttempts > 0 && p.attempts >= p.MaxAttempts
}

// Next returns the wait before the next restart and counts the attempt. The
// schedule's last entry repeats once the attempts outrun it.
func (p *RestartPolicy) Next() time.Duration {
	delay := scheduleDelay(p.Backoff, p.attempts)
	p.attempts++
	return delay
}

// ObserveRun resets the attempt counter when the run that just ended lasted
// longer than the stability window.
func (p *RestartPolicy) ObserveRun(uptime time.Duration) {
	if p.StabilityWindow > 0 && uptime >= p.StabilityWindow {
		p.attempts = 0
	}
}

func scheduleDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	return schedule[attempt]
}

// exponentialDelay doubles initial once per prior attempt (attempt is
// 1-based) and caps the result at limit.
func exponentialDelay(initial, limit time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// afterFunc matches time.After; tests substitute a controllable clock.
type afterFunc func(time.Duration) <-chan time.Time

// sleepCtx waits for d unless ctx is cancelled first. It reports whether the
// full wait elapsed.
func sleepCtx(ctx context.Context, after afterFunc, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-after(d):
		return true
	}
}
