// alarm.go - Alarm service (spec.md C7, §4.7).
//
// A dedicated goroutine sleeping until the nearest deadline across all
// cores, grounded on the teacher's coproc_worker_6502.go worker-loop shape
// (select on a stop channel plus a ticker) generalized from a fixed tick
// period to a dynamically recomputed "wake at the next deadline" sleep,
// which is what spec.md's alarm service actually needs (per-core
// NextAlarmNanos can move earlier or later at any time).
package espresso

import (
	"context"
	"math"
	"sort"
	"time"
)

// AlarmService watches every core's NextAlarmNanos deadline and raises
// IntAlarm on whichever core's deadline has passed.
type AlarmService struct {
	cores []*Core
	wake  chan struct{}
}

func NewAlarmService(cores []*Core) *AlarmService {
	return &AlarmService{cores: cores, wake: make(chan struct{}, 1)}
}

// SetNextAlarm installs core's next deadline and nudges the service to
// reconsider its sleep, matching spec.md §4.7 ("setting an earlier deadline
// must wake the alarm thread immediately, not wait for its current sleep").
func (a *AlarmService) SetNextAlarm(core *Core, deadline time.Time) {
	core.NextAlarmNanos.Store(deadline.UnixNano())
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// CancelAlarm clears core's deadline.
func (a *AlarmService) CancelAlarm(core *Core) {
	core.NextAlarmNanos.Store(math.MaxInt64)
}

// Run is the service's goroutine body; returns when ctx is cancelled. Errors
// here are non-fatal (ErrAlarmFailure) per spec.md §7: a missed alarm
// degrades timing but must not crash the emulator.
func (a *AlarmService) Run(ctx context.Context) error {
	for {
		next := a.nearestDeadline()
		var timer *time.Timer
		if next.IsZero() {
			timer = time.NewTimer(time.Hour)
		} else {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-a.wake:
			timer.Stop()
		case <-timer.C:
			a.fireExpired()
		}
	}
}

func (a *AlarmService) nearestDeadline() time.Time {
	deadlines := make([]int64, 0, len(a.cores))
	for _, c := range a.cores {
		deadlines = append(deadlines, c.NextAlarmNanos.Load())
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i] < deadlines[j] })
	if len(deadlines) == 0 || deadlines[0] == math.MaxInt64 {
		return time.Time{}
	}
	return time.Unix(0, deadlines[0])
}

func (a *AlarmService) fireExpired() {
	now := time.Now().UnixNano()
	for _, c := range a.cores {
		if c.NextAlarmNanos.Load() <= now {
			c.NextAlarmNanos.Store(math.MaxInt64)
			c.SetInterrupt(IntAlarm)
		}
	}
}
