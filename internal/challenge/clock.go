package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimerRegistry holds at most one pending end-of-challenge timer per
// challenge id. Scheduling for an id that already has a timer cancels the old
// one first, so restarting a challenge can never be cut short by a stale
// deadline.
type TimerRegistry struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]*scheduledTimer
}

type scheduledTimer struct {
	timer    clockwork.Timer
	cancelCh chan struct{}
}

// NewTimerRegistry creates a registry driven by the given clock. Tests pass a
// clockwork fake clock.
func NewTimerRegistry(clock clockwork.Clock) *TimerRegistry {
	return &TimerRegistry{
		clock:  clock,
		timers: make(map[string]*scheduledTimer),
	}
}

// Schedule arms a one-shot timer that invokes fn(id) at the given time,
// replacing any timer already armed for the id. Deadlines in the past fire
// immediately.
func (r *TimerRegistry) Schedule(ctx context.Context, id string, at time.Time, fn func(id string)) {
	duration := at.Sub(r.clock.Now())
	if duration <= 0 {
		r.Cancel(id)
		log.Debug().Str("challenge_id", id).Time("deadline", at).Msg("deadline already passed - firing immediately")
		go fn(id)
		return
	}

	st := &scheduledTimer{
		timer:    r.clock.NewTimer(duration),
		cancelCh: make(chan struct{}),
	}

	r.mu.Lock()
	if prev, exists := r.timers[id]; exists {
		stopAndDrainTimer(prev.timer)
		close(prev.cancelCh)
		log.Debug().Str("challenge_id", id).Msg("replaced existing timer")
	}
	r.timers[id] = st
	r.mu.Unlock()

	go func() {
		select {
		case <-st.timer.Chan():
			r.remove(id, st)
			fn(id)
		case <-st.cancelCh:
		case <-ctx.Done():
			stopAndDrainTimer(st.timer)
			r.remove(id, st)
		}
	}()

	log.Debug().
		Str("challenge_id", id).
		Time("deadline", at).
		Dur("duration", duration).
		Msg("scheduled one-shot timer")
}

// Cancel stops and removes the timer for an id, if one is armed.
func (r *TimerRegistry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, exists := r.timers[id]; exists {
		stopAndDrainTimer(st.timer)
		close(st.cancelCh)
		delete(r.timers, id)
		log.Debug().Str("challenge_id", id).Msg("cancelled timer")
	}
}

// remove deletes the entry only if it still points at the fired timer; a
// replacement scheduled in the firing window must survive.
func (r *TimerRegistry) remove(id string, st *scheduledTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.timers[id]; exists && current == st {
		delete(r.timers, id)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
