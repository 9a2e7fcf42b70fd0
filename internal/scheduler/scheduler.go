// Package scheduler keeps one-shot timers keyed by request code.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

type timer struct {
	t   *time.Timer
	gen uint64
	due time.Time
}

// Scheduler arms at most one pending timer per key. It is safe for
// concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*timer
	gen     uint64
	stopped bool
	onCount func(int)
	now     func() time.Time
}

// New returns a Scheduler. onCount, if non-nil, is called with the number of
// pending timers whenever it changes.
func New(onCount func(int)) *Scheduler {
	return &Scheduler{timers: make(map[string]*timer), onCount: onCount, now: time.Now}
}

// Arm schedules fn to run once after delay, replacing any timer already armed
// for key. A negative delay fires immediately. Arm after Stop is a no-op.
func (s *Scheduler) Arm(key string, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	tm := &timer{gen: gen, due: s.now().Add(delay)}
	tm.t = time.AfterFunc(delay, func() {
		// A timer replaced or disarmed after it started firing must not run.
		s.mu.Lock()
		cur, ok := s.timers[key]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.notifyLocked()
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = tm
	s.notifyLocked()
}

// Disarm cancels the timer for key and reports whether one was pending.
func (s *Scheduler) Disarm(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.timers[key]
	if !ok {
		return false
	}
	tm.t.Stop()
	delete(s.timers, key)
	s.notifyLocked()
	return true
}

// Pending returns the keys with an armed timer, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.timers))
	for k := range s.timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Due returns when the timer for key will fire.
func (s *Scheduler) Due(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return tm.due, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and refuses further Arm calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, tm := range s.timers {
		tm.t.Stop()
		delete(s.timers, k)
	}
	s.notifyLocked()
}

func (s *Scheduler) notifyLocked() {
	if s.onCount != nil {
		s.onCount(len(s.timers))
	}
}
