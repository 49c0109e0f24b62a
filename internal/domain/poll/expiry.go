package poll

import (
	"sync"
	"time"
)

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Scheduler holds at most one armed expiry task. Arming a new poll cancels
// the previous task, so a superseded timer never fires.
type Scheduler struct {
	mu     sync.Mutex
	pollID string
	gen    uint64
	task   stopper
	after  afterFunc
	fire   func(pollID string)
}

func NewScheduler(fire func(pollID string)) *Scheduler {
	return &Scheduler{after: realAfterFunc, fire: fire}
}

// Arm replaces any armed task with one that fires for pollID after d.
func (s *Scheduler) Arm(pollID string, d time.Duration) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.pollID = pollID
	s.task = s.after(d, func() { s.run(gen) })
}

// Cancel stops the task for pollID if it is the armed one.
func (s *Scheduler) Cancel(pollID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task == nil || s.pollID != pollID {
		return false
	}
	s.stopLocked()
	return true
}

// Armed returns the poll id of the live task, if any.
func (s *Scheduler) Armed() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollID, s.task != nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.task != nil {
		s.task.Stop()
	}
	s.task = nil
	s.pollID = ""
	s.gen++
}

func (s *Scheduler) run(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.task == nil {
		s.mu.Unlock()
		return
	}
	pollID := s.pollID
	s.task = nil
	s.pollID = ""
	s.mu.Unlock()

	s.fire(pollID)
}
