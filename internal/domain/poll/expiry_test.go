package poll

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fire runs the callback even if stopped, like a timer that raced Stop.
func (t *fakeTimer) fire() { t.f() }

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) after(d time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{d: d, f: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *fakeTimers) at(i int) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timers[i]
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timers[len(f.timers)-1]
}

func TestSchedulerArmReplacesTask(t *testing.T) {
	var fired []string
	s := NewScheduler(func(id string) { fired = append(fired, id) })
	timers := &fakeTimers{}
	s.after = timers.after

	s.Arm("a", time.Minute)
	s.Arm("b", time.Minute)

	if !timers.at(0).stopped {
		t.Fatalf("first task must be stopped")
	}
	timers.at(0).fire()
	timers.at(1).fire()

	if len(fired) != 1 || fired[0] != "b" {
		t.Fatalf("only b may fire, got %v", fired)
	}
	if _, armed := s.Armed(); armed {
		t.Fatalf("nothing armed after firing")
	}
}

func TestSchedulerCancel(t *testing.T) {
	var fired int
	s := NewScheduler(func(string) { fired++ })
	timers := &fakeTimers{}
	s.after = timers.after

	s.Arm("a", time.Minute)
	if s.Cancel("other") {
		t.Fatalf("cancel of another poll must be ignored")
	}
	if !s.Cancel("a") {
		t.Fatalf("cancel of the armed poll must succeed")
	}
	timers.at(0).fire()
	if fired != 0 {
		t.Fatalf("cancelled task fired")
	}
}

func TestSchedulerNegativeDelay(t *testing.T) {
	s := NewScheduler(func(string) {})
	timers := &fakeTimers{}
	s.after = timers.after

	s.Arm("a", -time.Second)
	if d := timers.last().d; d != 0 {
		t.Fatalf("negative delay must clamp to 0, got %s", d)
	}
}

func TestSchedulerRealTimer(t *testing.T) {
	var fired atomic.Int32
	done := make(chan struct{})
	s := NewScheduler(func(id string) {
		if id == "b" {
			fired.Add(1)
			close(done)
		}
	})

	s.Arm("a", 20*time.Millisecond)
	s.Arm("b", 30*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected one firing, got %d", fired.Load())
	}
	s.Stop()
}
