package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"live-polling/internal/domain/vote"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) OptionVote(pollID, optionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[pollID+"/"+optionID]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func TestStatsWorkerCountsEvents(t *testing.T) {
	ch := make(chan vote.Event, 4)
	rec := &countingRecorder{counts: make(map[string]int)}
	w := NewStatsWorker(ch, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	ch <- vote.Event{PollID: "p1", OptionID: "o1", StudentID: "s1"}
	ch <- vote.Event{PollID: "p1", OptionID: "o1", StudentID: "s2"}
	ch <- vote.Event{PollID: "p1", OptionID: "o2", StudentID: "s3"}

	deadline := time.Now().Add(2 * time.Second)
	for rec.get("p1/o1") != 2 || rec.get("p1/o2") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("events not processed: %v", rec.counts)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}
