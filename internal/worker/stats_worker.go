package worker

import (
	"context"
	"log/slog"

	"live-polling/internal/domain/vote"
)

type OptionCounter interface {
	OptionVote(pollID, optionID string)
}

// StatsWorker consumes accepted votes off the admission path.
type StatsWorker struct {
	Ch      <-chan vote.Event
	counter OptionCounter
	log     *slog.Logger
}

func NewStatsWorker(ch <-chan vote.Event, counter OptionCounter, log *slog.Logger) *StatsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &StatsWorker{Ch: ch, counter: counter, log: log}
}

func (w *StatsWorker) Run(ctx context.Context) {
	w.log.Info("stats worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stats worker stopped")
			return
		case ev, ok := <-w.Ch:
			if !ok {
				w.log.Info("stats worker stopped")
				return
			}
			w.log.Debug("processing vote event", "poll_id", ev.PollID, "option_id", ev.OptionID)
			if w.counter != nil {
				w.counter.OptionVote(ev.PollID, ev.OptionID)
			}
		}
	}
}
