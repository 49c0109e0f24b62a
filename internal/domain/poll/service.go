package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinOptions      = 2
	expireTimeout   = 10 * time.Second
	maxHistoryLimit = 100
)

// Completion reasons reported to the Notifier and to metrics.
const (
	ReasonTimer   = "timer"
	ReasonLazy    = "lazy"
	ReasonPreempt = "preempt"
)

// Notifier is told about polls that transitioned to completed by the timer
// or by a lazy read. Pre-empted polls are not reported.
type Notifier interface {
	PollCompleted(p *Poll)
}

type Metrics interface {
	PollCreated()
	PollCompleted(reason string)
}

type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

type CreateInput struct {
	Question  string        `json:"question"`
	Options   []OptionInput `json:"options"`
	TimeLimit int           `json:"timeLimit"`
}

// Service owns the single-active-poll state machine and its expiry task.
type Service struct {
	repo      Repository
	scheduler *Scheduler
	notifier  Notifier
	metrics   Metrics
	log       *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
	s.scheduler = NewScheduler(s.expire)
	return s
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Scheduler() *Scheduler { return s.scheduler }

func (s *Service) CreateAndStart(ctx context.Context, in CreateInput) (*Poll, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Poll{
		ID:        uuid.NewString(),
		Question:  strings.TrimSpace(in.Question),
		Options:   make([]Option, 0, len(in.Options)),
		TimeLimit: in.TimeLimit,
		StartedAt: now,
		EndsAt:    now.Add(time.Duration(in.TimeLimit) * time.Second),
		IsActive:  true,
		CreatedAt: now,
	}
	for _, o := range in.Options {
		p.Options = append(p.Options, Option{
			ID:        uuid.NewString(),
			Text:      strings.TrimSpace(o.Text),
			IsCorrect: o.IsCorrect,
		})
	}

	preempted, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("could not create poll: %w", err)
	}

	// the store has committed; only now is the new expiry armed
	s.scheduler.Arm(p.ID, time.Duration(p.TimeLimit)*time.Second)

	if s.metrics != nil {
		s.metrics.PollCreated()
		for range preempted {
			s.metrics.PollCompleted(ReasonPreempt)
		}
	}
	s.log.Info("poll started", "poll_id", p.ID, "time_limit", p.TimeLimit, "preempted", len(preempted))

	return p, nil
}

// GetActive returns the active poll or nil when there is none.
func (s *Service) GetActive(ctx context.Context) (*Poll, error) {
	p, err := s.repo.FindActive(ctx)
	if errors.Is(err, ErrNoActivePoll) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetState reports the active poll and its remaining seconds. An active poll
// past its end is completed here, whether or not the timer ever fired.
func (s *Service) GetState(ctx context.Context) (State, error) {
	p, err := s.GetActive(ctx)
	if err != nil {
		return State{}, err
	}
	if p == nil {
		return State{}, nil
	}

	now := s.now()
	if !now.Before(p.EndsAt) && p.IsActive {
		completed, err := s.completeFor(ctx, p.ID, ReasonLazy)
		if err != nil {
			return State{}, err
		}
		zero := 0
		return State{Poll: completed, TimeRemaining: &zero}, nil
	}

	remaining := p.Remaining(now)
	return State{Poll: p, TimeRemaining: &remaining}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Poll, error) {
	return s.repo.FindByID(ctx, id)
}

// Complete moves the poll to completed. Completing a completed poll is a no-op.
func (s *Service) Complete(ctx context.Context, id string) (*Poll, error) {
	return s.completeFor(ctx, id, ReasonLazy)
}

func (s *Service) History(ctx context.Context, limit int) ([]Poll, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListCompleted(ctx, limit)
}

// Resume re-arms the expiry of a poll left active by a previous process,
// or completes it when its window already closed.
func (s *Service) Resume(ctx context.Context) error {
	p, err := s.GetActive(ctx)
	if err != nil || p == nil {
		return err
	}

	now := s.now()
	if !now.Before(p.EndsAt) {
		_, err := s.completeFor(ctx, p.ID, ReasonLazy)
		return err
	}

	s.scheduler.Arm(p.ID, p.EndsAt.Sub(now))
	s.log.Info("poll expiry re-armed", "poll_id", p.ID, "remaining_s", p.Remaining(now))
	return nil
}

func (s *Service) Close() {
	s.scheduler.Stop()
}

func (s *Service) completeFor(ctx context.Context, id, reason string) (*Poll, error) {
	changed, err := s.repo.SetActivation(ctx, id, false, true)
	if err != nil {
		return nil, fmt.Errorf("could not complete poll: %w", err)
	}

	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	s.scheduler.Cancel(id)
	if s.metrics != nil {
		s.metrics.PollCompleted(reason)
	}
	s.log.Info("poll completed", "poll_id", id, "reason", reason, "total_votes", p.TotalVotes)
	if s.notifier != nil {
		s.notifier.PollCompleted(p.Clone())
	}
	return p, nil
}

func (s *Service) expire(pollID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	if _, err := s.completeFor(ctx, pollID, ReasonTimer); err != nil {
		// GetState will complete it on the next read
		s.log.Error("auto-complete failed", "poll_id", pollID, "error", err)
	}
}

func validate(in CreateInput) error {
	if strings.TrimSpace(in.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrValidation)
	}
	if len(in.Options) < MinOptions {
		return fmt.Errorf("%w: poll must have at least %d options", ErrValidation, MinOptions)
	}
	for i, o := range in.Options {
		if strings.TrimSpace(o.Text) == "" {
			return fmt.Errorf("%w: option %d text is required", ErrValidation, i+1)
		}
	}
	if in.TimeLimit <= 0 {
		return fmt.Errorf("%w: time limit must be positive", ErrValidation)
	}
	return nil
}
