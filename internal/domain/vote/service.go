package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"live-polling/internal/domain/poll"
)

var ErrAlreadyVoted = errors.New("already voted")

// Outcomes reported to Metrics.
const (
	OutcomeAccepted     = "accepted"
	OutcomeNotFound     = "not_found"
	OutcomeInactive     = "inactive"
	OutcomeExpired      = "expired"
	OutcomeInvalid      = "invalid_option"
	OutcomeAlreadyVoted = "already_voted"
	OutcomeError        = "error"
)

type PollReader interface {
	Get(ctx context.Context, id string) (*poll.Poll, error)
	Complete(ctx context.Context, id string) (*poll.Poll, error)
}

type Metrics interface {
	VoteOutcome(outcome string)
}

// Event is published for every accepted vote.
type Event struct {
	PollID    string
	OptionID  string
	StudentID string
}

type Service struct {
	repo    Repository
	polls   PollReader
	events  chan<- Event
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewService(repo Repository, polls PollReader, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:  repo,
		polls: polls,
		log:   log,
		now:   time.Now,
	}
}

// SetEvents sets the channel accepted votes are offered to. Sends never block.
func (s *Service) SetEvents(ch chan<- Event) { s.events = ch }

func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Submit admits one vote and returns the refreshed poll. Every rejection
// leaves the tally untouched.
func (s *Service) Submit(ctx context.Context, pollID, studentID, optionID string) (*poll.Poll, error) {
	p, err := s.admit(ctx, pollID, studentID, optionID)
	s.observe(err)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		select {
		case s.events <- Event{PollID: pollID, OptionID: optionID, StudentID: studentID}:
		default:
		}
	}
	return p, nil
}

func (s *Service) HasVoted(ctx context.Context, pollID, studentID string) (bool, error) {
	return s.repo.HasVoted(ctx, pollID, studentID)
}

func (s *Service) admit(ctx context.Context, pollID, studentID, optionID string) (*poll.Poll, error) {
	p, err := s.polls.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, poll.ErrPollNotActive
	}
	if p.Expired(s.now()) {
		if _, err := s.polls.Complete(ctx, pollID); err != nil {
			s.log.Warn("lazy completion failed", "poll_id", pollID, "error", err)
		}
		return nil, poll.ErrPollExpired
	}
	if !p.HasOption(optionID) {
		return nil, poll.ErrInvalidOption
	}

	voted, err := s.repo.HasVoted(ctx, pollID, studentID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, ErrAlreadyVoted
	}

	v := &Vote{
		PollID:      pollID,
		StudentID:   studentID,
		OptionID:    optionID,
		SubmittedAt: s.now().UTC(),
	}
	// the store's uniqueness constraint settles races that got past HasVoted
	updated, err := s.repo.Cast(ctx, v)
	if err != nil {
		return nil, err
	}
	s.log.Debug("vote accepted", "poll_id", pollID, "option_id", optionID, "total_votes", updated.TotalVotes)
	return updated, nil
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.VoteOutcome(outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, poll.ErrPollNotFound):
		return OutcomeNotFound
	case errors.Is(err, poll.ErrPollNotActive):
		return OutcomeInactive
	case errors.Is(err, poll.ErrPollExpired):
		return OutcomeExpired
	case errors.Is(err, poll.ErrInvalidOption):
		return OutcomeInvalid
	case errors.Is(err, ErrAlreadyVoted):
		return OutcomeAlreadyVoted
	default:
		return OutcomeError
	}
}
