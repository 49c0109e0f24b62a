package memory

import (
	"context"
	"sort"
	"sync"

	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
)

type voteKey struct {
	pollID    string
	studentID string
}

// Store keeps polls and votes in process memory behind one mutex. It gives
// the same atomicity as the Postgres store but only within a single process.
type Store struct {
	mu    sync.Mutex
	polls map[string]*poll.Poll
	order []string
	votes map[voteKey]vote.Vote
}

func NewStore() *Store {
	return &Store{
		polls: make(map[string]*poll.Poll),
		votes: make(map[voteKey]vote.Vote),
	}
}

func (s *Store) Create(ctx context.Context, p *poll.Poll) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var preempted []string
	for _, id := range s.order {
		existing := s.polls[id]
		if existing.IsActive {
			existing.IsActive = false
			existing.IsCompleted = true
			preempted = append(preempted, id)
		}
	}

	s.polls[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	return preempted, nil
}

func (s *Store) FindActive(ctx context.Context) (*poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if p := s.polls[id]; p.IsActive {
			return p.Clone(), nil
		}
	}
	return nil, poll.ErrNoActivePoll
}

func (s *Store) FindByID(ctx context.Context, id string) (*poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, poll.ErrPollNotFound
	}
	return p.Clone(), nil
}

func (s *Store) SetActivation(ctx context.Context, id string, active, completed bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return false, poll.ErrPollNotFound
	}
	if p.IsActive == active && p.IsCompleted == completed {
		return false, nil
	}
	if active {
		for _, other := range s.polls {
			if other.ID != id && other.IsActive {
				return false, poll.ErrActiveConflict
			}
		}
	}
	p.IsActive = active
	p.IsCompleted = completed
	return true, nil
}

func (s *Store) ListCompleted(ctx context.Context, limit int) ([]poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]poll.Poll, 0)
	for _, id := range s.order {
		if p := s.polls[id]; p.IsCompleted {
			res = append(res, *p.Clone())
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) Cast(ctx context.Context, v *vote.Vote) (*poll.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := voteKey{pollID: v.PollID, studentID: v.StudentID}
	if _, ok := s.votes[key]; ok {
		return nil, vote.ErrAlreadyVoted
	}
	if err := s.incrementLocked(v.PollID, v.OptionID); err != nil {
		return nil, err
	}
	s.votes[key] = *v
	return s.polls[v.PollID].Clone(), nil
}

func (s *Store) HasVoted(ctx context.Context, pollID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.votes[voteKey{pollID: pollID, studentID: studentID}]
	return ok, nil
}

// Ping satisfies the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// VoteCount returns the number of vote records for a poll.
func (s *Store) VoteCount(pollID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.votes {
		if k.pollID == pollID {
			n++
		}
	}
	return n
}

func (s *Store) incrementLocked(pollID, optionID string) error {
	p, ok := s.polls[pollID]
	if !ok {
		return poll.ErrPollNotFound
	}
	if !p.IsActive {
		return poll.ErrPollNotActive
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Votes++
			p.TotalVotes++
			return nil
		}
	}
	return poll.ErrInvalidOption
}
