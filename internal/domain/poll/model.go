package poll

import (
	"context"
	"errors"
	"time"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrPollNotFound   = errors.New("poll not found")
	ErrNoActivePoll   = errors.New("no active poll")
	ErrPollNotActive  = errors.New("poll is no longer active")
	ErrPollExpired    = errors.New("poll has expired")
	ErrInvalidOption  = errors.New("invalid option")
	ErrActiveConflict = errors.New("another poll became active")
)

type Poll struct {
	ID          string    `json:"_id"`
	Question    string    `json:"question"`
	Options     []Option  `json:"options"`
	TimeLimit   int       `json:"timeLimit"`
	StartedAt   time.Time `json:"startedAt"`
	EndsAt      time.Time `json:"endsAt"`
	IsActive    bool      `json:"isActive"`
	IsCompleted bool      `json:"isCompleted"`
	TotalVotes  int       `json:"totalVotes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Option is one selectable answer. IsCorrect is stored and sent to clients
// but nothing in the service reads it.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
	Votes     int    `json:"votes"`
}

// State is the derived view of the active poll at read time.
type State struct {
	Poll          *Poll `json:"poll"`
	TimeRemaining *int  `json:"timeRemaining"`
}

func (p *Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Remaining returns the seconds left until EndsAt, rounded up and never
// negative.
func (p *Poll) Remaining(now time.Time) int {
	d := p.EndsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func (p *Poll) Expired(now time.Time) bool {
	return now.After(p.EndsAt)
}

func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = make([]Option, len(p.Options))
	copy(c.Options, p.Options)
	return &c
}

// Repository is the durable poll store. Implementations must make Create
// atomic at the store, not just in process. Tallies change only through
// vote.Repository.Cast.
type Repository interface {
	// Create completes every active poll and inserts p as the only active
	// poll in one committed transition. It returns the ids it pre-empted.
	Create(ctx context.Context, p *Poll) ([]string, error)
	FindActive(ctx context.Context) (*Poll, error)
	FindByID(ctx context.Context, id string) (*Poll, error)
	// SetActivation updates the flags only when they differ from the stored
	// ones and reports whether a row changed.
	SetActivation(ctx context.Context, id string, active, completed bool) (bool, error)
	ListCompleted(ctx context.Context, limit int) ([]Poll, error)
}
