package vote

import (
	"context"
	"time"

	"live-polling/internal/domain/poll"
)

type Vote struct {
	PollID      string    `json:"pollId"`
	StudentID   string    `json:"studentId"`
	OptionID    string    `json:"optionId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Repository interface {
	// Cast records v and increments the option and poll tallies in one
	// atomic step. A second vote for the same (PollID, StudentID) fails with
	// ErrAlreadyVoted; a poll completed before the write commits fails with
	// poll.ErrPollNotActive. Nothing is written on failure. On success it
	// returns the poll as committed by that same step.
	Cast(ctx context.Context, v *Vote) (*poll.Poll, error)
	HasVoted(ctx context.Context, pollID, studentID string) (bool, error)
}
