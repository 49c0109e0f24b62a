package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type VoteRepo struct {
	db *sql.DB
}

func NewVoteRepo(db *sql.DB) *VoteRepo {
	return &VoteRepo{db: db}
}

// Cast inserts the vote, bumps the tallies and reads the poll back in a
// single transaction. The primary key on (poll_id, student_id) is the
// authoritative duplicate check. The increment holds the poll row lock until
// commit, so no other vote lands between the two reads.
func (r *VoteRepo) Cast(ctx context.Context, v *vote.Vote) (*poll.Poll, error) {
	const op = "postgres.VoteRepo.Cast"

	var updated *poll.Poll
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO votes (poll_id, student_id, option_id, submitted_at)
			VALUES ($1, $2, $3, $4)
		`, v.PollID, v.StudentID, v.OptionID, v.SubmittedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return vote.ErrAlreadyVoted
			case isForeignKeyViolation(err):
				return poll.ErrInvalidOption
			default:
				return storageErr(err)
			}
		}
		if err := incrementVote(ctx, tx, v.PollID, v.OptionID); err != nil {
			return err
		}
		updated, err = loadPoll(ctx, tx, ` WHERE id = $1`, v.PollID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

func (r *VoteRepo) HasVoted(ctx context.Context, pollID, studentID string) (bool, error) {
	const op = "postgres.VoteRepo.HasVoted"

	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM votes WHERE poll_id = $1 AND student_id = $2)
	`, pollID, studentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, storageErr(err))
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKeyViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
