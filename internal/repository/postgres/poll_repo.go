package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"live-polling/internal/domain/poll"
	"live-polling/internal/platform/apperr"
	"live-polling/internal/retry"
)

// activationLockKey serializes poll creation across every process sharing
// the database.
const activationLockKey = 7_412_001

type PollRepo struct {
	db *sql.DB
}

func NewPollRepo(db *sql.DB) *PollRepo {
	return &PollRepo{db: db}
}

func (r *PollRepo) Create(ctx context.Context, p *poll.Poll) ([]string, error) {
	const op = "postgres.PollRepo.Create"

	var preempted []string
	err := retry.DoIf(ctx, 3, 50*time.Millisecond, isActiveConflict, func() error {
		var err error
		preempted, err = r.create(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return preempted, nil
}

func (r *PollRepo) create(ctx context.Context, p *poll.Poll) ([]string, error) {
	var preempted []string
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, activationLockKey); err != nil {
			return storageErr(err)
		}

		rows, err := tx.QueryContext(ctx, `
			UPDATE polls SET is_active = FALSE, is_completed = TRUE
			WHERE is_active
			RETURNING id
		`)
		if err != nil {
			return storageErr(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			preempted = append(preempted, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storageErr(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO polls (id, question, time_limit, started_at, ends_at, is_active, is_completed, total_votes, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, FALSE, 0, $6)
		`, p.ID, p.Question, p.TimeLimit, p.StartedAt, p.EndsAt, p.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return poll.ErrActiveConflict
			}
			return storageErr(err)
		}

		for i, o := range p.Options {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO poll_options (poll_id, id, position, text, is_correct, vote_count)
				VALUES ($1, $2, $3, $4, $5, 0)
			`, p.ID, o.ID, i, o.Text, o.IsCorrect)
			if err != nil {
				return storageErr(err)
			}
		}
		return nil
	})
	return preempted, err
}

func (r *PollRepo) FindActive(ctx context.Context) (*poll.Poll, error) {
	const op = "postgres.PollRepo.FindActive"

	var p *poll.Poll
	err := readSnapshot(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		p, err = loadPoll(ctx, tx, ` WHERE is_active LIMIT 1`)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrNoActivePoll
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (r *PollRepo) FindByID(ctx context.Context, id string) (*poll.Poll, error) {
	const op = "postgres.PollRepo.FindByID"

	var p *poll.Poll
	err := readSnapshot(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		p, err = loadPoll(ctx, tx, ` WHERE id = $1`, id)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (r *PollRepo) SetActivation(ctx context.Context, id string, active, completed bool) (bool, error) {
	const op = "postgres.PollRepo.SetActivation"

	res, err := r.db.ExecContext(ctx, `
		UPDATE polls SET is_active = $2, is_completed = $3
		WHERE id = $1 AND (is_active <> $2 OR is_completed <> $3)
	`, id, active, completed)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%s: %w", op, poll.ErrActiveConflict)
		}
		return false, fmt.Errorf("%s: %w", op, storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, storageErr(err))
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM polls WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, storageErr(err))
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, poll.ErrPollNotFound)
	}
	return false, nil
}

func (r *PollRepo) ListCompleted(ctx context.Context, limit int) ([]poll.Poll, error) {
	const op = "postgres.PollRepo.ListCompleted"

	res := make([]poll.Poll, 0, limit)
	err := readSnapshot(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectPoll+`
			WHERE is_completed
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
		if err != nil {
			return storageErr(err)
		}
		defer rows.Close()

		for rows.Next() {
			var p poll.Poll
			if err := rows.Scan(pollColumns(&p)...); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			res = append(res, p)
		}
		if err := rows.Err(); err != nil {
			return storageErr(err)
		}
		rows.Close()

		for i := range res {
			opts, err := options(ctx, tx, res[i].ID)
			if err != nil {
				return err
			}
			res[i].Options = opts
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Ping is used by the readiness probe.
func (r *PollRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const selectPoll = `
	SELECT id, question, time_limit, started_at, ends_at, is_active, is_completed, total_votes, created_at
	FROM polls`

func pollColumns(p *poll.Poll) []any {
	return []any{
		&p.ID, &p.Question, &p.TimeLimit, &p.StartedAt, &p.EndsAt,
		&p.IsActive, &p.IsCompleted, &p.TotalVotes, &p.CreatedAt,
	}
}

// loadPoll reads one poll row and its options inside tx, so the tally it
// returns is the one committed at a single point in time.
func loadPoll(ctx context.Context, tx *sql.Tx, where string, args ...any) (*poll.Poll, error) {
	p := &poll.Poll{}
	if err := tx.QueryRowContext(ctx, selectPoll+where, args...).Scan(pollColumns(p)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	opts, err := options(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return p, nil
}

func options(ctx context.Context, tx *sql.Tx, pollID string) ([]poll.Option, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, text, is_correct, vote_count
		FROM poll_options WHERE poll_id = $1
		ORDER BY position
	`, pollID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	opts := make([]poll.Option, 0)
	for rows.Next() {
		var o poll.Option
		if err := rows.Scan(&o.ID, &o.Text, &o.IsCorrect, &o.Votes); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, storageErr(rows.Err())
}

// incrementVote bumps the poll total and the option count in one statement.
// A poll that is no longer active matches no row.
func incrementVote(ctx context.Context, tx *sql.Tx, pollID, optionID string) error {
	res, err := tx.ExecContext(ctx, `
		WITH p AS (
			UPDATE polls SET total_votes = total_votes + 1
			WHERE id = $1 AND is_active
			RETURNING id
		)
		UPDATE poll_options o SET vote_count = o.vote_count + 1
		FROM p
		WHERE o.poll_id = p.id AND o.id = $2
	`, pollID, optionID)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 1 {
		return nil
	}

	var active sql.NullBool
	err = tx.QueryRowContext(ctx, `SELECT is_active FROM polls WHERE id = $1`, pollID).Scan(&active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return poll.ErrPollNotFound
	case err != nil:
		return storageErr(err)
	case !active.Bool:
		return poll.ErrPollNotActive
	default:
		return poll.ErrInvalidOption
	}
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return runTx(ctx, db, nil, fn)
}

// readSnapshot runs fn in a read-only repeatable-read transaction: every
// statement in it sees the same committed state.
func readSnapshot(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return runTx(ctx, db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func isActiveConflict(err error) bool {
	return errors.Is(err, poll.ErrActiveConflict)
}

func storageErr(err error) error {
	return apperr.StorageUnavailable(err)
}
