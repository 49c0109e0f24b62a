package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"live-polling/internal/retry"
)

const (
	pingAttempts  = 6
	pingBaseDelay = 500 * time.Millisecond
)

// NewPostgres opens a pool and waits for the server to answer. An
// unreachable database is returned as an error so startup can abort.
func NewPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	err = retry.Do(ctx, pingAttempts, pingBaseDelay, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	return db, nil
}
