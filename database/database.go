package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pool is the subset of *pgxpool.Pool used by the audit store.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Database is the run and change-log audit store.
type Database struct {
	dsn            string
	ConnectionPool pool
	log            zerolog.Logger
}

func NewDatabase(dsn string, logger zerolog.Logger) *Database {
	return &Database{
		dsn: dsn,
		log: logger,
	}
}

// Connect opens the connection pool and checks the server is reachable.
func (db *Database) Connect(ctx context.Context) error {
	connectionPool, err := pgxpool.New(ctx, db.dsn)
	if err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	if err := connectionPool.Ping(ctx); err != nil {
		connectionPool.Close()
		return fmt.Errorf("ping audit database: %w", err)
	}
	db.ConnectionPool = connectionPool
	return nil
}

func (db *Database) Close() {
	if db == nil || db.ConnectionPool == nil {
		return
	}
	db.ConnectionPool.Close()
	db.ConnectionPool = nil
}

func (db *Database) rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.log.Error().Err(rbErr).AnErr("original_error", *err).Msg("transaction rollback failed")
		} else {
			db.log.Warn().Err(*err).Msg("transaction rolled back due to error")
		}
	} else {
		if cmErr := tx.Commit(ctx); cmErr != nil {
			*err = fmt.Errorf("commit failed: %w", cmErr)
			db.log.Error().Err(cmErr).Msg("transaction commit failed")
		}
	}
}

// RecordRun writes a run summary and its change-log lines in one transaction.
func (db *Database) RecordRun(ctx context.Context, run RunRecord, lines []ChangeLogRecord) (err error) {
	if db.ConnectionPool == nil {
		return fmt.Errorf("audit database is not connected")
	}

	tx, err := db.ConnectionPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer db.rollbackOrCommit(ctx, tx, &err)

	var runError *string
	if run.Error != "" {
		runError = &run.Error
	}

	_, err = tx.Exec(ctx, InsertRun,
		run.RunID,
		run.Status,
		runError,
		run.SourceRecords,
		run.DirectoryEntries,
		run.Matched,
		run.Updated,
		run.Failed,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}

	for _, line := range lines {
		loggedAt := line.LoggedAt
		if loggedAt.IsZero() {
			loggedAt = run.FinishedAt
		}
		_, err = tx.Exec(ctx, InsertChangeLogLine,
			run.RunID,
			line.CN,
			line.DistinguishedName,
			line.Action,
			line.Line,
			loggedAt,
		)
		if err != nil {
			return fmt.Errorf("insert change log line for %s: %w", line.CN, err)
		}
	}

	db.log.Debug().
		Str("run_id", run.RunID.String()).
		Int("lines", len(lines)).
		Msg("Recorded run in audit database")
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (db *Database) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if db.ConnectionPool == nil {
		return nil, fmt.Errorf("audit database is not connected")
	}

	rows, err := db.ConnectionPool.Query(ctx, RecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[RunRecord])
	if err != nil {
		return nil, fmt.Errorf("scan recent runs: %w", err)
	}
	return runs, nil
}
