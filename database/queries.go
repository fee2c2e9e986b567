package database

// SQL query constants for the audit store.

const (
	InsertRun = `
		INSERT INTO sync_runs (
			run_id,
			status,
			error,
			source_records,
			directory_entries,
			matched,
			updated,
			failed,
			started_at,
			finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	InsertChangeLogLine = `
		INSERT INTO change_log (run_id, cn, distinguished_name, action, line, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	RecentRuns = `
		SELECT run_id, status, COALESCE(error, ''), source_records, directory_entries,
			matched, updated, failed, started_at, finished_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1`
)
