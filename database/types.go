package database

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord represents a row in the sync_runs table.
// It summarises one reconciliation run.
type RunRecord struct {
	RunID            uuid.UUID
	Status           string
	Error            string // empty when the run succeeded
	SourceRecords    int
	DirectoryEntries int
	Matched          int
	Updated          int
	Failed           int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// ChangeLogRecord represents a row in the change_log table.
// It is the text of one change-log line, never the change itself.
type ChangeLogRecord struct {
	CN                string
	DistinguishedName string
	Action            string
	Line              string
	LoggedAt          time.Time
}
