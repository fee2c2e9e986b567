package reconciler

import (
	"context"
	"time"

	"f0oster/adsync/activedirectory"
	"f0oster/adsync/database"
	"f0oster/adsync/records"

	"github.com/google/uuid"
)

// SourceFetcher returns every filled position of one organization.
type SourceFetcher interface {
	FetchFilledJobs(ctx context.Context, orgID, token string) ([]records.SourceRecord, error)
}

// Directory is a connected directory session. It is used by one run only.
type Directory interface {
	FetchUserEntries(ctx context.Context, attributes []string) ([]records.DirectoryEntry, error)
	Modify(ctx context.Context, dn string, replacements []activedirectory.Replacement) error
	Close() error
}

// Connector opens a directory session. On error it returns a nil Directory.
type Connector interface {
	Connect(ctx context.Context) (Directory, error)
}

type Notifier interface {
	Notify(ctx context.Context, subject, bodyHTML string) error
}

type AuditSink interface {
	RecordRun(ctx context.Context, run database.RunRecord, lines []database.ChangeLogRecord) error
}

// Organization is one HR organization and the token used to read it.
type Organization struct {
	ID    string
	Token string
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is one directory entry that was written, with the labels of the
// fields changed.
type Outcome struct {
	Entry  records.DirectoryEntry
	Record records.SourceRecord
	Labels []string
}

// Failure is a pair whose changes could not be applied.
type Failure struct {
	CN       string `json:"cn"`
	DN       string `json:"dn"`
	Category string `json:"category"`
	Error    string `json:"error"`
}

// Result summarises a run.
type Result struct {
	RunID            uuid.UUID `json:"runId"`
	Status           Status    `json:"status"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	SourceRecords    int       `json:"charthopJobs"`
	DirectoryEntries int       `json:"adJobs"`
	Matched          int       `json:"matched"`
	Ambiguities      int       `json:"ambiguities"`
	Updated          int       `json:"updated"`
	Failures         []Failure `json:"failures,omitempty"`
	Outcomes         []Outcome `json:"-"`
}
