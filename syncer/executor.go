package syncer

import (
	"context"
	"fmt"

	"f0oster/adsync/activedirectory"
	"f0oster/adsync/diff"
	"f0oster/adsync/records"

	"github.com/rs/zerolog"
)

type Action string

const (
	ActionUpdated Action = "Updated"
	ActionSkipped Action = "Skipping, not on allowlist"
)

// Modifier applies attribute replacements to a single directory entry.
type Modifier interface {
	Modify(ctx context.Context, dn string, replacements []activedirectory.Replacement) error
}

// LogLine is one change-log line, as logged and as handed to the audit store.
type LogLine struct {
	CN     string
	DN     string
	Action Action
	Text   string
}

func (l LogLine) String() string {
	return fmt.Sprintf("%s: %s", l.Action, l.Text)
}

// Result is the outcome of applying one entry's changes. Labels is empty
// unless the changes were written.
type Result struct {
	Labels []string
	Lines  []LogLine
}

// Executor writes computed changes to the directory, gated by an allow list.
type Executor struct {
	directory Modifier
	allowList AllowList
	log       zerolog.Logger
}

func NewExecutor(directory Modifier, allowList AllowList, logger zerolog.Logger) *Executor {
	return &Executor{directory: directory, allowList: allowList, log: logger}
}

// Apply writes all changes to entry in one modify operation if the entry is
// on the allow list. A modify failure is returned and nothing is logged as
// updated.
func (e *Executor) Apply(ctx context.Context, entry *records.DirectoryEntry, changes []diff.Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}

	if !e.allowList.Allows(entry.CN) {
		return Result{Lines: e.logChanges(entry, changes, ActionSkipped)}, nil
	}

	replacements := make([]activedirectory.Replacement, 0, len(changes))
	for _, c := range changes {
		replacements = append(replacements, activedirectory.Replacement{Attribute: c.DirectoryKey, Value: c.NewValue})
	}

	if err := e.directory.Modify(ctx, entry.DN, replacements); err != nil {
		return Result{}, fmt.Errorf("modify %s: %w", entry.CN, err)
	}

	return Result{
		Labels: diff.Labels(changes),
		Lines:  e.logChanges(entry, changes, ActionUpdated),
	}, nil
}

func (e *Executor) logChanges(entry *records.DirectoryEntry, changes []diff.Change, action Action) []LogLine {
	lines := make([]LogLine, 0, len(changes))
	for _, c := range changes {
		line := LogLine{CN: entry.CN, DN: entry.DN, Action: action, Text: c.LogLine(entry.CN)}
		e.log.Info().
			Str("cn", entry.CN).
			Str("attribute", c.DirectoryKey).
			Str("action", string(action)).
			Msg(line.String())
		lines = append(lines, line)
	}
	return lines
}
