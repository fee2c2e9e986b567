package reconciler

import (
	"context"
	"fmt"
	"time"

	"f0oster/adsync/activedirectory"
	"f0oster/adsync/database"
	"f0oster/adsync/diff"
	"f0oster/adsync/fields"
	"f0oster/adsync/matching"
	"f0oster/adsync/records"
	"f0oster/adsync/report"
	"f0oster/adsync/syncer"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options are the resolved, run-scoped settings.
type Options struct {
	Organizations    []Organization
	Catalog          *fields.Catalog
	AllowList        syncer.AllowList
	TestPairing      matching.TestPairing
	FetchConcurrency int
}

type Option func(*Reconciler)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = logger }
}

func WithNotifier(notifier Notifier) Option {
	return func(r *Reconciler) { r.notifier = notifier }
}

func WithAuditSink(sink AuditSink) Option {
	return func(r *Reconciler) { r.audit = sink }
}

func withClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler drives one HR to directory sync.
type Reconciler struct {
	opts      Options
	keys      matching.Keys
	source    SourceFetcher
	connector Connector
	notifier  Notifier
	audit     AuditSink
	log       zerolog.Logger
	now       func() time.Time
}

func New(opts Options, source SourceFetcher, connector Connector, options ...Option) (*Reconciler, error) {
	if opts.Catalog == nil {
		opts.Catalog = fields.DefaultCatalog()
	}
	if err := opts.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("field catalog: %w", err)
	}
	emailKey, ok := opts.Catalog.EmailSourceKey()
	if !ok {
		return nil, fmt.Errorf("field catalog has no %s mapping to match on", fields.MailAttribute)
	}
	if len(opts.Organizations) == 0 {
		return nil, fmt.Errorf("at least one organization is required")
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 1
	}

	r := &Reconciler{
		opts:      opts,
		keys:      matching.Keys{SourceEmailKey: emailKey, DirectoryMailKey: fields.MailAttribute},
		source:    source,
		connector: connector,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// run holds the state of a single Run call.
type run struct {
	result    *Result
	directory Directory
	lines     []syncer.LogLine
	log       zerolog.Logger
}

// Run performs one reconciliation. A fatal error is returned together with a
// Result whose Status is StatusFailed. The directory session is always
// released before Run returns.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	state := &run{
		result: &Result{
			RunID:     uuid.New(),
			Status:    StatusSucceeded,
			StartedAt: r.now(),
		},
	}
	state.log = r.log.With().Str("run_id", state.result.RunID.String()).Logger()

	defer r.release(state)

	err := r.sync(ctx, state)
	state.result.FinishedAt = r.now()
	state.result.Updated = len(state.result.Outcomes)

	// notifications and the audit record are best effort and must still be
	// delivered when the run was cancelled
	reportCtx := context.WithoutCancel(ctx)

	if err != nil {
		state.result.Status = StatusFailed
		state.result.Error = err.Error()
		state.log.Error().Err(err).Msg("Sync failed")
		r.notifyError(reportCtx, state, err)
	}
	// entries written before a failure are still reported
	if err == nil || len(state.result.Outcomes) > 0 {
		r.notifySummary(reportCtx, state)
	}

	r.recordAudit(reportCtx, state)

	state.log.Info().
		Str("status", string(state.result.Status)).
		Int("charthop_jobs", state.result.SourceRecords).
		Int("ad_jobs", state.result.DirectoryEntries).
		Int("updated", state.result.Updated).
		Int("failed", len(state.result.Failures)).
		Msg("Sync finished")

	return state.result, err
}

func (r *Reconciler) sync(ctx context.Context, state *run) error {
	directory, err := r.connector.Connect(ctx)
	if err != nil {
		if activedirectory.IsAuthenticationError(err) {
			return errors.Wrap(err, "connect to directory: bind rejected, check LDAP_USER and LDAP_PASS")
		}
		return errors.Wrap(err, "connect to directory")
	}
	state.directory = directory
	state.log.Info().Int("allowlist_entries", r.opts.AllowList.Len()).Msg("Connected to LDAP server")

	recs, err := r.fetchSources(ctx, state.log)
	if err != nil {
		return err
	}
	state.result.SourceRecords = len(recs)
	state.log.Info().Int("count", len(recs)).Msg("Fetched jobs from ChartHop")

	entries, err := directory.FetchUserEntries(ctx, r.opts.Catalog.DirectoryAttributes())
	if err != nil {
		return errors.Wrap(err, "fetch directory entries")
	}
	state.result.DirectoryEntries = len(entries)
	state.log.Info().Int("count", len(entries)).Msg("Fetched jobs from AD LDAP")

	mm := r.match(state, recs, entries)

	executor := syncer.NewExecutor(directory, r.opts.AllowList, state.log)
	for _, pair := range mm.Pairs() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "sync interrupted")
		}
		r.syncPair(ctx, state, executor, mm, pair)
	}
	return nil
}

// fetchSources reads every organization, at most FetchConcurrency at a time.
// Records are concatenated in configuration order.
func (r *Reconciler) fetchSources(ctx context.Context, log zerolog.Logger) ([]records.SourceRecord, error) {
	if r.opts.FetchConcurrency == 1 {
		var all []records.SourceRecord
		for _, org := range r.opts.Organizations {
			recs, err := r.fetchOrganization(ctx, log, org)
			if err != nil {
				return nil, err
			}
			all = append(all, recs...)
		}
		return all, nil
	}

	orgs := r.opts.Organizations
	batches := make([][]records.SourceRecord, len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchConcurrency)
	for i, org := range orgs {
		i, org := i, org
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs, err := r.fetchOrganization(gctx, log, org)
			batches[i] = recs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []records.SourceRecord
	for _, batch := range batches {
		all = append(all, batch...)
	}
	return all, nil
}

func (r *Reconciler) fetchOrganization(ctx context.Context, log zerolog.Logger, org Organization) ([]records.SourceRecord, error) {
	recs, err := r.source.FetchFilledJobs(ctx, org.ID, org.Token)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch source records for org %s", org.ID)
	}
	log.Info().Str("org_id", org.ID).Int("count", len(recs)).Msg("Fetched jobs from ChartHop org")
	return recs, nil
}

func (r *Reconciler) match(state *run, recs []records.SourceRecord, entries []records.DirectoryEntry) *matching.MatchMap {
	mm, ambiguities := matching.Build(recs, entries, r.keys)
	for _, a := range ambiguities {
		state.log.Warn().
			Str("kind", string(a.Kind)).
			Strs("source_keys", a.SourceKeys).
			Strs("dns", a.DNs).
			Msg("Ambiguous match, keeping the last match")
	}
	state.result.Ambiguities = len(ambiguities)
	state.log.Info().Int("count", mm.Len()).Msg("Matched")

	if pair, ok := r.opts.TestPairing.Apply(mm, recs, entries); ok {
		state.log.Info().
			Str("cn", pair.Entry.CN).
			Str("source_key", pair.Record.Key()).
			Msg("Set test pairing")
	} else if r.opts.TestPairing.Enabled() {
		state.log.Warn().
			Str("cn", r.opts.TestPairing.DirectoryCN).
			Str("source_id", r.opts.TestPairing.SourceID).
			Msg("Test pairing not applied, entry or record not found")
	}

	state.result.Matched = mm.Len()
	return mm
}

func (r *Reconciler) syncPair(ctx context.Context, state *run, executor *syncer.Executor, mm *matching.MatchMap, pair matching.Pair) {
	matching.ResolveManager(pair.Record, mm)
	changes := diff.ComputeChanges(r.opts.Catalog, pair.Record, pair.Entry)

	applied, err := executor.Apply(ctx, pair.Entry, changes)
	state.lines = append(state.lines, applied.Lines...)
	if err != nil {
		category := activedirectory.GetErrorCategory(err)
		state.log.Error().
			Err(err).
			Str("cn", pair.Entry.CN).
			Str("dn", pair.Entry.DN).
			Str("category", string(category)).
			Msg("Error attempting to update entry")
		state.result.Failures = append(state.result.Failures, Failure{
			CN:       pair.Entry.CN,
			DN:       pair.Entry.DN,
			Category: string(category),
			Error:    err.Error(),
		})
		return
	}

	if len(applied.Labels) > 0 {
		state.result.Outcomes = append(state.result.Outcomes, Outcome{
			Entry:  *pair.Entry,
			Record: *pair.Record,
			Labels: applied.Labels,
		})
	}
}

func (r *Reconciler) notifySummary(ctx context.Context, state *run) {
	entries := make([]report.Entry, 0, len(state.result.Outcomes))
	for _, o := range state.result.Outcomes {
		entries = append(entries, report.Entry{CN: o.Entry.CN, Labels: o.Labels})
	}

	n, ok, err := report.Summary(entries)
	if err != nil {
		state.log.Error().Err(err).Msg("Failed to render summary")
		return
	}
	if ok {
		r.notify(ctx, state, n)
	}
}

func (r *Reconciler) notifyError(ctx context.Context, state *run, runErr error) {
	n, err := report.Error(runErr)
	if err != nil {
		state.log.Error().Err(err).Msg("Failed to render error report")
		return
	}
	r.notify(ctx, state, n)
}

func (r *Reconciler) notify(ctx context.Context, state *run, n report.Notification) {
	if r.notifier == nil {
		state.log.Debug().Str("subject", n.Subject).Msg("No notifier configured")
		return
	}
	if err := r.notifier.Notify(ctx, n.Subject, n.HTML); err != nil {
		state.log.Error().Err(err).Str("subject", n.Subject).Msg("Failed to send notification")
		return
	}
	state.log.Info().Str("subject", n.Subject).Msg("Sent notification")
}

func (r *Reconciler) recordAudit(ctx context.Context, state *run) {
	if r.audit == nil {
		return
	}

	res := state.result
	runRecord := database.RunRecord{
		RunID:            res.RunID,
		Status:           string(res.Status),
		Error:            res.Error,
		SourceRecords:    res.SourceRecords,
		DirectoryEntries: res.DirectoryEntries,
		Matched:          res.Matched,
		Updated:          res.Updated,
		Failed:           len(res.Failures),
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
	}
	lines := make([]database.ChangeLogRecord, 0, len(state.lines))
	for _, l := range state.lines {
		lines = append(lines, database.ChangeLogRecord{
			CN:                l.CN,
			DistinguishedName: l.DN,
			Action:            string(l.Action),
			Line:              l.Text,
			LoggedAt:          res.FinishedAt,
		})
	}

	if err := r.audit.RecordRun(ctx, runRecord, lines); err != nil {
		state.log.Error().Err(err).Msg("Failed to record run in audit database")
	}
}

func (r *Reconciler) release(state *run) {
	if state.directory == nil {
		return
	}
	state.log.Info().Msg("Disconnecting from LDAP server")
	if err := state.directory.Close(); err != nil {
		state.log.Warn().Err(err).Msg("Error closing directory session")
	}
	state.directory = nil
}
