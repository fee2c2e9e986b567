package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"f0oster/adsync/activedirectory"
	"f0oster/adsync/database"
	"f0oster/adsync/matching"
	"f0oster/adsync/records"
	"f0oster/adsync/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchFilledJobs(ctx context.Context, orgID, token string) ([]records.SourceRecord, error) {
	args := m.Called(ctx, orgID, token)
	recs, _ := args.Get(0).([]records.SourceRecord)
	return recs, args.Error(1)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) FetchUserEntries(ctx context.Context, attributes []string) ([]records.DirectoryEntry, error) {
	args := m.Called(ctx, attributes)
	entries, _ := args.Get(0).([]records.DirectoryEntry)
	return entries, args.Error(1)
}

func (m *mockDirectory) Modify(ctx context.Context, dn string, replacements []activedirectory.Replacement) error {
	return m.Called(ctx, dn, replacements).Error(0)
}

func (m *mockDirectory) Close() error {
	return m.Called().Error(0)
}

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Connect(ctx context.Context) (Directory, error) {
	args := m.Called(ctx)
	dir, _ := args.Get(0).(Directory)
	return dir, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, subject, bodyHTML string) error {
	return m.Called(ctx, subject, bodyHTML).Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) RecordRun(ctx context.Context, run database.RunRecord, lines []database.ChangeLogRecord) error {
	return m.Called(ctx, run, lines).Error(0)
}

type ReconcilerTestSuite struct {
	suite.Suite
	source    *mockSource
	directory *mockDirectory
	connector *mockConnector
	notifier  *mockNotifier
	audit     *mockAudit
	ctx       context.Context
}

func (s *ReconcilerTestSuite) SetupTest() {
	s.source = &mockSource{}
	s.directory = &mockDirectory{}
	s.connector = &mockConnector{}
	s.notifier = &mockNotifier{}
	s.audit = &mockAudit{}
	s.ctx = context.Background()
}

func (s *ReconcilerTestSuite) newReconciler(opts Options) *Reconciler {
	if opts.Organizations == nil {
		opts.Organizations = []Organization{{ID: "charthop", Token: "token-1"}}
	}
	r, err := New(opts, s.source, s.connector,
		WithNotifier(s.notifier),
		WithAuditSink(s.audit),
		withClock(func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }),
	)
	s.Require().NoError(err)
	return r
}

func brianRecord() records.SourceRecord {
	return records.SourceRecord{
		OrgID: "charthop",
		ID:    "0",
		Fields: map[string]string{
			"name":              "Brian Hartvigsen",
			"contact.workEmail": "brian.hartvigsen@charthop.com",
		},
	}
}

func brianEntry() records.DirectoryEntry {
	return records.DirectoryEntry{
		DN: "cn=brian.hartvigsen,ou=staff,dc=charthop,dc=com",
		CN: "brian.hartvigsen",
		Attributes: map[string]string{
			"mail":        "brian.hartvigsen@charthop.com",
			"displayName": "Berty McBertBert",
		},
	}
}

func (s *ReconcilerTestSuite) TestRun_EndToEnd() {
	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, "charthop", "token-1").Return([]records.SourceRecord{brianRecord()}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return([]records.DirectoryEntry{brianEntry()}, nil)
	s.directory.On("Modify", mock.Anything, "cn=brian.hartvigsen,ou=staff,dc=charthop,dc=com", []activedirectory.Replacement{
		{Attribute: "displayName", Value: "Brian Hartvigsen"},
	}).Return(nil).Once()
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Synced 1 entries",
		"<p>Updated the following Active Directory entries:</p><div><b>brian.hartvigsen</b>: Name</div>").Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.MatchedBy(func(run database.RunRecord) bool {
		return run.Status == "succeeded" && run.Updated == 1 && run.Matched == 1
	}), []database.ChangeLogRecord{{
		CN:                "brian.hartvigsen",
		DistinguishedName: "cn=brian.hartvigsen,ou=staff,dc=charthop,dc=com",
		Action:            "Updated",
		Line:              "brian.hartvigsen/displayName: Berty McBertBert => Brian Hartvigsen",
		LoggedAt:          time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}}).Return(nil).Once()

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(StatusSucceeded, result.Status)
	s.Equal(1, result.SourceRecords)
	s.Equal(1, result.DirectoryEntries)
	s.Equal(1, result.Matched)
	s.Equal(1, result.Updated)
	s.Require().Len(result.Outcomes, 1)
	s.Equal([]string{"Name"}, result.Outcomes[0].Labels)
	s.NotEmpty(result.RunID.String())

	s.directory.AssertExpectations(s.T())
	s.notifier.AssertExpectations(s.T())
	s.audit.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_ConnectFailureIsFatal() {
	s.connector.On("Connect", mock.Anything).Return(nil, errors.New("invalid credentials"))
	s.notifier.On("Notify", mock.Anything, "Error completing sync", mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "connect to directory: invalid credentials") &&
			strings.Contains(body, "Stack trace:")
	})).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.MatchedBy(func(run database.RunRecord) bool {
		return run.Status == "failed" && run.Error == "connect to directory: invalid credentials"
	}), mock.Anything).Return(nil).Once()

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().Error(err)
	s.Equal(StatusFailed, result.Status)

	s.source.AssertNotCalled(s.T(), "FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything)
	s.directory.AssertNotCalled(s.T(), "Close")
	s.notifier.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_RejectedBindNamesCredentials() {
	bindErr := &activedirectory.LDAPError{
		Operation: "bind",
		Category:  activedirectory.ErrorCategoryAuthentication,
		Cause:     errors.New("invalid credentials"),
	}
	s.connector.On("Connect", mock.Anything).Return(nil, bindErr)
	s.notifier.On("Notify", mock.Anything, "Error completing sync", mock.Anything).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "bind rejected, check LDAP_USER and LDAP_PASS")
	s.True(activedirectory.IsAuthenticationError(err))
}

func (s *ReconcilerTestSuite) TestRun_SourceFailureClosesDirectory() {
	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, "charthop", "token-1").Return(nil, errors.New("status 500"))
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Error completing sync", mock.Anything).Return(errors.New("notify down"))
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "fetch source records for org charthop")
	s.Equal(StatusFailed, result.Status)

	s.directory.AssertNotCalled(s.T(), "FetchUserEntries", mock.Anything, mock.Anything)
	s.directory.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_DirectoryFetchFailureIsFatal() {
	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return([]records.SourceRecord{brianRecord()}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return(nil, errors.New("size limit exceeded"))
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Error completing sync", mock.Anything).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().Error(err)
	s.Equal(StatusFailed, result.Status)
	s.Equal(1, result.SourceRecords)
	s.directory.AssertNotCalled(s.T(), "Modify", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ReconcilerTestSuite) TestRun_PairFailureDoesNotHaltRun() {
	alice := records.SourceRecord{OrgID: "charthop", ID: "1", Fields: map[string]string{
		"title": "Engineer", "contact.workEmail": "alice@charthop.com",
	}}
	bob := records.SourceRecord{OrgID: "charthop", ID: "2", Fields: map[string]string{
		"title": "Manager", "contact.workEmail": "bob@charthop.com",
	}, ManagerSourceID: "1"}

	entries := []records.DirectoryEntry{
		{DN: "cn=alice,dc=charthop,dc=com", CN: "alice", Attributes: map[string]string{"mail": "alice@charthop.com"}},
		{DN: "cn=bob,dc=charthop,dc=com", CN: "bob", Attributes: map[string]string{"mail": "bob@charthop.com"}},
	}

	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return([]records.SourceRecord{alice, bob}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return(entries, nil)
	s.directory.On("Modify", mock.Anything, "cn=alice,dc=charthop,dc=com", mock.Anything).Return(&activedirectory.LDAPError{
		Operation: "modify",
		Category:  activedirectory.ErrorCategoryPermission,
		Cause:     errors.New("insufficient access"),
	}).Once()
	s.directory.On("Modify", mock.Anything, "cn=bob,dc=charthop,dc=com", []activedirectory.Replacement{
		{Attribute: "title", Value: "Manager"},
		{Attribute: "manager", Value: "cn=alice,dc=charthop,dc=com"},
	}).Return(nil).Once()
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Synced 1 entries", mock.Anything).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(StatusSucceeded, result.Status)
	s.Equal(1, result.Updated)
	s.Require().Len(result.Failures, 1)
	s.Equal("alice", result.Failures[0].CN)
	s.Equal("permission", result.Failures[0].Category)
	s.Equal([]string{"Title", "Manager"}, result.Outcomes[0].Labels)
	s.directory.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_CancelledRunReportsWrittenEntries() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	recs := []records.SourceRecord{
		{OrgID: "charthop", ID: "1", Fields: map[string]string{"title": "Engineer", "contact.workEmail": "alice@charthop.com"}},
		{OrgID: "charthop", ID: "2", Fields: map[string]string{"title": "Manager", "contact.workEmail": "bob@charthop.com"}},
	}
	entries := []records.DirectoryEntry{
		{DN: "cn=alice,dc=charthop,dc=com", CN: "alice", Attributes: map[string]string{"mail": "alice@charthop.com"}},
		{DN: "cn=bob,dc=charthop,dc=com", CN: "bob", Attributes: map[string]string{"mail": "bob@charthop.com"}},
	}

	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return(recs, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return(entries, nil)
	s.directory.On("Modify", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Error completing sync", mock.Anything).Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Synced 1 entries", mock.Anything).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.MatchedBy(func(run database.RunRecord) bool {
		return run.Status == "failed" && run.Updated == 1 && run.Matched == 2
	}), mock.Anything).Return(nil).Once()

	result, err := s.newReconciler(Options{}).Run(ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "sync interrupted")
	s.Equal(StatusFailed, result.Status)
	s.Equal(1, result.Updated)
	s.Len(result.Outcomes, 1)

	s.directory.AssertExpectations(s.T())
	s.notifier.AssertExpectations(s.T())
	s.audit.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_AllowListSkipsWithoutNotification() {
	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return([]records.SourceRecord{brianRecord()}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return([]records.DirectoryEntry{brianEntry()}, nil)
	s.directory.On("Close").Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.MatchedBy(func(lines []database.ChangeLogRecord) bool {
		return len(lines) == 1 && lines[0].Action == "Skipping, not on allowlist"
	})).Return(nil).Once()

	result, err := s.newReconciler(Options{AllowList: syncer.NewAllowList("alice")}).Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, result.Updated)
	s.Equal(1, result.Matched)

	s.directory.AssertNotCalled(s.T(), "Modify", mock.Anything, mock.Anything, mock.Anything)
	s.notifier.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything, mock.Anything)
	s.audit.AssertExpectations(s.T())
}

func (s *ReconcilerTestSuite) TestRun_TestPairing() {
	rec := records.SourceRecord{OrgID: "charthop", ID: "5", Fields: map[string]string{
		"title": "Tester", "contact.workEmail": "someone@charthop.com",
	}}
	entry := records.DirectoryEntry{DN: "cn=svc-test,dc=charthop,dc=com", CN: "svc-test", Attributes: map[string]string{}}

	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return([]records.SourceRecord{rec}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return([]records.DirectoryEntry{entry}, nil)
	s.directory.On("Modify", mock.Anything, "cn=svc-test,dc=charthop,dc=com", []activedirectory.Replacement{
		{Attribute: "title", Value: "Tester"},
		{Attribute: "mail", Value: "someone@charthop.com"},
	}).Return(nil).Once()
	s.directory.On("Close").Return(nil).Once()
	s.notifier.On("Notify", mock.Anything, "Synced 1 entries", mock.Anything).Return(nil).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := s.newReconciler(Options{TestPairing: matching.TestPairing{DirectoryCN: "svc-test"}}).Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.Matched)
	s.Equal(1, result.Updated)
}

func (s *ReconcilerTestSuite) TestRun_AuditFailureIsNotFatal() {
	s.connector.On("Connect", mock.Anything).Return(s.directory, nil)
	s.source.On("FetchFilledJobs", mock.Anything, mock.Anything, mock.Anything).Return([]records.SourceRecord{}, nil)
	s.directory.On("FetchUserEntries", mock.Anything, mock.Anything).Return([]records.DirectoryEntry{}, nil)
	s.directory.On("Close").Return(errors.New("already closed")).Once()
	s.audit.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database down"))

	result, err := s.newReconciler(Options{}).Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(StatusSucceeded, result.Status)
	s.notifier.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcilerTestSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}

type orderedSource struct {
	mu      sync.Mutex
	calls   []string
	records map[string][]records.SourceRecord
	delay   map[string]time.Duration
	fail    string
}

func (o *orderedSource) FetchFilledJobs(ctx context.Context, orgID, _ string) ([]records.SourceRecord, error) {
	o.mu.Lock()
	o.calls = append(o.calls, orgID)
	o.mu.Unlock()

	select {
	case <-time.After(o.delay[orgID]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if orgID == o.fail {
		return nil, errors.New("unauthorized")
	}
	return o.records[orgID], nil
}

func TestFetchSources_ConcatenatesInConfigurationOrder(t *testing.T) {
	src := &orderedSource{
		records: map[string][]records.SourceRecord{
			"acme":   {{OrgID: "acme", ID: "1"}, {OrgID: "acme", ID: "2"}},
			"globex": {{OrgID: "globex", ID: "1"}},
		},
		delay: map[string]time.Duration{"acme": 20 * time.Millisecond},
	}

	for _, concurrency := range []int{1, 2} {
		r, err := New(Options{
			Organizations:    []Organization{{ID: "acme", Token: "a"}, {ID: "globex", Token: "g"}},
			FetchConcurrency: concurrency,
		}, src, &mockConnector{})
		require.NoError(t, err)

		recs, err := r.fetchSources(context.Background(), r.log)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "acme/1", recs[0].Key())
		assert.Equal(t, "acme/2", recs[1].Key())
		assert.Equal(t, "globex/1", recs[2].Key())
	}
}

func TestFetchSources_SequentialStopsAtFirstFailure(t *testing.T) {
	src := &orderedSource{fail: "acme"}

	r, err := New(Options{
		Organizations: []Organization{{ID: "acme", Token: "a"}, {ID: "globex", Token: "g"}},
	}, src, &mockConnector{})
	require.NoError(t, err)

	_, err = r.fetchSources(context.Background(), r.log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch source records for org acme")
	assert.Equal(t, []string{"acme"}, src.calls)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{}, &mockSource{}, &mockConnector{})
	assert.Error(t, err)
}
