package xa

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

type mockTCClient struct {
	mu          sync.Mutex
	branchID    int64
	registerErr error
	reportErr   error
	reports     []rm.BranchStatus
}

func (m *mockTCClient) BranchRegister(ctx context.Context, branchType rm.BranchType, resourceID, clientID, xid, applicationData, lockKeys string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return 0, m.registerErr
	}
	m.branchID++
	return m.branchID, nil
}

func (m *mockTCClient) BranchReport(ctx context.Context, branchType rm.BranchType, xid string, branchID int64, status rm.BranchStatus, applicationData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, status)
	return m.reportErr
}

func (m *mockTCClient) Reports() []rm.BranchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rm.BranchStatus(nil), m.reports...)
}

type mockXAResource struct {
	mu            sync.Mutex
	calls         []string
	startFlags    int
	errs          map[string]error
	prepareResult int
}

func newMockXAResource() *mockXAResource {
	return &mockXAResource{
		errs: make(map[string]error),
	}
}

func (m *mockXAResource) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.errs[call]
}

func (m *mockXAResource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockXAResource) Start(ctx context.Context, xid *XAXid, flags int) error {
	m.mu.Lock()
	m.startFlags = flags
	m.mu.Unlock()
	return m.record("start")
}

func (m *mockXAResource) End(ctx context.Context, xid *XAXid, flags int) error {
	if flags == TMSuccess {
		return m.record("end:success")
	}
	return m.record("end:fail")
}

func (m *mockXAResource) Prepare(ctx context.Context, xid *XAXid) (int, error) {
	err := m.record("prepare")
	return m.prepareResult, err
}

func (m *mockXAResource) Commit(ctx context.Context, xid *XAXid, onePhase bool) error {
	return m.record("commit")
}

func (m *mockXAResource) Rollback(ctx context.Context, xid *XAXid) error {
	return m.record("rollback")
}

type testDataSource struct {
	*DataSource
	tc   *mockTCClient
	res  *mockXAResource
	mock sqlmock.Sqlmock
	db   *sql.DB
}

func newTestDataSource(t *testing.T, dbType rm.DBType, opts ...Option) *testDataSource {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}

	tc := &mockTCClient{branchID: 100}
	res := newMockXAResource()
	opts = append(opts, WithXAResourceFactory(func(conn *sql.Conn, dbType rm.DBType) (XAResource, error) {
		return res, nil
	}))
	ds := NewDataSource(db, "jdbc:mysql://127.0.0.1:3306/demo", dbType, tc, opts...)
	t.Cleanup(func() {
		ds.Stop()
		_ = db.Close()
	})

	return &testDataSource{
		DataSource: ds,
		tc:         tc,
		res:        res,
		mock:       mock,
		db:         db,
	}
}
