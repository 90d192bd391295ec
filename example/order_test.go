package example

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

type mockMetaSource struct{}

func (m *mockMetaSource) GetTableMeta(ctx context.Context, tableName string) (*sqlstruct.TableMeta, error) {
	if tableName != orderTable {
		return nil, errors.Errorf("table: %s not found", tableName)
	}
	return &sqlstruct.TableMeta{
		TableName: orderTable,
		Columns: []*sqlstruct.ColumnMeta{
			{TableName: orderTable, ColumnName: "id", DataType: sqlstruct.TypeBigInt, DataTypeName: "bigint", Ordinal: 1},
			{TableName: orderTable, ColumnName: "name", DataType: sqlstruct.TypeVarchar, DataTypeName: "varchar", Nullable: true, Ordinal: 2},
		},
		PrimaryKeys: []string{"id"},
	}, nil
}

type mockCoordinator struct {
	mu          sync.Mutex
	branchID    int64
	registerErr error
	branches    []*Branch
	reports     []rm.BranchStatus
}

func (m *mockCoordinator) BranchRegister(ctx context.Context, branchType rm.BranchType, resourceID, clientID, xid, applicationData, lockKeys string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return 0, m.registerErr
	}
	m.branchID++
	m.branches = append(m.branches, &Branch{BranchType: branchType, BranchID: m.branchID, ResourceID: resourceID})
	return m.branchID, nil
}

func (m *mockCoordinator) BranchReport(ctx context.Context, branchType rm.BranchType, xid string, branchID int64, status rm.BranchStatus, applicationData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, status)
	return nil
}

func (m *mockCoordinator) Branches(ctx context.Context, xid string) ([]*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branches, nil
}

func (m *mockCoordinator) Reports() []rm.BranchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rm.BranchStatus(nil), m.reports...)
}

// 记录写入 undo_log 的回滚日志
type captureArg struct {
	value *[]byte
}

func (c captureArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if ok {
		*c.value = append([]byte(nil), b...)
	}
	return ok
}

func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectQuery("SELECT VERSION()").WillReturnRows(sqlmock.NewRows([]string{"VERSION"}).AddRow("1"))

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return gdb, mock
}

func Test_OrderService_AT(t *testing.T) {
	ctx := context.Background()
	xid := "tx-at"

	manager := gotxrm.NewDataSourceManager(gotxrm.WithMonitorTick(time.Hour))
	defer manager.Stop()

	gdb, mock := newMockGormDB(t)
	metas := &mockMetaSource{}
	atResource := gotxrm.NewATResource("at", rm.DBTypeMySQL, gdb, metas)
	assert.Nil(t, manager.RegisterResource(atResource))

	tc := &mockCoordinator{}
	service := NewOrderService(manager, tc, metas, atResource, nil)

	selectOrder := regexp.QuoteMeta("SELECT * FROM t_order WHERE id = ? FOR UPDATE")
	var rollbackInfo []byte
	mock.ExpectBegin()
	mock.ExpectQuery(selectOrder).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "pear"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `t_order` SET `name`=? WHERE id = ?")).WithArgs("plum", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectOrder).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "plum"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `undo_log`")).
		WithArgs(1, xid, "serializer=json", captureArg{value: &rollbackInfo}, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assert.Nil(t, service.RenameAT(ctx, xid, 1, "plum"))
	assert.Equal(t, []rm.BranchStatus{rm.PhaseOneDone}, tc.Reports())
	assert.NotEmpty(t, rollbackInfo)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `undo_log` WHERE xid = ? AND branch_id = ? FOR UPDATE")).WithArgs(xid, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "branch_id", "xid", "context", "rollback_info", "log_status", "log_created", "log_modified"}).
			AddRow(1, 1, xid, "serializer=json", rollbackInfo, 0, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `t_order` WHERE (`id`) IN ((?)) FOR UPDATE")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "plum"))
	mock.ExpectPrepare(regexp.QuoteMeta("UPDATE `t_order` SET `name` = ? WHERE `id` = ?")).
		ExpectExec().WithArgs("pear", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `undo_log` WHERE xid = ? AND branch_id = ?")).WithArgs(xid, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.Nil(t, service.Finish(ctx, xid, false))
	assert.Equal(t, []rm.BranchStatus{rm.PhaseOneDone, rm.PhaseTwoRollbacked}, tc.Reports())
	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_OrderService_AT_Failed(t *testing.T) {
	ctx := context.Background()
	manager := gotxrm.NewDataSourceManager(gotxrm.WithMonitorTick(time.Hour))
	defer manager.Stop()

	gdb, mock := newMockGormDB(t)
	metas := &mockMetaSource{}
	atResource := gotxrm.NewATResource("at", rm.DBTypeMySQL, gdb, metas)

	t.Run("register failed", func(t *testing.T) {
		tc := &mockCoordinator{registerErr: errors.New("tc unavailable")}
		err := NewOrderService(manager, tc, metas, atResource, nil).RenameAT(ctx, "tx-1", 1, "plum")
		assert.True(t, errors.Is(err, rm.ErrBranchRegister))
		assert.Empty(t, tc.Reports())
	})

	t.Run("local transaction failed", func(t *testing.T) {
		tc := &mockCoordinator{}
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM t_order WHERE id = ? FOR UPDATE")).WithArgs(1).
			WillReturnError(errors.New("lock wait timeout"))
		mock.ExpectRollback()

		err := NewOrderService(manager, tc, metas, atResource, nil).RenameAT(ctx, "tx-2", 1, "plum")
		assert.NotNil(t, err)
		assert.Equal(t, []rm.BranchStatus{rm.PhaseOneFailed}, tc.Reports())
	})

	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_OrderService_XA(t *testing.T) {
	ctx := context.Background()
	xid := "tx-1"
	// 分支 id 为 1
	mysqlXid := "X'74782d31',X'31',9752"

	manager := gotxrm.NewDataSourceManager(gotxrm.WithMonitorTick(time.Hour))
	defer manager.Stop()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Error(err)
		return
	}
	defer db.Close()

	tc := &mockCoordinator{}
	xaResource := xa.NewDataSource(db, "xa", rm.DBTypeMySQL, tc, xa.WithMonitorTick(time.Hour))
	defer xaResource.Stop()
	assert.Nil(t, manager.RegisterResource(xaResource))

	service := NewOrderService(manager, tc, &mockMetaSource{}, nil, xaResource)

	mock.ExpectExec(regexp.QuoteMeta("XA START " + mysqlXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE t_order SET name = ? WHERE id = ?")).WithArgs("plum", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("XA END " + mysqlXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA PREPARE " + mysqlXid)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Nil(t, service.RenameXA(ctx, xid, 1, "plum"))
	// prepare 成功时由协调者推进，代理不上报
	assert.Empty(t, tc.Reports())
	_, held := xaResource.Lookup(xa.NewXAXid(xid, 1).String())
	assert.True(t, held)

	mock.ExpectExec(regexp.QuoteMeta("XA COMMIT " + mysqlXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Nil(t, service.Finish(ctx, xid, true))
	assert.Equal(t, []rm.BranchStatus{rm.PhaseTwoCommitted}, tc.Reports())
	_, held = xaResource.Lookup(xa.NewXAXid(xid, 1).String())
	assert.False(t, held)
	assert.Nil(t, mock.ExpectationsWereMet())
}
