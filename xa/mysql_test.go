package xa

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// tx-1 / 7 的十六进制编码
const testMySQLXid = "X'74782d31',X'37',9752"

func Test_MySQLXAResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	xaXid := NewXAXid("tx-1", 7)
	resource := NewMySQLXAResource(conn)

	mock.ExpectExec(regexp.QuoteMeta("XA START " + testMySQLXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA END " + testMySQLXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA PREPARE " + testMySQLXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA COMMIT " + testMySQLXid)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA COMMIT " + testMySQLXid + " ONE PHASE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA START " + testMySQLXid + " JOIN")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA END " + testMySQLXid + " SUSPEND")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("XA ROLLBACK " + testMySQLXid)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Nil(t, resource.Start(ctx, xaXid, TMNoFlags))
	assert.Nil(t, resource.End(ctx, xaXid, TMSuccess))
	result, err := resource.Prepare(ctx, xaXid)
	assert.Nil(t, err)
	assert.Equal(t, XAOK, result)
	assert.Nil(t, resource.Commit(ctx, xaXid, false))
	assert.Nil(t, resource.Commit(ctx, xaXid, true))
	assert.Nil(t, resource.Start(ctx, xaXid, TMJoin))
	assert.Nil(t, resource.End(ctx, xaXid, TMSuspend))
	assert.Nil(t, resource.Rollback(ctx, xaXid))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func Test_MySQLXAResource_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
	}{
		{
			name:       "unknown xid",
			err:        &gomysql.MySQLError{Number: 1397, Message: "XAER_NOTA: Unknown XID"},
			expectCode: XAErrNOTA,
		},
		{
			name:       "rollback only",
			err:        &gomysql.MySQLError{Number: 1402, Message: "XA_RBROLLBACK"},
			expectCode: XARBRollback,
		},
		{
			name:       "unmapped mysql error",
			err:        &gomysql.MySQLError{Number: 1213, Message: "Deadlock found"},
			expectCode: XAErrRMFail,
		},
		{
			name:       "connection error",
			err:        errors.New("broken pipe"),
			expectCode: XAErrRMFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()

			ctx := context.Background()
			conn, err := db.Conn(ctx)
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			mock.ExpectExec(regexp.QuoteMeta("XA ROLLBACK " + testMySQLXid)).WillReturnError(tt.err)
			err = NewMySQLXAResource(conn).Rollback(ctx, NewXAXid("tx-1", 7))
			assert.True(t, IsXAErrorCode(err, tt.expectCode))
		})
	}
}

func Test_PostgresXAResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	xaXid := NewXAXid("tx-1", 7)
	resource := NewPostgresXAResource(conn)

	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("PREPARE TRANSACTION 'tx-1-7'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("COMMIT PREPARED 'tx-1-7'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK PREPARED 'tx-1-7'")).WillReturnError(errors.New(`pq: prepared transaction with identifier "tx-1-7" does not exist (42704)`))

	// 未开启的分支不能 end
	assert.True(t, IsXAErrorCode(resource.End(ctx, xaXid, TMSuccess), XAErrProto))
	assert.True(t, IsXAErrorCode(resource.Start(ctx, xaXid, TMJoin), XAErrInval))

	assert.Nil(t, resource.Start(ctx, xaXid, TMNoFlags))
	assert.Nil(t, resource.End(ctx, xaXid, TMSuccess))
	_, err = resource.Prepare(ctx, xaXid)
	assert.Nil(t, err)
	assert.Nil(t, resource.Commit(ctx, xaXid, false))
	assert.True(t, IsXAErrorCode(resource.Rollback(ctx, xaXid), XAErrNOTA))
	assert.Nil(t, mock.ExpectationsWereMet())
}
