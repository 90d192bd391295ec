package xa

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// mysql 错误号到 xa 错误码的映射
var mysqlXAErrors = map[uint16]int{
	1397: XAErrNOTA,
	1398: XAErrInval,
	1399: XAErrRMFail,
	1400: XAErrOutside,
	1401: XAErrRMErr,
	1402: XARBRollback,
	1613: XARBTimeout,
	1614: XARBDeadlock,
}

// 基于 XA 语句实现的 mysql xa 参与者，所有语句必须在同一条物理连接上执行
type MySQLXAResource struct {
	conn *sql.Conn
}

func NewMySQLXAResource(conn *sql.Conn) *MySQLXAResource {
	return &MySQLXAResource{
		conn: conn,
	}
}

func (m *MySQLXAResource) Start(ctx context.Context, xid *XAXid, flags int) error {
	stmt := "XA START " + mysqlXid(xid)
	switch {
	case flags&TMJoin != 0:
		stmt += " JOIN"
	case flags&TMResume != 0:
		stmt += " RESUME"
	}
	return m.exec(ctx, stmt)
}

func (m *MySQLXAResource) End(ctx context.Context, xid *XAXid, flags int) error {
	stmt := "XA END " + mysqlXid(xid)
	if flags&TMSuspend != 0 {
		stmt += " SUSPEND"
	}
	return m.exec(ctx, stmt)
}

func (m *MySQLXAResource) Prepare(ctx context.Context, xid *XAXid) (int, error) {
	if err := m.exec(ctx, "XA PREPARE "+mysqlXid(xid)); err != nil {
		return 0, err
	}
	return XAOK, nil
}

func (m *MySQLXAResource) Commit(ctx context.Context, xid *XAXid, onePhase bool) error {
	stmt := "XA COMMIT " + mysqlXid(xid)
	if onePhase {
		stmt += " ONE PHASE"
	}
	return m.exec(ctx, stmt)
}

func (m *MySQLXAResource) Rollback(ctx context.Context, xid *XAXid) error {
	return m.exec(ctx, "XA ROLLBACK "+mysqlXid(xid))
}

func (m *MySQLXAResource) exec(ctx context.Context, stmt string) error {
	if _, err := m.conn.ExecContext(ctx, stmt); err != nil {
		return errors.WithStack(mysqlXAError(err))
	}
	return nil
}

// X'gtrid',X'bqual',formatID
func mysqlXid(xid *XAXid) string {
	return fmt.Sprintf("X'%s',X'%s',%d",
		hex.EncodeToString(xid.GlobalTransactionID()),
		hex.EncodeToString(xid.BranchQualifier()),
		xid.FormatID(),
	)
}

func mysqlXAError(err error) error {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if code, ok := mysqlXAErrors[mysqlErr.Number]; ok {
			return NewXAError(code, err)
		}
	}
	return NewXAError(XAErrRMFail, err)
}
