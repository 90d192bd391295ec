package xa

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

// postgresql 没有 xa 语句，借助 PREPARE TRANSACTION 实现两阶段
type PostgresXAResource struct {
	conn *sql.Conn
	// 当前连接上是否存在尚未 prepare 的本地事务
	started bool
}

func NewPostgresXAResource(conn *sql.Conn) *PostgresXAResource {
	return &PostgresXAResource{
		conn: conn,
	}
}

func (p *PostgresXAResource) Start(ctx context.Context, xid *XAXid, flags int) error {
	if flags&(TMJoin|TMResume) != 0 {
		return NewXAError(XAErrInval, errors.New("join or resume is not supported"))
	}
	if err := p.exec(ctx, "BEGIN"); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *PostgresXAResource) End(ctx context.Context, xid *XAXid, flags int) error {
	if !p.started {
		return NewXAError(XAErrProto, errors.Errorf("xa branch %s is not started", xid))
	}
	return nil
}

func (p *PostgresXAResource) Prepare(ctx context.Context, xid *XAXid) (int, error) {
	if err := p.exec(ctx, "PREPARE TRANSACTION "+postgresGid(xid)); err != nil {
		return 0, err
	}
	p.started = false
	return XAOK, nil
}

func (p *PostgresXAResource) Commit(ctx context.Context, xid *XAXid, onePhase bool) error {
	if onePhase {
		err := p.exec(ctx, "COMMIT")
		p.started = false
		return err
	}
	return p.exec(ctx, "COMMIT PREPARED "+postgresGid(xid))
}

func (p *PostgresXAResource) Rollback(ctx context.Context, xid *XAXid) error {
	if p.started {
		p.started = false
		return p.exec(ctx, "ROLLBACK")
	}
	return p.exec(ctx, "ROLLBACK PREPARED "+postgresGid(xid))
}

func (p *PostgresXAResource) exec(ctx context.Context, stmt string) error {
	if _, err := p.conn.ExecContext(ctx, stmt); err != nil {
		code := XAErrRMFail
		// 42704: undefined_object，对应不存在的 prepared transaction
		if strings.Contains(err.Error(), "42704") || strings.Contains(err.Error(), "does not exist") {
			code = XAErrNOTA
		}
		return errors.WithStack(NewXAError(code, err))
	}
	return nil
}

func postgresGid(xid *XAXid) string {
	return "'" + strings.ReplaceAll(xid.String(), "'", "''") + "'"
}
