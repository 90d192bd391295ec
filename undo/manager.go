package undo

import (
	"context"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

const (
	errDuplicateEntry = 1062
	// postgresql unique_violation
	sqlStateUniqueViolation = "23505"
)

// 表元数据来源
type TableMetaSource interface {
	GetTableMeta(ctx context.Context, tableName string) (*sqlstruct.TableMeta, error)
}

// 回滚日志管理：写入、回滚重放以及清理
type UndoLogManager struct {
	opts   *Options
	dbType rm.DBType
	metas  TableMetaSource
	parser Parser
}

func NewUndoLogManager(dbType rm.DBType, metas TableMetaSource, opts ...Option) *UndoLogManager {
	return &UndoLogManager{
		opts:   newOptions(opts...),
		dbType: dbType,
		metas:  metas,
		parser: parsers[SerializerJSON],
	}
}

func (u *UndoLogManager) dao(db *gorm.DB) *UndoLogDAO {
	return NewUndoLogDAO(db, u.opts.LogTable, u.dbType)
}

// 写入分支的回滚日志，需与业务 sql 处于同一个本地事务中
func (u *UndoLogManager) FlushUndoLogs(ctx context.Context, db *gorm.DB, branchUndoLog *BranchUndoLog) error {
	rollbackInfo, err := u.parser.Encode(branchUndoLog)
	if err != nil {
		return err
	}
	return u.insertUndoLog(ctx, u.dao(db), branchUndoLog.XID, branchUndoLog.BranchID, rollbackInfo, LogStatusNormal)
}

func (u *UndoLogManager) insertUndoLog(ctx context.Context, dao *UndoLogDAO, xid string, branchID int64, rollbackInfo []byte, status LogStatus) error {
	now := time.Now()
	return dao.CreateUndoLog(ctx, &UndoLogPO{
		BranchID:     branchID,
		XID:          xid,
		Context:      encodeContext(u.parser),
		RollbackInfo: rollbackInfo,
		LogStatus:    status,
		LogCreated:   now,
		LogModified:  now,
	})
}

// 回滚分支。插入防御日志时若出现主键冲突，说明分支的本地事务刚好提交，需要重试以回滚其写入的数据
func (u *UndoLogManager) Undo(ctx context.Context, db *gorm.DB, xid string, branchID int64) error {
	for {
		err := u.undo(ctx, db, xid, branchID)
		if err == nil {
			return nil
		}
		if !isDuplicateEntry(err) {
			return err
		}

		log.InfoContextf(ctx, "undo log of xid: %s, branch: %d is inserted concurrently, retry undo", xid, branchID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.WithStack(ctxErr)
		}
	}
}

func (u *UndoLogManager) undo(ctx context.Context, db *gorm.DB, xid string, branchID int64) error {
	return u.dao(db).LockAndDo(ctx, xid, branchID, func(ctx context.Context, dao *UndoLogDAO, records []*UndoLogPO) error {
		for _, record := range records {
			if record.LogStatus == LogStatusGlobalFinished {
				log.InfoContextf(ctx, "xid: %s, branch: %d, ignore %s undo log", xid, branchID, "global finished")
				return nil
			}

			if err := u.replay(ctx, dao.ConnPool(), record); err != nil {
				return err
			}
		}

		if len(records) > 0 {
			if err := dao.DeleteUndoLog(ctx, xid, branchID); err != nil {
				return errors.Wrapf(err, "delete undo log of xid: %s, branch: %d", xid, branchID)
			}
			log.InfoContextf(ctx, "xid: %s, branch: %d undo log deleted with %s", xid, branchID, "global finished")
			return nil
		}

		// 分支本地事务尚未提交，插入防御日志使其后续提交失败
		if err := u.insertUndoLog(ctx, dao, xid, branchID, []byte("{}"), LogStatusGlobalFinished); err != nil {
			return err
		}
		log.InfoContextf(ctx, "xid: %s, branch: %d undo log added with %s", xid, branchID, "global finished")
		return nil
	})
}

// 倒序重放一条回滚日志中的全部语句
func (u *UndoLogManager) replay(ctx context.Context, conn Conn, record *UndoLogPO) error {
	parser, err := ParserOf(record.Context)
	if err != nil {
		return err
	}
	branchUndoLog, err := parser.Decode(record.RollbackInfo)
	if err != nil {
		return err
	}

	sqlUndoLogs := branchUndoLog.SQLUndoLogs
	for i := len(sqlUndoLogs) - 1; i >= 0; i-- {
		sqlUndoLog := sqlUndoLogs[i]
		meta, err := u.metas.GetTableMeta(ctx, sqlUndoLog.TableName)
		if err != nil {
			return errors.Wrapf(err, "get table meta of table: %s", sqlUndoLog.TableName)
		}
		sqlUndoLog.SetTableMeta(meta)

		executor, err := NewExecutor(u.dbType, sqlUndoLog, WithDataValidation(u.opts.DataValidation), WithMaxInSize(u.opts.MaxInSize))
		if err != nil {
			return err
		}
		if err = executor.ExecuteOn(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// 二阶段提交后批量清理回滚日志
func (u *UndoLogManager) BatchDeleteUndoLog(ctx context.Context, db *gorm.DB, xids []string, branchIDs []int64) error {
	if len(xids) == 0 || len(branchIDs) == 0 {
		return nil
	}
	_, err := u.dao(db).BatchDeleteUndoLog(ctx, xids, branchIDs)
	return err
}

// 清理过期的回滚日志
func (u *UndoLogManager) DeleteUndoLogByCreated(ctx context.Context, db *gorm.DB, before time.Time, limit int) (int64, error) {
	return u.dao(db).DeleteUndoLogByCreated(ctx, before, limit)
}

// pgx 与 lib/pq 的错误均提供 SQLState
type sqlStateError interface {
	SQLState() string
}

func isDuplicateEntry(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == errDuplicateEntry
	}
	var stateErr sqlStateError
	return errors.As(err, &stateErr) && stateErr.SQLState() == sqlStateUniqueViolation
}
