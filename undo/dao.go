package undo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 回滚日志状态
type LogStatus int32

const (
	// 正常的回滚日志
	LogStatusNormal LogStatus = 0
	// 防御性日志，说明全局事务已经结束，后续到达的分支提交不应再生效
	LogStatusGlobalFinished LogStatus = 1
)

type UndoLogPO struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BranchID     int64     `gorm:"column:branch_id"`
	XID          string    `gorm:"column:xid"`
	Context      string    `gorm:"column:context"`
	RollbackInfo []byte    `gorm:"column:rollback_info"`
	LogStatus    LogStatus `gorm:"column:log_status"`
	LogCreated   time.Time `gorm:"column:log_created"`
	LogModified  time.Time `gorm:"column:log_modified"`
}

type UndoLogDAO struct {
	db     *gorm.DB
	table  string
	dbType rm.DBType
}

func NewUndoLogDAO(db *gorm.DB, table string, dbType rm.DBType) *UndoLogDAO {
	return &UndoLogDAO{
		db:     db,
		table:  table,
		dbType: dbType,
	}
}

func (u *UndoLogDAO) CreateUndoLog(ctx context.Context, record *UndoLogPO) error {
	return u.db.WithContext(ctx).Table(u.table).Create(record).Error
}

func (u *UndoLogDAO) DeleteUndoLog(ctx context.Context, xid string, branchID int64) error {
	return u.db.WithContext(ctx).Table(u.table).Where("xid = ? AND branch_id = ?", xid, branchID).Delete(&UndoLogPO{}).Error
}

func (u *UndoLogDAO) BatchDeleteUndoLog(ctx context.Context, xids []string, branchIDs []int64) (int64, error) {
	db := u.db.WithContext(ctx).Table(u.table).Where("xid IN ? AND branch_id IN ?", xids, branchIDs).Delete(&UndoLogPO{})
	return db.RowsAffected, db.Error
}

// 清理创建时间早于 before 的日志，单次最多 limit 条
func (u *UndoLogDAO) DeleteUndoLogByCreated(ctx context.Context, before time.Time, limit int) (int64, error) {
	db := u.db.WithContext(ctx).Exec(u.deleteByCreatedSQL(), before, limit)
	return db.RowsAffected, db.Error
}

// postgresql 的 delete 不支持 limit，借助子查询限定条数
func (u *UndoLogDAO) deleteByCreatedSQL() string {
	switch u.dbType {
	case rm.DBTypePostgreSQL:
		return "DELETE FROM " + u.table + " WHERE id IN (SELECT id FROM " + u.table + " WHERE log_created <= ? LIMIT ?)"
	default:
		return "DELETE FROM " + u.table + " WHERE log_created <= ? LIMIT ?"
	}
}

// 连接池，事务中即为当前事务
func (u *UndoLogDAO) ConnPool() gorm.ConnPool {
	return u.db.Statement.ConnPool
}

func (u *UndoLogDAO) LockAndDo(ctx context.Context, xid string, branchID int64, do func(ctx context.Context, dao *UndoLogDAO, records []*UndoLogPO) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 加写锁
		var records []*UndoLogPO
		if err := tx.Table(u.table).Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("xid = ? AND branch_id = ?", xid, branchID).Find(&records).Error; err != nil {
			return err
		}

		return do(ctx, NewUndoLogDAO(tx, u.table, u.dbType), records)
	})
}
