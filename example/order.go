package example

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm"
	"github.com/xiaoxuxiansheng/gotxrm/example/dao"
	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
	"github.com/xiaoxuxiansheng/gotxrm/undo"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

const orderTable = "t_order"

// 协调者：登记分支，并给出全局事务下的分支列表
type Coordinator interface {
	rm.TCClient
	Branches(ctx context.Context, xid string) ([]*Branch, error)
}

// 分别以 at、xa 两种模式修改订单，并模拟协调者驱动二阶段
type OrderService struct {
	manager    *gotxrm.DataSourceManager
	tc         Coordinator
	metas      undo.TableMetaSource
	atResource *gotxrm.ATResource
	xaResource *xa.DataSource
}

func NewOrderService(manager *gotxrm.DataSourceManager, tc Coordinator, metas undo.TableMetaSource, atResource *gotxrm.ATResource, xaResource *xa.DataSource) *OrderService {
	return &OrderService{
		manager:    manager,
		tc:         tc,
		metas:      metas,
		atResource: atResource,
		xaResource: xaResource,
	}
}

// at 模式：业务 sql 与回滚日志在同一个本地事务中提交
func (o *OrderService) RenameAT(ctx context.Context, xid string, id int64, name string) error {
	branchID, err := o.tc.BranchRegister(ctx, rm.BranchTypeAT, o.atResource.ResourceID(), "", xid, "", fmt.Sprintf("%s:%d", orderTable, id))
	if err != nil {
		return rm.WrapError(rm.ErrBranchRegister, err, "xid: %s", xid)
	}

	meta, err := o.metas.GetTableMeta(ctx, orderTable)
	if err != nil {
		return err
	}

	err = o.atResource.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		beforeImage, err := queryImage(tx, meta, id)
		if err != nil {
			return err
		}
		if _, err = dao.NewOrderDAO(tx).UpdateName(ctx, id, name); err != nil {
			return err
		}
		afterImage, err := queryImage(tx, meta, id)
		if err != nil {
			return err
		}

		return o.atResource.UndoLogManager().FlushUndoLogs(ctx, tx, &undo.BranchUndoLog{
			XID:      xid,
			BranchID: branchID,
			SQLUndoLogs: []*undo.SQLUndoLog{
				{
					SQLType:     undo.SQLTypeUpdate,
					TableName:   orderTable,
					BeforeImage: beforeImage,
					AfterImage:  afterImage,
				},
			},
		})
	})

	status := rm.PhaseOneDone
	if err != nil {
		status = rm.PhaseOneFailed
	}
	if reportErr := o.tc.BranchReport(ctx, rm.BranchTypeAT, xid, branchID, status, ""); reportErr != nil {
		log.WarnContextf(ctx, "report branch %d of xid: %s failed, err: %v", branchID, xid, reportErr)
	}
	return err
}

// xa 模式：关闭自动提交即开启分支，本地提交完成 prepare
func (o *OrderService) RenameXA(ctx context.Context, xid string, id int64, name string) error {
	conn, err := o.xaResource.Conn(ctx, xid)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	if err = conn.SetAutoCommit(ctx, false); err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, "UPDATE t_order SET name = ? WHERE id = ?", name, id); err != nil {
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			log.WarnContextf(ctx, "rollback xa branch of xid: %s failed, err: %v", xid, rbErr)
		}
		return errors.WithStack(err)
	}
	return conn.Commit(ctx)
}

// 对全局事务下的全部分支执行二阶段，返回第一个错误
func (o *OrderService) Finish(ctx context.Context, xid string, commit bool) error {
	branches, err := o.tc.Branches(ctx, xid)
	if err != nil {
		return err
	}

	var firstErr error
	for _, branch := range branches {
		var status rm.BranchStatus
		if commit {
			status, err = o.manager.BranchCommit(ctx, branch.BranchType, xid, branch.BranchID, branch.ResourceID, "")
		} else {
			status, err = o.manager.BranchRollback(ctx, branch.BranchType, xid, branch.BranchID, branch.ResourceID, "")
		}
		if reportErr := o.tc.BranchReport(ctx, branch.BranchType, xid, branch.BranchID, status, ""); reportErr != nil {
			log.WarnContextf(ctx, "report branch %d of xid: %s failed, err: %v", branch.BranchID, xid, reportErr)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func queryImage(tx *gorm.DB, meta *sqlstruct.TableMeta, id int64) (*sqlstruct.TableRecords, error) {
	rows, err := tx.Raw("SELECT * FROM t_order WHERE id = ? FOR UPDATE", id).Rows()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	return sqlstruct.BuildRecords(meta, rows)
}
