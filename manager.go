package gotxrm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/metrics"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

// 1. 数据源注册模块
// 2. 处理协调者下发的二阶段提交与回滚
// 3. at 模式的二阶段提交只需清理回滚日志，交由异步任务批量完成
type DataSourceManager struct {
	ctx            context.Context
	stop           context.CancelFunc
	opts           *Options
	registryCenter *registryCenter
	commitQueue    chan *PhaseTwoRequest
}

func NewDataSourceManager(opts ...Option) *DataSourceManager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := DataSourceManager{
		opts:           &Options{},
		registryCenter: newRegistryCenter(),
		ctx:            ctx,
		stop:           cancel,
	}

	for _, opt := range opts {
		opt(manager.opts)
	}

	repair(manager.opts)

	manager.commitQueue = make(chan *PhaseTwoRequest, manager.opts.AsyncCommitBufferLimit)
	go manager.run()
	return &manager
}

func (d *DataSourceManager) Stop() {
	d.stop()
}

// 仅支持 *ATResource 与 *xa.DataSource
func (d *DataSourceManager) RegisterResource(resource rm.Resource) error {
	switch resource.(type) {
	case *ATResource, *xa.DataSource:
	default:
		return errors.Errorf("unsupported resource: %T", resource)
	}
	return d.registryCenter.register(resource)
}

func (d *DataSourceManager) UnregisterResource(resourceID string) {
	d.registryCenter.unregister(resourceID)
}

func (d *DataSourceManager) GetResource(resourceID string) (rm.Resource, error) {
	return d.registryCenter.getResource(resourceID)
}

// 二阶段提交
func (d *DataSourceManager) BranchCommit(ctx context.Context, branchType rm.BranchType, xid string, branchID int64, resourceID, applicationData string) (rm.BranchStatus, error) {
	req := &PhaseTwoRequest{
		BranchType:      branchType,
		XID:             xid,
		BranchID:        branchID,
		ResourceID:      resourceID,
		ApplicationData: applicationData,
	}

	var status rm.BranchStatus
	var err error
	switch branchType {
	case rm.BranchTypeAT:
		status, err = d.asyncCommit(ctx, req)
	case rm.BranchTypeXA:
		status, err = d.finishBranch(ctx, true, req)
	default:
		status, err = rm.PhaseTwoCommitFailedUnretryable, errors.Errorf("unsupported branch type: %s", branchType)
	}
	metrics.PhaseTwoCounter.WithLabelValues(branchType.String(), status.String()).Inc()
	return status, err
}

// 二阶段回滚
func (d *DataSourceManager) BranchRollback(ctx context.Context, branchType rm.BranchType, xid string, branchID int64, resourceID, applicationData string) (rm.BranchStatus, error) {
	req := &PhaseTwoRequest{
		BranchType:      branchType,
		XID:             xid,
		BranchID:        branchID,
		ResourceID:      resourceID,
		ApplicationData: applicationData,
	}

	var status rm.BranchStatus
	var err error
	switch branchType {
	case rm.BranchTypeAT:
		status, err = d.undo(ctx, req)
	case rm.BranchTypeXA:
		status, err = d.finishBranch(ctx, false, req)
	default:
		status, err = rm.PhaseTwoRollbackFailedUnretryable, errors.Errorf("unsupported branch type: %s", branchType)
	}
	metrics.PhaseTwoCounter.WithLabelValues(branchType.String(), status.String()).Inc()
	return status, err
}

// 清理保留天数之外的回滚日志，返回删除的条数
func (d *DataSourceManager) DeleteExpiredUndoLog(ctx context.Context, resourceID string, saveDays int) (int64, error) {
	resource, err := d.registryCenter.getATResource(resourceID)
	if err != nil {
		return 0, err
	}

	before := time.Now().AddDate(0, 0, -saveDays)
	var total int64
	for {
		deleted, err := resource.UndoLogManager().DeleteUndoLogByCreated(ctx, resource.DB(), before, d.opts.UndoLogDeleteBatchSize)
		if err != nil {
			return total, errors.Wrapf(err, "delete undo log created before %s of resource: %s", before.Format(time.DateTime), resourceID)
		}
		total += deleted
		if deleted < int64(d.opts.UndoLogDeleteBatchSize) {
			return total, nil
		}
	}
}

func (d *DataSourceManager) undo(ctx context.Context, req *PhaseTwoRequest) (rm.BranchStatus, error) {
	resource, err := d.registryCenter.getATResource(req.ResourceID)
	if err != nil {
		return rm.PhaseTwoRollbackFailedUnretryable, err
	}

	if err = resource.UndoLogManager().Undo(ctx, resource.DB(), req.XID, req.BranchID); err != nil {
		// 脏数据需要人工介入，重试没有意义
		if errors.Is(err, rm.ErrDirtyUndo) {
			log.ErrorContextf(ctx, "branch rollback failed unretryable, xid: %s, branch: %d, err: %v", req.XID, req.BranchID, err)
			return rm.PhaseTwoRollbackFailedUnretryable, err
		}
		log.WarnContextf(ctx, "branch rollback failed, xid: %s, branch: %d, err: %v", req.XID, req.BranchID, err)
		return rm.PhaseTwoRollbackFailedRetryable, err
	}

	log.InfoContextf(ctx, "branch rollbacked, xid: %s, branch: %d, resource: %s", req.XID, req.BranchID, req.ResourceID)
	return rm.PhaseTwoRollbacked, nil
}

// xa 分支的二阶段，committed 为 true 时提交，否则回滚
func (d *DataSourceManager) finishBranch(ctx context.Context, committed bool, req *PhaseTwoRequest) (rm.BranchStatus, error) {
	done, retryable, unretryable := rm.PhaseTwoCommitted, rm.PhaseTwoCommitFailedRetryable, rm.PhaseTwoCommitFailedUnretryable
	if !committed {
		done, retryable, unretryable = rm.PhaseTwoRollbacked, rm.PhaseTwoRollbackFailedRetryable, rm.PhaseTwoRollbackFailedUnretryable
	}

	dataSource, err := d.registryCenter.getXAResource(req.ResourceID)
	if err != nil {
		return unretryable, err
	}

	xaXid := xa.NewXAXid(req.XID, req.BranchID)
	conn, err := dataSource.ConnectionForXAFinish(ctx, xaXid)
	if err != nil {
		log.WarnContextf(ctx, "get connection for %s failed, err: %v", xaXid, err)
		return retryable, err
	}

	if committed {
		err = conn.XACommit(ctx, req.XID, req.BranchID, req.ApplicationData)
	} else {
		err = conn.XARollback(ctx, req.XID, req.BranchID, req.ApplicationData)
	}

	switch {
	case err == nil:
		log.InfoContextf(ctx, "%s was %s", xaXid, done)
		closeConn(ctx, conn)
		return done, nil

	case xa.IsXAErrorCode(err, xa.XAErrNOTA):
		// 数据库中已经没有该分支，视为已完成；回滚时留下标记，阻止仍在执行的一阶段继续推进
		if !committed {
			if setErr := dataSource.BranchStatusStore().Set(ctx, xaXid.String(), done); setErr != nil {
				log.WarnContextf(ctx, "set branch status of %s failed, err: %v", xaXid, setErr)
			}
		}
		log.InfoContextf(ctx, "%s is not found by database, treat as %s", xaXid, done)
		if conn.IsHeld() {
			if closeErr := conn.CloseForce(); closeErr != nil {
				log.WarnContextf(ctx, "force close connection of %s failed, err: %v", xaXid, closeErr)
			}
		} else {
			closeConn(ctx, conn)
		}
		return done, nil

	default:
		log.WarnContextf(ctx, "phase two of %s failed, expect: %s, err: %v", xaXid, done, err)
		closeConn(ctx, conn)
		return retryable, err
	}
}

func closeConn(ctx context.Context, conn *xa.ConnectionProxyXA) {
	if err := conn.Close(); err != nil {
		log.WarnContextf(ctx, "close xa connection of xid: %s failed, err: %v", conn.XID(), err)
	}
}

// at 模式二阶段提交：入队后立即返回，队列已满时同步清理
func (d *DataSourceManager) asyncCommit(ctx context.Context, req *PhaseTwoRequest) (rm.BranchStatus, error) {
	if _, err := d.registryCenter.getATResource(req.ResourceID); err != nil {
		return rm.PhaseTwoCommitFailedUnretryable, err
	}

	select {
	case d.commitQueue <- req:
		return rm.PhaseTwoCommitted, nil
	default:
	}

	log.WarnContextf(ctx, "async commit queue is full, delete undo log of xid: %s, branch: %d synchronously", req.XID, req.BranchID)
	// 本地事务已经提交，日志清理失败不影响提交结果
	if _, err := d.batchDeleteUndoLog(ctx, req.ResourceID, PhaseTwoRequests{req}); err != nil {
		log.WarnContextf(ctx, "delete undo log of xid: %s, branch: %d failed, err: %v", req.XID, req.BranchID, err)
	}
	return rm.PhaseTwoCommitted, nil
}

func (d *DataSourceManager) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := d.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (d *DataSourceManager) run() {
	var tick time.Duration
	var err error
	// 清理失败的请求留到下一轮重试
	var pending PhaseTwoRequests
	for {
		// 如果出现了失败，tick 需要避让，遵循退避策略增大 tick 间隔时长
		if err == nil {
			tick = d.opts.MonitorTick
		} else {
			tick = d.backOffTick(tick)
		}
		select {
		case <-d.ctx.Done():
			return

		case <-time.After(tick):
			pending = append(pending, d.drainCommitQueue()...)
			pending, err = d.batchAsyncCommit(pending)
		}
	}
}

// 非阻塞地取出队列中的全部请求
func (d *DataSourceManager) drainCommitQueue() PhaseTwoRequests {
	var reqs PhaseTwoRequests
	for {
		select {
		case req := <-d.commitQueue:
			reqs = append(reqs, req)
		default:
			return reqs
		}
	}
}

// 按资源并发清理回滚日志，返回清理失败的请求
func (d *DataSourceManager) batchAsyncCommit(reqs PhaseTwoRequests) (PhaseTwoRequests, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var mux sync.Mutex
	var failed PhaseTwoRequests
	errCh := make(chan error)
	go func() {
		var wg sync.WaitGroup
		for resourceID, group := range reqs.GroupByResource() {
			// shadow
			resourceID, group := resourceID, group
			wg.Add(1)
			go func() {
				defer wg.Done()
				groupFailed, err := d.batchDeleteUndoLog(d.ctx, resourceID, group)
				if err == nil {
					return
				}
				log.ErrorContextf(d.ctx, "batch delete undo log of resource: %s failed, err: %v", resourceID, err)
				mux.Lock()
				failed = append(failed, groupFailed...)
				mux.Unlock()
				errCh <- err
			}()
		}
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if firstErr != nil {
			continue
		}
		firstErr = err
	}

	return failed, firstErr
}

func (d *DataSourceManager) batchDeleteUndoLog(ctx context.Context, resourceID string, reqs PhaseTwoRequests) (PhaseTwoRequests, error) {
	resource, err := d.registryCenter.getATResource(resourceID)
	if err != nil {
		// 资源已经注销，重试也无法完成
		log.WarnContextf(ctx, "drop %d async commit requests, err: %v", len(reqs), err)
		return nil, nil
	}

	tctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var failed PhaseTwoRequests
	var firstErr error
	for start := 0; start < len(reqs); start += d.opts.UndoLogDeleteBatchSize {
		batch := reqs[start:min(start+d.opts.UndoLogDeleteBatchSize, len(reqs))]
		xids, branchIDs := batch.XIDsAndBranchIDs()
		if err := resource.UndoLogManager().BatchDeleteUndoLog(tctx, resource.DB(), xids, branchIDs); err != nil {
			failed = append(failed, batch...)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}
