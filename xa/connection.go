package xa

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/metrics"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 待上报给协调者的分支状态，在释放连接锁之后发送
type branchReport struct {
	xid      string
	branchID int64
	status   rm.BranchStatus
}

// xa 模式下的连接代理：关闭自动提交即开启一个分支，本地 commit/rollback 只完成一阶段，
// 二阶段由协调者通过 XACommit/XARollback 驱动
type ConnectionProxyXA struct {
	// commit、rollback、close、closeForce 以及二阶段操作互斥，不可重入
	mu sync.Mutex

	conn       *sql.Conn
	xaResource XAResource
	resource   *DataSource
	xid        string

	autoCommit bool
	readOnly   bool
	closed     bool

	xaBranchXid *XAXid
	xaActive    bool
	xaEnded     bool
	prepared    bool
	rollbacked  bool
	held        atomic.Bool

	branchRegisterTime time.Time
	prepareTime        time.Time
}

func newConnectionProxyXA(conn *sql.Conn, xaResource XAResource, resource *DataSource, xid string) *ConnectionProxyXA {
	return &ConnectionProxyXA{
		conn:       conn,
		xaResource: xaResource,
		resource:   resource,
		xid:        xid,
		autoCommit: true,
	}
}

func (c *ConnectionProxyXA) XID() string {
	return c.xid
}

func (c *ConnectionProxyXA) BranchXid() *XAXid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xaBranchXid
}

func (c *ConnectionProxyXA) AutoCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCommit
}

func (c *ConnectionProxyXA) SetReadOnly(readOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = readOnly
}

func (c *ConnectionProxyXA) IsHeld() bool {
	return c.held.Load()
}

func (c *ConnectionProxyXA) ShouldBeHeld() bool {
	return c.resource.ShouldBeHeld() || c.resource.DBType() == rm.DBTypeUnknown
}

func (c *ConnectionProxyXA) PrepareTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepareTime
}

func (c *ConnectionProxyXA) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *ConnectionProxyXA) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *ConnectionProxyXA) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.conn.PrepareContext(ctx, query)
}

// 关闭自动提交时注册分支并开启 xa 分支；在分支活跃时打开自动提交等价于 Commit
func (c *ConnectionProxyXA) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	c.mu.Lock()
	if c.autoCommit == autoCommit {
		c.mu.Unlock()
		return nil
	}
	if c.readOnly {
		c.autoCommit = autoCommit
		c.mu.Unlock()
		return nil
	}

	if autoCommit {
		var report *branchReport
		var err error
		if c.xaActive {
			report, err = c.commitLocked(ctx)
		}
		if err == nil {
			c.autoCommit = true
		}
		c.mu.Unlock()
		c.reportStatusToTC(ctx, report)
		return err
	}

	if c.xaActive {
		c.mu.Unlock()
		return errors.Wrap(rm.ErrStateMisuse, "set auto commit from true to false while xa branch is active")
	}
	c.branchRegisterTime = time.Now()
	c.mu.Unlock()

	// 注册分支属于 rpc 调用，不持有连接锁
	branchID, err := c.resource.tc.BranchRegister(ctx, rm.BranchTypeXA, c.resource.ResourceID(), c.resource.opts.ClientID, c.xid, "", "")

	c.mu.Lock()
	if err != nil {
		c.cleanXABranchContext()
		c.mu.Unlock()
		return rm.WrapError(rm.ErrBranchRegister, err, "failed to register xa branch of xid: %s", c.xid)
	}

	c.xaBranchXid = NewXAXid(c.xid, branchID)
	if err = c.keepIfNecessary(); err != nil {
		c.cleanXABranchContext()
		c.mu.Unlock()
		return err
	}

	report, err := c.startLocked(ctx)
	if err != nil {
		c.releaseIfNecessary(ctx)
		c.cleanXABranchContext()
		c.mu.Unlock()
		c.reportStatusToTC(ctx, report)
		return err
	}

	c.xaActive = true
	c.autoCommit = false
	c.mu.Unlock()
	return nil
}

// 一阶段提交：end + prepare
func (c *ConnectionProxyXA) Commit(ctx context.Context) error {
	c.mu.Lock()
	report, err := c.commitLocked(ctx)
	c.mu.Unlock()
	c.reportStatusToTC(ctx, report)
	return err
}

// 一阶段回滚：end + rollback
func (c *ConnectionProxyXA) Rollback(ctx context.Context) error {
	c.mu.Lock()
	report, err := c.rollbackLocked(ctx)
	c.mu.Unlock()
	c.reportStatusToTC(ctx, report)
	return err
}

// 二阶段提交
func (c *ConnectionProxyXA) XACommit(ctx context.Context, xid string, branchID int64, applicationData string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	xaXid := NewXAXid(xid, branchID)
	if c.xaBranchXid != nil {
		if c.xaBranchXid.String() != xaXid.String() {
			return errors.Wrapf(rm.ErrStateMisuse, "xa branch %s is not tracked by this connection, tracking: %s", xaXid, c.xaBranchXid)
		}
		if !c.prepared {
			return errors.Wrapf(rm.ErrStateMisuse, "xa branch %s is not prepared", xaXid)
		}
	}

	if err := c.xaResource.Commit(ctx, xaXid, false); err != nil {
		metrics.XABranchCounter.WithLabelValues(metrics.PhaseXACommit, metrics.ResultFailure).Inc()
		return errors.Wrapf(err, "failed to commit xa branch %s", xaXid)
	}
	metrics.XABranchCounter.WithLabelValues(metrics.PhaseXACommit, metrics.ResultSuccess).Inc()
	c.finishLocked(ctx)
	return nil
}

// 二阶段回滚，分支仍处于活跃状态时先 end
func (c *ConnectionProxyXA) XARollback(ctx context.Context, xid string, branchID int64, applicationData string) error {
	c.mu.Lock()

	xaXid := NewXAXid(xid, branchID)
	if c.xaBranchXid != nil {
		if c.xaBranchXid.String() != xaXid.String() {
			c.mu.Unlock()
			return errors.Wrapf(rm.ErrStateMisuse, "xa branch %s is not tracked by this connection, tracking: %s", xaXid, c.xaBranchXid)
		}
		xaXid = c.xaBranchXid
	}

	var report *branchReport
	if c.xaActive {
		if err := c.xaEnd(ctx, xaXid, TMFail); err != nil {
			log.WarnContextf(ctx, "end xa branch %s before rollback failed, err: %v", xaXid, err)
		}
		report = &branchReport{xid: xaXid.XID(), branchID: xaXid.BranchID(), status: rm.PhaseOneFailed}
	}

	if err := c.xaResource.Rollback(ctx, xaXid); err != nil {
		metrics.XABranchCounter.WithLabelValues(metrics.PhaseXARollback, metrics.ResultFailure).Inc()
		c.mu.Unlock()
		return errors.Wrapf(err, "failed to rollback xa branch %s", xaXid)
	}
	metrics.XABranchCounter.WithLabelValues(metrics.PhaseXARollback, metrics.ResultSuccess).Inc()
	c.rollbacked = true
	if c.xaActive {
		c.cleanXABranchContext()
	}
	c.finishLocked(ctx)
	c.mu.Unlock()

	c.reportStatusToTC(ctx, report)
	return nil
}

// 被持有的连接在分支结束前不会真正关闭
func (c *ConnectionProxyXA) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollbacked = false
	if c.held.Load() && c.ShouldBeHeld() {
		return nil
	}
	c.cleanXABranchContext()
	return c.closeLocked()
}

// 无条件关闭物理连接并清理分支上下文，用于连接回收
func (c *ConnectionProxyXA) CloseForce() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if !c.closed {
		// 返回 ErrBadConn 使连接池丢弃这条物理连接
		if rawErr := c.conn.Raw(func(interface{}) error { return driver.ErrBadConn }); rawErr != nil && !errors.Is(rawErr, driver.ErrBadConn) {
			err = errors.WithStack(rawErr)
		}
		c.closed = true
	}
	c.rollbacked = false
	c.cleanXABranchContext()
	c.finishLocked(context.Background())
	return err
}

func (c *ConnectionProxyXA) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.WithStack(c.conn.Close())
}

func (c *ConnectionProxyXA) startLocked(ctx context.Context) (*branchReport, error) {
	flags := TMNoFlags
	if c.resource.DBType() == rm.DBTypeOracle {
		flags = TMOraTransLoose
	}

	if err := c.xaResource.Start(ctx, c.xaBranchXid, flags); err != nil {
		metrics.XABranchCounter.WithLabelValues(metrics.PhaseStart, metrics.ResultFailure).Inc()
		return nil, errors.Wrapf(err, "failed to start xa branch %s", c.xaBranchXid)
	}

	if err := c.termination(ctx); err != nil {
		if endErr := c.xaResource.End(ctx, c.xaBranchXid, TMFail); endErr != nil {
			log.WarnContextf(ctx, "end xa branch %s failed, err: %v", c.xaBranchXid, endErr)
		}
		if rbErr := c.xaRollback(ctx, c.xaBranchXid); rbErr != nil {
			log.WarnContextf(ctx, "rollback xa branch %s failed, err: %v", c.xaBranchXid, rbErr)
		}
		return c.newReport(rm.PhaseOneFailed), err
	}

	metrics.XABranchCounter.WithLabelValues(metrics.PhaseStart, metrics.ResultSuccess).Inc()
	return nil, nil
}

func (c *ConnectionProxyXA) commitLocked(ctx context.Context) (*branchReport, error) {
	if c.autoCommit || c.readOnly {
		return nil, nil
	}
	if !c.xaActive || c.xaBranchXid == nil {
		return nil, errors.Wrap(rm.ErrStateMisuse, "should NOT commit on an inactive session")
	}
	defer c.cleanXABranchContext()

	if err := c.end(ctx, TMSuccess); err != nil {
		// 在分支上下文被清理前立即回滚
		xaBranchXid := c.xaBranchXid.String()
		report, rbErr := c.rollbackLocked(ctx)
		if rbErr != nil {
			log.WarnContextf(ctx, "rollback xa branch %s on committing failed, err: %v", xaBranchXid, rbErr)
		}
		metrics.XABranchCounter.WithLabelValues(metrics.PhasePrepare, metrics.ResultFailure).Inc()
		return report, errors.Wrapf(err, "branch %s was rollbacked on committing", xaBranchXid)
	}

	now := time.Now()
	if now.Sub(c.branchRegisterTime) > c.resource.branchTimeout() {
		report := c.newReport(rm.PhaseOneTimeout)
		if err := c.xaRollback(ctx, c.xaBranchXid); err != nil {
			log.WarnContextf(ctx, "rollback timeout xa branch %s failed, err: %v", c.xaBranchXid, err)
		}
		c.rollbacked = true
		metrics.XABranchCounter.WithLabelValues(metrics.PhasePrepare, metrics.ResultTimeout).Inc()
		return report, rm.WrapError(rm.ErrBranchTimeout, nil, "xa branch %s registered at %s", c.xaBranchXid, c.branchRegisterTime.Format(time.RFC3339Nano))
	}

	c.prepareTime = now
	result, err := c.xaResource.Prepare(ctx, c.xaBranchXid)
	if err != nil {
		metrics.XABranchCounter.WithLabelValues(metrics.PhasePrepare, metrics.ResultFailure).Inc()
		return c.newReport(rm.PhaseOneFailed), errors.Wrapf(err, "failed to end(TMSUCCESS)/prepare xa branch %s", c.xaBranchXid)
	}
	c.prepared = true
	metrics.XABranchCounter.WithLabelValues(metrics.PhasePrepare, metrics.ResultSuccess).Inc()

	// 只读分支无需二阶段
	if result == XARdonly {
		return c.newReport(rm.PhaseOneRdonly), nil
	}
	return nil, nil
}

func (c *ConnectionProxyXA) rollbackLocked(ctx context.Context) (*branchReport, error) {
	if c.autoCommit || c.readOnly {
		return nil, nil
	}
	if !c.xaActive || c.xaBranchXid == nil {
		return nil, errors.Wrap(rm.ErrStateMisuse, "should NOT rollback on an inactive session")
	}
	defer c.cleanXABranchContext()

	report := c.newReport(rm.PhaseOneFailed)
	if !c.rollbacked {
		if err := c.xaEnd(ctx, c.xaBranchXid, TMFail); err != nil {
			metrics.XABranchCounter.WithLabelValues(metrics.PhaseRollback, metrics.ResultFailure).Inc()
			return report, errors.Wrapf(err, "failed to end(TMFAIL) xa branch %s", c.xaBranchXid)
		}
		if err := c.xaRollback(ctx, c.xaBranchXid); err != nil {
			metrics.XABranchCounter.WithLabelValues(metrics.PhaseRollback, metrics.ResultFailure).Inc()
			return report, errors.Wrapf(err, "failed to rollback xa branch %s", c.xaBranchXid)
		}
		c.rollbacked = true
	}
	metrics.XABranchCounter.WithLabelValues(metrics.PhaseRollback, metrics.ResultSuccess).Inc()
	log.InfoContextf(ctx, "%s was rollbacked", c.xaBranchXid)
	return report, nil
}

func (c *ConnectionProxyXA) xaEnd(ctx context.Context, xaXid *XAXid, flags int) error {
	if c.xaEnded {
		return nil
	}
	if err := c.xaResource.End(ctx, xaXid, flags); err != nil {
		return err
	}
	c.xaEnded = true
	return nil
}

func (c *ConnectionProxyXA) end(ctx context.Context, flags int) error {
	if err := c.xaEnd(ctx, c.xaBranchXid, flags); err != nil {
		return err
	}
	return c.termination(ctx)
}

func (c *ConnectionProxyXA) xaRollback(ctx context.Context, xaXid *XAXid) error {
	if err := c.xaResource.Rollback(ctx, xaXid); err != nil {
		return err
	}
	c.releaseIfNecessary(ctx)
	return nil
}

// 协调者已经了结该分支时，一阶段不应再继续
func (c *ConnectionProxyXA) termination(ctx context.Context) error {
	key := c.xaBranchXid.String()
	status, ok, err := c.resource.BranchStatusStore().Get(ctx, key)
	if err != nil {
		log.WarnContextf(ctx, "get branch status of %s failed, err: %v", key, err)
		return nil
	}
	if !ok {
		return nil
	}

	c.releaseIfNecessary(ctx)
	if err = c.resource.BranchStatusStore().Remove(ctx, key); err != nil {
		log.WarnContextf(ctx, "remove branch status of %s failed, err: %v", key, err)
	}
	return rm.WrapError(rm.ErrBranchFinished, nil, "xa branch %s, status: %s", key, status)
}

func (c *ConnectionProxyXA) keepIfNecessary() error {
	if !c.ShouldBeHeld() {
		return nil
	}
	return c.resource.hold(c.xaBranchXid.String(), c)
}

func (c *ConnectionProxyXA) releaseIfNecessary(ctx context.Context) {
	if !c.ShouldBeHeld() || c.xaBranchXid == nil || !c.held.Load() {
		return
	}
	if err := c.resource.release(c.xaBranchXid.String(), c); err != nil {
		log.ErrorContextf(ctx, "release xa connection %s failed, err: %v", c.xaBranchXid, err)
	}
}

// 分支已经结束，不再需要任何上下文
func (c *ConnectionProxyXA) finishLocked(ctx context.Context) {
	c.releaseIfNecessary(ctx)
	c.xaBranchXid = nil
	c.prepared = false
	c.prepareTime = time.Time{}
}

// 清理一阶段的临时上下文，被持有的连接保留分支标识供二阶段使用
func (c *ConnectionProxyXA) cleanXABranchContext() {
	c.xaEnded = false
	c.branchRegisterTime = time.Time{}
	c.xaActive = false
	if !c.held.Load() {
		c.xaBranchXid = nil
		c.prepared = false
		c.prepareTime = time.Time{}
	}
}

func (c *ConnectionProxyXA) newReport(status rm.BranchStatus) *branchReport {
	return &branchReport{
		xid:      c.xaBranchXid.XID(),
		branchID: c.xaBranchXid.BranchID(),
		status:   status,
	}
}

// 尽力而为的状态上报，失败只记录日志
func (c *ConnectionProxyXA) reportStatusToTC(ctx context.Context, report *branchReport) {
	if report == nil {
		return
	}
	if err := c.resource.tc.BranchReport(ctx, rm.BranchTypeXA, report.xid, report.branchID, report.status, ""); err != nil {
		metrics.BranchReportCounter.WithLabelValues(report.status.String(), metrics.ResultFailure).Inc()
		log.WarnContextf(ctx, "failed to report xa branch %s on %s-%d, err: %v", report.status, report.xid, report.branchID, err)
		return
	}
	metrics.BranchReportCounter.WithLabelValues(report.status.String(), metrics.ResultSuccess).Inc()
}
