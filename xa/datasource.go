package xa

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/metrics"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 以 xa 模式参与全局事务的数据源
type DataSource struct {
	ctx          context.Context
	stop         context.CancelFunc
	opts         *Options
	db           *sql.DB
	resourceID   string
	dbType       rm.DBType
	tc           rm.TCClient
	shouldBeHeld bool
}

func NewDataSource(db *sql.DB, resourceID string, dbType rm.DBType, tc rm.TCClient, opts ...Option) *DataSource {
	ctx, cancel := context.WithCancel(context.Background())
	dataSource := DataSource{
		ctx:        ctx,
		stop:       cancel,
		opts:       &Options{},
		db:         db,
		resourceID: resourceID,
		dbType:     dbType,
		tc:         tc,
	}

	for _, opt := range opts {
		opt(dataSource.opts)
	}

	repair(dataSource.opts)

	dataSource.shouldBeHeld = defaultShouldBeHeld(dbType)
	if dataSource.opts.ShouldBeHeld != nil {
		dataSource.shouldBeHeld = *dataSource.opts.ShouldBeHeld
	}

	if dataSource.shouldBeHeld {
		go dataSource.run()
	}
	return &dataSource
}

// 连接是否需要保留到二阶段，未知类型的数据库保守处理
func defaultShouldBeHeld(dbType rm.DBType) bool {
	switch dbType {
	case rm.DBTypeOracle:
		return false
	default:
		return true
	}
}

func defaultXAResourceFactory(conn *sql.Conn, dbType rm.DBType) (XAResource, error) {
	switch dbType {
	case rm.DBTypeMySQL, rm.DBTypeMariaDB:
		return NewMySQLXAResource(conn), nil
	case rm.DBTypePostgreSQL:
		return NewPostgresXAResource(conn), nil
	default:
		return nil, errors.Errorf("no xa resource for db type: %q", dbType)
	}
}

func (d *DataSource) Stop() {
	d.stop()
}

func (d *DataSource) ResourceID() string {
	return d.resourceID
}

func (d *DataSource) BranchType() rm.BranchType {
	return rm.BranchTypeXA
}

func (d *DataSource) DBType() rm.DBType {
	return d.dbType
}

func (d *DataSource) DB() *sql.DB {
	return d.db
}

func (d *DataSource) ShouldBeHeld() bool {
	return d.shouldBeHeld
}

func (d *DataSource) Keeper() *Keeper {
	return d.opts.Keeper
}

func (d *DataSource) BranchStatusStore() BranchStatusStore {
	return d.opts.BranchStatusStore
}

// 获取一条代理连接，xid 为所属的全局事务
func (d *DataSource) Conn(ctx context.Context, xid string) (*ConnectionProxyXA, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	xaResource, err := d.opts.XAResourceFactory(conn, d.dbType)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newConnectionProxyXA(conn, xaResource, d, xid), nil
}

// 二阶段使用的连接：优先复用一阶段持有的连接，否则新开一条
func (d *DataSource) ConnectionForXAFinish(ctx context.Context, xaXid *XAXid) (*ConnectionProxyXA, error) {
	if proxy, ok := d.Lookup(xaXid.String()); ok {
		return proxy, nil
	}
	return d.Conn(ctx, xaXid.XID())
}

func (d *DataSource) Lookup(key string) (*ConnectionProxyXA, bool) {
	proxy, ok := d.opts.Keeper.Lookup(key)
	if !ok || proxy.resource != d {
		return nil, false
	}
	return proxy, true
}

func (d *DataSource) hold(key string, proxy *ConnectionProxyXA) error {
	if err := d.opts.Keeper.Hold(key, proxy); err != nil {
		return err
	}
	if !proxy.held.Swap(true) {
		metrics.HeldConnectionGauge.WithLabelValues(d.resourceID).Inc()
	}
	return nil
}

func (d *DataSource) release(key string, proxy *ConnectionProxyXA) error {
	if err := d.opts.Keeper.Release(key, proxy); err != nil {
		return err
	}
	if proxy.held.Swap(false) {
		metrics.HeldConnectionGauge.WithLabelValues(d.resourceID).Dec()
	}
	return nil
}

func (d *DataSource) branchTimeout() time.Duration {
	if d.opts.BranchExecutionTimeout > d.opts.DefaultGlobalTransactionTimeout {
		return d.opts.BranchExecutionTimeout
	}
	return d.opts.DefaultGlobalTransactionTimeout
}

func (d *DataSource) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := d.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

func (d *DataSource) run() {
	var tick time.Duration
	var err error
	for {
		// 出现失败时按退避策略增大巡检间隔
		if err == nil {
			tick = d.opts.MonitorTick
		} else {
			tick = d.backOffTick(tick)
		}
		select {
		case <-d.ctx.Done():
			return

		case <-time.After(tick):
			err = d.sweep()
		}
	}
}

// 强制关闭 prepare 后长时间没有等到二阶段的连接
func (d *DataSource) sweep() error {
	var firstErr error
	now := time.Now()
	d.opts.Keeper.Range(func(key string, proxy *ConnectionProxyXA) bool {
		if proxy.resource != d {
			return true
		}
		prepareTime := proxy.PrepareTime()
		if prepareTime.IsZero() || now.Sub(prepareTime) <= d.opts.TwoPhaseHoldTimeout {
			return true
		}

		log.Warnf("force close xa connection %s of resource %s, prepared at %s", key, d.resourceID, prepareTime.Format(time.RFC3339))
		if err := proxy.CloseForce(); err != nil {
			log.Errorf("force close xa connection %s failed, err: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		return true
	})
	return firstErr
}
