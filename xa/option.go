package xa

import (
	"database/sql"
	"time"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 基于物理连接构造原生 xa 参与者
type XAResourceFactory func(conn *sql.Conn, dbType rm.DBType) (XAResource, error)

type Options struct {
	// 分支执行超时时长
	BranchExecutionTimeout time.Duration
	// 全局事务默认超时时长，分支超时取两者较大值
	DefaultGlobalTransactionTimeout time.Duration
	// prepare 后连接允许被持有的最长时长
	TwoPhaseHoldTimeout time.Duration
	// 持有连接巡检间隔
	MonitorTick time.Duration
	// 为 nil 时按数据库类型取默认值
	ShouldBeHeld *bool
	// 注册分支时上报的客户端标识
	ClientID string
	Keeper   *Keeper
	// 分支状态标记
	BranchStatusStore BranchStatusStore
	XAResourceFactory XAResourceFactory
}

type Option func(*Options)

func WithBranchExecutionTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return func(o *Options) {
		o.BranchExecutionTimeout = timeout
	}
}

func WithDefaultGlobalTransactionTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return func(o *Options) {
		o.DefaultGlobalTransactionTimeout = timeout
	}
}

func WithTwoPhaseHoldTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(o *Options) {
		o.TwoPhaseHoldTimeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithShouldBeHeld(held bool) Option {
	return func(o *Options) {
		o.ShouldBeHeld = &held
	}
}

func WithClientID(clientID string) Option {
	return func(o *Options) {
		o.ClientID = clientID
	}
}

func WithKeeper(keeper *Keeper) Option {
	return func(o *Options) {
		o.Keeper = keeper
	}
}

func WithBranchStatusStore(store BranchStatusStore) Option {
	return func(o *Options) {
		o.BranchStatusStore = store
	}
}

func WithXAResourceFactory(factory XAResourceFactory) Option {
	return func(o *Options) {
		o.XAResourceFactory = factory
	}
}

func repair(o *Options) {
	if o.BranchExecutionTimeout <= 0 {
		o.BranchExecutionTimeout = 60 * time.Second
	}

	if o.DefaultGlobalTransactionTimeout <= 0 {
		o.DefaultGlobalTransactionTimeout = 60 * time.Second
	}

	if o.TwoPhaseHoldTimeout <= 0 {
		o.TwoPhaseHoldTimeout = 10 * time.Second
	}

	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}

	if o.Keeper == nil {
		o.Keeper = NewKeeper()
	}

	if o.BranchStatusStore == nil {
		o.BranchStatusStore = NewMemoryBranchStatusStore()
	}

	if o.XAResourceFactory == nil {
		o.XAResourceFactory = defaultXAResourceFactory
	}
}
