package gotxrm

import "time"

type Options struct {
	// 异步提交队列容量
	AsyncCommitBufferLimit int
	// 单次批量清理回滚日志的分支数量
	UndoLogDeleteBatchSize int
	// 单批清理操作的时长限制
	Timeout time.Duration
	// 轮询异步提交队列的间隔时长
	MonitorTick time.Duration
}

type Option func(*Options)

func WithAsyncCommitBufferLimit(limit int) Option {
	if limit <= 0 {
		limit = 10000
	}

	return func(o *Options) {
		o.AsyncCommitBufferLimit = limit
	}
}

func WithUndoLogDeleteBatchSize(size int) Option {
	if size <= 0 {
		size = 1000
	}

	return func(o *Options) {
		o.UndoLogDeleteBatchSize = size
	}
}

func WithTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = time.Second
	}

	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func repair(o *Options) {
	if o.AsyncCommitBufferLimit <= 0 {
		o.AsyncCommitBufferLimit = 10000
	}

	if o.UndoLogDeleteBatchSize <= 0 {
		o.UndoLogDeleteBatchSize = 1000
	}

	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}

	if o.MonitorTick <= 0 {
		o.MonitorTick = time.Second
	}
}
