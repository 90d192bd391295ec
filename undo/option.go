package undo

type Options struct {
	// 回滚前是否校验脏数据
	DataValidation bool
	// 查询当前数据时，单条 sql 中 in 条件允许的最大行数
	MaxInSize int
	// 回滚日志表名
	LogTable string
}

type Option func(*Options)

func WithDataValidation(enable bool) Option {
	return func(o *Options) {
		o.DataValidation = enable
	}
}

func WithMaxInSize(size int) Option {
	if size <= 0 {
		size = 1000
	}

	return func(o *Options) {
		o.MaxInSize = size
	}
}

func WithLogTable(table string) Option {
	if table == "" {
		table = "undo_log"
	}

	return func(o *Options) {
		o.LogTable = table
	}
}

func newOptions(opts ...Option) *Options {
	options := Options{
		DataValidation: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	repair(&options)
	return &options
}

func repair(o *Options) {
	if o.MaxInSize <= 0 {
		o.MaxInSize = 1000
	}

	if o.LogTable == "" {
		o.LogTable = "undo_log"
	}
}
