package meta

import (
	"time"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

type Options struct {
	// 数据库类型，决定元数据的查询方式
	DBType rm.DBType
	// 默认 schema，为空时取连接当前所在的库
	Schema string
	// 缓存的表数量上限
	MaxTables int64
	// 元数据过期时间，0 表示不过期
	TTL time.Duration
}

type Option func(*Options)

func WithDBType(dbType rm.DBType) Option {
	return func(o *Options) {
		o.DBType = dbType
	}
}

func WithSchema(schema string) Option {
	return func(o *Options) {
		o.Schema = schema
	}
}

func WithMaxTables(maxTables int64) Option {
	return func(o *Options) {
		o.MaxTables = maxTables
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

func repair(o *Options) {
	if o.DBType == rm.DBTypeUnknown {
		o.DBType = rm.DBTypeMySQL
	}

	if o.MaxTables <= 0 {
		o.MaxTables = 1024
	}

	if o.TTL < 0 {
		o.TTL = 0
	}
}
