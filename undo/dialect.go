package undo

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 不同数据库在标识符转义、占位符形式上的差异
type Dialect interface {
	DBType() rm.DBType
	// 转义标识符，支持 schema.table 形式
	Escape(name string) string
	// 第 index 个占位符，index 从 1 开始
	Placeholder(index int) string
	// 单条语句允许的最大占位符数量
	MaxPlaceholders() int
}

func DialectOf(dbType rm.DBType) (Dialect, error) {
	switch dbType {
	case rm.DBTypeMySQL, rm.DBTypeMariaDB:
		return &mysqlDialect{dbType: dbType}, nil
	case rm.DBTypePostgreSQL:
		return &postgresDialect{}, nil
	default:
		return nil, errors.Errorf("unsupported db type: %q", dbType)
	}
}

type mysqlDialect struct {
	dbType rm.DBType
}

func (m *mysqlDialect) DBType() rm.DBType {
	return m.dbType
}

func (m *mysqlDialect) Escape(name string) string {
	return escape(name, "`")
}

func (m *mysqlDialect) Placeholder(_ int) string {
	return "?"
}

func (m *mysqlDialect) MaxPlaceholders() int {
	return 65535
}

type postgresDialect struct{}

func (p *postgresDialect) DBType() rm.DBType {
	return rm.DBTypePostgreSQL
}

func (p *postgresDialect) Escape(name string) string {
	return escape(name, `"`)
}

func (p *postgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (p *postgresDialect) MaxPlaceholders() int {
	return 32767
}

func escape(name, quote string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = quote + strings.Trim(part, "`\"") + quote
	}
	return strings.Join(parts, ".")
}
