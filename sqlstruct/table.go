package sqlstruct

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// 列元数据
type ColumnMeta struct {
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
	DataType   int32  `json:"dataType"`
	// 数据库原生类型名称，如 varchar
	DataTypeName string `json:"dataTypeName"`
	Nullable     bool   `json:"nullable"`
	Ordinal      int    `json:"ordinal"`
}

// 表元数据
type TableMeta struct {
	TableName string
	// 按照表定义顺序排列的列
	Columns []*ColumnMeta
	// 按照主键定义顺序排列的主键列名
	PrimaryKeys []string
}

func (t *TableMeta) ColumnMeta(name string) (*ColumnMeta, bool) {
	name = unescape(name)
	for _, column := range t.Columns {
		if strings.EqualFold(column.ColumnName, name) {
			return column, true
		}
	}
	return nil, false
}

func (t *TableMeta) IsPrimaryKey(name string) bool {
	name = unescape(name)
	for _, pk := range t.PrimaryKeys {
		if strings.EqualFold(pk, name) {
			return true
		}
	}
	return false
}

// 主键列名，顺序有意义
func (t *TableMeta) PrimaryKeyOnlyName() []string {
	return append([]string(nil), t.PrimaryKeys...)
}

// 一张表的若干行快照
type TableRecords struct {
	TableMeta *TableMeta `json:"-"`
	TableName string     `json:"tableName"`
	Rows      []*Row     `json:"rows"`
}

func NewTableRecords(meta *TableMeta) *TableRecords {
	records := TableRecords{
		TableMeta: meta,
	}
	if meta != nil {
		records.TableName = meta.TableName
	}
	return &records
}

// 空记录
func EmptyTableRecords(meta *TableMeta) *TableRecords {
	return NewTableRecords(meta)
}

func (t *TableRecords) Size() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *TableRecords) Add(row *Row) {
	t.Rows = append(t.Rows, row)
}

// 基于查询结果构造快照，列类型与键角色取自表元数据
func BuildRecords(meta *TableMeta, rows *sql.Rows) (*TableRecords, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	records := NewTableRecords(meta)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, errors.WithStack(err)
		}

		row := Row{Fields: make([]*Field, 0, len(columns))}
		for i, column := range columns {
			columnMeta, ok := meta.ColumnMeta(column)
			if !ok {
				return nil, errors.Errorf("unknown column: %s of table: %s", column, meta.TableName)
			}
			keyType := KeyTypeNull
			if meta.IsPrimaryKey(column) {
				keyType = KeyTypePrimaryKey
			}
			row.Add(NewField(columnMeta.ColumnName, keyType, columnMeta.DataType, normalizeValue(columnMeta.DataType, values[i])))
		}
		records.Add(&row)
	}

	return records, errors.WithStack(rows.Err())
}

// 文本协议下驱动对大部分列返回 []byte，按类型码转换为对应的 go 类型。
// 二进制列保留 []byte，驱动会复用其底层内存，需要拷贝
func normalizeValue(typ int32, value interface{}) interface{} {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	switch {
	case IsBinaryType(typ):
		return append([]byte(nil), b...)
	case IsIntegerType(typ):
		if n, err := cast.ToInt64E(string(b)); err == nil {
			return n
		}
	case IsApproximateType(typ):
		if f, err := cast.ToFloat64E(string(b)); err == nil {
			return f
		}
	}
	return string(b)
}
