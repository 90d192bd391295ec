package undo

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/spf13/cast"

	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

const rowKeySeparator = "_##$$@@_"

// 比较结果，不相等时 Msg 给出原因
type Result struct {
	Equal bool
	Msg   string
}

func equal() Result {
	return Result{Equal: true}
}

func notEqual(format string, args ...interface{}) Result {
	return Result{Msg: fmt.Sprintf(format, args...)}
}

// 比较两份快照。nil 与空记录视为相同
func IsRecordsEquals(before, after *sqlstruct.TableRecords) Result {
	if before.Size() != after.Size() {
		return notEqual("records size not equal, %d vs %d", before.Size(), after.Size())
	}
	if before.Size() == 0 {
		return equal()
	}
	if !strings.EqualFold(before.TableName, after.TableName) {
		return notEqual("table name not equal, %s vs %s", before.TableName, after.TableName)
	}

	meta := before.TableMeta
	if meta == nil {
		meta = after.TableMeta
	}
	return IsRowsEquals(meta, before.Rows, after.Rows)
}

// 按主键对齐后逐行比较，行的先后顺序无关
func IsRowsEquals(meta *sqlstruct.TableMeta, oldRows, newRows []*sqlstruct.Row) Result {
	if len(oldRows) != len(newRows) {
		return notEqual("rows size not equal, %d vs %d", len(oldRows), len(newRows))
	}

	var pkNames []string
	if meta != nil {
		pkNames = meta.PrimaryKeyOnlyName()
	}

	newRowMap := make(map[string]*sqlstruct.Row, len(newRows))
	for _, row := range newRows {
		newRowMap[rowKey(row, pkNames)] = row
	}

	for _, oldRow := range oldRows {
		key := rowKey(oldRow, pkNames)
		newRow, ok := newRowMap[key]
		if !ok {
			return notEqual("compare row failed, rowKey %s, reason [newRow is null]", key)
		}
		for _, oldField := range oldRow.Fields {
			newField, ok := newRow.Field(oldField.Name)
			if !ok {
				return notEqual("compare row failed, rowKey %s, fieldName %s, reason [newField is null]", key, oldField.Name)
			}
			if res := IsFieldEquals(oldField, newField); !res.Equal {
				return notEqual("compare row failed, rowKey %s, fieldName %s, reason [%s]", key, oldField.Name, res.Msg)
			}
		}
	}
	return equal()
}

// 字段比较：名称大小写不敏感，类型需一致，值按类型归一后比较
func IsFieldEquals(f0, f1 *sqlstruct.Field) Result {
	if f0 == nil || f1 == nil {
		if f0 == f1 {
			return equal()
		}
		return notEqual("field is null")
	}
	if !strings.EqualFold(f0.Name, f1.Name) {
		return notEqual("field name not equal, %s vs %s", f0.Name, f1.Name)
	}
	if f0.Type != f1.Type {
		return notEqual("field type not equal, %d vs %d", f0.Type, f1.Type)
	}
	if f0.Value == nil || f1.Value == nil {
		if f0.Value == nil && f1.Value == nil {
			return equal()
		}
		return notEqual("field value not equal, %v vs %v", f0.Value, f1.Value)
	}
	if valueEquals(f0.Type, f0.Value, f1.Value) {
		return equal()
	}
	return notEqual("field value not equal, %v vs %v", normalize(f0.Value), normalize(f1.Value))
}

func valueEquals(typ int32, v0, v1 interface{}) bool {
	switch {
	case sqlstruct.IsBinaryType(typ):
		b0, ok0 := toBytes(v0)
		b1, ok1 := toBytes(v1)
		return ok0 && ok1 && bytes.Equal(b0, b1)
	case sqlstruct.IsIntegerType(typ):
		i0, err0 := cast.ToInt64E(normalize(v0))
		i1, err1 := cast.ToInt64E(normalize(v1))
		if err0 == nil && err1 == nil {
			return i0 == i1
		}
	case sqlstruct.IsApproximateType(typ):
		f0, err0 := cast.ToFloat64E(normalize(v0))
		f1, err1 := cast.ToFloat64E(normalize(v1))
		if err0 == nil && err1 == nil {
			return f0 == f1
		}
	case sqlstruct.IsExactNumericType(typ):
		r0, ok0 := toRat(v0)
		r1, ok1 := toRat(v1)
		if ok0 && ok1 {
			return r0.Cmp(r1) == 0
		}
	case sqlstruct.IsTimeType(typ):
		t0, err0 := cast.ToTimeE(normalize(v0))
		t1, err1 := cast.ToTimeE(normalize(v1))
		if err0 == nil && err1 == nil {
			return t0.Equal(t1)
		}
	case typ == sqlstruct.TypeArray:
		return reflect.DeepEqual(arrayElements(v0), arrayElements(v1))
	}

	s0, err0 := cast.ToStringE(normalize(v0))
	s1, err1 := cast.ToStringE(normalize(v1))
	if err0 == nil && err1 == nil {
		return s0 == s1
	}
	return reflect.DeepEqual(v0, v1)
}

// 主键值拼接成的行标识
func rowKey(row *sqlstruct.Row, pkNames []string) string {
	var pks []*sqlstruct.Field
	if len(pkNames) > 0 {
		pks = row.OrderedPrimaryKeys(pkNames)
	} else {
		pks = row.PrimaryKeys()
	}

	parts := make([]string, 0, len(pks))
	for _, pk := range pks {
		parts = append(parts, keyPart(pk))
	}
	return strings.Join(parts, rowKeySeparator)
}

func keyPart(field *sqlstruct.Field) string {
	if field.Value == nil {
		return "null"
	}
	if sqlstruct.IsIntegerType(field.Type) {
		if i, err := cast.ToInt64E(normalize(field.Value)); err == nil {
			return cast.ToString(i)
		}
	}
	if sqlstruct.IsExactNumericType(field.Type) {
		if r, ok := toRat(field.Value); ok {
			return r.RatString()
		}
	}
	return fmt.Sprint(normalize(field.Value))
}

// 驱动常以 []byte 返回文本列
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toBytes(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	default:
		return nil, false
	}
}

func toRat(v interface{}) (*big.Rat, bool) {
	s, err := cast.ToStringE(normalize(v))
	if err != nil {
		return nil, false
	}
	return new(big.Rat).SetString(strings.TrimSpace(s))
}

func arrayElements(v interface{}) interface{} {
	switch arr := v.(type) {
	case *sqlstruct.SerialArray:
		return arr.Elements
	case sqlstruct.SerialArray:
		return arr.Elements
	default:
		return v
	}
}
