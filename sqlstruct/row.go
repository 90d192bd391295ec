package sqlstruct

import "strings"

// 字段在表中扮演的键角色
type KeyType string

func (k KeyType) String() string {
	return string(k)
}

const (
	KeyTypeNull       KeyType = "NULL"
	KeyTypePrimaryKey KeyType = "PRIMARY_KEY"
)

// 一列数据
type Field struct {
	Name    string      `json:"name"`
	KeyType KeyType     `json:"keyType"`
	Type    int32       `json:"type"`
	Value   interface{} `json:"value"`
}

func NewField(name string, keyType KeyType, typ int32, value interface{}) *Field {
	return &Field{
		Name:    name,
		KeyType: keyType,
		Type:    typ,
		Value:   value,
	}
}

func (f *Field) IsPrimaryKey() bool {
	return f.KeyType == KeyTypePrimaryKey
}

// 一行数据
type Row struct {
	Fields []*Field `json:"fields"`
}

func (r *Row) Add(field *Field) {
	r.Fields = append(r.Fields, field)
}

// 主键列，顺序与字段声明顺序一致
func (r *Row) PrimaryKeys() []*Field {
	pks := make([]*Field, 0, 1)
	for _, field := range r.Fields {
		if field.IsPrimaryKey() {
			pks = append(pks, field)
		}
	}
	return pks
}

// 非主键列
func (r *Row) NonPrimaryKeys() []*Field {
	fields := make([]*Field, 0, len(r.Fields))
	for _, field := range r.Fields {
		if !field.IsPrimaryKey() {
			fields = append(fields, field)
		}
	}
	return fields
}

// 按照列名获取字段，大小写不敏感
func (r *Row) Field(name string) (*Field, bool) {
	for _, field := range r.Fields {
		if strings.EqualFold(field.Name, name) {
			return field, true
		}
	}
	return nil, false
}

// 按照给定的主键顺序返回本行的主键列
func (r *Row) OrderedPrimaryKeys(pkNames []string) []*Field {
	pks := r.PrimaryKeys()
	ordered := make([]*Field, 0, len(pks))
	for _, name := range pkNames {
		for _, pk := range pks {
			if strings.EqualFold(unescape(pk.Name), unescape(name)) {
				ordered = append(ordered, pk)
				break
			}
		}
	}
	return ordered
}

// 去除列名两侧的转义符
func unescape(name string) string {
	return strings.Trim(name, "`\"")
}
