package sqlstruct

// SQL 类型码，取值遵循 X/Open SQL CLI 标准
const (
	TypeBit           int32 = -7
	TypeTinyInt       int32 = -6
	TypeSmallInt      int32 = 5
	TypeInteger       int32 = 4
	TypeBigInt        int32 = -5
	TypeFloat         int32 = 6
	TypeReal          int32 = 7
	TypeDouble        int32 = 8
	TypeNumeric       int32 = 2
	TypeDecimal       int32 = 3
	TypeChar          int32 = 1
	TypeVarchar       int32 = 12
	TypeLongVarchar   int32 = -1
	TypeDate          int32 = 91
	TypeTime          int32 = 92
	TypeTimestamp     int32 = 93
	TypeBinary        int32 = -2
	TypeVarBinary     int32 = -3
	TypeLongVarBinary int32 = -4
	TypeNull          int32 = 0
	TypeOther         int32 = 1111
	TypeObject        int32 = 2000
	TypeArray         int32 = 2003
	TypeBlob          int32 = 2004
	TypeClob          int32 = 2005
	TypeRef           int32 = 2006
	TypeDatalink      int32 = 70
	TypeBoolean       int32 = 16
	TypeNChar         int32 = -15
	TypeNVarchar      int32 = -9
	TypeLongNVarchar  int32 = -16
	TypeNClob         int32 = 2011
	TypeSQLXML        int32 = 2009
)

func IsIntegerType(t int32) bool {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInteger, TypeBigInt:
		return true
	}
	return false
}

func IsApproximateType(t int32) bool {
	switch t {
	case TypeFloat, TypeReal, TypeDouble:
		return true
	}
	return false
}

func IsExactNumericType(t int32) bool {
	return t == TypeNumeric || t == TypeDecimal
}

func IsCharacterType(t int32) bool {
	switch t {
	case TypeChar, TypeVarchar, TypeLongVarchar, TypeNChar, TypeNVarchar, TypeLongNVarchar:
		return true
	}
	return false
}

func IsBinaryType(t int32) bool {
	switch t {
	case TypeBinary, TypeVarBinary, TypeLongVarBinary, TypeBlob:
		return true
	}
	return false
}

func IsClobType(t int32) bool {
	return t == TypeClob || t == TypeNClob
}

func IsTimeType(t int32) bool {
	switch t {
	case TypeDate, TypeTime, TypeTimestamp:
		return true
	}
	return false
}

// mysql information_schema 中的 DATA_TYPE 到类型码的映射
var mysqlTypes = map[string]int32{
	"bit":        TypeBit,
	"tinyint":    TypeTinyInt,
	"smallint":   TypeSmallInt,
	"mediumint":  TypeInteger,
	"int":        TypeInteger,
	"integer":    TypeInteger,
	"bigint":     TypeBigInt,
	"float":      TypeReal,
	"double":     TypeDouble,
	"decimal":    TypeDecimal,
	"numeric":    TypeDecimal,
	"char":       TypeChar,
	"varchar":    TypeVarchar,
	"tinytext":   TypeVarchar,
	"text":       TypeLongVarchar,
	"mediumtext": TypeLongVarchar,
	"longtext":   TypeLongVarchar,
	"json":       TypeLongVarchar,
	"enum":       TypeChar,
	"set":        TypeChar,
	"date":       TypeDate,
	"time":       TypeTime,
	"datetime":   TypeTimestamp,
	"timestamp":  TypeTimestamp,
	"year":       TypeDate,
	"binary":     TypeBinary,
	"varbinary":  TypeVarBinary,
	"tinyblob":   TypeVarBinary,
	"blob":       TypeLongVarBinary,
	"mediumblob": TypeLongVarBinary,
	"longblob":   TypeLongVarBinary,
}

// 根据 mysql 字段类型名称获取类型码，未知类型视为 OTHER
func MySQLTypeCode(dataType string) int32 {
	if code, ok := mysqlTypes[dataType]; ok {
		return code
	}
	return TypeOther
}

// postgresql information_schema 中的 data_type 到类型码的映射
var postgresTypes = map[string]int32{
	"smallint":                    TypeSmallInt,
	"integer":                     TypeInteger,
	"bigint":                      TypeBigInt,
	"real":                        TypeReal,
	"double precision":            TypeDouble,
	"numeric":                     TypeNumeric,
	"character":                   TypeChar,
	"character varying":           TypeVarchar,
	"text":                        TypeVarchar,
	"bytea":                       TypeBinary,
	"boolean":                     TypeBit,
	"date":                        TypeDate,
	"time without time zone":      TypeTime,
	"timestamp without time zone": TypeTimestamp,
	"timestamp with time zone":    TypeTimestamp,
	"array":                       TypeArray,
	"json":                        TypeOther,
	"jsonb":                       TypeOther,
	"uuid":                        TypeOther,
}

func PostgresTypeCode(dataType string) int32 {
	if code, ok := postgresTypes[dataType]; ok {
		return code
	}
	return TypeOther
}
