package meta

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

type columnPO struct {
	TableName       string `gorm:"column:table_name"`
	ColumnName      string `gorm:"column:column_name"`
	DataType        string `gorm:"column:data_type"`
	IsNullable      string `gorm:"column:is_nullable"`
	OrdinalPosition int    `gorm:"column:ordinal_position"`
}

// 从 information_schema 中加载表元数据
type loader interface {
	currentSchema(ctx context.Context, db *gorm.DB) (string, error)
	load(ctx context.Context, db *gorm.DB, schema, table string) (*sqlstruct.TableMeta, error)
}

func loaderOf(dbType rm.DBType) (loader, error) {
	switch dbType {
	case rm.DBTypeMySQL, rm.DBTypeMariaDB:
		return &mysqlLoader{}, nil
	case rm.DBTypePostgreSQL:
		return &postgresLoader{}, nil
	default:
		return nil, errors.Errorf("unsupported db type: %q", dbType)
	}
}

type mysqlLoader struct{}

func (m *mysqlLoader) currentSchema(ctx context.Context, db *gorm.DB) (string, error) {
	var schema string
	return schema, db.WithContext(ctx).Raw("SELECT DATABASE()").Scan(&schema).Error
}

func (m *mysqlLoader) load(ctx context.Context, db *gorm.DB, schema, table string) (*sqlstruct.TableMeta, error) {
	var columns []*columnPO
	if err := db.WithContext(ctx).Raw("SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name, DATA_TYPE AS data_type, "+
		"IS_NULLABLE AS is_nullable, ORDINAL_POSITION AS ordinal_position FROM information_schema.COLUMNS "+
		"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION", schema, table).
		Scan(&columns).Error; err != nil {
		return nil, err
	}

	var pks []string
	if err := db.WithContext(ctx).Raw("SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE "+
		"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY' ORDER BY ORDINAL_POSITION", schema, table).
		Scan(&pks).Error; err != nil {
		return nil, err
	}

	return buildTableMeta(table, columns, pks, sqlstruct.MySQLTypeCode)
}

type postgresLoader struct{}

func (p *postgresLoader) currentSchema(ctx context.Context, db *gorm.DB) (string, error) {
	var schema string
	return schema, db.WithContext(ctx).Raw("SELECT current_schema()").Scan(&schema).Error
}

func (p *postgresLoader) load(ctx context.Context, db *gorm.DB, schema, table string) (*sqlstruct.TableMeta, error) {
	var columns []*columnPO
	if err := db.WithContext(ctx).Raw("SELECT table_name, column_name, data_type, is_nullable, ordinal_position "+
		"FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position", schema, table).
		Scan(&columns).Error; err != nil {
		return nil, err
	}

	var pks []string
	if err := db.WithContext(ctx).Raw("SELECT kcu.column_name FROM information_schema.table_constraints tc "+
		"JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema "+
		"WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ? AND tc.table_name = ? ORDER BY kcu.ordinal_position", schema, table).
		Scan(&pks).Error; err != nil {
		return nil, err
	}

	return buildTableMeta(table, columns, pks, sqlstruct.PostgresTypeCode)
}

func buildTableMeta(table string, columns []*columnPO, pks []string, typeCode func(string) int32) (*sqlstruct.TableMeta, error) {
	if len(columns) == 0 {
		return nil, errors.Errorf("table: %s not found", table)
	}

	meta := sqlstruct.TableMeta{
		TableName:   table,
		Columns:     make([]*sqlstruct.ColumnMeta, 0, len(columns)),
		PrimaryKeys: pks,
	}
	for _, column := range columns {
		meta.Columns = append(meta.Columns, &sqlstruct.ColumnMeta{
			TableName:    column.TableName,
			ColumnName:   column.ColumnName,
			DataType:     typeCode(strings.ToLower(column.DataType)),
			DataTypeName: column.DataType,
			Nullable:     strings.EqualFold(column.IsNullable, "YES"),
			Ordinal:      column.OrdinalPosition,
		})
	}
	return &meta, nil
}
