package undo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/metrics"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

// 执行回滚语句的目标连接，*sql.Conn、*sql.Tx 以及 gorm 的 ConnPool 均满足
type Conn interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// 支持数组类型的连接需要实现该接口，用于在目标连接上重建数组值
type ArrayCreator interface {
	CreateArrayOf(typeName string, elements []interface{}) (interface{}, error)
}

// 回滚一条 dml 语句
type Executor interface {
	ExecuteOn(ctx context.Context, conn Conn) error
}

// 不同语句类型在回滚语句上的差异
type undoStatement interface {
	// 生成回滚 sql
	buildUndoSQL(d Dialect) (string, error)
	// 回滚依据的镜像
	undoRows() *sqlstruct.TableRecords
	// 需要在主键之前绑定的列
	undoValues(row *sqlstruct.Row) []*sqlstruct.Field
}

func NewExecutor(dbType rm.DBType, sqlUndoLog *SQLUndoLog, opts ...Option) (Executor, error) {
	if sqlUndoLog == nil {
		return nil, errors.New("nil sql undo log")
	}

	dialect, err := DialectOf(dbType)
	if err != nil {
		return nil, err
	}

	var stmt undoStatement
	switch sqlUndoLog.SQLType {
	case SQLTypeInsert:
		stmt = &insertUndo{sqlUndoLog: sqlUndoLog}
	case SQLTypeUpdate:
		stmt = &updateUndo{sqlUndoLog: sqlUndoLog}
	case SQLTypeDelete:
		stmt = &deleteUndo{sqlUndoLog: sqlUndoLog}
	default:
		return nil, errors.Errorf("unsupported sql type: %s", sqlUndoLog.SQLType)
	}

	return &undoExecutor{
		opts:       newOptions(opts...),
		dialect:    dialect,
		sqlUndoLog: sqlUndoLog,
		stmt:       stmt,
	}, nil
}

type undoExecutor struct {
	opts       *Options
	dialect    Dialect
	sqlUndoLog *SQLUndoLog
	stmt       undoStatement
}

func (u *undoExecutor) ExecuteOn(ctx context.Context, conn Conn) error {
	sqlType := u.sqlUndoLog.SQLType.String()
	if u.opts.DataValidation {
		goOn, err := u.dataValidationAndGoOn(ctx, conn)
		if err != nil {
			return err
		}
		if !goOn {
			metrics.UndoCounter.WithLabelValues(sqlType, metrics.UndoSkipped).Inc()
			return nil
		}
	}

	undoRows := u.stmt.undoRows()
	if undoRows.Size() == 0 {
		metrics.UndoCounter.WithLabelValues(sqlType, metrics.UndoSkipped).Inc()
		return nil
	}

	undoSQL, err := u.stmt.buildUndoSQL(u.dialect)
	if err != nil {
		return err
	}

	if err = u.execute(ctx, conn, undoSQL, undoRows); err != nil {
		metrics.UndoCounter.WithLabelValues(sqlType, metrics.UndoFailed).Inc()
		return rm.WrapError(rm.ErrUndoExecute, err, "table: %s, sql: %s", u.sqlUndoLog.TableName, undoSQL)
	}

	metrics.UndoCounter.WithLabelValues(sqlType, metrics.UndoExecuted).Inc()
	return nil
}

func (u *undoExecutor) execute(ctx context.Context, conn Conn, undoSQL string, undoRows *sqlstruct.TableRecords) error {
	stmt, err := conn.PrepareContext(ctx, undoSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	pkNames := pkNamesOf(undoRows)
	for _, row := range undoRows.Rows {
		args, err := u.undoPrepare(conn, u.stmt.undoValues(row), row.OrderedPrimaryKeys(pkNames))
		if err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// 参数顺序：undoValues 按声明顺序在前，主键列按表定义的主键顺序在后
func (u *undoExecutor) undoPrepare(conn Conn, undoValues, pkValues []*sqlstruct.Field) ([]interface{}, error) {
	args := make([]interface{}, 0, len(undoValues)+len(pkValues))
	for _, field := range undoValues {
		arg, err := u.bind(conn, field)
		if err != nil {
			return nil, errors.Wrapf(err, "bind field: %s", field.Name)
		}
		args = append(args, arg)
	}
	for _, pk := range pkValues {
		arg, err := coerce(pk.Type, pk.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "bind primary key: %s", pk.Name)
		}
		args = append(args, arg)
	}
	return args, nil
}

func (u *undoExecutor) bind(conn Conn, field *sqlstruct.Field) (interface{}, error) {
	value := field.Value
	if value == nil {
		return nil, nil
	}

	switch typ := field.Type; {
	case sqlstruct.IsBinaryType(typ):
		b, ok := toBytes(value)
		if !ok {
			return nil, errors.Errorf("unexpected binary value type: %T", value)
		}
		return b, nil
	case sqlstruct.IsClobType(typ):
		return cast.ToStringE(normalize(value))
	case typ == sqlstruct.TypeDatalink:
		raw, err := cast.ToStringE(normalize(value))
		if err != nil {
			return nil, err
		}
		link, err := url.Parse(raw)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return link.String(), nil
	case typ == sqlstruct.TypeArray:
		return u.bindArray(conn, value)
	default:
		return coerce(typ, value)
	}
}

func (u *undoExecutor) bindArray(conn Conn, value interface{}) (interface{}, error) {
	var arr *sqlstruct.SerialArray
	switch v := value.(type) {
	case *sqlstruct.SerialArray:
		arr = v
	case sqlstruct.SerialArray:
		arr = &v
	default:
		return nil, errors.Errorf("unexpected array value type: %T", value)
	}

	creator, ok := conn.(ArrayCreator)
	if !ok {
		return nil, errors.New("target connection can not create array")
	}
	return creator.CreateArrayOf(arr.BaseTypeName, arr.Elements)
}

// 按类型码转换值
func coerce(typ int32, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch {
	case sqlstruct.IsIntegerType(typ):
		return cast.ToInt64E(normalize(value))
	case sqlstruct.IsApproximateType(typ):
		return cast.ToFloat64E(normalize(value))
	case sqlstruct.IsExactNumericType(typ), sqlstruct.IsCharacterType(typ):
		return cast.ToStringE(normalize(value))
	case sqlstruct.IsTimeType(typ):
		return normalize(value), nil
	default:
		return value, nil
	}
}

// 返回 false 表示无需回滚
func (u *undoExecutor) dataValidationAndGoOn(ctx context.Context, conn Conn) (bool, error) {
	beforeImage := u.sqlUndoLog.BeforeImage
	afterImage := u.sqlUndoLog.AfterImage

	if res := IsRecordsEquals(beforeImage, afterImage); res.Equal {
		log.InfoContextf(ctx, "stop rollback because there is no data change between the before data snapshot and the after data snapshot, table: %s", u.sqlUndoLog.TableName)
		return false, nil
	}

	currentImage, err := u.queryCurrentRecords(ctx, conn)
	if err != nil {
		return false, err
	}

	afterRes := IsRecordsEquals(afterImage, currentImage)
	if afterRes.Equal {
		return true, nil
	}

	// 当前数据已经是前镜像，说明已经回滚过
	if res := IsRecordsEquals(beforeImage, currentImage); res.Equal {
		log.InfoContextf(ctx, "stop rollback because there is no data change between the before data snapshot and the current data snapshot, table: %s", u.sqlUndoLog.TableName)
		return false, nil
	}

	log.InfoContextf(ctx, "check dirty data failed, old and new data are not equal, table: %s, reason: %s", u.sqlUndoLog.TableName, afterRes.Msg)
	log.DebugContextf(ctx, "check dirty data failed, table: %s, old rows: %s, new rows: %s",
		u.sqlUndoLog.TableName, marshalRows(afterImage), marshalRows(currentImage))
	metrics.UndoCounter.WithLabelValues(u.sqlUndoLog.SQLType.String(), metrics.UndoDirty).Inc()
	return false, rm.WrapError(rm.ErrDirtyUndo, nil, "table: %s", u.sqlUndoLog.TableName)
}

// 按回滚镜像的主键加锁查询当前数据
func (u *undoExecutor) queryCurrentRecords(ctx context.Context, conn Conn) (*sqlstruct.TableRecords, error) {
	undoRows := u.stmt.undoRows()
	if undoRows.Size() == 0 {
		return sqlstruct.EmptyTableRecords(tableMetaOf(undoRows)), nil
	}

	meta := undoRows.TableMeta
	if meta == nil {
		return nil, errors.Errorf("missing table meta of table: %s", u.sqlUndoLog.TableName)
	}
	pkNames := meta.PrimaryKeyOnlyName()
	if len(pkNames) == 0 {
		return nil, errors.Errorf("table: %s has no primary key", meta.TableName)
	}

	pkRows := make([][]*sqlstruct.Field, 0, undoRows.Size())
	for _, row := range undoRows.Rows {
		pks := row.OrderedPrimaryKeys(pkNames)
		if len(pks) != len(pkNames) {
			return nil, errors.Errorf("primary key of table: %s is incomplete in undo rows", meta.TableName)
		}
		pkRows = append(pkRows, pks)
	}

	current := sqlstruct.NewTableRecords(meta)
	offset := 0
	for _, condition := range buildWhereConditionListByPKs(pkNames, len(pkRows), u.dialect, u.opts.MaxInSize) {
		args := make([]interface{}, 0, condition.RowSize*len(pkNames))
		for _, pks := range pkRows[offset : offset+condition.RowSize] {
			for _, pk := range pks {
				arg, err := coerce(pk.Type, pk.Value)
				if err != nil {
					return nil, errors.Wrapf(err, "bind primary key: %s", pk.Name)
				}
				args = append(args, arg)
			}
		}
		offset += condition.RowSize

		checkSQL := fmt.Sprintf("SELECT * FROM %s WHERE %s FOR UPDATE", u.dialect.Escape(u.sqlUndoLog.TableName), condition.SQL)
		records, err := u.query(ctx, conn, meta, checkSQL, args)
		if err != nil {
			return nil, err
		}
		current.Rows = append(current.Rows, records.Rows...)
	}

	return reorder(current, undoRows, pkNames), nil
}

func (u *undoExecutor) query(ctx context.Context, conn Conn, meta *sqlstruct.TableMeta, query string, args []interface{}) (*sqlstruct.TableRecords, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query current records, sql: %s", query)
	}
	defer rows.Close()
	return sqlstruct.BuildRecords(meta, rows)
}

// 按回滚镜像中的行顺序排列当前数据，未能对齐的行追加在末尾
func reorder(current, undoRows *sqlstruct.TableRecords, pkNames []string) *sqlstruct.TableRecords {
	byKey := make(map[string]*sqlstruct.Row, current.Size())
	keys := make([]string, 0, current.Size())
	for _, row := range current.Rows {
		key := rowKey(row, pkNames)
		byKey[key] = row
		keys = append(keys, key)
	}

	ordered := sqlstruct.NewTableRecords(current.TableMeta)
	for _, row := range undoRows.Rows {
		key := rowKey(row, pkNames)
		if matched, ok := byKey[key]; ok {
			ordered.Add(matched)
			delete(byKey, key)
		}
	}
	for _, key := range keys {
		if row, ok := byKey[key]; ok {
			ordered.Add(row)
		}
	}
	return ordered
}

func tableMetaOf(records *sqlstruct.TableRecords) *sqlstruct.TableMeta {
	if records == nil {
		return nil
	}
	return records.TableMeta
}

func marshalRows(records *sqlstruct.TableRecords) string {
	if records == nil {
		return "null"
	}
	body, _ := json.Marshal(records.Rows)
	return string(body)
}
