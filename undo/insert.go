package undo

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

// insert 的回滚：按后镜像主键删除
type insertUndo struct {
	sqlUndoLog *SQLUndoLog
}

func (i *insertUndo) buildUndoSQL(d Dialect) (string, error) {
	afterImage := i.sqlUndoLog.AfterImage
	if afterImage.Size() == 0 {
		return "", errors.Errorf("invalid undo log, empty after image of table: %s", i.sqlUndoLog.TableName)
	}

	pkNames := pkNamesOf(afterImage)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Escape(i.sqlUndoLog.TableName), buildWhereConditionByPKs(pkNames, d, 1)), nil
}

func (i *insertUndo) undoRows() *sqlstruct.TableRecords {
	return i.sqlUndoLog.AfterImage
}

// 只需要绑定主键
func (i *insertUndo) undoValues(_ *sqlstruct.Row) []*sqlstruct.Field {
	return nil
}

// 表定义中的主键顺序，缺少表元数据时退化为首行的主键声明顺序
func pkNamesOf(records *sqlstruct.TableRecords) []string {
	if records.TableMeta != nil && len(records.TableMeta.PrimaryKeys) > 0 {
		return records.TableMeta.PrimaryKeyOnlyName()
	}
	if records.Size() == 0 {
		return nil
	}
	pks := records.Rows[0].PrimaryKeys()
	names := make([]string, 0, len(pks))
	for _, pk := range pks {
		names = append(names, pk.Name)
	}
	return names
}
