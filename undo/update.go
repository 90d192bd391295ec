package undo

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

// update 的回滚：将非主键列恢复为前镜像中的值
type updateUndo struct {
	sqlUndoLog *SQLUndoLog
}

func (u *updateUndo) buildUndoSQL(d Dialect) (string, error) {
	beforeImage := u.sqlUndoLog.BeforeImage
	if beforeImage.Size() == 0 {
		return "", errors.Errorf("invalid undo log, empty before image of table: %s", u.sqlUndoLog.TableName)
	}

	fields := beforeImage.Rows[0].NonPrimaryKeys()
	if len(fields) == 0 {
		return "", errors.Errorf("invalid undo log, no column to update of table: %s", u.sqlUndoLog.TableName)
	}
	sets := make([]string, 0, len(fields))
	for i, field := range fields {
		sets = append(sets, d.Escape(field.Name)+" = "+d.Placeholder(i+1))
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		d.Escape(u.sqlUndoLog.TableName),
		strings.Join(sets, ", "),
		buildWhereConditionByPKs(pkNamesOf(beforeImage), d, len(fields)+1),
	), nil
}

func (u *updateUndo) undoRows() *sqlstruct.TableRecords {
	return u.sqlUndoLog.BeforeImage
}

func (u *updateUndo) undoValues(row *sqlstruct.Row) []*sqlstruct.Field {
	return row.NonPrimaryKeys()
}
