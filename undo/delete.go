package undo

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

// delete 的回滚：重新插入前镜像中的整行
type deleteUndo struct {
	sqlUndoLog *SQLUndoLog
}

func (d *deleteUndo) buildUndoSQL(dialect Dialect) (string, error) {
	beforeImage := d.sqlUndoLog.BeforeImage
	if beforeImage.Size() == 0 {
		return "", errors.Errorf("invalid undo log, empty before image of table: %s", d.sqlUndoLog.TableName)
	}

	row := beforeImage.Rows[0]
	fields := append(row.NonPrimaryKeys(), row.OrderedPrimaryKeys(pkNamesOf(beforeImage))...)
	columns := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	for i, field := range fields {
		columns = append(columns, dialect.Escape(field.Name))
		placeholders = append(placeholders, dialect.Placeholder(i+1))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		dialect.Escape(d.sqlUndoLog.TableName),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	), nil
}

func (d *deleteUndo) undoRows() *sqlstruct.TableRecords {
	return d.sqlUndoLog.BeforeImage
}

func (d *deleteUndo) undoValues(row *sqlstruct.Row) []*sqlstruct.Field {
	return row.NonPrimaryKeys()
}
