package undo

import (
	"strings"
)

// 按主键定位行的条件片段
type whereSQL struct {
	SQL string
	// 本片段覆盖的行数
	RowSize int
}

// `id` = ? AND `name` = ?，占位符从 start 开始编号
func buildWhereConditionByPKs(pkNames []string, d Dialect, start int) string {
	var builder strings.Builder
	for i, pk := range pkNames {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		builder.WriteString(d.Escape(pk))
		builder.WriteString(" = ")
		builder.WriteString(d.Placeholder(start + i))
	}
	return builder.String()
}

// 批量行的主键条件 (`id`,`name`) IN ((?,?),(?,?))，单批行数受 maxInSize 与占位符上限约束
func buildWhereConditionListByPKs(pkNames []string, rowSize int, d Dialect, maxInSize int) []whereSQL {
	if rowSize <= 0 || len(pkNames) == 0 {
		return nil
	}

	batchSize := d.MaxPlaceholders() / len(pkNames)
	if maxInSize > 0 && maxInSize < batchSize {
		batchSize = maxInSize
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	escaped := make([]string, 0, len(pkNames))
	for _, pk := range pkNames {
		escaped = append(escaped, d.Escape(pk))
	}
	columns := "(" + strings.Join(escaped, ",") + ")"

	conditions := make([]whereSQL, 0, (rowSize+batchSize-1)/batchSize)
	for offset := 0; offset < rowSize; offset += batchSize {
		size := batchSize
		if offset+size > rowSize {
			size = rowSize - offset
		}

		var builder strings.Builder
		builder.WriteString(columns)
		builder.WriteString(" IN (")
		index := 1
		for i := 0; i < size; i++ {
			if i > 0 {
				builder.WriteString(",")
			}
			builder.WriteString("(")
			for j := range pkNames {
				if j > 0 {
					builder.WriteString(",")
				}
				builder.WriteString(d.Placeholder(index))
				index++
			}
			builder.WriteString(")")
		}
		builder.WriteString(")")

		conditions = append(conditions, whereSQL{
			SQL:     builder.String(),
			RowSize: size,
		})
	}
	return conditions
}
