package undo

import "github.com/xiaoxuxiansheng/gotxrm/sqlstruct"

// 语句类型
type SQLType string

func (s SQLType) String() string {
	return string(s)
}

const (
	SQLTypeInsert SQLType = "INSERT"
	SQLTypeUpdate SQLType = "UPDATE"
	SQLTypeDelete SQLType = "DELETE"
)

// 一条 dml 语句对应的回滚日志
type SQLUndoLog struct {
	SQLType     SQLType                 `json:"sqlType"`
	TableName   string                  `json:"tableName"`
	BeforeImage *sqlstruct.TableRecords `json:"beforeImage"`
	AfterImage  *sqlstruct.TableRecords `json:"afterImage"`
}

// 前后镜像共享同一份表元数据，表名以元数据为准，镜像中可能带有库名或引号
func (s *SQLUndoLog) SetTableMeta(meta *sqlstruct.TableMeta) {
	if s.BeforeImage == nil {
		s.BeforeImage = sqlstruct.EmptyTableRecords(meta)
	}
	if s.AfterImage == nil {
		s.AfterImage = sqlstruct.EmptyTableRecords(meta)
	}
	s.BeforeImage.TableMeta, s.BeforeImage.TableName = meta, meta.TableName
	s.AfterImage.TableMeta, s.AfterImage.TableName = meta, meta.TableName
}

// 回滚所依据的镜像：insert 取后镜像，update/delete 取前镜像
func (s *SQLUndoLog) UndoRows() *sqlstruct.TableRecords {
	switch s.SQLType {
	case SQLTypeUpdate, SQLTypeDelete:
		return s.BeforeImage
	case SQLTypeInsert:
		return s.AfterImage
	default:
		return nil
	}
}

// 一个分支事务下的全部回滚日志
type BranchUndoLog struct {
	XID         string        `json:"xid"`
	BranchID    int64         `json:"branchId"`
	SQLUndoLogs []*SQLUndoLog `json:"sqlUndoLogs"`
}
