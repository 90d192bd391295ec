package gotxrm

import (
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/undo"
)

// 以 at 模式参与全局事务的数据源，回滚依赖 undo_log 表中的前后镜像
type ATResource struct {
	resourceID     string
	dbType         rm.DBType
	db             *gorm.DB
	undoLogManager *undo.UndoLogManager
}

func NewATResource(resourceID string, dbType rm.DBType, db *gorm.DB, metas undo.TableMetaSource, opts ...undo.Option) *ATResource {
	return &ATResource{
		resourceID:     resourceID,
		dbType:         dbType,
		db:             db,
		undoLogManager: undo.NewUndoLogManager(dbType, metas, opts...),
	}
}

func (a *ATResource) ResourceID() string {
	return a.resourceID
}

func (a *ATResource) BranchType() rm.BranchType {
	return rm.BranchTypeAT
}

func (a *ATResource) DBType() rm.DBType {
	return a.dbType
}

func (a *ATResource) DB() *gorm.DB {
	return a.db
}

func (a *ATResource) UndoLogManager() *undo.UndoLogManager {
	return a.undoLogManager
}
