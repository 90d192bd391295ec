package rm

import "github.com/pkg/errors"

var (
	// 回滚时发现脏数据：当前数据既不等于前镜像也不等于后镜像，需要人工介入
	ErrDirtyUndo = errors.New("has dirty records when undo")
	// 回滚语句执行失败
	ErrUndoExecute = errors.New("undo execute failed")
	// 非法的状态扭转，通常意味着调用方的编程错误
	ErrStateMisuse = errors.New("illegal branch state")
	// 分支事务执行超时
	ErrBranchTimeout = errors.New("xa branch timeout")
	// 分支注册失败
	ErrBranchRegister = errors.New("failed to register branch")
	// 全局事务已经结束
	ErrBranchFinished = errors.New("global transaction has finished")
)
