package xa

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// xa 协议标志位
const (
	TMNoFlags = 0
	TMJoin    = 0x00200000
	TMResume  = 0x08000000
	TMSuccess = 0x04000000
	TMFail    = 0x20000000
	TMSuspend = 0x02000000
	// oracle 的松耦合分支
	TMOraTransLoose = 0x00010000
)

// prepare 的结果
const (
	XAOK     = 0
	XARdonly = 3
)

// xa 错误码
const (
	XAErrRMErr   = -3
	XAErrNOTA    = -4
	XAErrInval   = -5
	XAErrProto   = -6
	XAErrRMFail  = -7
	XAErrOutside = -9

	XARBRollback = 100
	XARBDeadlock = 102
	XARBTimeout  = 106
)

var xaErrorNames = map[int]string{
	XAErrRMErr:   "XAER_RMERR",
	XAErrNOTA:    "XAER_NOTA",
	XAErrInval:   "XAER_INVAL",
	XAErrProto:   "XAER_PROTO",
	XAErrRMFail:  "XAER_RMFAIL",
	XAErrOutside: "XAER_OUTSIDE",
	XARBRollback: "XA_RBROLLBACK",
	XARBDeadlock: "XA_RBDEADLOCK",
	XARBTimeout:  "XA_RBTIMEOUT",
}

// 原生 xa 调用的错误
type XAError struct {
	Code  int
	cause error
}

func NewXAError(code int, cause error) *XAError {
	return &XAError{
		Code:  code,
		cause: cause,
	}
}

func (e *XAError) Error() string {
	name, ok := xaErrorNames[e.Code]
	if !ok {
		name = fmt.Sprintf("XA_ERROR(%d)", e.Code)
	}
	if e.cause == nil {
		return name
	}
	return name + ": " + e.cause.Error()
}

func (e *XAError) Unwrap() error {
	return e.cause
}

// 判断错误链路中是否包含指定错误码的 xa 错误
func IsXAErrorCode(err error, code int) bool {
	var xaErr *XAError
	return errors.As(err, &xaErr) && xaErr.Code == code
}

// 数据库原生的 xa 参与者
type XAResource interface {
	Start(ctx context.Context, xid *XAXid, flags int) error
	End(ctx context.Context, xid *XAXid, flags int) error
	Prepare(ctx context.Context, xid *XAXid) (int, error)
	Commit(ctx context.Context, xid *XAXid, onePhase bool) error
	Rollback(ctx context.Context, xid *XAXid) error
}
