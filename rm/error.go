package rm

import (
	"fmt"

	"github.com/pkg/errors"
)

// 带有分类的错误，既能通过 errors.Is 判断类别，也保留了底层原因
type Error struct {
	kind  error
	cause error
	msg   string
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %v", e.msg, e.kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.msg, e.kind, e.cause)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// 将底层错误归类为 kind
func WrapError(kind, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&Error{
		kind:  kind,
		cause: cause,
		msg:   fmt.Sprintf(format, args...),
	})
}
