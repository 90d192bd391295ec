package xa

import (
	"strings"

	"github.com/demdxx/gocast"
	"github.com/pkg/errors"
)

// 分支标识的 format id
const FormatID = 9752

// xa 分支标识，由全局事务 xid 与分支 id 唯一确定
type XAXid struct {
	xid      string
	branchID int64
}

func NewXAXid(xid string, branchID int64) *XAXid {
	return &XAXid{
		xid:      xid,
		branchID: branchID,
	}
}

// 解析 String() 的输出
func ParseXAXid(s string) (*XAXid, error) {
	idx := strings.LastIndex(s, "-")
	if idx <= 0 || idx == len(s)-1 {
		return nil, errors.Errorf("invalid xa xid: %s", s)
	}
	branchID := gocast.ToInt64(s[idx+1:])
	if gocast.ToString(branchID) != s[idx+1:] {
		return nil, errors.Errorf("invalid branch id of xa xid: %s", s)
	}
	return NewXAXid(s[:idx], branchID), nil
}

func (x *XAXid) XID() string {
	return x.xid
}

func (x *XAXid) BranchID() int64 {
	return x.branchID
}

func (x *XAXid) FormatID() int {
	return FormatID
}

func (x *XAXid) GlobalTransactionID() []byte {
	return []byte(x.xid)
}

func (x *XAXid) BranchQualifier() []byte {
	return []byte(gocast.ToString(x.branchID))
}

func (x *XAXid) String() string {
	return x.xid + "-" + gocast.ToString(x.branchID)
}
