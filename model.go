package gotxrm

import (
	"github.com/xiaoxuxiansheng/gotxrm/rm"
)

// 协调者下发的二阶段请求
type PhaseTwoRequest struct {
	BranchType      rm.BranchType `json:"branchType"`
	XID             string        `json:"xid"`
	BranchID        int64         `json:"branchID"`
	ResourceID      string        `json:"resourceID"`
	ApplicationData string        `json:"applicationData"`
}

type PhaseTwoRequests []*PhaseTwoRequest

// 按资源 id 分组
func (p PhaseTwoRequests) GroupByResource() map[string]PhaseTwoRequests {
	groups := make(map[string]PhaseTwoRequests)
	for _, req := range p {
		groups[req.ResourceID] = append(groups[req.ResourceID], req)
	}
	return groups
}

func (p PhaseTwoRequests) XIDsAndBranchIDs() ([]string, []int64) {
	xids := make([]string, 0, len(p))
	branchIDs := make([]int64, 0, len(p))
	for _, req := range p {
		xids = append(xids, req.XID)
		branchIDs = append(branchIDs, req.BranchID)
	}
	return xids, branchIDs
}
