package rm

import "context"

// 分支事务类型
type BranchType string

func (b BranchType) String() string {
	return string(b)
}

const (
	BranchTypeAT BranchType = "AT"
	BranchTypeXA BranchType = "XA"
)

// 分支事务状态，数值与事务协调者保持一致
type BranchStatus int32

const (
	BranchStatusUnknown                       BranchStatus = 0
	BranchStatusRegistered                    BranchStatus = 1
	PhaseOneDone                              BranchStatus = 2
	PhaseOneFailed                            BranchStatus = 3
	PhaseOneTimeout                           BranchStatus = 4
	PhaseTwoCommitted                         BranchStatus = 5
	PhaseTwoCommitFailedRetryable             BranchStatus = 6
	PhaseTwoCommitFailedUnretryable           BranchStatus = 7
	PhaseTwoRollbacked                        BranchStatus = 8
	PhaseTwoRollbackFailedRetryable           BranchStatus = 9
	PhaseTwoRollbackFailedUnretryable         BranchStatus = 10
	PhaseTwoRollbackFailedXAERNOTARetryable   BranchStatus = 11
	PhaseTwoRollbackFailedXAERNOTAUnretryable BranchStatus = 12
	PhaseOneRdonly                            BranchStatus = 13
)

var branchStatusNames = map[BranchStatus]string{
	BranchStatusUnknown:                       "Unknown",
	BranchStatusRegistered:                    "Registered",
	PhaseOneDone:                              "PhaseOne_Done",
	PhaseOneFailed:                            "PhaseOne_Failed",
	PhaseOneTimeout:                           "PhaseOne_Timeout",
	PhaseTwoCommitted:                         "PhaseTwo_Committed",
	PhaseTwoCommitFailedRetryable:             "PhaseTwo_CommitFailed_Retryable",
	PhaseTwoCommitFailedUnretryable:           "PhaseTwo_CommitFailed_Unretryable",
	PhaseTwoRollbacked:                        "PhaseTwo_Rollbacked",
	PhaseTwoRollbackFailedRetryable:           "PhaseTwo_RollbackFailed_Retryable",
	PhaseTwoRollbackFailedUnretryable:         "PhaseTwo_RollbackFailed_Unretryable",
	PhaseTwoRollbackFailedXAERNOTARetryable:   "PhaseTwo_RollbackFailed_XAER_NOTA_Retryable",
	PhaseTwoRollbackFailedXAERNOTAUnretryable: "PhaseTwo_RollbackFailed_XAER_NOTA_Unretryable",
	PhaseOneRdonly:                            "PhaseOne_RDONLY",
}

func (b BranchStatus) String() string {
	if name, ok := branchStatusNames[b]; ok {
		return name
	}
	return "Unknown"
}

// 数据库类型
type DBType string

func (d DBType) String() string {
	return string(d)
}

const (
	DBTypeUnknown    DBType = ""
	DBTypeMySQL      DBType = "mysql"
	DBTypeMariaDB    DBType = "mariadb"
	DBTypePostgreSQL DBType = "postgresql"
	DBTypeOracle     DBType = "oracle"
)

// 与事务协调者（TC）交互的客户端
type TCClient interface {
	// 向 TC 注册分支事务，返回分支 id
	BranchRegister(ctx context.Context, branchType BranchType, resourceID, clientID, xid, applicationData, lockKeys string) (int64, error)
	// 向 TC 上报分支事务状态
	BranchReport(ctx context.Context, branchType BranchType, xid string, branchID int64, status BranchStatus, applicationData string) error
}

// 资源，对应一个参与全局事务的数据源
type Resource interface {
	// 资源唯一 id
	ResourceID() string
	// 分支事务类型
	BranchType() BranchType
	// 数据库类型
	DBType() DBType
}
