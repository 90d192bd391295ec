package metrics

import "github.com/prometheus/client_golang/prometheus"

// undo 执行结果
const (
	UndoExecuted = "executed"
	UndoSkipped  = "skipped"
	UndoDirty    = "dirty"
	UndoFailed   = "failed"
)

// xa 分支阶段
const (
	PhaseStart      = "start"
	PhasePrepare    = "prepare"
	PhaseRollback   = "rollback"
	PhaseXACommit   = "xa_commit"
	PhaseXARollback = "xa_rollback"
)

// xa 分支操作结果
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

var (
	UndoCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gotxrm",
			Subsystem: "at",
			Name:      "undo_total",
			Help:      "Counter of undo executions by result.",
		}, []string{"sql_type", "result"})

	XABranchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gotxrm",
			Subsystem: "xa",
			Name:      "branch_total",
			Help:      "Counter of xa branch operations by phase and result.",
		}, []string{"phase", "result"})

	BranchReportCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gotxrm",
			Subsystem: "rm",
			Name:      "branch_report_total",
			Help:      "Counter of branch status reports sent to the coordinator.",
		}, []string{"status", "result"})

	PhaseTwoCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gotxrm",
			Subsystem: "rm",
			Name:      "phase_two_total",
			Help:      "Counter of phase two requests by branch type and resulting status.",
		}, []string{"branch_type", "status"})

	HeldConnectionGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gotxrm",
			Subsystem: "xa",
			Name:      "held_connections",
			Help:      "Number of connections held for phase two.",
		}, []string{"resource"})
)

func init() {
	prometheus.MustRegister(UndoCounter)
	prometheus.MustRegister(XABranchCounter)
	prometheus.MustRegister(BranchReportCounter)
	prometheus.MustRegister(PhaseTwoCounter)
	prometheus.MustRegister(HeldConnectionGauge)
}
