package domain

// Phase 流水线阶段
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseEvaluating Phase = "evaluating"
)

// UnitStage 对外暴露的单元进度
type UnitStage string

const (
	StagePending  UnitStage = "pending"
	StageDrafting UnitStage = "drafting" // 生成正文
	StageRefining UnitStage = "refining" // 生成并修复交互组件
	StageDone     UnitStage = "done"
)

// Rank 返回阶段的先后顺序，用于保证同一轮内不回退
func (s UnitStage) Rank() int {
	switch s {
	case StageDrafting:
		return 1
	case StageRefining:
		return 2
	case StageDone:
		return 3
	default:
		return 0
	}
}

// UnitState 单元处理器内部状态机的状态
type UnitState string

const (
	StateGenerating UnitState = "generating"
	StateValidating UnitState = "validating"
	StateRepairing  UnitState = "repairing"
	StateDone       UnitState = "done"
	StateExhausted  UnitState = "exhausted"
)

// UnitEvent 单元处理器每次状态迁移时发出的事件
type UnitEvent struct {
	UnitID  string
	Round   int
	State   UnitState
	Stage   UnitStage
	Attempt int
}

// UnitProgress 单个单元的对外进度
type UnitProgress struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Stage UnitStage `json:"stage"`
}

// ProgressInfo 任务进度快照
type ProgressInfo struct {
	Phase          Phase          `json:"phase"`
	OverallPercent float64        `json:"overall_percent"`
	Round          int            `json:"round"`
	CurrentUnit    *string        `json:"current_unit"`
	UnitStage      *UnitStage     `json:"unit_stage"`
	PerUnit        []UnitProgress `json:"per_unit"`
}

// Clone 深拷贝，快照之间不共享指针与切片
func (p ProgressInfo) Clone() ProgressInfo {
	out := p
	if p.CurrentUnit != nil {
		v := *p.CurrentUnit
		out.CurrentUnit = &v
	}
	if p.UnitStage != nil {
		v := *p.UnitStage
		out.UnitStage = &v
	}
	if p.PerUnit != nil {
		out.PerUnit = make([]UnitProgress, len(p.PerUnit))
		copy(out.PerUnit, p.PerUnit)
	}
	return out
}
