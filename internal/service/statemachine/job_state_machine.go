package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// JobStatus 定义后台任务的所有可能状态
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"   // 已创建，正在执行或等待执行
	JobStatusCompleted JobStatus = "completed" // 执行成功，结果可读
	JobStatusFailed    JobStatus = "failed"    // 执行失败，携带错误信息
)

// IsTerminal 是否为终态，终态之后任务不再变化
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTransition 定义任务状态迁移
type JobTransition struct {
	From JobStatus
	To   JobStatus
}

// JobStateMachine 任务状态机
type JobStateMachine struct {
	allowedTransitions map[JobTransition]bool
}

// NewJobStateMachine 创建任务状态机
// running -> completed/failed，终态不可再迁移
func NewJobStateMachine() *JobStateMachine {
	sm := &JobStateMachine{
		allowedTransitions: make(map[JobTransition]bool),
	}
	transitions := []JobTransition{
		{JobStatusRunning, JobStatusCompleted},
		{JobStatusRunning, JobStatusFailed},
	}
	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}
	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *JobStateMachine) CanTransition(from, to JobStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[JobTransition{From: from, To: to}]
}

// Transition 执行状态迁移（带日志）
func (sm *JobStateMachine) Transition(from, to JobStatus, jobID string) error {
	if !sm.CanTransition(from, to) {
		err := &InvalidJobStateTransitionError{From: string(from), To: string(to)}
		klog.V(6).Infof("任务状态迁移被拒绝: jobID=%s, %s -> %s, error=%v", jobID, from, to, err)
		return err
	}
	klog.V(6).Infof("任务状态迁移成功: jobID=%s, %s -> %s", jobID, from, to)
	return nil
}

// InvalidJobStateTransitionError 无效的任务状态迁移错误
type InvalidJobStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidJobStateTransitionError) Error() string {
	return fmt.Sprintf("invalid job state transition: %s -> %s", e.From, e.To)
}
