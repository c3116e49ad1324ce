// Package jobtracker 管理异步生成任务：创建、后台执行、进度合并与只读快照。
//
// 任务表本身只在插入与查找时加锁，每个任务有独立的读写锁，
// 后台执行 goroutine 是任务的唯一写者，轮询方可以并发读取。
package jobtracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/eventbus"
	"github.com/vividoc/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

var ErrJobNotFound = errors.New("job not found")

// JobType 任务类型
type JobType string

const (
	JobTypeSpecGeneration     JobType = "spec_generation"
	JobTypeDocumentGeneration JobType = "document_generation"
)

// JobResult 任务产出的持久化实体引用，终态后只读
type JobResult struct {
	SpecID     string `json:"spec_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Job 任务快照
type Job struct {
	JobID       string                 `json:"job_id"`
	JobType     JobType                `json:"job_type"`
	Status      statemachine.JobStatus `json:"status"`
	Progress    domain.ProgressInfo    `json:"progress"`
	Result      *JobResult             `json:"result"`
	Error       *string                `json:"error"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func (j Job) clone() Job {
	out := j
	out.Progress = j.Progress.Clone()
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.CompletedAt != nil {
		c := *j.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

// Work 后台执行的任务体，成功返回结果，失败返回错误
type Work func(ctx context.Context, progress *ProgressReporter) (*JobResult, error)

type entry struct {
	mu  sync.RWMutex
	job Job
}

// Tracker 任务表
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	sm     *statemachine.JobStateMachine
	runner *Runner
	bus    *eventbus.JobEventBus
	now    func() time.Time
}

func New(runner *Runner, bus *eventbus.JobEventBus) *Tracker {
	return &Tracker{
		jobs:   make(map[string]*entry),
		sm:     statemachine.NewJobStateMachine(),
		runner: runner,
		bus:    bus,
		now:    time.Now,
	}
}

// Create 创建处于 running 状态、进度为零的任务
func (t *Tracker) Create(jobType JobType, phase domain.Phase) string {
	if phase == "" {
		phase = domain.PhasePlanning
	}
	id := uuid.NewString()
	e := &entry{job: Job{
		JobID:     id,
		JobType:   jobType,
		Status:    statemachine.JobStatusRunning,
		Progress:  domain.ProgressInfo{Phase: phase, PerUnit: []domain.UnitProgress{}},
		CreatedAt: t.now(),
	}}

	t.mu.Lock()
	t.jobs[id] = e
	t.mu.Unlock()

	klog.V(6).Infof("[Tracker.Create] 创建任务: jobID=%s, type=%s, phase=%s", id, jobType, phase)
	t.publish(eventFor(eventbus.JobEventCreated, e.job))
	return id
}

func (t *Tracker) get(jobID string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.jobs[jobID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return e, nil
}

// Start 把任务提交到后台执行并立即返回；提交失败时任务直接失败
func (t *Tracker) Start(jobID string, work Work) error {
	if _, err := t.get(jobID); err != nil {
		return err
	}
	err := t.runner.Submit(&runnerJob{
		JobID:      jobID,
		EnqueuedAt: t.now(),
		Run: func(ctx context.Context) {
			t.execute(ctx, jobID, work)
		},
		Reject: func(err error) {
			t.Fail(jobID, fmt.Sprintf("job could not be scheduled: %v", err))
		},
	})
	if err != nil {
		t.Fail(jobID, fmt.Sprintf("job could not be scheduled: %v", err))
		return err
	}
	return nil
}

func (t *Tracker) execute(ctx context.Context, jobID string, work Work) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[Tracker.execute] 任务执行异常: jobID=%s, panic=%v", jobID, r)
			t.Fail(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	result, err := work(ctx, t.Reporter(jobID))
	if err != nil {
		klog.Errorf("[Tracker.execute] 任务失败: jobID=%s, err=%v", jobID, err)
		t.Fail(jobID, err.Error())
		return
	}
	t.Complete(jobID, result)
}

// UpdateProgress 合并进度；终态任务的更新被忽略
func (t *Tracker) UpdateProgress(jobID string, info domain.ProgressInfo) error {
	e, err := t.get(jobID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.IsTerminal() {
		klog.V(8).Infof("[Tracker.UpdateProgress] 任务已结束，忽略进度: jobID=%s", jobID)
		return nil
	}
	e.job.Progress = mergeProgress(e.job.Progress, info)
	return nil
}

// mergeProgress 百分比不回退，同一轮内单元阶段不回退
func mergeProgress(cur, in domain.ProgressInfo) domain.ProgressInfo {
	out := cur.Clone()
	if in.Phase != "" {
		out.Phase = in.Phase
	}
	percent := in.OverallPercent
	if percent > 100 {
		percent = 100
	}
	if percent > out.OverallPercent {
		out.OverallPercent = percent
	}
	sameRound := in.Round == cur.Round
	if in.Round > out.Round {
		out.Round = in.Round
	}

	next := in.Clone()
	out.CurrentUnit = next.CurrentUnit
	out.UnitStage = next.UnitStage

	if next.PerUnit != nil {
		prev := make(map[string]domain.UnitStage, len(cur.PerUnit))
		for _, u := range cur.PerUnit {
			prev[u.ID] = u.Stage
		}
		for i, u := range next.PerUnit {
			if old, ok := prev[u.ID]; ok && sameRound && old.Rank() > u.Stage.Rank() {
				next.PerUnit[i].Stage = old
			}
		}
		out.PerUnit = next.PerUnit
	}
	return out
}

// Complete 任务成功结束，只有第一次调用生效
func (t *Tracker) Complete(jobID string, result *JobResult) bool {
	e, err := t.get(jobID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	if err := t.sm.Transition(e.job.Status, statemachine.JobStatusCompleted, jobID); err != nil {
		e.mu.Unlock()
		return false
	}
	now := t.now()
	e.job.Status = statemachine.JobStatusCompleted
	e.job.Progress.OverallPercent = 100
	e.job.Progress.CurrentUnit = nil
	e.job.Progress.UnitStage = nil
	if result != nil {
		r := *result
		e.job.Result = &r
	}
	e.job.CompletedAt = &now
	ev := eventFor(eventbus.JobEventCompleted, e.job)
	e.mu.Unlock()

	klog.V(6).Infof("[Tracker.Complete] 任务完成: jobID=%s", jobID)
	t.publish(ev)
	return true
}

// Fail 任务失败结束，只有第一次调用生效
func (t *Tracker) Fail(jobID string, msg string) bool {
	e, err := t.get(jobID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	if err := t.sm.Transition(e.job.Status, statemachine.JobStatusFailed, jobID); err != nil {
		e.mu.Unlock()
		return false
	}
	now := t.now()
	e.job.Status = statemachine.JobStatusFailed
	e.job.Error = &msg
	e.job.CompletedAt = &now
	ev := eventFor(eventbus.JobEventFailed, e.job)
	e.mu.Unlock()

	klog.V(6).Infof("[Tracker.Fail] 任务失败: jobID=%s, err=%s", jobID, msg)
	t.publish(ev)
	return true
}

// GetStatus 返回任务快照的深拷贝
func (t *Tracker) GetStatus(jobID string) (Job, error) {
	e, err := t.get(jobID)
	if err != nil {
		return Job{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.clone(), nil
}

// Stats 任务统计
type Stats struct {
	Running   int          `json:"running"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Queue     *QueueStatus `json:"queue,omitempty"`
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.jobs))
	for _, e := range t.jobs {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	var s Stats
	for _, e := range entries {
		e.mu.RLock()
		switch e.job.Status {
		case statemachine.JobStatusRunning:
			s.Running++
		case statemachine.JobStatusCompleted:
			s.Completed++
		case statemachine.JobStatusFailed:
			s.Failed++
		}
		e.mu.RUnlock()
	}
	if t.runner != nil {
		s.Queue = t.runner.Status()
	}
	return s
}

func (t *Tracker) publish(ev eventbus.JobEvent) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(context.Background(), ev.Type, ev); err != nil {
		klog.Warningf("[Tracker.publish] 任务事件处理失败: jobID=%s, type=%s, err=%v", ev.JobID, ev.Type, err)
	}
}

func eventFor(typ eventbus.JobEventType, job Job) eventbus.JobEvent {
	ev := eventbus.JobEvent{
		Type:      typ,
		JobID:     job.JobID,
		JobType:   string(job.JobType),
		CreatedAt: job.CreatedAt,
	}
	if job.CompletedAt != nil {
		ev.FinishedAt = *job.CompletedAt
	}
	if job.Result != nil {
		ev.SpecID = job.Result.SpecID
		ev.DocumentID = job.Result.DocumentID
	}
	if job.Error != nil {
		ev.Error = *job.Error
	}
	return ev
}

// ProgressReporter 把流水线进度写回指定任务
type ProgressReporter struct {
	tracker *Tracker
	jobID   string
}

// Reporter 返回指定任务的进度上报器
func (t *Tracker) Reporter(jobID string) *ProgressReporter {
	return &ProgressReporter{tracker: t, jobID: jobID}
}

func (r *ProgressReporter) JobID() string { return r.jobID }

func (r *ProgressReporter) Report(info domain.ProgressInfo) {
	if err := r.tracker.UpdateProgress(r.jobID, info); err != nil {
		klog.V(6).Infof("[ProgressReporter.Report] 进度更新失败: jobID=%s, err=%v", r.jobID, err)
	}
}
