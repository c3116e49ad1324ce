package service

import (
	"errors"
	"fmt"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/model"
	"github.com/vividoc/backend/internal/repository"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

const recentJobLimit = 10

// jobHistory 已结束任务的历史记录
type jobHistory interface {
	GetByJobID(jobID string) (*model.JobRecord, error)
	GetRecent(limit int) ([]model.JobRecord, error)
	CountByStatus() (map[string]int64, error)
}

// JobService 任务查询：内存中的任务表优先，历史记录兜底
type JobService struct {
	tracker *jobtracker.Tracker
	history jobHistory
}

func NewJobService(tracker *jobtracker.Tracker, history jobHistory) *JobService {
	return &JobService{tracker: tracker, history: history}
}

// Status 返回任务快照；服务重启后内存中已没有的任务从历史记录恢复
func (s *JobService) Status(jobID string) (jobtracker.Job, error) {
	job, err := s.tracker.GetStatus(jobID)
	if err == nil || !errors.Is(err, jobtracker.ErrJobNotFound) || s.history == nil {
		return job, err
	}

	record, herr := s.history.GetByJobID(jobID)
	if herr != nil {
		if errors.Is(herr, repository.ErrNotFound) {
			return jobtracker.Job{}, err
		}
		return jobtracker.Job{}, fmt.Errorf("failed to get job record: %w", herr)
	}
	klog.V(6).Infof("[JobService.Status] 从历史记录恢复任务: jobID=%s, status=%s", jobID, record.Status)
	return jobFromRecord(record), nil
}

func jobFromRecord(r *model.JobRecord) jobtracker.Job {
	phase := domain.PhaseEvaluating
	if jobtracker.JobType(r.JobType) == jobtracker.JobTypeSpecGeneration {
		phase = domain.PhasePlanning
	}
	status := statemachine.JobStatus(r.Status)
	finished := r.FinishedAt

	job := jobtracker.Job{
		JobID:       r.JobID,
		JobType:     jobtracker.JobType(r.JobType),
		Status:      status,
		Progress:    domain.ProgressInfo{Phase: phase, PerUnit: []domain.UnitProgress{}},
		CreatedAt:   r.StartedAt,
		CompletedAt: &finished,
	}
	switch status {
	case statemachine.JobStatusCompleted:
		job.Progress.OverallPercent = 100
		job.Result = &jobtracker.JobResult{SpecID: r.SpecID, DocumentID: r.DocumentID}
	case statemachine.JobStatusFailed:
		msg := r.ErrorMsg
		job.Error = &msg
	}
	return job
}

// JobStats 内存中的任务统计，附带历史记录汇总
type JobStats struct {
	jobtracker.Stats
	History *JobHistory `json:"history,omitempty"`
}

type JobHistory struct {
	Counts map[string]int64  `json:"counts"`
	Recent []model.JobRecord `json:"recent"`
}

// Stats 历史记录读取失败时只返回内存统计
func (s *JobService) Stats() JobStats {
	stats := JobStats{Stats: s.tracker.Stats()}
	if s.history == nil {
		return stats
	}

	counts, err := s.history.CountByStatus()
	if err != nil {
		klog.Warningf("[JobService.Stats] 统计历史任务失败: %v", err)
		return stats
	}
	recent, err := s.history.GetRecent(recentJobLimit)
	if err != nil {
		klog.Warningf("[JobService.Stats] 读取最近任务失败: %v", err)
		return stats
	}
	if recent == nil {
		recent = []model.JobRecord{}
	}
	stats.History = &JobHistory{Counts: counts, Recent: recent}
	return stats
}
