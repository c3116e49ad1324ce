package service

import (
	"errors"
	"testing"
	"time"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/model"
	"github.com/vividoc/backend/internal/repository"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/statemachine"
)

type mockHistory struct {
	getByJobID    func(jobID string) (*model.JobRecord, error)
	getRecent     func(limit int) ([]model.JobRecord, error)
	countByStatus func() (map[string]int64, error)
}

func (m *mockHistory) GetByJobID(jobID string) (*model.JobRecord, error) {
	return m.getByJobID(jobID)
}

func (m *mockHistory) GetRecent(limit int) ([]model.JobRecord, error) {
	return m.getRecent(limit)
}

func (m *mockHistory) CountByStatus() (map[string]int64, error) {
	return m.countByStatus()
}

func TestJobServiceStatusPrefersMemory(t *testing.T) {
	tr := newTracker(t)
	id := tr.Create(jobtracker.JobTypeSpecGeneration, domain.PhasePlanning)
	svc := NewJobService(tr, &mockHistory{getByJobID: func(jobID string) (*model.JobRecord, error) {
		t.Fatalf("history must not be consulted for jobs still in memory")
		return nil, nil
	}})

	job, err := svc.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != statemachine.JobStatusRunning {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestJobServiceStatusFromHistory(t *testing.T) {
	finished := time.Now().Add(-time.Hour)
	records := map[string]*model.JobRecord{
		"done": {JobID: "done", JobType: "document_generation", Status: "completed", SpecID: "s1", DocumentID: "d1",
			StartedAt: finished.Add(-time.Minute), FinishedAt: finished},
		"broken": {JobID: "broken", JobType: "spec_generation", Status: "failed", ErrorMsg: "planning phase failed: boom",
			FinishedAt: finished},
	}
	svc := NewJobService(newTracker(t), &mockHistory{getByJobID: func(jobID string) (*model.JobRecord, error) {
		if r, ok := records[jobID]; ok {
			return r, nil
		}
		return nil, repository.ErrNotFound
	}})

	job, err := svc.Status("done")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != statemachine.JobStatusCompleted || job.Progress.OverallPercent != 100 {
		t.Fatalf("unexpected restored job: %+v", job)
	}
	if job.Result == nil || job.Result.DocumentID != "d1" || job.Result.SpecID != "s1" {
		t.Fatalf("result not restored: %+v", job.Result)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(finished) || job.Error != nil {
		t.Fatalf("unexpected terminal fields: %+v", job)
	}

	job, err = svc.Status("broken")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != statemachine.JobStatusFailed || job.Error == nil || *job.Error != "planning phase failed: boom" {
		t.Fatalf("unexpected failed job: %+v", job)
	}
	if job.Result != nil || job.Progress.Phase != domain.PhasePlanning {
		t.Fatalf("failed spec job should have no result and the planning phase: %+v", job)
	}

	if _, err := svc.Status("unknown"); !errors.Is(err, jobtracker.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobServiceStatusHistoryError(t *testing.T) {
	svc := NewJobService(newTracker(t), &mockHistory{getByJobID: func(jobID string) (*model.JobRecord, error) {
		return nil, errors.New("db down")
	}})
	_, err := svc.Status("x")
	if err == nil || errors.Is(err, jobtracker.ErrJobNotFound) {
		t.Fatalf("expected a storage error, got %v", err)
	}
}

func TestJobServiceStats(t *testing.T) {
	tr := newTracker(t)
	tr.Create(jobtracker.JobTypeDocumentGeneration, "")
	var gotLimit int
	svc := NewJobService(tr, &mockHistory{
		countByStatus: func() (map[string]int64, error) {
			return map[string]int64{"completed": 4, "failed": 1}, nil
		},
		getRecent: func(limit int) ([]model.JobRecord, error) {
			gotLimit = limit
			return []model.JobRecord{{JobID: "j1", Status: "completed"}}, nil
		},
	})

	stats := svc.Stats()
	if stats.Running != 1 || stats.Queue == nil {
		t.Fatalf("unexpected in-memory stats: %+v", stats.Stats)
	}
	if stats.History == nil || stats.History.Counts["completed"] != 4 || len(stats.History.Recent) != 1 {
		t.Fatalf("unexpected history: %+v", stats.History)
	}
	if gotLimit != recentJobLimit {
		t.Fatalf("expected recent limit %d, got %d", recentJobLimit, gotLimit)
	}
}

func TestJobServiceStatsWithoutHistory(t *testing.T) {
	svc := NewJobService(newTracker(t), &mockHistory{
		countByStatus: func() (map[string]int64, error) { return nil, errors.New("db down") },
	})
	if stats := svc.Stats(); stats.History != nil {
		t.Fatalf("history should be omitted when it cannot be read: %+v", stats.History)
	}

	if stats := NewJobService(newTracker(t), nil).Stats(); stats.History != nil {
		t.Fatalf("history should be omitted without a record store")
	}
}
