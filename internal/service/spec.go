package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/pipeline"
	"k8s.io/klog/v2"
)

var (
	ErrSpecNotFound = errors.New("spec not found")
	ErrEmptyTopic   = errors.New("topic is required")
)

// pipelineRunner 流水线入口，便于测试替换
type pipelineRunner interface {
	Plan(ctx context.Context, topic string, reporter pipeline.Reporter) (string, domain.DocumentSpec, error)
	Run(ctx context.Context, topic string, reporter pipeline.Reporter) (*pipeline.Result, error)
	RunSpec(ctx context.Context, specID string, spec domain.DocumentSpec, reporter pipeline.Reporter) (*pipeline.Result, error)
}

// entityStore 实体的存取、列表与删除
type entityStore interface {
	domain.Persistence
	domain.Catalog
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// SpecService 文档规格的生成、读取与修改
type SpecService struct {
	pipeline pipelineRunner
	tracker  *jobtracker.Tracker
	store    entityStore
}

func NewSpecService(p pipelineRunner, tracker *jobtracker.Tracker, store entityStore) *SpecService {
	return &SpecService{pipeline: p, tracker: tracker, store: store}
}

// Generate 创建异步规划任务，返回任务 ID
func (s *SpecService) Generate(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrEmptyTopic
	}

	jobID := s.tracker.Create(jobtracker.JobTypeSpecGeneration, domain.PhasePlanning)
	err := s.tracker.Start(jobID, func(ctx context.Context, progress *jobtracker.ProgressReporter) (*jobtracker.JobResult, error) {
		specID, _, err := s.pipeline.Plan(ctx, topic, progress)
		if err != nil {
			return nil, err
		}
		return &jobtracker.JobResult{SpecID: specID}, nil
	})
	if err != nil {
		return jobID, fmt.Errorf("start spec job: %w", err)
	}
	klog.V(6).Infof("[SpecService.Generate] 规划任务已提交: jobID=%s, topic=%s", jobID, topic)
	return jobID, nil
}

func (s *SpecService) Get(ctx context.Context, id string) (*domain.DocumentSpec, error) {
	var spec domain.DocumentSpec
	if err := s.store.Load(ctx, domain.KindSpec, id, &spec); err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return nil, ErrSpecNotFound
		}
		return nil, fmt.Errorf("failed to get spec: %w", err)
	}
	return &spec, nil
}

// Update 覆盖已有规格，新规格必须通过校验
func (s *SpecService) Update(ctx context.Context, id string, spec domain.DocumentSpec) (*domain.DocumentSpec, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, domain.KindSpec, id, spec); err != nil {
		return nil, fmt.Errorf("failed to update spec: %w", err)
	}
	klog.V(6).Infof("[SpecService.Update] 规格已更新: specID=%s, units=%d", id, len(spec.Units))
	return &spec, nil
}

// List 最近更新的规格摘要
func (s *SpecService) List(ctx context.Context, limit int) ([]domain.EntitySummary, error) {
	specs, err := s.store.List(ctx, domain.KindSpec, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list specs: %w", err)
	}
	return specs, nil
}

func (s *SpecService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, domain.KindSpec, id); err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return ErrSpecNotFound
		}
		return fmt.Errorf("failed to delete spec: %w", err)
	}
	klog.V(6).Infof("[SpecService.Delete] 规格已删除: specID=%s", id)
	return nil
}
