package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/pkg/metrics"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/pipeline"
	"k8s.io/klog/v2"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrMissingSource    = errors.New("spec_id or topic is required")
)

// GenerateDocumentRequest spec_id 优先，其次 topic
type GenerateDocumentRequest struct {
	SpecID string `json:"spec_id"`
	Topic  string `json:"topic"`
}

// DocumentView 文档及其最近一次质量评估
type DocumentView struct {
	DocumentID string                   `json:"document_id"`
	Document   domain.GeneratedDocument `json:"document"`
	Feedback   *domain.Feedback         `json:"feedback,omitempty"`
}

// DocumentService 文档生成与读取
type DocumentService struct {
	pipeline pipelineRunner
	tracker  *jobtracker.Tracker
	store    entityStore
	specs    *SpecService
}

func NewDocumentService(p pipelineRunner, tracker *jobtracker.Tracker, store entityStore, specs *SpecService) *DocumentService {
	return &DocumentService{pipeline: p, tracker: tracker, store: store, specs: specs}
}

// Generate 创建异步文档生成任务；基于已有规格时任务直接从执行阶段开始
func (s *DocumentService) Generate(ctx context.Context, req GenerateDocumentRequest) (string, error) {
	specID := strings.TrimSpace(req.SpecID)
	topic := strings.TrimSpace(req.Topic)

	var work jobtracker.Work
	phase := domain.PhasePlanning
	switch {
	case specID != "":
		spec, err := s.specs.Get(ctx, specID)
		if err != nil {
			return "", err
		}
		phase = domain.PhaseExecuting
		work = func(ctx context.Context, progress *jobtracker.ProgressReporter) (*jobtracker.JobResult, error) {
			return s.finish(s.pipeline.RunSpec(ctx, specID, *spec, progress))
		}
	case topic != "":
		work = func(ctx context.Context, progress *jobtracker.ProgressReporter) (*jobtracker.JobResult, error) {
			return s.finish(s.pipeline.Run(ctx, topic, progress))
		}
	default:
		return "", ErrMissingSource
	}

	jobID := s.tracker.Create(jobtracker.JobTypeDocumentGeneration, phase)
	if err := s.tracker.Start(jobID, work); err != nil {
		return jobID, fmt.Errorf("start document job: %w", err)
	}
	klog.V(6).Infof("[DocumentService.Generate] 文档任务已提交: jobID=%s, specID=%s, topic=%s", jobID, specID, topic)
	return jobID, nil
}

func (s *DocumentService) finish(res *pipeline.Result, err error) (*jobtracker.JobResult, error) {
	if err != nil {
		return nil, err
	}
	m := metrics.Get()
	m.Rounds(res.Rounds)
	for _, u := range res.Document.Units {
		m.UnitOutcome(u.Validated)
	}
	return &jobtracker.JobResult{SpecID: res.SpecID, DocumentID: res.DocumentID}, nil
}

// Get 读取文档，评估结果缺失时 Feedback 为空
func (s *DocumentService) Get(ctx context.Context, id string) (*DocumentView, error) {
	view := &DocumentView{DocumentID: id}
	if err := s.store.Load(ctx, domain.KindDocument, id, &view.Document); err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var fb domain.Feedback
	if err := s.store.Load(ctx, domain.KindFeedback, id, &fb); err != nil {
		if !errors.Is(err, domain.ErrEntityNotFound) {
			return nil, fmt.Errorf("failed to get feedback: %w", err)
		}
	} else {
		view.Feedback = &fb
	}
	return view, nil
}

// List 最近生成的文档摘要
func (s *DocumentService) List(ctx context.Context, limit int) ([]domain.EntitySummary, error) {
	docs, err := s.store.List(ctx, domain.KindDocument, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Delete 删除文档及其评估结果
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, domain.KindDocument, id); err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := s.store.Delete(ctx, domain.KindFeedback, id); err != nil && !errors.Is(err, domain.ErrEntityNotFound) {
		klog.Warningf("[DocumentService.Delete] 删除评估结果失败: documentID=%s, err=%v", id, err)
	}
	klog.V(6).Infof("[DocumentService.Delete] 文档已删除: documentID=%s", id)
	return nil
}
