package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/service/jobtracker"
	"github.com/vividoc/backend/internal/service/pipeline"
	"github.com/vividoc/backend/internal/service/statemachine"
)

type memStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	lastLimit int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Save(ctx context.Context, kind domain.EntityKind, id string, entity any) error {
	b, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[string(kind)+"/"+id] = b
	m.mu.Unlock()
	return nil
}

func (m *memStore) Load(ctx context.Context, kind domain.EntityKind, id string, out any) error {
	m.mu.Lock()
	b, ok := m.data[string(kind)+"/"+id]
	m.mu.Unlock()
	if !ok {
		return domain.ErrEntityNotFound
	}
	return json.Unmarshal(b, out)
}

func (m *memStore) List(ctx context.Context, kind domain.EntityKind, limit int) ([]domain.EntitySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	prefix := string(kind) + "/"
	var out []domain.EntitySummary
	for key, b := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var v struct {
			Topic string `json:"topic"`
		}
		_ = json.Unmarshal(b, &v)
		out = append(out, domain.EntitySummary{ID: strings.TrimPrefix(key, prefix), Topic: v.Topic})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, kind domain.EntityKind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(kind) + "/" + id
	if _, ok := m.data[key]; !ok {
		return domain.ErrEntityNotFound
	}
	delete(m.data, key)
	return nil
}

type mockPipeline struct {
	plan    func(ctx context.Context, topic string, reporter pipeline.Reporter) (string, domain.DocumentSpec, error)
	run     func(ctx context.Context, topic string, reporter pipeline.Reporter) (*pipeline.Result, error)
	runSpec func(ctx context.Context, specID string, spec domain.DocumentSpec, reporter pipeline.Reporter) (*pipeline.Result, error)
}

func (m *mockPipeline) Plan(ctx context.Context, topic string, reporter pipeline.Reporter) (string, domain.DocumentSpec, error) {
	return m.plan(ctx, topic, reporter)
}

func (m *mockPipeline) Run(ctx context.Context, topic string, reporter pipeline.Reporter) (*pipeline.Result, error) {
	return m.run(ctx, topic, reporter)
}

func (m *mockPipeline) RunSpec(ctx context.Context, specID string, spec domain.DocumentSpec, reporter pipeline.Reporter) (*pipeline.Result, error) {
	return m.runSpec(ctx, specID, spec, reporter)
}

func newTracker(t *testing.T) *jobtracker.Tracker {
	t.Helper()
	runner, err := jobtracker.NewRunner(2, 8)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	runner.Start()
	t.Cleanup(runner.Stop)
	return jobtracker.New(runner, nil)
}

func waitJob(t *testing.T, tr *jobtracker.Tracker, id string) jobtracker.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tr.GetStatus(id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return jobtracker.Job{}
}

var sampleSpec = domain.DocumentSpec{
	Topic: "Pi",
	Units: []domain.KnowledgeUnitSpec{{ID: "ku1", ContentSummary: "Ratio", TextDescription: "explain"}},
}

func TestSpecServiceGenerate(t *testing.T) {
	tr := newTracker(t)
	store := newMemStore()
	p := &mockPipeline{plan: func(ctx context.Context, topic string, reporter pipeline.Reporter) (string, domain.DocumentSpec, error) {
		reporter.Report(domain.ProgressInfo{Phase: domain.PhasePlanning, OverallPercent: 10})
		_ = store.Save(ctx, domain.KindSpec, "spec-1", sampleSpec)
		return "spec-1", sampleSpec, nil
	}}
	svc := NewSpecService(p, tr, store)

	if _, err := svc.Generate(context.Background(), "  "); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("expected ErrEmptyTopic, got %v", err)
	}

	jobID, err := svc.Generate(context.Background(), "Pi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	job := waitJob(t, tr, jobID)
	if job.Status != statemachine.JobStatusCompleted || job.Result == nil || job.Result.SpecID != "spec-1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.JobType != jobtracker.JobTypeSpecGeneration || job.Progress.OverallPercent != 100 {
		t.Fatalf("unexpected job type or progress: %+v", job)
	}

	spec, err := svc.Get(context.Background(), "spec-1")
	if err != nil || spec.Topic != "Pi" {
		t.Fatalf("unexpected spec: %+v, err=%v", spec, err)
	}
}

func TestSpecServicePlannerFailureFailsJob(t *testing.T) {
	tr := newTracker(t)
	p := &mockPipeline{plan: func(ctx context.Context, topic string, reporter pipeline.Reporter) (string, domain.DocumentSpec, error) {
		return "", domain.DocumentSpec{}, &domain.PipelineError{Phase: domain.PhasePlanning, Err: errors.New("model unavailable")}
	}}
	svc := NewSpecService(p, tr, newMemStore())

	jobID, err := svc.Generate(context.Background(), "Pi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	job := waitJob(t, tr, jobID)
	if job.Status != statemachine.JobStatusFailed || job.Error == nil || !strings.Contains(*job.Error, "model unavailable") {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Result != nil {
		t.Fatalf("failed job must not carry a result")
	}
}

func TestSpecServiceGetAndUpdate(t *testing.T) {
	store := newMemStore()
	svc := NewSpecService(&mockPipeline{}, newTracker(t), store)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrSpecNotFound) {
		t.Fatalf("expected ErrSpecNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, "missing", sampleSpec); !errors.Is(err, ErrSpecNotFound) {
		t.Fatalf("expected ErrSpecNotFound on update, got %v", err)
	}

	_ = store.Save(ctx, domain.KindSpec, "s1", sampleSpec)
	if _, err := svc.Update(ctx, "s1", domain.DocumentSpec{Topic: "Pi"}); !errors.Is(err, domain.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}

	updated := domain.DocumentSpec{Topic: "Pi", Units: []domain.KnowledgeUnitSpec{{ID: "a"}, {ID: "b"}}}
	if _, err := svc.Update(ctx, "s1", updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := svc.Get(ctx, "s1")
	if len(got.Units) != 2 || got.Units[1].ID != "b" {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestDocumentServiceGenerateFromSpec(t *testing.T) {
	tr := newTracker(t)
	store := newMemStore()
	_ = store.Save(context.Background(), domain.KindSpec, "s1", sampleSpec)

	release := make(chan struct{})
	var gotSpec domain.DocumentSpec
	p := &mockPipeline{runSpec: func(ctx context.Context, specID string, spec domain.DocumentSpec, reporter pipeline.Reporter) (*pipeline.Result, error) {
		<-release
		gotSpec = spec
		return &pipeline.Result{
			SpecID:     specID,
			DocumentID: "d1",
			Document:   domain.GeneratedDocument{Topic: spec.Topic, Units: []domain.GeneratedUnit{{ID: "ku1", Validated: true}}},
			Rounds:     1,
		}, nil
	}}
	specs := NewSpecService(p, tr, store)
	svc := NewDocumentService(p, tr, store, specs)

	jobID, err := svc.Generate(context.Background(), GenerateDocumentRequest{SpecID: "s1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	job, _ := tr.GetStatus(jobID)
	if job.Progress.Phase != domain.PhaseExecuting {
		t.Fatalf("spec based job should start in executing, got %s", job.Progress.Phase)
	}
	close(release)

	job = waitJob(t, tr, jobID)
	if job.Status != statemachine.JobStatusCompleted || job.Result.DocumentID != "d1" || job.Result.SpecID != "s1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if gotSpec.Topic != "Pi" {
		t.Fatalf("pipeline did not receive the stored spec: %+v", gotSpec)
	}
}

func TestDocumentServiceGenerateValidation(t *testing.T) {
	tr := newTracker(t)
	store := newMemStore()
	p := &mockPipeline{}
	svc := NewDocumentService(p, tr, store, NewSpecService(p, tr, store))

	if _, err := svc.Generate(context.Background(), GenerateDocumentRequest{}); !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), GenerateDocumentRequest{SpecID: "nope"}); !errors.Is(err, ErrSpecNotFound) {
		t.Fatalf("expected ErrSpecNotFound, got %v", err)
	}
	if s := tr.Stats(); s.Running+s.Completed+s.Failed != 0 {
		t.Fatalf("rejected requests must not create jobs: %+v", s)
	}
}

func TestDocumentServiceGenerateFromTopic(t *testing.T) {
	tr := newTracker(t)
	store := newMemStore()
	p := &mockPipeline{run: func(ctx context.Context, topic string, reporter pipeline.Reporter) (*pipeline.Result, error) {
		if topic != "Pi" {
			return nil, errors.New("wrong topic")
		}
		return nil, &domain.PipelineError{Phase: domain.PhaseEvaluating, Err: domain.ErrRevisionBoundExceeded}
	}}
	svc := NewDocumentService(p, tr, store, NewSpecService(p, tr, store))

	jobID, err := svc.Generate(context.Background(), GenerateDocumentRequest{Topic: " Pi "})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	job := waitJob(t, tr, jobID)
	if job.Status != statemachine.JobStatusFailed || !strings.Contains(*job.Error, "evaluating phase failed") {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestDocumentServiceGet(t *testing.T) {
	store := newMemStore()
	svc := NewDocumentService(&mockPipeline{}, newTracker(t), store, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	_ = store.Save(ctx, domain.KindDocument, "d1", domain.GeneratedDocument{Topic: "Pi"})
	view, err := svc.Get(ctx, "d1")
	if err != nil || view.Feedback != nil || view.Document.Topic != "Pi" {
		t.Fatalf("unexpected view without feedback: %+v, err=%v", view, err)
	}

	_ = store.Save(ctx, domain.KindFeedback, "d1", domain.NewFeedback(true, "fine", nil, nil))
	view, err = svc.Get(ctx, "d1")
	if err != nil || view.Feedback == nil || view.Feedback.RequiresRevision {
		t.Fatalf("unexpected view with feedback: %+v, err=%v", view, err)
	}
}

func TestSpecServiceListAndDelete(t *testing.T) {
	store := newMemStore()
	svc := NewSpecService(&mockPipeline{}, newTracker(t), store)
	ctx := context.Background()
	_ = store.Save(ctx, domain.KindSpec, "s1", sampleSpec)
	_ = store.Save(ctx, domain.KindDocument, "d1", domain.GeneratedDocument{Topic: "Pi"})

	specs, err := svc.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(specs) != 1 || specs[0].ID != "s1" || specs[0].Topic != "Pi" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	if store.lastLimit != defaultListLimit {
		t.Fatalf("expected default limit %d, got %d", defaultListLimit, store.lastLimit)
	}
	_, _ = svc.List(ctx, 1000)
	if store.lastLimit != maxListLimit {
		t.Fatalf("limit should be capped at %d, got %d", maxListLimit, store.lastLimit)
	}

	if err := svc.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, "s1"); !errors.Is(err, ErrSpecNotFound) {
		t.Fatalf("expected ErrSpecNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, "s1"); !errors.Is(err, ErrSpecNotFound) {
		t.Fatalf("deleted spec still readable: %v", err)
	}
}

func TestDocumentServiceDeleteRemovesFeedback(t *testing.T) {
	store := newMemStore()
	tr := newTracker(t)
	specs := NewSpecService(&mockPipeline{}, tr, store)
	svc := NewDocumentService(&mockPipeline{}, tr, store, specs)
	ctx := context.Background()
	_ = store.Save(ctx, domain.KindDocument, "d1", domain.GeneratedDocument{Topic: "Pi"})
	_ = store.Save(ctx, domain.KindFeedback, "d1", domain.NewFeedback(true, "ok", nil, nil))
	_ = store.Save(ctx, domain.KindDocument, "d2", domain.GeneratedDocument{Topic: "E"})

	docs, err := svc.List(ctx, 10)
	if err != nil || len(docs) != 2 {
		t.Fatalf("unexpected documents: %+v, err=%v", docs, err)
	}

	if err := svc.Delete(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var fb domain.Feedback
	if err := store.Load(ctx, domain.KindFeedback, "d1", &fb); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("feedback should be deleted with its document, got %v", err)
	}
	// 没有评估结果的文档同样可以删除
	if err := svc.Delete(ctx, "d2"); err != nil {
		t.Fatalf("delete without feedback: %v", err)
	}
	if err := svc.Delete(ctx, "d2"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
