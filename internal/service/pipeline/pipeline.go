// Package pipeline 编排 规划 → 生成 → 评估 三个阶段，并在评估要求修订时有限次重跑。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vividoc/backend/config"
	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/service/unitprocessor"
	"github.com/vividoc/backend/internal/utils"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

const (
	DefaultMaxRevisionRounds = 2
	DefaultUnitRetries       = 1
)

// UnitRunner 单元处理器
type UnitRunner interface {
	Process(ctx context.Context, in unitprocessor.Input, events chan<- domain.UnitEvent) (domain.GeneratedUnit, error)
}

// Evaluator 质量评估
type Evaluator interface {
	Evaluate(ctx context.Context, doc domain.GeneratedDocument) (domain.Feedback, error)
}

// Options 编排参数
type Options struct {
	MaxRevisionRounds int
	RevisionPolicy    config.RevisionPolicy
	// UnitRetries 单元生成调用失败后整体重试的次数
	UnitRetries int
	// UnitConcurrency 同时处理的单元数，1 表示按规格顺序串行
	UnitConcurrency int
}

// OptionsFromConfig 从配置构造编排参数
func OptionsFromConfig(c config.PipelineConfig) Options {
	return Options{
		MaxRevisionRounds: c.MaxRevisionRounds,
		RevisionPolicy:    c.RevisionPolicy,
		UnitRetries:       c.UnitRetries,
		UnitConcurrency:   c.UnitConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRevisionRounds < 0 {
		o.MaxRevisionRounds = DefaultMaxRevisionRounds
	}
	if o.RevisionPolicy == "" {
		o.RevisionPolicy = config.RevisionBestEffort
	}
	if o.UnitRetries < 0 {
		o.UnitRetries = DefaultUnitRetries
	}
	if o.UnitConcurrency <= 0 {
		o.UnitConcurrency = 1
	}
	return o
}

// Result 流水线成功结束的产出
type Result struct {
	SpecID     string
	DocumentID string
	Spec       domain.DocumentSpec
	Document   domain.GeneratedDocument
	Feedback   domain.Feedback
	// Rounds 实际执行的修订轮数
	Rounds int
}

// Orchestrator 流水线编排器
type Orchestrator struct {
	planner domain.Planner
	units   UnitRunner
	gate    Evaluator
	store   domain.Persistence
	opts    Options
}

func New(planner domain.Planner, units UnitRunner, gate Evaluator, store domain.Persistence, opts Options) *Orchestrator {
	return &Orchestrator{
		planner: planner,
		units:   units,
		gate:    gate,
		store:   store,
		opts:    opts.withDefaults(),
	}
}

// Plan 只执行规划阶段，返回持久化后的规格 ID
func (o *Orchestrator) Plan(ctx context.Context, topic string, reporter Reporter) (string, domain.DocumentSpec, error) {
	r := o.start(reporter)
	defer r.finish()
	return o.plan(ctx, r, topic)
}

// Run 从主题开始执行完整流水线
func (o *Orchestrator) Run(ctx context.Context, topic string, reporter Reporter) (*Result, error) {
	r := o.start(reporter)
	defer r.finish()

	specID, spec, err := o.plan(ctx, r, topic)
	if err != nil {
		return nil, err
	}
	return o.generate(ctx, r, specID, spec)
}

// RunSpec 从已有规格开始执行，跳过规划阶段；specID 为空时先保存规格
func (o *Orchestrator) RunSpec(ctx context.Context, specID string, spec domain.DocumentSpec, reporter Reporter) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, &domain.PipelineError{Phase: domain.PhaseExecuting, Err: err}
	}
	r := o.start(reporter)
	defer r.finish()

	if specID == "" {
		specID = uuid.NewString()
		if err := o.store.Save(ctx, domain.KindSpec, specID, spec); err != nil {
			klog.Errorf("[Orchestrator.RunSpec] 保存规格失败: spec=%s, err=%v", specID, err)
			return nil, &domain.PipelineError{Phase: domain.PhaseExecuting, Err: fmt.Errorf("save spec: %w", err)}
		}
	}
	r.send(event{planned: &spec})
	return o.generate(ctx, r, specID, spec)
}

func (o *Orchestrator) plan(ctx context.Context, r *run, topic string) (string, domain.DocumentSpec, error) {
	r.send(event{phase: domain.PhasePlanning})
	klog.V(6).Infof("[Orchestrator.plan] 开始规划: topic=%s", topic)

	spec, err := o.planner.Plan(ctx, topic)
	if err == nil && spec.Topic == "" {
		spec.Topic = topic
	}
	if err == nil {
		err = spec.Validate()
	}
	if err != nil {
		klog.Errorf("[Orchestrator.plan] 规划失败: topic=%s, err=%v", topic, err)
		return "", domain.DocumentSpec{}, &domain.PipelineError{Phase: domain.PhasePlanning, Err: err}
	}

	specID := uuid.NewString()
	if err := o.store.Save(ctx, domain.KindSpec, specID, spec); err != nil {
		klog.Errorf("[Orchestrator.plan] 保存规格失败: spec=%s, err=%v", specID, err)
		return "", domain.DocumentSpec{}, &domain.PipelineError{Phase: domain.PhasePlanning, Err: fmt.Errorf("save spec: %w", err)}
	}
	r.send(event{planned: &spec})
	klog.V(6).Infof("[Orchestrator.plan] 规划完成: spec=%s, units=%d", specID, len(spec.Units))
	if klog.V(8).Enabled() {
		klog.V(8).Infof("[Orchestrator.plan] 规格内容: spec=%s, %s", specID, utils.ToJSON(spec))
	}
	return specID, spec, nil
}

// generate 执行 + 评估，评估要求修订时在上限内重跑
func (o *Orchestrator) generate(ctx context.Context, r *run, specID string, spec domain.DocumentSpec) (*Result, error) {
	doc := domain.GeneratedDocument{Topic: spec.Topic, Units: make([]domain.GeneratedUnit, len(spec.Units))}
	docID := uuid.NewString()
	targets := allTargets(spec)
	var fb domain.Feedback
	rounds := 0

	for round := 0; ; round++ {
		ids := make([]string, len(targets))
		for i, idx := range targets {
			ids[i] = spec.Units[idx].ID
		}
		r.send(event{phase: domain.PhaseExecuting, round: round, targets: ids})

		units, err := o.executeUnits(ctx, r, spec, targets, round, fb)
		if err != nil {
			klog.Errorf("[Orchestrator.generate] 执行失败: spec=%s, round=%d, err=%v", specID, round, err)
			return nil, &domain.PipelineError{Phase: domain.PhaseExecuting, Err: err}
		}
		for i, idx := range targets {
			prev := doc.Units[idx]
			// 已通过校验的单元不会被未通过的新结果替换
			if round > 0 && prev.Validated && !units[i].Validated {
				klog.V(6).Infof("[Orchestrator.generate] 保留上一轮结果: unit=%s, round=%d", prev.ID, round)
				continue
			}
			doc.Units[idx] = units[i]
		}
		if err := o.store.Save(ctx, domain.KindDocument, docID, doc); err != nil {
			klog.Errorf("[Orchestrator.generate] 保存文档失败: document=%s, err=%v", docID, err)
			return nil, &domain.PipelineError{Phase: domain.PhaseExecuting, Err: fmt.Errorf("save document: %w", err)}
		}

		r.send(event{phase: domain.PhaseEvaluating, round: round})
		fb, err = o.gate.Evaluate(ctx, doc.Clone())
		if err != nil {
			klog.Errorf("[Orchestrator.generate] 评估失败: document=%s, err=%v", docID, err)
			return nil, &domain.PipelineError{Phase: domain.PhaseEvaluating, Err: err}
		}
		if err := o.store.Save(ctx, domain.KindFeedback, docID, fb); err != nil {
			klog.Errorf("[Orchestrator.generate] 保存评估结果失败: document=%s, err=%v", docID, err)
			return nil, &domain.PipelineError{Phase: domain.PhaseEvaluating, Err: fmt.Errorf("save feedback: %w", err)}
		}
		r.send(event{evaluated: true, round: round})

		if !fb.RequiresRevision {
			break
		}
		if round >= o.opts.MaxRevisionRounds {
			klog.Warningf("[Orchestrator.generate] 修订轮数已达上限: document=%s, rounds=%d, issues=%d, policy=%s",
				docID, rounds, len(fb.UnitIssues), o.opts.RevisionPolicy)
			if o.opts.RevisionPolicy == config.RevisionStrict {
				return nil, &domain.PipelineError{Phase: domain.PhaseEvaluating, Err: domain.ErrRevisionBoundExceeded}
			}
			break
		}
		targets = revisionTargets(spec, fb)
		rounds++
		klog.V(6).Infof("[Orchestrator.generate] 开始第 %d 轮修订: document=%s, units=%d", rounds, docID, len(targets))
	}

	return &Result{
		SpecID:     specID,
		DocumentID: docID,
		Spec:       spec,
		Document:   doc.Clone(),
		Feedback:   fb,
		Rounds:     rounds,
	}, nil
}

// executeUnits 处理一组单元，结果顺序与 targets 一致
func (o *Orchestrator) executeUnits(ctx context.Context, r *run, spec domain.DocumentSpec, targets []int, round int, fb domain.Feedback) ([]domain.GeneratedUnit, error) {
	results := make([]domain.GeneratedUnit, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.UnitConcurrency)

	for i, idx := range targets {
		in := unitprocessor.Input{
			Topic:    spec.Topic,
			Spec:     spec.Units[idx],
			ScopeID:  domain.ScopeID(idx),
			Round:    round,
			Revision: revisionNotes(fb, spec.Units[idx].ID),
		}
		g.Go(func() error {
			u, err := o.processUnit(gctx, r, in)
			if err != nil {
				return err
			}
			results[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// processUnit 单元生成调用失败时整体重试，仍失败则记为耗尽而不是丢弃
func (o *Orchestrator) processUnit(ctx context.Context, r *run, in unitprocessor.Input) (domain.GeneratedUnit, error) {
	var lastErr error
	for attempt := 0; attempt <= o.opts.UnitRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.GeneratedUnit{}, err
		}
		u, err := o.processOnce(ctx, r, in)
		if err == nil {
			return u, nil
		}
		var gerr *domain.GenerationError
		if !errors.As(err, &gerr) {
			return domain.GeneratedUnit{}, err
		}
		lastErr = err
		klog.Warningf("[Orchestrator.processUnit] 单元生成失败: unit=%s, attempt=%d, timeout=%v, err=%v",
			in.Spec.ID, attempt+1, gerr.Timeout(), err)
	}

	unit := domain.GeneratedUnit{
		ID:         in.Spec.ID,
		ScopeID:    in.ScopeID,
		Title:      in.Spec.Title(),
		Attempts:   o.opts.UnitRetries + 1,
		Diagnostic: lastErr.Error(),
	}
	r.send(event{unit: &domain.UnitEvent{
		UnitID: in.Spec.ID,
		Round:  in.Round,
		State:  domain.StateExhausted,
		Stage:  domain.StageDone,
	}})
	return unit, nil
}

// processOnce 调用单元处理器，并把它的事件转发到本次运行的进度通道
func (o *Orchestrator) processOnce(ctx context.Context, r *run, in unitprocessor.Input) (domain.GeneratedUnit, error) {
	unitEvents := make(chan domain.UnitEvent, 8)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for ev := range unitEvents {
			r.send(event{unit: &ev})
		}
	}()

	u, err := o.units.Process(ctx, in, unitEvents)
	close(unitEvents)
	<-relayed
	return u, err
}

func allTargets(spec domain.DocumentSpec) []int {
	out := make([]int, len(spec.Units))
	for i := range spec.Units {
		out[i] = i
	}
	return out
}

// revisionTargets 评估指定了单元时只重跑这些单元，否则全部重跑
func revisionTargets(spec domain.DocumentSpec, fb domain.Feedback) []int {
	if len(fb.RevisionUnits) == 0 {
		return allTargets(spec)
	}
	wanted := make(map[string]bool, len(fb.RevisionUnits))
	for _, id := range fb.RevisionUnits {
		wanted[id] = true
	}
	var out []int
	for i, u := range spec.Units {
		if wanted[u.ID] {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return allTargets(spec)
	}
	return out
}

// revisionNotes 单元自身的问题加上全文连贯性意见
func revisionNotes(fb domain.Feedback, unitID string) []string {
	notes := fb.IssuesFor(unitID)
	for _, c := range fb.IssuesFor("coherence") {
		notes = append(notes, "coherence: "+c)
	}
	return notes
}

// run 一次运行的进度通道，转发 goroutine 按顺序把事件交给 Reporter
type run struct {
	events chan event
	done   chan struct{}
}

func (o *Orchestrator) start(reporter Reporter) *run {
	r := &run{
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
	p := newProgress(o.opts.MaxRevisionRounds)
	go func() {
		defer close(r.done)
		for e := range r.events {
			info := p.apply(e)
			if reporter != nil {
				report(reporter, info)
			}
		}
	}()
	return r
}

func report(reporter Reporter, info domain.ProgressInfo) {
	defer func() {
		if rec := recover(); rec != nil {
			klog.Errorf("[Orchestrator.report] 进度上报异常: %v", rec)
		}
	}()
	reporter.Report(info)
}

func (r *run) send(e event) {
	r.events <- e
}

// finish 关闭通道并等待所有进度事件投递完成
func (r *run) finish() {
	close(r.events)
	<-r.done
}
