// Package unitprocessor 负责单个知识单元的生成：先写正文，再生成交互组件，
// 组件未通过结构校验时在有限次数内交给修复引擎修复。
package unitprocessor

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/utils"
	"k8s.io/klog/v2"
)

const (
	DefaultMaxFixAttempts = 3
	DefaultCallTimeout    = 2 * time.Minute
)

// Options 单元处理参数
type Options struct {
	// MaxFixAttempts 组件生成失败与修复调用共享的次数上限
	MaxFixAttempts int
	// CallTimeout 单次协作方调用的超时时间
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFixAttempts <= 0 {
		o.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Input 单次处理的输入
type Input struct {
	Topic   string
	Spec    domain.KnowledgeUnitSpec
	ScopeID string
	Round   int
	// Revision 上一轮评估针对该单元的意见
	Revision []string
}

// Processor 单元处理器，本身无状态，可被多个 goroutine 同时使用
type Processor struct {
	generator domain.ContentGenerator
	repairer  domain.RepairEngine
	validator domain.StructuralValidator
	opts      Options
}

func New(generator domain.ContentGenerator, repairer domain.RepairEngine, validator domain.StructuralValidator, opts Options) *Processor {
	return &Processor{
		generator: generator,
		repairer:  repairer,
		validator: validator,
		opts:      opts.withDefaults(),
	}
}

// run 一次处理过程中的可变状态
type run struct {
	in       Input
	events   chan<- domain.UnitEvent
	unit     domain.GeneratedUnit
	attempts int
	diag     string
}

// Process 处理单个知识单元
// 正文生成失败返回 *domain.GenerationError；组件修复次数耗尽时返回 Validated=false 的单元和 nil 错误
func (p *Processor) Process(ctx context.Context, in Input, events chan<- domain.UnitEvent) (domain.GeneratedUnit, error) {
	r := &run{
		in:     in,
		events: events,
		unit: domain.GeneratedUnit{
			ID:      in.Spec.ID,
			ScopeID: in.ScopeID,
			Title:   in.Spec.Title(),
		},
	}

	r.emit(ctx, domain.StateGenerating, domain.StageDrafting)
	text, err := p.call(ctx, func(cctx context.Context) (string, error) {
		return p.generator.Generate(cctx, domain.GenerateRequest{
			Kind:        domain.KindText,
			Topic:       in.Topic,
			UnitID:      in.Spec.ID,
			ScopeID:     in.ScopeID,
			Description: in.Spec.TextDescription,
			Revision:    in.Revision,
		})
	})
	if err != nil {
		return r.unit, &domain.GenerationError{Op: "text", UnitID: in.Spec.ID, Err: err}
	}
	text = strings.TrimSpace(text)
	r.unit.TextContent = text

	if strings.TrimSpace(in.Spec.InteractionDescription) == "" {
		return p.textOnly(ctx, r)
	}

	state := domain.StateGenerating
	r.emit(ctx, state, domain.StageRefining)
	for {
		if err := ctx.Err(); err != nil {
			return r.unit, err
		}

		switch state {
		case domain.StateGenerating:
			artifact, err := p.call(ctx, func(cctx context.Context) (string, error) {
				return p.generator.Generate(cctx, domain.GenerateRequest{
					Kind:        domain.KindArtifact,
					Topic:       in.Topic,
					UnitID:      in.Spec.ID,
					ScopeID:     in.ScopeID,
					Description: in.Spec.InteractionDescription,
					TextContent: text,
					Revision:    in.Revision,
				})
			})
			if err != nil {
				r.diag = fmt.Sprintf("artifact generation failed: %v", err)
				state = p.retryOrExhaust(r, domain.StateGenerating)
			} else {
				r.unit.Artifact = utils.ExtractHTML(artifact)
				state = domain.StateValidating
			}

		case domain.StateValidating:
			ok, diag := p.validator.Validate(r.unit.Artifact)
			if ok {
				state = domain.StateDone
				break
			}
			r.diag = diag
			if r.attempts < p.opts.MaxFixAttempts {
				state = domain.StateRepairing
			} else {
				state = domain.StateExhausted
			}

		case domain.StateRepairing:
			r.attempts++
			fixed, err := p.call(ctx, func(cctx context.Context) (string, error) {
				return p.repairer.Repair(cctx, domain.RepairRequest{
					UnitID:     in.Spec.ID,
					ScopeID:    in.ScopeID,
					Artifact:   r.unit.Artifact,
					Diagnostic: r.diag,
				})
			})
			if err != nil {
				klog.V(6).Infof("[UnitProcessor.Process] 修复调用失败: unit=%s, attempt=%d, err=%v", in.Spec.ID, r.attempts, err)
				if r.attempts >= p.opts.MaxFixAttempts {
					r.diag = fmt.Sprintf("repair failed: %v; last diagnostic: %s", err, r.diag)
					state = domain.StateExhausted
				}
			} else {
				r.unit.Artifact = utils.ExtractHTML(fixed)
				state = domain.StateValidating
			}

		case domain.StateDone:
			r.unit.Validated = true
			r.unit.Attempts = r.attempts
			r.unit.Diagnostic = ""
			r.emit(ctx, domain.StateDone, domain.StageDone)
			klog.V(6).Infof("[UnitProcessor.Process] 单元完成: unit=%s, round=%d, attempts=%d", in.Spec.ID, in.Round, r.attempts)
			return r.unit, nil

		case domain.StateExhausted:
			r.unit.Validated = false
			r.unit.Attempts = r.attempts
			r.unit.Diagnostic = r.diag
			r.emit(ctx, domain.StateExhausted, domain.StageDone)
			klog.Warningf("[UnitProcessor.Process] 组件修复次数耗尽: %v", &domain.ExhaustedError{
				UnitID: in.Spec.ID, Attempts: r.attempts, Diagnostic: r.diag,
			})
			return r.unit, nil
		}

		if state != domain.StateDone && state != domain.StateExhausted {
			r.emit(ctx, state, domain.StageRefining)
		}
	}
}

// retryOrExhaust 失败后若还有余量则计数并停留在当前状态
func (p *Processor) retryOrExhaust(r *run, current domain.UnitState) domain.UnitState {
	if r.attempts >= p.opts.MaxFixAttempts {
		return domain.StateExhausted
	}
	r.attempts++
	klog.V(6).Infof("[UnitProcessor.retryOrExhaust] 单元 %s 第 %d 次重试 %s: %s", r.in.Spec.ID, r.attempts, current, r.diag)
	return current
}

// textOnly 没有交互描述时直接把正文包成合法容器
func (p *Processor) textOnly(ctx context.Context, r *run) (domain.GeneratedUnit, error) {
	r.unit.Artifact = WrapText(r.in.ScopeID, r.unit.TextContent)
	ok, diag := p.validator.Validate(r.unit.Artifact)
	r.unit.Validated = ok
	r.unit.Diagnostic = diag
	if ok {
		r.emit(ctx, domain.StateDone, domain.StageDone)
	} else {
		r.emit(ctx, domain.StateExhausted, domain.StageDone)
	}
	return r.unit, nil
}

// call 在超时上下文中执行一次协作方调用，空输出视为失败
func (p *Processor) call(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	out, err := fn(cctx)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", domain.ErrEmptyOutput
	}
	return out, nil
}

func (r *run) emit(ctx context.Context, state domain.UnitState, stage domain.UnitStage) {
	if r.events == nil {
		return
	}
	ev := domain.UnitEvent{
		UnitID:  r.in.Spec.ID,
		Round:   r.in.Round,
		State:   state,
		Stage:   stage,
		Attempt: r.attempts,
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// WrapText 把正文包成最小的合法组件容器
func WrapText(scopeID, text string) string {
	var b strings.Builder
	b.WriteString(`<section class="knowledge-unit" id="`)
	b.WriteString(html.EscapeString(scopeID))
	b.WriteString(`">`)
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		if para = strings.TrimSpace(para); para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(para))
		b.WriteString("</p>")
	}
	b.WriteString("</section>")
	return b.String()
}
