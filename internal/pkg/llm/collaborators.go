package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/utils"
	"k8s.io/klog/v2"
)

// Generator 生成单元正文与交互组件
type Generator struct {
	text     *promptChain[domain.GenerateRequest, string]
	artifact *promptChain[domain.GenerateRequest, string]
}

var _ domain.ContentGenerator = (*Generator)(nil)

func NewGenerator(ctx context.Context, chatModel model.BaseChatModel) (*Generator, error) {
	text, err := newPromptChain(ctx, "generate_text", chatModel,
		func(req domain.GenerateRequest) ([]*schema.Message, error) {
			return messages(textSystemPrompt, textPrompt(req)), nil
		}, contentOf)
	if err != nil {
		return nil, err
	}
	artifact, err := newPromptChain(ctx, "generate_artifact", chatModel,
		func(req domain.GenerateRequest) ([]*schema.Message, error) {
			return messages(artifactSystemPrompt, artifactPrompt(req)), nil
		}, contentOf)
	if err != nil {
		return nil, err
	}
	return &Generator{text: text, artifact: artifact}, nil
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	klog.V(6).Infof("[Generator.Generate] 生成内容: unit=%s, kind=%s, revision=%d", req.UnitID, req.Kind, len(req.Revision))
	switch req.Kind {
	case domain.KindText:
		return g.text.invoke(ctx, req)
	case domain.KindArtifact:
		return g.artifact.invoke(ctx, req)
	}
	return "", fmt.Errorf("unsupported content kind %q", req.Kind)
}

// Repairer 根据校验诊断修复交互组件
type Repairer struct {
	chain *promptChain[domain.RepairRequest, string]
}

var _ domain.RepairEngine = (*Repairer)(nil)

func NewRepairer(ctx context.Context, chatModel model.BaseChatModel) (*Repairer, error) {
	chain, err := newPromptChain(ctx, "repair", chatModel,
		func(req domain.RepairRequest) ([]*schema.Message, error) {
			return messages(repairSystemPrompt, repairPrompt(req)), nil
		}, contentOf)
	if err != nil {
		return nil, err
	}
	return &Repairer{chain: chain}, nil
}

func (r *Repairer) Repair(ctx context.Context, req domain.RepairRequest) (string, error) {
	klog.V(6).Infof("[Repairer.Repair] 修复交互组件: unit=%s, diagnostic=%s", req.UnitID, req.Diagnostic)
	return r.chain.invoke(ctx, req)
}

// Planner 把主题规划为文档规格
type Planner struct {
	chain *promptChain[string, domain.DocumentSpec]
}

var _ domain.Planner = (*Planner)(nil)

func NewPlanner(ctx context.Context, chatModel model.BaseChatModel) (*Planner, error) {
	chain, err := newPromptChain(ctx, "plan", chatModel,
		func(topic string) ([]*schema.Message, error) {
			return messages(plannerSystemPrompt, fmt.Sprintf(plannerUserTemplate, topic)), nil
		}, parsePlan)
	if err != nil {
		return nil, err
	}
	return &Planner{chain: chain}, nil
}

func (p *Planner) Plan(ctx context.Context, topic string) (domain.DocumentSpec, error) {
	spec, err := p.chain.invoke(ctx, topic)
	if err != nil {
		return domain.DocumentSpec{}, err
	}
	if strings.TrimSpace(spec.Topic) == "" {
		spec.Topic = topic
	}
	klog.V(6).Infof("[Planner.Plan] 规划完成: topic=%s, units=%d", spec.Topic, len(spec.Units))
	return spec, nil
}

func parsePlan(msg *schema.Message) (domain.DocumentSpec, error) {
	var payload planPayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(msg.Content)), &payload); err != nil {
		return domain.DocumentSpec{}, fmt.Errorf("parse plan: %w", err)
	}
	units := payload.Units
	if len(units) == 0 {
		units = payload.Alt
	}
	spec := domain.DocumentSpec{Topic: strings.TrimSpace(payload.Topic), Units: make([]domain.KnowledgeUnitSpec, 0, len(units))}
	for i, u := range units {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			id = domain.ScopeID(i)
		}
		summary := u.ContentSummary
		if summary == "" {
			summary = u.UnitContent
		}
		spec.Units = append(spec.Units, domain.KnowledgeUnitSpec{
			ID:                     id,
			ContentSummary:         strings.TrimSpace(summary),
			TextDescription:        strings.TrimSpace(u.TextDescription),
			InteractionDescription: strings.TrimSpace(u.InteractionDescription),
		})
	}
	return spec, nil
}

// Assessor 由模型评估全文连贯性
type Assessor struct {
	chain *promptChain[assessInput, domain.CoherenceAssessment]
}

var _ domain.CoherenceAssessor = (*Assessor)(nil)

func NewAssessor(ctx context.Context, chatModel model.BaseChatModel) (*Assessor, error) {
	chain, err := newPromptChain(ctx, "assess", chatModel,
		func(in assessInput) ([]*schema.Message, error) {
			return messages(assessSystemPrompt, fmt.Sprintf(assessUserTemplate, in.Topic, in.Content)), nil
		}, parseAssessment)
	if err != nil {
		return nil, err
	}
	return &Assessor{chain: chain}, nil
}

func (a *Assessor) Assess(ctx context.Context, topic string, units []domain.UnitText) (domain.CoherenceAssessment, error) {
	return a.chain.invoke(ctx, assessInput{Topic: topic, Content: assessContent(units)})
}

var errMissingVerdict = errors.New("assessment has no sufficient field")

func parseAssessment(msg *schema.Message) (domain.CoherenceAssessment, error) {
	var payload assessmentPayload
	if err := json.Unmarshal([]byte(utils.ExtractJSON(msg.Content)), &payload); err != nil {
		return domain.CoherenceAssessment{}, fmt.Errorf("parse assessment: %w", err)
	}
	if payload.Sufficient == nil {
		return domain.CoherenceAssessment{}, errMissingVerdict
	}
	return domain.CoherenceAssessment{
		Sufficient: *payload.Sufficient,
		Note:       strings.TrimSpace(payload.Note),
		UnitIDs:    payload.UnitIDs,
	}, nil
}
