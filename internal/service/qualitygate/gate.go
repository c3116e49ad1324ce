// Package qualitygate 对整篇文档做质量评估：全文连贯性加上每个单元组件的重新校验。
package qualitygate

import (
	"context"
	"fmt"
	"strings"

	"github.com/vividoc/backend/internal/domain"
	"k8s.io/klog/v2"
)

// Gate 质量评估
type Gate struct {
	assessor  domain.CoherenceAssessor
	validator domain.StructuralValidator
}

func New(assessor domain.CoherenceAssessor, validator domain.StructuralValidator) *Gate {
	return &Gate{assessor: assessor, validator: validator}
}

// Evaluate 评估文档，评估方调用失败时返回 *domain.EvaluationError
// 每个单元的组件都会重新校验，不信任单元上已有的 Validated 标记
func (g *Gate) Evaluate(ctx context.Context, doc domain.GeneratedDocument) (domain.Feedback, error) {
	texts := make([]domain.UnitText, 0, len(doc.Units))
	for _, u := range doc.Units {
		texts = append(texts, domain.UnitText{ID: u.ID, Text: u.TextContent})
	}

	assessment, err := g.assessor.Assess(ctx, doc.Topic, texts)
	if err != nil {
		klog.Errorf("[Gate.Evaluate] 连贯性评估失败: topic=%s, err=%v", doc.Topic, err)
		return domain.Feedback{}, &domain.EvaluationError{Err: err}
	}

	var issues []string
	flagged := make(map[string]bool)
	scopes := make(map[string]string, len(doc.Units))

	for _, u := range doc.Units {
		if strings.TrimSpace(u.TextContent) == "" {
			issues = append(issues, fmt.Sprintf("%s: text content is empty", u.ID))
			flagged[u.ID] = true
		}
		if ok, diag := g.validator.Validate(u.Artifact); !ok {
			issues = append(issues, fmt.Sprintf("%s: %s", u.ID, diag))
			flagged[u.ID] = true
		}
		if u.ScopeID != "" {
			if owner, dup := scopes[u.ScopeID]; dup {
				issues = append(issues, fmt.Sprintf("%s: container id %q already used by unit %s", u.ID, u.ScopeID, owner))
				flagged[u.ID] = true
			} else {
				scopes[u.ScopeID] = u.ID
			}
		}
	}

	var revision []string
	switch {
	case !assessment.Sufficient && len(assessment.UnitIDs) == 0:
		// 没有指明单元的连贯性问题，下一轮全部重写
		revision = nil
	default:
		for _, id := range assessment.UnitIDs {
			flagged[id] = true
		}
		// 按文档顺序输出，忽略文档中不存在的单元
		for _, u := range doc.Units {
			if flagged[u.ID] {
				revision = append(revision, u.ID)
			}
		}
	}

	fb := domain.NewFeedback(assessment.Sufficient, assessment.Note, issues, revision)
	klog.V(6).Infof("[Gate.Evaluate] 评估完成: topic=%s, coherent=%v, issues=%d, requires_revision=%v",
		doc.Topic, assessment.Sufficient, len(fb.UnitIssues), fb.RequiresRevision)
	return fb, nil
}
