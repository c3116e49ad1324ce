package qualitygate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vividoc/backend/internal/domain"
)

const DefaultMinUnitRunes = 40

// HeuristicAssessor 不依赖模型的连贯性评估，只检查正文是否缺失或过短
type HeuristicAssessor struct {
	MinUnitRunes int
}

func NewHeuristicAssessor() *HeuristicAssessor {
	return &HeuristicAssessor{MinUnitRunes: DefaultMinUnitRunes}
}

func (h *HeuristicAssessor) Assess(ctx context.Context, topic string, units []domain.UnitText) (domain.CoherenceAssessment, error) {
	if err := ctx.Err(); err != nil {
		return domain.CoherenceAssessment{}, err
	}
	if len(units) == 0 {
		return domain.CoherenceAssessment{Note: "document has no content"}, nil
	}

	minRunes := h.MinUnitRunes
	if minRunes <= 0 {
		minRunes = DefaultMinUnitRunes
	}
	var short []string
	for _, u := range units {
		if utf8.RuneCountInString(strings.TrimSpace(u.Text)) < minRunes {
			short = append(short, u.ID)
		}
	}
	if len(short) > 0 {
		return domain.CoherenceAssessment{
			Sufficient: false,
			Note:       fmt.Sprintf("document appears incomplete, %d unit(s) too short: %s", len(short), strings.Join(short, ", ")),
			UnitIDs:    short,
		}, nil
	}
	return domain.CoherenceAssessment{Sufficient: true, Note: "document structure appears valid"}, nil
}
