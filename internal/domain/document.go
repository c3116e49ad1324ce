package domain

import (
	"fmt"
	"strings"
)

// KnowledgeUnitSpec 规划阶段产出的单个知识单元描述，生成后不可修改
type KnowledgeUnitSpec struct {
	ID                     string `json:"id"`
	ContentSummary         string `json:"content_summary"`
	TextDescription        string `json:"text_description"`
	InteractionDescription string `json:"interaction_description"`
}

const maxTitleRunes = 60

// Title 取内容摘要的第一句作为单元标题，摘要为空时使用 ID
func (u KnowledgeUnitSpec) Title() string {
	title := strings.TrimSpace(u.ContentSummary)
	if i := strings.IndexAny(title, "\n。.!?！？"); i > 0 {
		title = title[:i]
	}
	if title == "" {
		return u.ID
	}
	r := []rune(title)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes]) + "..."
	}
	return title
}

// DocumentSpec 文档规格，Units 的顺序即渲染顺序
type DocumentSpec struct {
	Topic string              `json:"topic"`
	Units []KnowledgeUnitSpec `json:"units"`
}

// Validate 校验规格：主题非空、至少一个单元、单元 ID 非空且互不相同
func (s DocumentSpec) Validate() error {
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidSpec)
	}
	if len(s.Units) == 0 {
		return fmt.Errorf("%w: no knowledge units", ErrInvalidSpec)
	}
	seen := make(map[string]int, len(s.Units))
	for i, u := range s.Units {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return fmt.Errorf("%w: unit %d has empty id", ErrInvalidSpec, i+1)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate unit id %q at positions %d and %d", ErrInvalidSpec, id, prev+1, i+1)
		}
		seen[id] = i
	}
	return nil
}

// ScopeID 返回第 index 个单元（从 0 开始）在页面中的作用域 ID
func ScopeID(index int) string {
	return fmt.Sprintf("ku%d", index+1)
}

// GeneratedUnit 单个知识单元的生成结果
// Validated 为 true 时 Artifact 必然通过结构校验
type GeneratedUnit struct {
	ID          string `json:"id"`
	ScopeID     string `json:"scope_id"`
	Title       string `json:"title"`
	TextContent string `json:"text_content"`
	Artifact    string `json:"artifact"`
	Validated   bool   `json:"validated"`
	Attempts    int    `json:"attempts"`
	Diagnostic  string `json:"diagnostic,omitempty"`
}

// GeneratedDocument 与 DocumentSpec 一一对应、顺序一致
type GeneratedDocument struct {
	Topic string          `json:"topic"`
	Units []GeneratedUnit `json:"units"`
}

// Clone 深拷贝文档，避免调用方共享底层切片
func (d GeneratedDocument) Clone() GeneratedDocument {
	out := GeneratedDocument{Topic: d.Topic}
	if d.Units != nil {
		out.Units = make([]GeneratedUnit, len(d.Units))
		copy(out.Units, d.Units)
	}
	return out
}

// Feedback 质量评估结果
type Feedback struct {
	CoherenceNote    string   `json:"coherence_note"`
	UnitIssues       []string `json:"unit_issues"`
	RequiresRevision bool     `json:"requires_revision"`
	// RevisionUnits 需要在下一轮重新生成的单元 ID，为空表示全部
	RevisionUnits []string `json:"revision_units,omitempty"`
}

// NewFeedback 构造 Feedback，保证 RequiresRevision 为 true 时 UnitIssues 非空
func NewFeedback(coherent bool, note string, issues []string, revisionUnits []string) Feedback {
	issues = append([]string(nil), issues...)
	if !coherent {
		msg := strings.TrimSpace(note)
		if msg == "" {
			msg = "coherence judged insufficient"
		}
		issues = append(issues, "coherence: "+msg)
	}
	if len(issues) == 0 {
		issues = []string{}
	}
	return Feedback{
		CoherenceNote:    note,
		UnitIssues:       issues,
		RequiresRevision: len(issues) > 0,
		RevisionUnits:    revisionUnits,
	}
}

// IssuesFor 返回引用了指定单元的问题描述
func (f Feedback) IssuesFor(unitID string) []string {
	prefix := unitID + ":"
	var out []string
	for _, issue := range f.UnitIssues {
		if strings.HasPrefix(issue, prefix) {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(issue, prefix)))
		}
	}
	return out
}
