package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestDocumentSpecValidate(t *testing.T) {
	ok := DocumentSpec{
		Topic: "傅里叶变换",
		Units: []KnowledgeUnitSpec{{ID: "intro"}, {ID: "basis"}},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]DocumentSpec{
		"empty topic":  {Units: []KnowledgeUnitSpec{{ID: "a"}}},
		"no units":     {Topic: "t"},
		"empty id":     {Topic: "t", Units: []KnowledgeUnitSpec{{ID: " "}}},
		"duplicate id": {Topic: "t", Units: []KnowledgeUnitSpec{{ID: "a"}, {ID: "b"}, {ID: "a"}}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			err := spec.Validate()
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestNewFeedbackRevisionImpliesIssues(t *testing.T) {
	fb := NewFeedback(false, "", nil, nil)
	if !fb.RequiresRevision {
		t.Fatalf("incoherent document should require revision")
	}
	if len(fb.UnitIssues) == 0 {
		t.Fatalf("requires_revision must carry at least one issue")
	}

	fb = NewFeedback(true, "流畅", nil, nil)
	if fb.RequiresRevision {
		t.Fatalf("coherent document without issues should not require revision")
	}
	if fb.UnitIssues == nil {
		t.Fatalf("unit issues should be an empty slice, not nil")
	}

	fb = NewFeedback(true, "", []string{"ku2: Unclosed tags: div"}, nil)
	if !fb.RequiresRevision {
		t.Fatalf("unit issues should require revision")
	}
}

func TestNewFeedbackDoesNotWriteCallerSlice(t *testing.T) {
	backing := make([]string, 1, 4)
	backing[0] = "ku1: Unclosed tags: div"
	spare := backing[:2]
	spare[1] = "untouched"

	fb := NewFeedback(false, "脱节", backing, nil)
	if len(fb.UnitIssues) != 2 || fb.UnitIssues[1] != "coherence: 脱节" {
		t.Fatalf("unexpected issues: %v", fb.UnitIssues)
	}
	if spare[1] != "untouched" {
		t.Fatalf("caller backing array was overwritten: %q", spare[1])
	}

	fb.UnitIssues[0] = "changed"
	if backing[0] != "ku1: Unclosed tags: div" {
		t.Fatalf("feedback aliases caller slice: %q", backing[0])
	}
}

func TestFeedbackIssuesFor(t *testing.T) {
	fb := NewFeedback(true, "", []string{"b: broken", "a: missing id", "ab: other"}, nil)
	got := fb.IssuesFor("a")
	if len(got) != 1 || got[0] != "missing id" {
		t.Fatalf("unexpected issues: %v", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	pe := &PipelineError{Phase: PhasePlanning, Err: cause}
	if !errors.Is(pe, cause) {
		t.Fatalf("pipeline error should unwrap to cause")
	}
	if pe.Error() != "planning phase failed: boom" {
		t.Fatalf("unexpected message: %s", pe.Error())
	}
	ex := &ExhaustedError{UnitID: "a", Attempts: 3, Diagnostic: "x"}
	if !errors.Is(ex, ErrExhaustedRetries) {
		t.Fatalf("exhausted error should match ErrExhaustedRetries")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	doc := GeneratedDocument{Topic: "t", Units: []GeneratedUnit{{ID: "a", Validated: true}}}
	c := doc.Clone()
	c.Units[0].Validated = false
	if !doc.Units[0].Validated {
		t.Fatalf("clone must not alias units")
	}
}

func TestKnowledgeUnitTitle(t *testing.T) {
	long := strings.Repeat("派", 70)
	cases := []struct {
		unit KnowledgeUnitSpec
		want string
	}{
		{KnowledgeUnitSpec{ID: "ku1", ContentSummary: "圆周率简介。更多内容"}, "圆周率简介"},
		{KnowledgeUnitSpec{ID: "ku2", ContentSummary: "  Intro to pi! More later"}, "Intro to pi"},
		{KnowledgeUnitSpec{ID: "ku3", ContentSummary: "   "}, "ku3"},
		{KnowledgeUnitSpec{ID: "ku4", ContentSummary: long}, strings.Repeat("派", 60) + "..."},
	}
	for _, c := range cases {
		if got := c.unit.Title(); got != c.want {
			t.Fatalf("%s: expected %q, got %q", c.unit.ID, c.want, got)
		}
	}
}
