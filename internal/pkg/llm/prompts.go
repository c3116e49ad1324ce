package llm

import (
	"fmt"
	"strings"

	"github.com/vividoc/backend/internal/domain"
)

const plannerSystemPrompt = `You are an expert educational content planner. You create structured document specifications for interactive educational documents.
Answer with a single JSON object and nothing else.`

const plannerUserTemplate = `Topic: %s

Break the topic into 3-5 logical knowledge units. Each unit must have:
1. "id": a unique id such as "ku1", "ku2"
2. "content_summary": one sentence summarising the unit
3. "text_description": a self-contained description of what the reader should understand after reading the section
4. "interaction_description": a self-contained description of the interactive elements the reader can use and what they will observe, or "" when the unit needs no interaction

Focus on building intuition, not just listing facts.

Return JSON of the form:
{"topic": "...", "knowledge_units": [{"id": "ku1", "content_summary": "...", "text_description": "...", "interaction_description": "..."}]}`

const textSystemPrompt = `You are an expert educational content writer. Write clear, well structured explanatory prose.
Return plain text paragraphs separated by blank lines. Do not return HTML or markdown headings.`

const textUserTemplate = `Document topic: %s
Section: %s

Text content description:
%s`

const artifactSystemPrompt = `You are an expert at creating interactive educational visualizations with HTML, CSS and JavaScript.
Return exactly one HTML fragment inside a single ` + "```html" + ` code block.`

const artifactUserTemplate = `Document topic: %s
Section id: %s

Section text (the interaction must complement it):
%s

Interactive content description:
%s

Rules:
1. The fragment has exactly one root element: <section class="knowledge-unit" id="%s">, with no content outside it
2. Every tag is closed
3. Every CSS selector in <style> is prefixed with #%s
4. All DOM ids use the %s- prefix
5. <script> code is wrapped in an IIFE and never declares or assigns globals (no window.x = ..., no top-level var/let/const/function)
6. D3.js and Chart.js are already loaded; a Chart.js canvas container needs an explicit height`

const repairSystemPrompt = `You fix interactive HTML fragments so that they pass a structural validator.
Keep the behaviour and look of the fragment, change only what is needed.
Return exactly one HTML fragment inside a single ` + "```html" + ` code block.`

const repairUserTemplate = `Section id: %s

Validator diagnostic:
%s

Fragment:
` + "```html\n%s\n```" + `

The fixed fragment must have exactly one root <section class="knowledge-unit" id="%s">, all tags closed, all CSS selectors prefixed with #%s, and no global JavaScript declarations or assignments.`

const assessSystemPrompt = `You are an expert educational content evaluator.
Answer with a single JSON object and nothing else.`

const assessUserTemplate = `Evaluate the overall coherence and quality of the following educational document.

Topic: %s

Content:
%s

Check text fluency and readability, logical flow between sections, clarity of explanations and overall coherence.

Return JSON: {"sufficient": true|false, "note": "2-3 sentence assessment", "unit_ids": ["ids of sections that must be rewritten, empty when none"]}`

func revisionBlock(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nThe previous version of this section was rejected by review. Address these issues:\n")
	for _, n := range notes {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}

func textPrompt(req domain.GenerateRequest) string {
	return fmt.Sprintf(textUserTemplate, req.Topic, req.UnitID, req.Description) + revisionBlock(req.Revision)
}

func artifactPrompt(req domain.GenerateRequest) string {
	s := req.ScopeID
	return fmt.Sprintf(artifactUserTemplate, req.Topic, s, req.TextContent, req.Description, s, s, s) + revisionBlock(req.Revision)
}

func repairPrompt(req domain.RepairRequest) string {
	s := req.ScopeID
	return fmt.Sprintf(repairUserTemplate, s, req.Diagnostic, req.Artifact, s, s)
}

func assessContent(units []domain.UnitText) string {
	var b strings.Builder
	for _, u := range units {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", u.ID, strings.TrimSpace(u.Text))
	}
	return strings.TrimSpace(b.String())
}
