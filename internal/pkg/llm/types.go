package llm

import "errors"

// ErrEmptyResponse 模型返回空内容
var ErrEmptyResponse = errors.New("empty response from LLM")

// planPayload 规划输出的 JSON 结构，兼容 unit_content 字段名
type planPayload struct {
	Topic string        `json:"topic"`
	Units []planUnitDTO `json:"knowledge_units"`
	Alt   []planUnitDTO `json:"units"`
}

type planUnitDTO struct {
	ID                     string `json:"id"`
	ContentSummary         string `json:"content_summary"`
	UnitContent            string `json:"unit_content"`
	TextDescription        string `json:"text_description"`
	InteractionDescription string `json:"interaction_description"`
}

// assessmentPayload 连贯性评估输出的 JSON 结构
type assessmentPayload struct {
	Sufficient *bool    `json:"sufficient"`
	Note       string   `json:"note"`
	UnitIDs    []string `json:"unit_ids"`
}

// assessInput 评估链的输入
type assessInput struct {
	Topic   string
	Content string
}
