package domain

import (
	"context"
	"time"
)

// ContentKind 生成内容的类型
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindArtifact ContentKind = "artifact"
)

// GenerateRequest 内容生成请求
type GenerateRequest struct {
	Kind        ContentKind
	Topic       string
	UnitID      string
	ScopeID     string
	Description string
	// TextContent 生成交互组件时附带的正文，便于组件与正文呼应
	TextContent string
	// Revision 上一轮质量评估给出的修改意见
	Revision []string
}

// RepairRequest 交互组件修复请求
type RepairRequest struct {
	UnitID     string
	ScopeID    string
	Artifact   string
	Diagnostic string
}

// UnitText 连贯性评估的输入
type UnitText struct {
	ID   string
	Text string
}

// CoherenceAssessment 连贯性评估结果
type CoherenceAssessment struct {
	Sufficient bool
	Note       string
	// UnitIDs 评估认为需要重写的单元，可为空
	UnitIDs []string
}

// ContentGenerator 生成正文或交互组件
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// RepairEngine 根据诊断信息修复交互组件
type RepairEngine interface {
	Repair(ctx context.Context, req RepairRequest) (string, error)
}

// Planner 将主题规划为文档规格
type Planner interface {
	Plan(ctx context.Context, topic string) (DocumentSpec, error)
}

// CoherenceAssessor 评估全文连贯性
type CoherenceAssessor interface {
	Assess(ctx context.Context, topic string, units []UnitText) (CoherenceAssessment, error)
}

// StructuralValidator 交互组件结构校验
type StructuralValidator interface {
	Validate(artifact string) (bool, string)
}

// EntityKind 持久化实体类型
type EntityKind string

const (
	KindSpec     EntityKind = "spec"
	KindDocument EntityKind = "document"
	KindFeedback EntityKind = "feedback"
)

// Persistence 实体持久化，仅在阶段边界调用
type Persistence interface {
	Save(ctx context.Context, kind EntityKind, id string, entity any) error
	Load(ctx context.Context, kind EntityKind, id string, out any) error
}

// EntitySummary 实体列表项，不含正文
type EntitySummary struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog 已保存实体的浏览与删除，按更新时间倒序
type Catalog interface {
	List(ctx context.Context, kind EntityKind, limit int) ([]EntitySummary, error)
	Delete(ctx context.Context, kind EntityKind, id string) error
}
