package model

import (
	"time"
)

// Entity 按 (kind, id) 存储的领域实体，payload 为 JSON
type Entity struct {
	Kind      string    `json:"kind" gorm:"primaryKey;size:32"` // spec, document, feedback
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Topic     string    `json:"topic" gorm:"size:500"`
	Payload   string    `json:"payload" gorm:"type:longtext"` // mysql 的 text 上限 64KB
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobRecord 已结束任务的历史记录
type JobRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	JobID      string    `json:"job_id" gorm:"size:64;uniqueIndex"` // UUID
	JobType    string    `json:"job_type" gorm:"size:50;index"`
	Status     string    `json:"status" gorm:"size:50;index"` // completed, failed
	SpecID     string    `json:"spec_id" gorm:"size:64"`
	DocumentID string    `json:"document_id" gorm:"size:64"`
	ErrorMsg   string    `json:"error_msg" gorm:"size:2000"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}
