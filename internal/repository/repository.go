package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vividoc/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

type EntityRepository interface {
	Save(ctx context.Context, entity *model.Entity) error
	Get(ctx context.Context, kind, id string) (*model.Entity, error)
	ListByKind(ctx context.Context, kind string, limit int) ([]model.Entity, error)
	Delete(ctx context.Context, kind, id string) error
}

type JobRecordRepository interface {
	Create(record *model.JobRecord) error
	GetByJobID(jobID string) (*model.JobRecord, error)
	GetRecent(limit int) ([]model.JobRecord, error)
	CountByStatus() (map[string]int64, error)
	DeleteBefore(cutoff time.Time) (int64, error)
}
