package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vividoc/backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityRepository struct {
	db *gorm.DB
}

func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

// Save 按 (kind, id) 写入，已存在时覆盖 topic 与 payload
func (r *entityRepository) Save(ctx context.Context, entity *model.Entity) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"topic", "payload", "updated_at"}),
	}).Create(entity).Error
}

func (r *entityRepository) Get(ctx context.Context, kind, id string) (*model.Entity, error) {
	var entity model.Entity
	err := r.db.WithContext(ctx).Where("kind = ? AND id = ?", kind, id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		return nil, err
	}
	return &entity, nil
}

func (r *entityRepository) ListByKind(ctx context.Context, kind string, limit int) ([]model.Entity, error) {
	var entities []model.Entity
	q := r.db.WithContext(ctx).Where("kind = ?", kind).Order("updated_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entities).Error
	return entities, err
}

// Delete 删除指定实体，不存在时返回 ErrNotFound
func (r *entityRepository) Delete(ctx context.Context, kind, id string) error {
	result := r.db.WithContext(ctx).Where("kind = ? AND id = ?", kind, id).Delete(&model.Entity{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	return nil
}
