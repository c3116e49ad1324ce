package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/model"
	"k8s.io/klog/v2"
)

// Store 把领域实体序列化为 JSON 存入实体表，实现 domain.Persistence
type Store struct {
	repo EntityRepository
}

func NewStore(repo EntityRepository) *Store {
	return &Store{repo: repo}
}

var (
	_ domain.Persistence = (*Store)(nil)
	_ domain.Catalog     = (*Store)(nil)
)

func (s *Store) Save(ctx context.Context, kind domain.EntityKind, id string, entity any) error {
	if id == "" {
		return fmt.Errorf("save %s: empty id", kind)
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	if err := s.repo.Save(ctx, &model.Entity{
		Kind:    string(kind),
		ID:      id,
		Topic:   topicOf(entity),
		Payload: string(payload),
	}); err != nil {
		klog.Errorf("[Store.Save] 保存实体失败: kind=%s, id=%s, err=%v", kind, id, err)
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	klog.V(6).Infof("[Store.Save] 保存实体: kind=%s, id=%s, bytes=%d", kind, id, len(payload))
	return nil
}

// Load 读取实体并解码到 out；不存在时返回 domain.ErrEntityNotFound
func (s *Store) Load(ctx context.Context, kind domain.EntityKind, id string, out any) error {
	entity, err := s.repo.Get(ctx, string(kind), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, kind, id)
		}
		return fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(entity.Payload), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

// List 列出指定类型的实体摘要，最近更新的在前
func (s *Store) List(ctx context.Context, kind domain.EntityKind, limit int) ([]domain.EntitySummary, error) {
	entities, err := s.repo.ListByKind(ctx, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	out := make([]domain.EntitySummary, 0, len(entities))
	for _, e := range entities {
		out = append(out, domain.EntitySummary{
			ID:        e.ID,
			Topic:     e.Topic,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return out, nil
}

// Delete 删除实体；不存在时返回 domain.ErrEntityNotFound
func (s *Store) Delete(ctx context.Context, kind domain.EntityKind, id string) error {
	if err := s.repo.Delete(ctx, string(kind), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, kind, id)
		}
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	klog.V(6).Infof("[Store.Delete] 删除实体: kind=%s, id=%s", kind, id)
	return nil
}

func topicOf(entity any) string {
	switch v := entity.(type) {
	case domain.DocumentSpec:
		return v.Topic
	case *domain.DocumentSpec:
		return v.Topic
	case domain.GeneratedDocument:
		return v.Topic
	case *domain.GeneratedDocument:
		return v.Topic
	}
	return ""
}
