package repository

import (
	"errors"
	"time"

	"github.com/vividoc/backend/internal/model"
	"gorm.io/gorm"
)

type jobRecordRepository struct {
	db *gorm.DB
}

func NewJobRecordRepository(db *gorm.DB) JobRecordRepository {
	return &jobRecordRepository{db: db}
}

func (r *jobRecordRepository) Create(record *model.JobRecord) error {
	return r.db.Create(record).Error
}

func (r *jobRecordRepository) GetByJobID(jobID string) (*model.JobRecord, error) {
	var record model.JobRecord
	err := r.db.Where("job_id = ?", jobID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *jobRecordRepository) GetRecent(limit int) ([]model.JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []model.JobRecord
	err := r.db.Order("finished_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// CountByStatus 各状态的历史任务数
func (r *jobRecordRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&model.JobRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// DeleteBefore 清理早于 cutoff 结束的记录
func (r *jobRecordRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("finished_at < ?", cutoff).Delete(&model.JobRecord{})
	return result.RowsAffected, result.Error
}
