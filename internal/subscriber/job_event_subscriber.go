package subscriber

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vividoc/backend/internal/eventbus"
	"github.com/vividoc/backend/internal/model"
	"k8s.io/klog/v2"
)

const maxErrorMsgLen = 2000

// JobEventSubscriber 任务终态后记录指标并写入历史记录
type JobEventSubscriber struct {
	records jobRecordWriter
	metrics jobMetrics
}

type jobRecordWriter interface {
	Create(record *model.JobRecord) error
}

type jobMetrics interface {
	JobStarted()
	JobFinished(jobType, status string, d time.Duration)
}

func NewJobEventSubscriber(records jobRecordWriter, metrics jobMetrics) *JobEventSubscriber {
	return &JobEventSubscriber{records: records, metrics: metrics}
}

func (s *JobEventSubscriber) Register(bus *eventbus.JobEventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(eventbus.JobEventCreated, s.handleCreated)
	bus.Subscribe(eventbus.JobEventCompleted, s.handleFinished)
	bus.Subscribe(eventbus.JobEventFailed, s.handleFinished)
}

func (s *JobEventSubscriber) handleCreated(ctx context.Context, event eventbus.JobEvent) error {
	if s.metrics != nil {
		s.metrics.JobStarted()
	}
	return nil
}

func (s *JobEventSubscriber) handleFinished(ctx context.Context, event eventbus.JobEvent) error {
	if event.JobID == "" {
		return fmt.Errorf("任务ID为空")
	}
	status := statusOf(event.Type)
	if s.metrics != nil {
		s.metrics.JobFinished(event.JobType, status, event.Duration())
	}
	if s.records == nil {
		return nil
	}

	record := &model.JobRecord{
		JobID:      event.JobID,
		JobType:    event.JobType,
		Status:     status,
		SpecID:     event.SpecID,
		DocumentID: event.DocumentID,
		ErrorMsg:   truncate(event.Error, maxErrorMsgLen),
		DurationMs: event.Duration().Milliseconds(),
		StartedAt:  event.CreatedAt,
		FinishedAt: event.FinishedAt,
	}
	if err := s.records.Create(record); err != nil {
		klog.Errorf("任务事件处理失败: type=%s, jobID=%s, error=%v", event.Type, event.JobID, err)
		return err
	}
	klog.V(6).Infof("任务事件处理成功: type=%s, jobID=%s, recordID=%d", event.Type, event.JobID, record.ID)
	return nil
}

func statusOf(t eventbus.JobEventType) string {
	switch t {
	case eventbus.JobEventCompleted:
		return "completed"
	case eventbus.JobEventFailed:
		return "failed"
	}
	return strings.ToLower(string(t))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
