package eventbus

import "time"

type JobEventType string

const (
	JobEventCreated   JobEventType = "JobCreated"
	JobEventCompleted JobEventType = "JobCompleted"
	JobEventFailed    JobEventType = "JobFailed"
)

// JobEvent 任务创建与进入终态时发布
type JobEvent struct {
	Type       JobEventType
	JobID      string
	JobType    string
	SpecID     string
	DocumentID string
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Duration 任务从创建到结束的耗时
func (e JobEvent) Duration() time.Duration {
	if e.CreatedAt.IsZero() || e.FinishedAt.Before(e.CreatedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.CreatedAt)
}

type JobEventHandler = Handler[JobEvent]
type JobEventBus = Bus[JobEventType, JobEvent]

func NewJobEventBus() *JobEventBus {
	return NewBus[JobEventType, JobEvent]()
}
