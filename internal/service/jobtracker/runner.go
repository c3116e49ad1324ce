package jobtracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// -----------------------------
// 错误定义
// -----------------------------
var (
	ErrRunnerStopped = errors.New("job runner is stopped")
	ErrQueueFull     = errors.New("job queue is full")
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 120
	stopReleaseTimeout = 5 * time.Minute
)

// runnerJob 等待执行的后台任务
type runnerJob struct {
	JobID      string
	EnqueuedAt time.Time
	// Run 在协程池中执行，ctx 在 Runner 停止时取消
	Run func(ctx context.Context)
	// Reject 提交协程池失败时调用
	Reject func(err error)
}

// Runner 有界 FIFO 队列 + 分发循环 + ants 协程池
type Runner struct {
	queue *jobQueue
	pool  *ants.Pool

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	loopDone  chan struct{}
}

func NewRunner(workers, queueSize int) (*Runner, error) {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		queue:    newJobQueue(queueSize),
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}, nil
}

func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.started = true
		go r.dispatchLoop()
	})
}

// Stop 取消运行中的任务，把队列中剩余的任务分发完（它们会因上下文取消而快速结束），再等待协程池退出
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		klog.V(6).Infof("Job runner stopping...")
		r.cancel()
		r.queue.Close()
		// 未启动时不会有分发循环，队列中的任务直接拒绝
		r.startOnce.Do(func() {})
		if r.started {
			<-r.loopDone
		} else {
			r.rejectQueued()
		}

		if running := r.pool.Running(); running > 0 {
			klog.V(6).Infof("Waiting for %d running jobs to complete (timeout: %v)", running, stopReleaseTimeout)
		}
		if err := r.pool.ReleaseTimeout(stopReleaseTimeout); err != nil {
			klog.Warningf("Timeout after %v: some running jobs may be forced to stop", stopReleaseTimeout)
		}
		klog.V(6).Infof("Job runner stopped completely")
	})
}

// Submit 任务入队，队列满时直接拒绝
func (r *Runner) Submit(job *runnerJob) error {
	select {
	case <-r.ctx.Done():
		return ErrRunnerStopped
	default:
	}

	if err := r.queue.Enqueue(job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("Job queue full: jobID=%s", job.JobID)
		}
		return err
	}
	klog.V(6).Infof("Job enqueued: jobID=%s", job.JobID)
	return nil
}

// -----------------------------
// Dispatch Loop
// -----------------------------
func (r *Runner) dispatchLoop() {
	defer close(r.loopDone)
	for {
		job, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		r.dispatch(job)
	}
}

func (r *Runner) rejectQueued() {
	for {
		job, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		klog.V(6).Infof("Job rejected on stop: jobID=%s", job.JobID)
		if job.Reject != nil {
			job.Reject(ErrRunnerStopped)
		}
	}
}

func (r *Runner) dispatch(job *runnerJob) {
	err := r.pool.Submit(func() {
		r.execute(job)
	})
	if err == nil {
		return
	}
	klog.Errorf("提交任务到协程池失败: jobID=%s, err=%v", job.JobID, err)
	if job.Reject != nil {
		job.Reject(err)
	}
}

func (r *Runner) execute(job *runnerJob) {
	defer func() {
		if rec := recover(); rec != nil {
			klog.Errorf("Job panic recovered: jobID=%s, err=%v", job.JobID, rec)
		}
	}()
	klog.V(6).Infof("Job started: jobID=%s, waited=%v", job.JobID, time.Since(job.EnqueuedAt))
	job.Run(r.ctx)
}

// -----------------------------
// Queue Status
// -----------------------------
type QueueStatus struct {
	QueueLength   int `json:"queue_length"`
	ActiveWorkers int `json:"active_workers"`
	Capacity      int `json:"capacity"`
}

func (r *Runner) Status() *QueueStatus {
	return &QueueStatus{
		QueueLength:   r.queue.Len(),
		ActiveWorkers: r.pool.Running(),
		Capacity:      r.pool.Cap(),
	}
}

// -----------------------------
// jobQueue 有界 FIFO，满时拒绝新任务
// -----------------------------
type jobQueue struct {
	maxSize int
	items   []*runnerJob
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*runnerJob, 0, maxSize),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *runnerJob) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrRunnerStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Dequeue 阻塞直到有任务；队列关闭且为空时返回 false
func (q *jobQueue) Dequeue() (*runnerJob, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}
