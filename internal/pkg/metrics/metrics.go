// Package metrics 进程级 Prometheus 指标，统一以 vividoc_ 为前缀
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics 任务、模型调用与单元生成结果的指标集合
type Metrics struct {
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobsRunning prometheus.Gauge

	LLMCallsTotal   *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec

	UnitsTotal     *prometheus.CounterVec
	RevisionRounds prometheus.Histogram
}

// Get 返回全局指标，只注册一次，避免重复注册 panic
//
// 指标：
//   - vividoc_jobs_total{type,status}
//   - vividoc_job_duration_seconds{type}
//   - vividoc_jobs_running
//   - vividoc_llm_calls_total{op,result}
//   - vividoc_llm_call_duration_seconds{op}
//   - vividoc_units_total{outcome}
//   - vividoc_revision_rounds
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			JobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vividoc_jobs_total",
					Help: "Total number of finished jobs",
				},
				[]string{"type", "status"},
			),
			JobDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vividoc_job_duration_seconds",
					Help:    "Duration of jobs from creation to terminal state",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s ~ 34min
				},
				[]string{"type"},
			),
			JobsRunning: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "vividoc_jobs_running",
					Help: "Number of jobs currently running",
				},
			),
			LLMCallsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vividoc_llm_calls_total",
					Help: "Total number of chat model calls",
				},
				[]string{"op", "result"}, // result: ok, error
			),
			LLMCallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vividoc_llm_call_duration_seconds",
					Help:    "Duration of chat model calls",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
				},
				[]string{"op"},
			),
			UnitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vividoc_units_total",
					Help: "Total number of generated knowledge units by outcome",
				},
				[]string{"outcome"}, // validated, exhausted
			),
			RevisionRounds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "vividoc_revision_rounds",
					Help:    "Number of execution rounds per document",
					Buckets: []float64{1, 2, 3, 4, 5, 8},
				},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) JobStarted() {
	m.JobsRunning.Inc()
}

// JobFinished 记录任务终态与耗时
func (m *Metrics) JobFinished(jobType, status string, d time.Duration) {
	m.JobsRunning.Dec()
	m.JobsTotal.WithLabelValues(jobType, status).Inc()
	if d > 0 {
		m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
	}
}

func (m *Metrics) LLMCall(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LLMCallsTotal.WithLabelValues(op, result).Inc()
	m.LLMCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) UnitOutcome(validated bool) {
	if validated {
		m.UnitsTotal.WithLabelValues("validated").Inc()
		return
	}
	m.UnitsTotal.WithLabelValues("exhausted").Inc()
}

func (m *Metrics) Rounds(n int) {
	m.RevisionRounds.Observe(float64(n))
}
