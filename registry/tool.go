package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Tool is the contract every executable tool implements. Execute must
// honor ctx cancellation where possible; tools that cannot are abandoned
// by the execution engine when their deadline passes.
type Tool interface {
	Name() string
	Version() string
	Parameters() []ParameterSpec
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// ParameterSpec describes one tool parameter.
type ParameterSpec struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Default  interface{} `json:"default,omitempty"`
	Required bool        `json:"required"`
}

// Metrics tracks running per-tool execution counters. All updates are
// atomic: the execution path never takes a lock here.
type Metrics struct {
	total     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	totalNs   atomic.Int64

	mu   sync.Mutex
	last time.Time
}

// Record folds one execution into the counters.
func (m *Metrics) Record(success bool, duration time.Duration) {
	m.total.Add(1)
	if success {
		m.successes.Add(1)
	} else {
		m.failures.Add(1)
	}
	m.totalNs.Add(int64(duration))
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// Stats is a point-in-time copy of a tool's metrics.
type Stats struct {
	Total         int64         `json:"total"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	TotalTime     time.Duration `json:"total_time"`
	MeanTime      time.Duration `json:"mean_time"`
	SuccessRate   float64       `json:"success_rate"`
	LastExecution time.Time     `json:"last_execution,omitempty"`
}

// Snapshot returns a consistent-enough copy for ranking and reporting.
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		Total:     m.total.Load(),
		Successes: m.successes.Load(),
		Failures:  m.failures.Load(),
		TotalTime: time.Duration(m.totalNs.Load()),
	}
	if s.Total > 0 {
		s.MeanTime = s.TotalTime / time.Duration(s.Total)
		s.SuccessRate = float64(s.Successes) / float64(s.Total)
	}
	m.mu.Lock()
	s.LastExecution = m.last
	m.mu.Unlock()
	return s
}
