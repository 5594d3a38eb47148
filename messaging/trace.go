package messaging

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceSpan is one timed step inside a trace. Spans nest: child spans
// attach to the span that was open when they started.
type TraceSpan struct {
	ID       string                 `json:"id"`
	ParentID string                 `json:"parent_id,omitempty"`
	Module   string                 `json:"module"`
	Action   string                 `json:"action"`
	Start    time.Time              `json:"start"`
	Duration time.Duration          `json:"duration"`
	Success  bool                   `json:"success"`
	Error    string                 `json:"error,omitempty"`
	Tags     map[string]interface{} `json:"tags,omitempty"`
	Children []*TraceSpan           `json:"children,omitempty"`

	collector *TraceCollector
	traceID   string
	ended     bool
}

// Trace is the span tree for one correlation ID.
type Trace struct {
	CorrelationID string        `json:"correlation_id"`
	Root          *TraceSpan    `json:"root"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
	Finalized     bool          `json:"finalized"`
}

type activeTrace struct {
	trace *Trace
	open  []*TraceSpan
}

// TraceCollector accumulates span trees keyed by correlation ID. A trace
// finalizes when its root span ends; finalized traces are retained up to
// maxRetained, oldest evicted first.
type TraceCollector struct {
	mu          sync.Mutex
	active      map[string]*activeTrace
	finalized   map[string]*Trace
	order       []string
	maxRetained int
}

// NewTraceCollector creates a collector retaining up to maxRetained
// finalized traces.
func NewTraceCollector(maxRetained int) *TraceCollector {
	if maxRetained <= 0 {
		maxRetained = 256
	}
	return &TraceCollector{
		active:      make(map[string]*activeTrace),
		finalized:   make(map[string]*Trace),
		maxRetained: maxRetained,
	}
}

// StartSpan opens a span under the correlation ID. The first span of a
// correlation ID becomes the trace root; later spans nest under the most
// recently opened span still running.
func (c *TraceCollector) StartSpan(correlationID, module, action string) *TraceSpan {
	c.mu.Lock()
	defer c.mu.Unlock()

	span := &TraceSpan{
		ID:        uuid.NewString(),
		Module:    module,
		Action:    action,
		Start:     time.Now(),
		collector: c,
		traceID:   correlationID,
	}

	at, ok := c.active[correlationID]
	if !ok {
		at = &activeTrace{
			trace: &Trace{
				CorrelationID: correlationID,
				Root:          span,
				Start:         span.Start,
			},
		}
		c.active[correlationID] = at
	} else {
		parent := at.open[len(at.open)-1]
		span.ParentID = parent.ID
		parent.Children = append(parent.Children, span)
	}
	at.open = append(at.open, span)
	return span
}

// SetTag attaches a key/value annotation to the span.
func (s *TraceSpan) SetTag(key string, value interface{}) {
	s.collector.mu.Lock()
	defer s.collector.mu.Unlock()
	if s.Tags == nil {
		s.Tags = make(map[string]interface{})
	}
	s.Tags[key] = value
}

// End closes the span. Ending the root span finalizes the trace. End is
// idempotent.
func (s *TraceSpan) End(success bool, errMsg string) {
	c := s.collector
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.Duration = time.Since(s.Start)
	s.Success = success
	s.Error = errMsg

	at, ok := c.active[s.traceID]
	if !ok {
		return
	}
	for i := len(at.open) - 1; i >= 0; i-- {
		if at.open[i] == s {
			at.open = append(at.open[:i], at.open[i+1:]...)
			break
		}
	}
	if s == at.trace.Root {
		at.trace.Duration = s.Duration
		at.trace.Finalized = true
		delete(c.active, s.traceID)
		c.retain(at.trace)
	}
}

func (c *TraceCollector) retain(t *Trace) {
	if _, exists := c.finalized[t.CorrelationID]; !exists {
		c.order = append(c.order, t.CorrelationID)
	}
	c.finalized[t.CorrelationID] = t
	for len(c.order) > c.maxRetained {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.finalized, evict)
	}
}

// GetTrace returns the trace for a correlation ID, finalized or still in
// flight.
func (c *TraceCollector) GetTrace(correlationID string) (*Trace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.finalized[correlationID]; ok {
		return t, true
	}
	if at, ok := c.active[correlationID]; ok {
		return at.trace, true
	}
	return nil, false
}

// FinalizedCount reports how many completed traces are retained.
func (c *TraceCollector) FinalizedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.finalized)
}
