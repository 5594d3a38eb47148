package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EpisodeMetrics are the aggregate performance numbers of one execution.
type EpisodeMetrics struct {
	TaskCount    int           `json:"task_count"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	SuccessRate  float64       `json:"success_rate"`
	TotalRetries int           `json:"total_retries"`
	MeanTaskTime time.Duration `json:"mean_task_time"`
}

// Feedback is optional user feedback attached to an episode after the fact.
// It lives outside the checksummed invariant fields.
type Feedback struct {
	Rating  int       `json:"rating"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

// Episode is the immutable record of one goal execution. Once appended to
// the episodic log it is never mutated; readers verify the checksum before
// trusting the record.
type Episode struct {
	ID            string                 `json:"id"`
	Goal          string                 `json:"goal"`
	SessionID     string                 `json:"session_id"`
	Plan          Plan                   `json:"plan"`
	Results       []TaskResult           `json:"results"`
	State         ExecutionState         `json:"state"`
	TotalDuration time.Duration          `json:"total_duration"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Metrics       EpisodeMetrics         `json:"metrics"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time"`
	SystemVersion string                 `json:"system_version"`
	Checksum      string                 `json:"checksum"`
	Feedback      *Feedback              `json:"feedback,omitempty"`
	Evaluation    float64                `json:"evaluation"`
}

// NewEpisodeID builds an episode identifier of the form
// episode_<timestamp>_<hash>.
func NewEpisodeID(start time.Time, goal string) string {
	sum := sha256.Sum256([]byte(goal))
	return fmt.Sprintf("episode_%d_%s", start.UnixNano(), hex.EncodeToString(sum[:4]))
}

// canonical returns the byte representation of the invariant fields the
// checksum covers. The format is fixed: changing it invalidates every
// stored episode.
func (e *Episode) canonical() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%s",
		e.Goal,
		e.StartTime.UnixNano(),
		e.EndTime.UnixNano(),
		e.SystemVersion,
	))
}

// ComputeChecksum derives the SHA-256 integrity checksum over the episode's
// invariant fields.
func (e *Episode) ComputeChecksum() string {
	sum := sha256.Sum256(e.canonical())
	return hex.EncodeToString(sum[:])
}

// Seal computes and stores the checksum. Call exactly once, after all
// invariant fields are final.
func (e *Episode) Seal() {
	e.Checksum = e.ComputeChecksum()
}

// durationTolerance is the allowed gap between TotalDuration and the
// end-start interval.
const durationTolerance = time.Second

// Verify re-derives the checksum and validates temporal consistency.
func (e *Episode) Verify() error {
	if e.Checksum == "" {
		return &FrameworkError{Op: "episode.Verify", Kind: "store", ID: e.ID, Err: ErrIntegrity, Message: "missing checksum"}
	}
	if got := e.ComputeChecksum(); got != e.Checksum {
		return &FrameworkError{Op: "episode.Verify", Kind: "store", ID: e.ID, Err: ErrIntegrity, Message: "checksum mismatch"}
	}
	if !e.EndTime.After(e.StartTime) {
		return &FrameworkError{Op: "episode.Verify", Kind: "store", ID: e.ID, Err: ErrIntegrity, Message: "end time not after start time"}
	}
	wall := e.EndTime.Sub(e.StartTime)
	diff := wall - e.TotalDuration
	if diff < 0 {
		diff = -diff
	}
	if diff > durationTolerance {
		return &FrameworkError{Op: "episode.Verify", Kind: "store", ID: e.ID, Err: ErrIntegrity, Message: "duration inconsistent with timestamps"}
	}
	return nil
}

// Performance bands used by the episodic log's secondary index.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandFair      = "fair"
	BandPoor      = "poor"
)

// PerformanceBand buckets the episode by success rate.
func (e *Episode) PerformanceBand() string {
	switch sr := e.Metrics.SuccessRate; {
	case sr >= 0.8:
		return BandExcellent
	case sr >= 0.6:
		return BandGood
	case sr >= 0.4:
		return BandFair
	default:
		return BandPoor
	}
}

// ComputeMetrics aggregates the task results into episode metrics.
func (e *Episode) ComputeMetrics() {
	m := EpisodeMetrics{TaskCount: len(e.Results)}
	var total time.Duration
	for _, r := range e.Results {
		if r.Success {
			m.Succeeded++
		} else {
			m.Failed++
		}
		m.TotalRetries += r.Retries
		total += r.Duration
	}
	if m.TaskCount > 0 {
		m.SuccessRate = float64(m.Succeeded) / float64(m.TaskCount)
		m.MeanTaskTime = total / time.Duration(m.TaskCount)
	}
	e.Metrics = m
}
