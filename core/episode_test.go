package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEpisode(t *testing.T) *Episode {
	t.Helper()
	start := time.Now().Add(-3 * time.Second)
	end := time.Now()
	e := &Episode{
		ID:        NewEpisodeID(start, "search information about Go"),
		Goal:      "search information about Go",
		SessionID: "session-1",
		State:     StateSuccess,
		Results: []TaskResult{
			{TaskID: "t1", Success: true, State: StateSuccess, Duration: time.Second},
			{TaskID: "t2", Success: true, State: StateSuccess, Duration: 2 * time.Second},
		},
		TotalDuration: end.Sub(start),
		StartTime:     start,
		EndTime:       end,
		SystemVersion: Version,
	}
	e.ComputeMetrics()
	return e
}

func TestEpisodeSealAndVerify(t *testing.T) {
	e := sampleEpisode(t)
	e.Seal()

	require.NotEmpty(t, e.Checksum)
	assert.NoError(t, e.Verify())
	assert.Equal(t, e.ComputeChecksum(), e.Checksum)
}

func TestEpisodeVerifyDetectsTampering(t *testing.T) {
	e := sampleEpisode(t)
	e.Seal()

	e.Goal = "something else entirely"
	err := e.Verify()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestEpisodeVerifyRejectsMissingChecksum(t *testing.T) {
	e := sampleEpisode(t)
	assert.ErrorIs(t, e.Verify(), ErrIntegrity)
}

func TestEpisodeVerifyRejectsBadTimestamps(t *testing.T) {
	e := sampleEpisode(t)
	e.EndTime = e.StartTime.Add(-time.Second)
	e.Seal()
	assert.ErrorIs(t, e.Verify(), ErrIntegrity)
}

func TestEpisodeVerifyRejectsDurationDrift(t *testing.T) {
	e := sampleEpisode(t)
	e.TotalDuration = e.TotalDuration + 5*time.Second
	e.Seal()
	assert.ErrorIs(t, e.Verify(), ErrIntegrity)
}

func TestComputeMetrics(t *testing.T) {
	e := &Episode{
		Results: []TaskResult{
			{Success: true, Duration: time.Second, Retries: 1},
			{Success: true, Duration: 3 * time.Second},
			{Success: false, Duration: 2 * time.Second, Retries: 2},
			{Success: false, Duration: 2 * time.Second},
		},
	}
	e.ComputeMetrics()

	assert.Equal(t, 4, e.Metrics.TaskCount)
	assert.Equal(t, 2, e.Metrics.Succeeded)
	assert.Equal(t, 2, e.Metrics.Failed)
	assert.InDelta(t, 0.5, e.Metrics.SuccessRate, 1e-9)
	assert.Equal(t, 3, e.Metrics.TotalRetries)
	assert.Equal(t, 2*time.Second, e.Metrics.MeanTaskTime)
}

func TestPerformanceBand(t *testing.T) {
	tests := []struct {
		successRate float64
		band        string
	}{
		{1.0, BandExcellent},
		{0.8, BandExcellent},
		{0.7, BandGood},
		{0.6, BandGood},
		{0.5, BandFair},
		{0.4, BandFair},
		{0.2, BandPoor},
		{0, BandPoor},
	}
	for _, tt := range tests {
		e := &Episode{Metrics: EpisodeMetrics{SuccessRate: tt.successRate}}
		assert.Equal(t, tt.band, e.PerformanceBand(), "success rate %v", tt.successRate)
	}
}

func TestNewEpisodeIDFormat(t *testing.T) {
	start := time.Now()
	id := NewEpisodeID(start, "goal text")
	assert.Regexp(t, `^episode_\d+_[0-9a-f]{8}$`, id)

	// Same goal and instant give the same ID; different goals differ.
	assert.Equal(t, id, NewEpisodeID(start, "goal text"))
	assert.NotEqual(t, id, NewEpisodeID(start, "other goal"))
}
