package learning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureRow(id string, successRate float64, tools ...string) EpisodeFeatures {
	row := EpisodeFeatures{
		EpisodeID:   id,
		Success:     successRate == 1.0,
		SuccessRate: successRate,
		TaskCount:   len(tools),
		ToolUsage:   make(map[string]int),
	}
	for _, tool := range tools {
		row.ToolUsage[tool]++
		row.ToolSequence = append(row.ToolSequence, tool)
	}
	row.UniqueTools = len(row.ToolUsage)
	return row
}

func TestDetectPatterns(t *testing.T) {
	var rows []EpisodeFeatures
	for i := 0; i < 4; i++ {
		rows = append(rows, featureRow(fmt.Sprintf("e%d", i), 1.0, "http_fetch", "text_generate"))
	}
	// Different tool mix, too far from the cluster to join it.
	rows = append(rows, featureRow("outlier", 1.0, "shell_exec"))
	// Below the success fraction, filtered before clustering.
	rows = append(rows, featureRow("failed", 0.5, "http_fetch", "text_generate"))

	patterns := DetectPatterns(rows, 0.7, 0.3, 3)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, 4, p.Size)
	assert.Equal(t, []string{"http_fetch", "text_generate"}, p.Representative)
	assert.ElementsMatch(t, []string{"e0", "e1", "e2", "e3"}, p.EpisodeIDs)
	assert.NotContains(t, p.EpisodeIDs, "failed")
}

func TestDetectPatternsTooFewRows(t *testing.T) {
	rows := []EpisodeFeatures{
		featureRow("e0", 1.0, "http_fetch"),
		featureRow("e1", 1.0, "http_fetch"),
	}
	assert.Nil(t, DetectPatterns(rows, 0.7, 0.3, 3))
}

func TestDBSCAN(t *testing.T) {
	points := [][]float64{
		{0.0}, {0.05}, {0.1}, // cluster 0
		{1.0}, {1.05}, {1.1}, // cluster 1
		{5.0}, // noise
	}

	labels := dbscan(points, 0.2, 2)
	require.Len(t, labels, 7)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[4], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
	assert.Equal(t, noiseLabel, labels[6])
}

func TestRepresentativeSequence(t *testing.T) {
	sequences := [][]string{
		{"a", "b"},
		{"a", "b"},
		{"a", "c"},
		{"x"},
	}
	// Modal length is two; per-position counts favor the a,b sequence.
	assert.Equal(t, []string{"a", "b"}, representativeSequence(sequences))
	assert.Nil(t, representativeSequence(nil))
}
