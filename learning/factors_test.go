package learning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// durationRow builds a feature row where every scalar except duration is
// held constant.
func durationRow(id string, success bool, durationSecs float64) EpisodeFeatures {
	return EpisodeFeatures{
		EpisodeID:    id,
		Success:      success,
		DurationSecs: durationSecs,
		TaskCount:    2,
		SuccessRate:  0.5,
		UniqueTools:  2,
		TotalRetries: 1,
	}
}

func TestAnalyzeSuccessFactorsDurationDominates(t *testing.T) {
	var rows []EpisodeFeatures
	for i := 0; i < 5; i++ {
		rows = append(rows, durationRow(fmt.Sprintf("fast%d", i), true, 1.0+0.1*float64(i)))
		rows = append(rows, durationRow(fmt.Sprintf("slow%d", i), false, 10.0+0.1*float64(i)))
	}

	factors := AnalyzeSuccessFactors(rows)
	require.NotEmpty(t, factors)

	top := factors[0]
	assert.Equal(t, "duration_secs", top.Feature)
	assert.GreaterOrEqual(t, top.Importance, importanceCutoff)
	// Successful episodes are the fast ones.
	assert.Negative(t, top.Direction)

	for _, f := range factors {
		assert.NotEqual(t, "task_count", f.Feature, "constant feature should carry no importance")
	}
}

func TestAnalyzeSuccessFactorsNeedsEnoughRows(t *testing.T) {
	rows := []EpisodeFeatures{
		durationRow("a", true, 1),
		durationRow("b", false, 10),
	}
	assert.Nil(t, AnalyzeSuccessFactors(rows))
}

func TestAnalyzeSuccessFactorsNeedsBothClasses(t *testing.T) {
	var rows []EpisodeFeatures
	for i := 0; i < 6; i++ {
		rows = append(rows, durationRow(fmt.Sprintf("e%d", i), true, float64(i+1)))
	}
	assert.Nil(t, AnalyzeSuccessFactors(rows))
}
