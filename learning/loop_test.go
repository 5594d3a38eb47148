package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// fakeEpisodes is an in-memory EpisodeReader.
type fakeEpisodes struct {
	mu      sync.Mutex
	byID    map[string]*core.Episode
	list    []*core.Episode
	listErr error
	listFn  func(filter memory.EpisodeFilter) []*core.Episode
}

func newFakeEpisodes(episodes ...*core.Episode) *fakeEpisodes {
	f := &fakeEpisodes{byID: make(map[string]*core.Episode)}
	for _, e := range episodes {
		f.byID[e.ID] = e
		f.list = append(f.list, e)
	}
	return f
}

func (f *fakeEpisodes) Get(ctx context.Context, id string) (*core.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, errors.New("episode not found")
	}
	return e, nil
}

func (f *fakeEpisodes) List(ctx context.Context, filter memory.EpisodeFilter, limit int) ([]*core.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listFn != nil {
		return f.listFn(filter), nil
	}
	return f.list, nil
}

// usageRecorder records RecordSkillUse calls.
type usageRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (u *usageRecorder) RecordSkillUse(ctx context.Context, id string, success bool, duration time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, id)
	return nil
}

func (u *usageRecorder) snapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

func testLoopConfig() core.LearningConfig {
	return core.LearningConfig{
		CycleInterval:       time.Hour,
		WindowHours:         24,
		MinEpisodesPerGroup: 3,
		ImpactWindow:        time.Nanosecond,
	}
}

func TestRunCycle(t *testing.T) {
	reader := newFakeEpisodes(
		twoStepEpisode(0, core.StateSuccess, 2*time.Second),
		twoStepEpisode(1, core.StateSuccess, 3*time.Second),
		twoStepEpisode(2, core.StateSuccess, 4*time.Second),
		twoStepEpisode(10, core.StateFailure, 3*time.Second),
	)
	kw := newFakeKnowledge()
	loop := NewLoop(reader, kw, nil, nil, testLoopConfig(), nil)

	report := loop.RunCycle(context.Background())
	require.NotNil(t, report)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 4, report.Episodes)

	// One tool per task type, so each becomes a proposal and both clear
	// the improvement threshold.
	assert.Len(t, report.ToolAggregates, 2)
	require.Len(t, report.AppliedPreferences, 2)
	tool, ok := kw.PreferredTool(core.TaskTypeSearch)
	require.True(t, ok)
	assert.Equal(t, "http_fetch", tool)

	// The three successes share a structure and become an accepted,
	// integrated procedure.
	require.Len(t, report.Candidates, 1)
	outcome := report.Candidates[0]
	assert.True(t, outcome.Quality.Accepted)
	assert.Equal(t, "1.0.0", outcome.Integration.Version)
	assert.Len(t, kw.skills, 1)

	// Impact is not measured in the cycle that applied the change.
	assert.Empty(t, report.ImpactReports)

	second := loop.RunCycle(context.Background())
	assert.Empty(t, second.AppliedPreferences, "preferences already in place")
	assert.Len(t, second.ImpactReports, 2, "pending impacts now past their window")
}

func TestRunCycleReaderFailure(t *testing.T) {
	reader := newFakeEpisodes()
	reader.listErr = errors.New("database locked")
	loop := NewLoop(reader, newFakeKnowledge(), nil, nil, testLoopConfig(), nil)

	report := loop.RunCycle(context.Background())
	assert.Zero(t, report.Episodes)
	assert.Contains(t, report.Errors["load"], "database locked")
}

func TestRunCycleEmptyWindow(t *testing.T) {
	loop := NewLoop(newFakeEpisodes(), newFakeKnowledge(), nil, nil, testLoopConfig(), nil)
	report := loop.RunCycle(context.Background())
	assert.Zero(t, report.Episodes)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Candidates)
}

func TestScheduleEpisodeRecordsSkillUse(t *testing.T) {
	adapted := twoStepEpisode(0, core.StateSuccess, 2*time.Second)
	adapted.Plan.Metadata.SourceSkillID = "skill_7"
	generated := twoStepEpisode(1, core.StateSuccess, 2*time.Second)

	reader := newFakeEpisodes(adapted, generated)
	usage := &usageRecorder{}
	loop := NewLoop(reader, newFakeKnowledge(), usage, nil, testLoopConfig(), nil)

	loop.Start(context.Background())
	defer loop.Stop()

	loop.ScheduleEpisode(adapted.ID)
	loop.ScheduleEpisode(generated.ID) // no source skill, ignored
	loop.ScheduleEpisode("missing")    // logged, not fatal

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(usage.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []string{"skill_7"}, usage.snapshot())
}

func TestMeasureImpactFlagsRegression(t *testing.T) {
	appliedAt := time.Now()

	goodBefore := toolEpisode(0, core.TaskTypeSearch, "http_fetch", true, time.Second)
	badAfter := toolEpisode(1, core.TaskTypeSearch, "http_fetch", false, 5*time.Second)

	reader := newFakeEpisodes()
	reader.listFn = func(filter memory.EpisodeFilter) []*core.Episode {
		if filter.To.After(appliedAt) {
			return []*core.Episode{badAfter}
		}
		return []*core.Episode{goodBefore}
	}

	p := PreferenceProposal{TaskType: core.TaskTypeSearch, Tool: "http_fetch"}
	report, err := MeasureImpact(context.Background(), reader, nil, p, appliedAt, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.BeforeSamples)
	assert.Equal(t, 1, report.AfterSamples)
	assert.Equal(t, 1.0, report.BeforeComposite)
	assert.Less(t, report.AfterComposite, report.BeforeComposite-regressionMargin)
	assert.True(t, report.Regressed)
}

func TestMeasureImpactNoSamplesNoFlag(t *testing.T) {
	reader := newFakeEpisodes()
	p := PreferenceProposal{TaskType: core.TaskTypeSearch, Tool: "http_fetch"}
	report, err := MeasureImpact(context.Background(), reader, nil, p, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.False(t, report.Regressed)
	assert.Zero(t, report.BeforeSamples)
}
