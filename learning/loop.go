package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
	"github.com/evolvai/evolv/messaging"
)

// SkillUseRecorder feeds execution outcomes back into adapted skills.
type SkillUseRecorder interface {
	RecordSkillUse(ctx context.Context, id string, success bool, duration time.Duration) error
}

// Loop runs the learning pipeline: per-episode bookkeeping as episodes
// arrive, and full window analyses on a configured cadence.
type Loop struct {
	episodes  EpisodeReader
	knowledge KnowledgeWriter
	usage     SkillUseRecorder
	bus       messaging.Publisher
	config    core.LearningConfig
	logger    core.Logger

	episodeCh chan string
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu            sync.Mutex
	pendingImpact []pendingImpact
	lastReport    *Report
}

type pendingImpact struct {
	proposal  PreferenceProposal
	appliedAt time.Time
}

// episodeQueueSize bounds the per-episode scheduling channel. The
// orchestrator never blocks on learning: overflow episodes are picked up
// by the next periodic cycle anyway.
const episodeQueueSize = 128

// NewLoop wires the learning loop. usage and bus may be nil.
func NewLoop(episodes EpisodeReader, knowledge KnowledgeWriter, usage SkillUseRecorder, bus messaging.Publisher, config core.LearningConfig, logger core.Logger) *Loop {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if config.CycleInterval <= 0 {
		config.CycleInterval = time.Hour
	}
	if config.WindowHours <= 0 {
		config.WindowHours = 24
	}
	if config.MinEpisodesPerGroup <= 0 {
		config.MinEpisodesPerGroup = 3
	}
	if config.QualityThreshold <= 0 {
		config.QualityThreshold = defaultQualityThreshold
	}
	if config.ImprovementThreshold <= 0 {
		config.ImprovementThreshold = 0.1
	}
	if config.SuccessFraction <= 0 {
		config.SuccessFraction = 0.7
	}
	if config.ImpactWindow <= 0 {
		config.ImpactWindow = 7 * 24 * time.Hour
	}
	return &Loop{
		episodes:  episodes,
		knowledge: knowledge,
		usage:     usage,
		bus:       bus,
		config:    config,
		logger:    logger,
		episodeCh: make(chan string, episodeQueueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// ScheduleEpisode queues one episode for asynchronous processing. Never
// blocks: on overflow the episode waits for the periodic cycle.
func (l *Loop) ScheduleEpisode(episodeID string) {
	select {
	case l.episodeCh <- episodeID:
	default:
		l.logger.Debug("Episode queue full, deferring to periodic cycle", map[string]interface{}{
			"operation":  "learning_schedule",
			"episode_id": episodeID,
		})
	}
}

// Start launches the background loop.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.run(ctx)
	})
}

// Stop shuts the loop down and waits for the current cycle to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		<-l.doneCh
	})
}

// LastReport returns the most recent cycle report.
func (l *Loop) LastReport() *Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastReport
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.config.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-l.episodeCh:
			l.processEpisode(ctx, id)
		case <-ticker.C:
			report := l.RunCycle(ctx)
			l.mu.Lock()
			l.lastReport = report
			l.mu.Unlock()
		}
	}
}

// processEpisode handles one freshly recorded episode: feed the outcome
// back into the skill the plan was adapted from.
func (l *Loop) processEpisode(ctx context.Context, episodeID string) {
	e, err := l.episodes.Get(ctx, episodeID)
	if err != nil {
		l.logger.Warn("Scheduled episode unavailable", map[string]interface{}{
			"operation":  "learning_episode",
			"episode_id": episodeID,
			"error":      err.Error(),
		})
		return
	}
	if l.usage == nil || e.Plan.Metadata.SourceSkillID == "" {
		return
	}
	success := e.State == core.StateSuccess
	if err := l.usage.RecordSkillUse(ctx, e.Plan.Metadata.SourceSkillID, success, e.TotalDuration); err != nil {
		l.logger.Warn("Skill usage update failed", map[string]interface{}{
			"operation":  "learning_episode",
			"episode_id": episodeID,
			"skill_id":   e.Plan.Metadata.SourceSkillID,
			"error":      err.Error(),
		})
	}
}

// RunCycle executes the full pipeline over the configured window and
// returns the report. Analyses are failure-isolated: one failing
// analysis leaves its section empty with the error recorded.
func (l *Loop) RunCycle(ctx context.Context) *Report {
	now := time.Now()
	report := &Report{
		GeneratedAt: now,
		WindowFrom:  now.Add(-time.Duration(l.config.WindowHours) * time.Hour),
		WindowTo:    now,
	}

	episodes, err := l.episodes.List(ctx, memory.EpisodeFilter{From: report.WindowFrom, To: report.WindowTo}, 0)
	if err != nil {
		report.recordError("load", err)
		return report
	}
	report.Episodes = len(episodes)
	if len(episodes) == 0 {
		return report
	}
	rows := ExtractFeatures(episodes)

	// Fan out the independent analyses.
	var wg sync.WaitGroup
	var mu sync.Mutex
	analyses := []struct {
		name string
		fn   func() error
	}{
		{"tool_performance", func() error {
			aggregates, proposals := AnalyzeToolPerformance(episodes)
			mu.Lock()
			report.ToolAggregates = aggregates
			report.Proposals = proposals
			mu.Unlock()
			return nil
		}},
		{"pattern_detection", func() error {
			patterns := DetectPatterns(rows, l.config.SuccessFraction, l.config.DBSCANEps, l.config.DBSCANMinSamples)
			mu.Lock()
			report.Patterns = patterns
			mu.Unlock()
			return nil
		}},
		{"success_factors", func() error {
			factors := AnalyzeSuccessFactors(rows)
			mu.Lock()
			report.Factors = factors
			mu.Unlock()
			return nil
		}},
	}
	for _, a := range analyses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					report.recordError(a.name, fmt.Errorf("panic: %v", r))
					mu.Unlock()
				}
			}()
			if err := a.fn(); err != nil {
				mu.Lock()
				report.recordError(a.name, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Abstraction, evaluation, and integration run serialized: the
	// knowledge store write lock orders the mutations.
	byID := make(map[string]*core.Episode, len(episodes))
	for _, e := range episodes {
		byID[e.ID] = e
	}
	for _, candidate := range AbstractProcedures(episodes, l.config.MinEpisodesPerGroup) {
		sources := make([]*core.Episode, 0, len(candidate.SourceEpisodes))
		for _, id := range candidate.SourceEpisodes {
			if e, ok := byID[id]; ok {
				sources = append(sources, e)
			}
		}
		quality := EvaluateCandidate(candidate, sources, l.config.QualityThreshold)
		outcome := CandidateOutcome{Candidate: candidate, Quality: quality}
		if quality.Accepted && l.knowledge != nil {
			integration, err := IntegrateCandidate(ctx, l.knowledge, candidate, quality)
			if err != nil {
				report.recordError("integration", err)
			} else {
				outcome.Integration = integration
				if l.bus != nil && !integration.Skipped {
					evt := messaging.NewSkillUpdated("", integration.SkillID, integration.Name, integration.Version)
					_ = l.bus.Publish(ctx, messaging.TopicEvents, evt)
				}
			}
		}
		report.Candidates = append(report.Candidates, outcome)
	}

	if l.knowledge != nil {
		applied := ApplyPreferences(l.knowledge, report.Proposals, l.config.ImprovementThreshold)
		report.AppliedPreferences = applied
		l.mu.Lock()
		for _, p := range applied {
			l.pendingImpact = append(l.pendingImpact, pendingImpact{proposal: p, appliedAt: now})
		}
		l.mu.Unlock()
	}

	report.ImpactReports = l.measureDueImpacts(ctx, now)

	l.logger.Info("Learning cycle finished", map[string]interface{}{
		"operation":   "learning_cycle",
		"episodes":    report.Episodes,
		"patterns":    len(report.Patterns),
		"candidates":  len(report.Candidates),
		"preferences": len(report.AppliedPreferences),
		"errors":      len(report.Errors),
	})
	return report
}

// measureDueImpacts evaluates preference changes whose post-change
// window has fully elapsed.
func (l *Loop) measureDueImpacts(ctx context.Context, now time.Time) []ImpactReport {
	l.mu.Lock()
	var due, remaining []pendingImpact
	for _, p := range l.pendingImpact {
		if now.Sub(p.appliedAt) >= l.config.ImpactWindow {
			due = append(due, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	l.pendingImpact = remaining
	l.mu.Unlock()

	var reports []ImpactReport
	for _, p := range due {
		report, err := MeasureImpact(ctx, l.episodes, l.bus, p.proposal, p.appliedAt, l.config.ImpactWindow)
		if err != nil {
			l.logger.Warn("Impact measurement failed", map[string]interface{}{
				"operation": "learning_impact",
				"task_type": p.proposal.TaskType,
				"error":     err.Error(),
			})
			continue
		}
		reports = append(reports, report)
	}
	return reports
}
