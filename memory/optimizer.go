package memory

import (
	"context"
	"time"

	"github.com/evolvai/evolv/core"
)

// StartOptimizer runs the background knowledge maintenance loop: pruning
// skills unused beyond the configured age, re-indexing embeddings, and
// recomputing aggregate statistics. It returns immediately; the loop stops
// when ctx is done or the store is closed.
func (ks *KnowledgeStore) StartOptimizer(ctx context.Context) {
	interval := ks.config.OptimizeInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ks.stopCh:
				return
			case <-ticker.C:
				if err := ks.Optimize(ctx); err != nil {
					ks.logger.Warn("Knowledge optimization failed", map[string]interface{}{
						"operation": "knowledge_optimize",
						"error":     err.Error(),
					})
				}
			}
		}
	}()
}

// OptimizeStats summarizes one optimization pass.
type OptimizeStats struct {
	Pruned      int       `json:"pruned"`
	Reindexed   int       `json:"reindexed"`
	LiveSkills  int       `json:"live_skills"`
	MeanSuccess float64   `json:"mean_success"`
	LastRun     time.Time `json:"last_run"`
}

// LastOptimize returns the stats of the most recent optimization pass.
// A zero LastRun means no pass has completed yet.
func (ks *KnowledgeStore) LastOptimize() OptimizeStats {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.lastOptimize
}

// Optimize performs one maintenance pass.
func (ks *KnowledgeStore) Optimize(ctx context.Context) error {
	maxAge := ks.config.SkillMaxAge
	if maxAge <= 0 {
		maxAge = 90 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	stats := OptimizeStats{LastRun: time.Now()}
	var successSum float64
	for _, s := range ks.skills {
		if s.Deleted {
			continue
		}
		lastTouched := s.Usage.LastUsed
		if lastTouched.IsZero() {
			lastTouched = s.UpdatedAt
		}
		if lastTouched.Before(cutoff) {
			s.Deleted = true
			s.UpdatedAt = time.Now()
			_ = ks.collection.Delete(ctx, nil, nil, s.ID)
			stats.Pruned++
			continue
		}

		embedding, err := ks.embed(ctx, s.EmbeddingText())
		if err != nil {
			return &core.FrameworkError{Op: "knowledge.Optimize", Kind: "store", ID: s.ID, Err: err}
		}
		s.Embedding = embedding
		if err := ks.indexLocked(ctx, s); err != nil {
			return err
		}
		stats.Reindexed++
		stats.LiveSkills++
		successSum += s.Metrics.SuccessRate
	}
	if stats.LiveSkills > 0 {
		stats.MeanSuccess = successSum / float64(stats.LiveSkills)
	}

	if err := ks.persistLocked(); err != nil {
		return err
	}
	ks.lastOptimize = stats
	ks.logger.Info("Knowledge store optimized", map[string]interface{}{
		"operation":    "knowledge_optimize",
		"pruned":       stats.Pruned,
		"reindexed":    stats.Reindexed,
		"live_skills":  stats.LiveSkills,
		"mean_success": stats.MeanSuccess,
	})
	return nil
}
