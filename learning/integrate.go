package learning

import (
	"context"
	"strings"
	"time"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/memory"
)

// nameSimilarityThreshold decides when two skill names describe the same
// procedure.
const nameSimilarityThreshold = 0.8

// KnowledgeWriter is the slice of the knowledge store the integrator
// mutates. The store serializes writers internally.
type KnowledgeWriter interface {
	SaveSkill(ctx context.Context, skill *core.Skill) (string, error)
	UpdateSkill(ctx context.Context, id string, patch memory.SkillPatch) (*core.Skill, error)
	ListAll(filter memory.SkillFilter, limit int) []core.Skill
	PreferredTool(taskType string) (string, bool)
	SetPreferredTool(taskType, tool string)
}

// IntegrationResult reports what one candidate became.
type IntegrationResult struct {
	SkillID  string `json:"skill_id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Replaced bool   `json:"replaced"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

// IntegrateCandidate folds an accepted candidate into the knowledge
// store: a near-duplicate with a worse composite is replaced (its prior
// version stays in history through the version bump), otherwise the
// candidate is inserted fresh at 1.0.0.
func IntegrateCandidate(ctx context.Context, kw KnowledgeWriter, c CandidateSkill, quality QualityReport) (IntegrationResult, error) {
	existing, found := findNearDuplicate(kw, c.Name)
	if found {
		if existingComposite(existing) >= quality.Composite {
			return IntegrationResult{
				SkillID: existing.ID,
				Name:    existing.Name,
				Version: existing.Version,
				Skipped: true,
				Reason:  "existing skill scores higher",
			}, nil
		}
		desc := c.Description
		updated, err := kw.UpdateSkill(ctx, existing.ID, memory.SkillPatch{
			Description: &desc,
			Categories:  c.Categories,
			Steps:       c.Steps,
			Metrics: &core.SkillMetrics{
				SuccessRate:  c.SuccessRate,
				MeanDuration: c.MeanDuration,
			},
		})
		if err != nil {
			return IntegrationResult{}, err
		}
		return IntegrationResult{
			SkillID:  updated.ID,
			Name:     updated.Name,
			Version:  updated.Version,
			Replaced: true,
		}, nil
	}

	skill := &core.Skill{
		Name:        c.Name,
		Type:        core.SkillProcedure,
		Version:     "1.0.0",
		Description: c.Description,
		Categories:  c.Categories,
		Steps:       c.Steps,
		Metrics: core.SkillMetrics{
			SuccessRate:  c.SuccessRate,
			MeanDuration: c.MeanDuration,
		},
		Author:           core.AuthorSystem,
		EstimatedTimeout: c.MeanDuration * 2,
		Resources: map[string]interface{}{
			"quality_composite": quality.Composite,
			"source_episodes":   c.SourceEpisodes,
			"derived_at":        time.Now().Format(time.RFC3339),
		},
	}
	id, err := kw.SaveSkill(ctx, skill)
	if err != nil {
		return IntegrationResult{}, err
	}
	return IntegrationResult{SkillID: id, Name: c.Name, Version: "1.0.0"}, nil
}

// ApplyPreferences promotes proposed tools whose improvement clears the
// threshold. Re-running over the same window is a no-op: the store skips
// writes when the preferred tool is unchanged.
func ApplyPreferences(kw KnowledgeWriter, proposals []PreferenceProposal, improvementThreshold float64) []PreferenceProposal {
	if improvementThreshold <= 0 {
		improvementThreshold = 0.1
	}
	var applied []PreferenceProposal
	for _, p := range proposals {
		current, has := kw.PreferredTool(p.TaskType)
		if has && current == p.Tool {
			continue
		}
		if p.Improvement < improvementThreshold {
			continue
		}
		kw.SetPreferredTool(p.TaskType, p.Tool)
		applied = append(applied, p)
	}
	return applied
}

func findNearDuplicate(kw KnowledgeWriter, name string) (core.Skill, bool) {
	var best core.Skill
	bestScore := 0.0
	for _, s := range kw.ListAll(memory.SkillFilter{}, 0) {
		score := nameSimilarity(name, s.Name)
		if score > bestScore {
			best = s
			bestScore = score
		}
	}
	return best, bestScore >= nameSimilarityThreshold
}

// nameSimilarity is token-set Jaccard over lowercased names.
func nameSimilarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		set[tok] = true
	}
	return set
}

func existingComposite(s core.Skill) float64 {
	if s.Resources != nil {
		if v, ok := s.Resources["quality_composite"].(float64); ok {
			return v
		}
	}
	return s.Metrics.SuccessRate
}
