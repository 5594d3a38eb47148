package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SkillType classifies reusable procedures in the knowledge store.
type SkillType string

const (
	SkillProcedure  SkillType = "procedure"
	SkillStrategy   SkillType = "strategy"
	SkillTemplate   SkillType = "template"
	SkillRecipe     SkillType = "recipe"
	SkillAdaptation SkillType = "adaptation"
)

// SkillAuthor identifies who created a skill.
type SkillAuthor string

const (
	AuthorSystem SkillAuthor = "system"
	AuthorUser   SkillAuthor = "user"
)

// SkillStep is one ordered step of a procedure.
type SkillStep struct {
	Action        string                 `json:"action"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	RequiredTools []string               `json:"required_tools,omitempty"`
	Preconditions []string               `json:"preconditions,omitempty"`
}

// SkillMetrics holds the EWMA performance estimates for a skill.
type SkillMetrics struct {
	SuccessRate  float64       `json:"success_rate"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// SkillUsage tracks how often a skill has been used.
type SkillUsage struct {
	Total     int       `json:"total"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// Skill is a reusable, versioned procedure stored in the knowledge store.
type Skill struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Type             SkillType              `json:"type"`
	Version          string                 `json:"version"`
	Description      string                 `json:"description,omitempty"`
	Objectives       []string               `json:"objectives,omitempty"`
	Categories       []string               `json:"categories,omitempty"`
	Steps            []SkillStep            `json:"steps"`
	Preconditions    []string               `json:"preconditions,omitempty"`
	Postconditions   []string               `json:"postconditions,omitempty"`
	Metrics          SkillMetrics           `json:"metrics"`
	Usage            SkillUsage             `json:"usage"`
	Related          []string               `json:"related,omitempty"`
	Dependencies     []string               `json:"dependencies,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Author           SkillAuthor            `json:"author"`
	EstimatedTimeout time.Duration          `json:"estimated_timeout,omitempty"`
	Resources        map[string]interface{} `json:"resources,omitempty"`
	Embedding        []float32              `json:"-"`
	Deleted          bool                   `json:"deleted,omitempty"`
}

// SkillID derives a content-addressed identifier from the skill's name and
// description. Two skills with the same name and description collide on
// purpose: they describe the same procedure.
func SkillID(name, description string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + description))
	return "skill_" + hex.EncodeToString(sum[:8])
}

// EmbeddingText is the text the knowledge store embeds for semantic search.
func (s *Skill) EmbeddingText() string {
	parts := []string{s.Name}
	if s.Description != "" {
		parts = append(parts, s.Description)
	}
	parts = append(parts, s.Objectives...)
	return strings.Join(parts, " ")
}

// RecordUse folds one execution outcome into the skill's EWMA metrics and
// usage counters. alpha is the configured smoothing factor in (0, 1].
func (s *Skill) RecordUse(success bool, duration time.Duration, alpha float64) {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if s.Usage.Total == 0 {
		s.Metrics.SuccessRate = outcome
		s.Metrics.MeanDuration = duration
	} else {
		s.Metrics.SuccessRate = alpha*outcome + (1-alpha)*s.Metrics.SuccessRate
		s.Metrics.MeanDuration = time.Duration(alpha*float64(duration) + (1-alpha)*float64(s.Metrics.MeanDuration))
	}
	s.Usage.Total++
	if success {
		s.Usage.Successes++
	} else {
		s.Usage.Failures++
	}
	s.Usage.LastUsed = time.Now()
}

// BumpVersion increments the minor component of the skill's semantic version.
// Malformed versions reset to 1.0.0.
func (s *Skill) BumpVersion() {
	var major, minor, patch int
	if _, err := fmt.Sscanf(s.Version, "%d.%d.%d", &major, &minor, &patch); err != nil {
		s.Version = "1.0.0"
		return
	}
	s.Version = fmt.Sprintf("%d.%d.0", major, minor+1)
}
