package learning

import (
	"time"
)

// CandidateOutcome pairs a candidate with its evaluation and what
// happened to it.
type CandidateOutcome struct {
	Candidate   CandidateSkill    `json:"candidate"`
	Quality     QualityReport     `json:"quality"`
	Integration IntegrationResult `json:"integration"`
}

// Report is the outcome of one learning cycle. Analyses that failed
// leave their section empty and record the error under Errors, keyed by
// analysis name.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	WindowFrom  time.Time `json:"window_from"`
	WindowTo    time.Time `json:"window_to"`
	Episodes    int       `json:"episodes"`

	ToolAggregates     []ToolAggregate      `json:"tool_aggregates,omitempty"`
	Proposals          []PreferenceProposal `json:"proposals,omitempty"`
	AppliedPreferences []PreferenceProposal `json:"applied_preferences,omitempty"`
	Patterns           []Pattern            `json:"patterns,omitempty"`
	Factors            []Factor             `json:"factors,omitempty"`
	Candidates         []CandidateOutcome   `json:"candidates,omitempty"`
	ImpactReports      []ImpactReport       `json:"impact_reports,omitempty"`

	Errors map[string]string `json:"errors,omitempty"`
}

func (r *Report) recordError(analysis string, err error) {
	if err == nil {
		return
	}
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[analysis] = err.Error()
}
