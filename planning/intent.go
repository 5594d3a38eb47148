package planning

import (
	"regexp"
	"strings"
)

// Intent is the coarse action class inferred from a goal.
type Intent string

const (
	IntentSearch    Intent = "search"
	IntentCreate    Intent = "create"
	IntentAnalyze   Intent = "analyze"
	IntentSummarize Intent = "summarize"
	IntentGeneral   Intent = "general"
)

// GoalAnalysis is the preprocessing result the planner works from.
type GoalAnalysis struct {
	Raw        string
	Normalized string
	Intent     Intent
	Complex    bool
	Entities   []string
	TaskType   string
}

var intentKeywords = map[Intent][]string{
	IntentSearch:    {"search", "find", "look up", "lookup", "locate", "fetch", "retrieve", "query"},
	IntentCreate:    {"create", "write", "generate", "build", "compose", "draft", "produce", "make"},
	IntentAnalyze:   {"analyze", "analyse", "compare", "evaluate", "inspect", "review", "examine", "assess"},
	IntentSummarize: {"summarize", "summarise", "summary", "condense", "digest", "brief", "tl;dr"},
}

// intentTaskTypes maps intents to the task type the registry understands.
var intentTaskTypes = map[Intent]string{
	IntentSearch:    "search",
	IntentCreate:    "generate",
	IntentAnalyze:   "analyze",
	IntentSummarize: "generate",
	IntentGeneral:   "generate",
}

var complexityMarkers = []string{
	"and then", "after that", "step by step", "multiple", "several",
	"for each", "compare", "combine", "across", "pipeline",
}

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	quotedRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	urlRe    = regexp.MustCompile(`https?://\S+`)
)

// AnalyzeGoal normalizes the goal text and classifies its intent and
// complexity.
func AnalyzeGoal(goal string) GoalAnalysis {
	normalized := strings.ToLower(strings.TrimSpace(goal))
	normalized = spaceRe.ReplaceAllString(normalized, " ")

	analysis := GoalAnalysis{
		Raw:        goal,
		Normalized: normalized,
		Intent:     classifyIntent(normalized),
		Entities:   extractEntities(goal),
	}
	analysis.TaskType = intentTaskTypes[analysis.Intent]
	analysis.Complex = isComplex(normalized)
	return analysis
}

// classifyIntent picks the intent whose keyword group scores most hits;
// first match order breaks ties.
func classifyIntent(normalized string) Intent {
	best := IntentGeneral
	bestScore := 0
	for _, intent := range []Intent{IntentSearch, IntentCreate, IntentAnalyze, IntentSummarize} {
		score := 0
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(normalized, kw) {
				score++
			}
		}
		if score > bestScore {
			best = intent
			bestScore = score
		}
	}
	return best
}

func isComplex(normalized string) bool {
	if len(normalized) > 200 {
		return true
	}
	if strings.Count(normalized, ",")+strings.Count(normalized, ";") >= 3 {
		return true
	}
	for _, marker := range complexityMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// extractEntities pulls quoted phrases and URLs out of the raw goal.
func extractEntities(goal string) []string {
	var entities []string
	for _, m := range quotedRe.FindAllStringSubmatch(goal, -1) {
		if m[1] != "" {
			entities = append(entities, m[1])
		} else if m[2] != "" {
			entities = append(entities, m[2])
		}
	}
	entities = append(entities, urlRe.FindAllString(goal, -1)...)
	return entities
}

// TaggedObjective prefixes the objective with its intent tag.
func (a GoalAnalysis) TaggedObjective() string {
	return "[" + string(a.Intent) + "] " + a.Raw
}
