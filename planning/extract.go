package planning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evolvai/evolv/core"
)

// planDocument is the wire shape the LLM returns.
type planDocument struct {
	Objective            string         `json:"objective"`
	Tasks                []taskDocument `json:"tasks"`
	ResourceRequirements []string       `json:"resource_requirements"`
	Constraints          []string       `json:"constraints"`
}

type taskDocument struct {
	ID                       string                 `json:"id"`
	Description              string                 `json:"description"`
	Type                     string                 `json:"type"`
	Tool                     string                 `json:"tool"`
	Parameters               map[string]interface{} `json:"parameters"`
	DependsOn                []string               `json:"depends_on"`
	EstimatedDurationSeconds float64                `json:"estimated_duration_seconds"`
	Critical                 bool                   `json:"critical"`
}

// ExtractPlanJSON pulls the JSON object out of an LLM response: first a
// fenced ```json block, then the first balanced brace run.
func ExtractPlanJSON(response string) (string, error) {
	if block, ok := fencedJSON(response); ok {
		return block, nil
	}
	if block, ok := balancedBraces(response); ok {
		return block, nil
	}
	return "", fmt.Errorf("%w: no JSON object in response", core.ErrPlanningFailed)
}

func fencedJSON(s string) (string, bool) {
	for _, fence := range []string{"```json", "```JSON", "```"} {
		start := strings.Index(s, fence)
		if start < 0 {
			continue
		}
		rest := s[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if strings.HasPrefix(candidate, "{") {
			return candidate, true
		}
	}
	return "", false
}

// balancedBraces scans for the first top-level {...} run, ignoring braces
// inside JSON strings.
func balancedBraces(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParsePlanResponse decodes an LLM planning response into tasks.
func ParsePlanResponse(response string) (planDocument, error) {
	raw, err := ExtractPlanJSON(response)
	if err != nil {
		return planDocument{}, err
	}
	var doc planDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return planDocument{}, fmt.Errorf("%w: %v", core.ErrPlanningFailed, err)
	}
	return doc, nil
}

func (d planDocument) toTasks() []core.Task {
	tasks := make([]core.Task, 0, len(d.Tasks))
	for _, td := range d.Tasks {
		tool := td.Tool
		if tool == "" {
			tool = core.ToolAuto
		}
		tasks = append(tasks, core.Task{
			ID:                td.ID,
			Description:       td.Description,
			Type:              td.Type,
			Tool:              tool,
			Parameters:        td.Parameters,
			DependsOn:         td.DependsOn,
			EstimatedDuration: time.Duration(td.EstimatedDurationSeconds * float64(time.Second)),
			Critical:          td.Critical,
		})
	}
	return tasks
}
