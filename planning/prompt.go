package planning

import (
	"fmt"
	"sort"
	"strings"
)

// planSchema is the strict output contract the LLM must satisfy. Keeping
// it a literal keeps prompt construction deterministic.
const planSchema = `{
  "objective": "string",
  "tasks": [
    {
      "id": "string, unique within the plan",
      "description": "string",
      "type": "one of: search | generate | analyze | call",
      "tool": "registered tool name or \"auto\"",
      "parameters": {"key": "value"},
      "depends_on": ["task ids this task requires"],
      "estimated_duration_seconds": 0,
      "critical": false
    }
  ],
  "resource_requirements": ["string"],
  "constraints": ["string"]
}`

// BuildPlanPrompt renders the planning prompt for a goal. The same
// analysis and context always produce the same prompt text.
func BuildPlanPrompt(analysis GoalAnalysis, context map[string]interface{}, knownTools []string) string {
	var b strings.Builder
	b.WriteString("You are a task planner. Decompose the goal into an executable plan.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", analysis.TaggedObjective())
	if len(analysis.Entities) > 0 {
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(analysis.Entities, ", "))
	}
	if len(context) > 0 {
		b.WriteString("Context:\n")
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, context[k])
		}
	}
	if len(knownTools) > 0 {
		tools := append([]string(nil), knownTools...)
		sort.Strings(tools)
		fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(tools, ", "))
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Every task id must be unique and every depends_on entry must name a task in the plan.\n")
	b.WriteString("- The dependency graph must be acyclic.\n")
	b.WriteString("- search tasks require a \"query\" parameter; generate tasks require a \"prompt\" parameter.\n")
	b.WriteString("- Use \"auto\" for the tool when no specific tool fits.\n")
	b.WriteString("\nRespond with a single JSON object matching this schema, inside a ```json code block:\n")
	b.WriteString(planSchema)
	b.WriteString("\n")
	return b.String()
}

// BuildAdaptPrompt asks the LLM to rewrite a skill's steps for a new
// goal while keeping the step order.
func BuildAdaptPrompt(analysis GoalAnalysis, skillName string, steps string) string {
	var b strings.Builder
	b.WriteString("You are adapting a proven procedure to a new goal.\n\n")
	fmt.Fprintf(&b, "New goal: %s\n", analysis.TaggedObjective())
	fmt.Fprintf(&b, "Procedure %q steps (JSON):\n%s\n", skillName, steps)
	b.WriteString("\nRewrite the descriptions and parameters so each step serves the new goal.\n")
	b.WriteString("Keep the step order, ids, types, and dependency structure exactly as given.\n")
	b.WriteString("Respond with a single JSON object matching this schema, inside a ```json code block:\n")
	b.WriteString(planSchema)
	b.WriteString("\n")
	return b.String()
}
