package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/registry"
)

// Transform performs local data reshaping for analyze tasks: summaries,
// word counts, JSON field extraction. It never touches the network.
type Transform struct{}

// NewTransform creates the transform tool.
func NewTransform() *Transform { return &Transform{} }

func (t *Transform) Name() string    { return "transform" }
func (t *Transform) Version() string { return "1.0.0" }

func (t *Transform) Parameters() []registry.ParameterSpec {
	return []registry.ParameterSpec{
		{Name: "input", Type: "string", Required: true},
		{Name: "operation", Type: "string", Default: "stats"},
		{Name: "field", Type: "string"},
	}
}

func (t *Transform) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	input := fmt.Sprint(params["input"])
	if input == "" || params["input"] == nil {
		return nil, fmt.Errorf("%w: transform requires input", core.ErrInvalidTask)
	}
	operation, _ := params["operation"].(string)
	if operation == "" {
		operation = "stats"
	}

	switch operation {
	case "stats":
		return textStats(input), nil
	case "upper":
		return strings.ToUpper(input), nil
	case "lower":
		return strings.ToLower(input), nil
	case "extract":
		field, _ := params["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("%w: extract requires field", core.ErrInvalidTask)
		}
		return extractField(input, field)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", core.ErrInvalidTask, operation)
	}
}

func textStats(input string) map[string]interface{} {
	words := strings.Fields(input)
	freq := make(map[string]int)
	for _, w := range words {
		freq[strings.ToLower(strings.Trim(w, ".,;:!?"))]++
	}
	type wc struct {
		word  string
		count int
	}
	top := make([]wc, 0, len(freq))
	for w, c := range freq {
		top = append(top, wc{w, c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].count != top[j].count {
			return top[i].count > top[j].count
		}
		return top[i].word < top[j].word
	})
	if len(top) > 5 {
		top = top[:5]
	}
	topWords := make([]string, len(top))
	for i, t := range top {
		topWords[i] = t.word
	}
	return map[string]interface{}{
		"chars":     len(input),
		"words":     len(words),
		"lines":     strings.Count(input, "\n") + 1,
		"top_words": topWords,
	}
}

func extractField(input, field string) (interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(input), &doc); err != nil {
		return nil, fmt.Errorf("transform: input is not a JSON object: %w", err)
	}
	value, ok := doc[field]
	if !ok {
		return nil, fmt.Errorf("transform: field %q not present", field)
	}
	return value, nil
}
