package execution

import (
	"context"
	"errors"
	"strings"

	"github.com/evolvai/evolv/core"
)

// RetryAction is the recommended handling for a classified error.
type RetryAction string

const (
	ActionImmediate   RetryAction = "immediate"
	ActionBackoff     RetryAction = "backoff-retry"
	ActionExponential RetryAction = "exponential-backoff"
	ActionEscalate    RetryAction = "escalate"
)

// Classification is the engine's verdict on a failed execution.
type Classification struct {
	Kind        string
	Category    string
	Recoverable bool
	Action      RetryAction
	Confidence  float64
}

// classifierRule matches an error by sentinel or message substring.
type classifierRule struct {
	sentinel   error
	substrings []string
	result     Classification
}

// The pattern table, checked in order. Mechanical error types (context
// deadline, sentinel errors) match before message substrings.
var classifierRules = []classifierRule{
	{
		sentinel:   context.DeadlineExceeded,
		substrings: []string{"timeout", "timed out", "deadline exceeded"},
		result:     Classification{Kind: "timeout", Category: "performance", Recoverable: true, Action: ActionBackoff, Confidence: 0.9},
	},
	{
		sentinel:   core.ErrConnectionFailed,
		substrings: []string{"connection refused", "cannot connect", "no such host", "connection reset"},
		result:     Classification{Kind: "conn-refused", Category: "infrastructure", Recoverable: true, Action: ActionBackoff, Confidence: 0.9},
	},
	{
		sentinel:   core.ErrRateLimited,
		substrings: []string{"rate limit", "too many requests", "429"},
		result:     Classification{Kind: "rate-limit", Category: "resources", Recoverable: true, Action: ActionExponential, Confidence: 0.9},
	},
	{
		sentinel:   core.ErrAuthFailed,
		substrings: []string{"unauthorized", "invalid token", "forbidden", "401", "403"},
		result:     Classification{Kind: "auth", Category: "security", Recoverable: false, Action: ActionEscalate, Confidence: 0.9},
	},
	{
		sentinel:   core.ErrToolNotFound,
		substrings: []string{"not found", "404"},
		result:     Classification{Kind: "missing-resource", Category: "configuration", Recoverable: false, Action: ActionEscalate, Confidence: 0.85},
	},
}

var unknownClassification = Classification{
	Kind: "unknown", Category: "unclassified", Recoverable: false, Action: ActionEscalate, Confidence: 0.3,
}

// Classify maps an execution error onto the pattern table.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrSessionCanceled) {
		return Classification{Kind: "canceled", Category: "lifecycle", Recoverable: false, Action: ActionEscalate, Confidence: 1.0}
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifierRules {
		if rule.sentinel != nil && errors.Is(err, rule.sentinel) {
			return rule.result
		}
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return rule.result
			}
		}
	}
	return unknownClassification
}
