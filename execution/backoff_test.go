package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay(t *testing.T) {
	base := time.Second
	tests := []struct {
		name    string
		policy  BackoffPolicy
		attempt int
		want    time.Duration
	}{
		{"none", BackoffNone, 3, time.Second},
		{"linear 1", BackoffLinear, 1, time.Second},
		{"linear 3", BackoffLinear, 3, 3 * time.Second},
		{"exponential 1", BackoffExponential, 1, time.Second},
		{"exponential 4", BackoffExponential, 4, 8 * time.Second},
		{"fibonacci 1", BackoffFibonacci, 1, time.Second},
		{"fibonacci 2", BackoffFibonacci, 2, time.Second},
		{"fibonacci 5", BackoffFibonacci, 5, 5 * time.Second},
		{"fibonacci 6", BackoffFibonacci, 6, 8 * time.Second},
		{"attempt clamped", BackoffLinear, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.policy, base, tt.attempt))
		})
	}
}

func TestJitteredBounds(t *testing.T) {
	base := 100 * time.Millisecond
	delay := time.Second
	for i := 0; i < 50; i++ {
		j := Jittered(delay, base)
		assert.GreaterOrEqual(t, j, delay)
		assert.Less(t, j, delay+base)
	}
}

func TestJitteredZeroBase(t *testing.T) {
	assert.Equal(t, time.Second, Jittered(time.Second, 0))
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, BackoffNone, policyFor(ActionImmediate, BackoffLinear))
	assert.Equal(t, BackoffExponential, policyFor(ActionExponential, BackoffLinear))
	assert.Equal(t, BackoffLinear, policyFor(ActionBackoff, BackoffLinear))
	assert.Equal(t, BackoffFibonacci, policyFor(ActionEscalate, BackoffFibonacci))
}
