package execution

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy selects how retry delays grow with the attempt number.
type BackoffPolicy string

const (
	BackoffNone        BackoffPolicy = "none"
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
	BackoffFibonacci   BackoffPolicy = "fibonacci"
)

// backoffFactor is the exponential growth base.
const backoffFactor = 2.0

// Delay computes the sleep before retry number attempt (1-based), without
// jitter.
func Delay(policy BackoffPolicy, base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch policy {
	case BackoffLinear:
		return base * time.Duration(attempt)
	case BackoffExponential:
		return time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt-1)))
	case BackoffFibonacci:
		return base * time.Duration(fib(attempt))
	default:
		return base
	}
}

// Jittered adds uniform [0, base) noise to a delay so simultaneous
// retries spread out instead of stampeding.
func Jittered(delay, base time.Duration) time.Duration {
	if base <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(base)))
}

// policyFor maps a classification to the backoff policy actually used,
// honoring the configured default.
func policyFor(action RetryAction, configured BackoffPolicy) BackoffPolicy {
	switch action {
	case ActionImmediate:
		return BackoffNone
	case ActionExponential:
		return BackoffExponential
	default:
		return configured
	}
}

func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return a
}
