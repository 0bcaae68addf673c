package pipeline

import (
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how transport failures are retried.
type RetryPolicy struct {
	MaxRetries          int
	BaseDelay           time.Duration
	BackoffFactor       float64
	ExcludedPathPattern string
}

// DefaultRetryPolicy returns 3 retries at 2s, 4s and 8s, never retrying
// authentication endpoints.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		BaseDelay:           time.Second,
		BackoffFactor:       2,
		ExcludedPathPattern: "auth",
	}
}

// Delay returns the wait before the attempt carrying retryCount n:
// BaseDelay * BackoffFactor^n.
func (p RetryPolicy) Delay(n int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(n)))
}

// Excluded reports whether failures on path must never be retried.
func (p RetryPolicy) Excluded(path string) bool {
	return p.ExcludedPathPattern != "" && strings.Contains(path, p.ExcludedPathPattern)
}

// WorstCaseLatency is the longest a single logical call can take: one
// timeout per attempt plus every backoff wait.
func (p RetryPolicy) WorstCaseLatency(timeout time.Duration) time.Duration {
	total := timeout * time.Duration(p.MaxRetries+1)
	for i := 1; i <= p.MaxRetries; i++ {
		total += p.Delay(i)
	}
	return total
}
