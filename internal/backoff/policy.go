// Package backoff provides exponential backoff utilities with jitter for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random()
// Returns min(maxMs, base + jitter) as a time.Duration. Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random value.
// This is useful for testing to provide deterministic results. randomValue must
// be in the range [0.0, 1.0).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns a sensible default backoff policy.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// VectorUploadPolicy mirrors the retry-with-split upload schedule: base 2s,
// doubling, no jitter — retry delays must be deterministic relative to the
// attempt so split-batch fan-out stays predictable in tests.
func VectorUploadPolicy() Policy {
	return Policy{InitialMs: 2000, MaxMs: 30000, Factor: 2, Jitter: 0}
}

// OpenAIPollPolicy mirrors the Responses-API background poll schedule:
// initial 3s, multiplier 1.8, cap 30s, light jitter.
func OpenAIPollPolicy() Policy {
	return Policy{InitialMs: 3000, MaxMs: 30000, Factor: 1.8, Jitter: 0.1}
}
