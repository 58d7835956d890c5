package pipeline

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff returns the jittered wait before retry number attempt (1-based):
// half the exponential delay plus a random slice of the other half, capped
// by the policy's MaxBackoff.
func Backoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.BaseBackoff
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	maxDelay := policy.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
