// Package backoff computes retry delays: exponential growth to a cap, plus
// proportional jitter so a burst of failures does not resynchronize into a
// thundering herd.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Defaults for the delivery retry path.
const (
	DefaultBase       = time.Second
	DefaultCap        = time.Hour
	DefaultMultiplier = 2.0
)

// NextDelay returns the delay before the attempt following attemptNumber
// failed attempts, using the default policy.
func NextDelay(attemptNumber int) time.Duration {
	return NextDelayWith(attemptNumber, DefaultBase, DefaultCap, DefaultMultiplier, rand.Float64)
}

// NextDelayWith computes base * multiplier^attemptNumber capped at max, then
// adds jitter of up to 25% of the capped value. The result is always within
// [capped, capped*1.25] and is monotonic non-decreasing in attemptNumber up
// to the cap. rnd must return values in [0, 1); inject a deterministic one
// in tests.
func NextDelayWith(attemptNumber int, base, max time.Duration, multiplier float64, rnd func() float64) time.Duration {
	if attemptNumber < 0 {
		attemptNumber = 0
	}

	raw := float64(base) * math.Pow(multiplier, float64(attemptNumber))
	capped := float64(max)
	if raw < capped {
		capped = raw
	}

	jitter := capped * 0.25 * rnd()
	return time.Duration(capped + jitter)
}
