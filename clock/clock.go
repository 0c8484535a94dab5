package clock

import (
	"math/rand"
	"time"
)

// Clock is the engine's single time source. Schedulers and clients take it
// so tests can drive delays and jitter deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	Jitter(min, max time.Duration) time.Duration
}

type systemClock struct {
	rnd *rand.Rand
}

// System returns a Clock backed by the wall clock and a seeded PRNG. Only
// the cycle loop calls Jitter, so the unsynchronized PRNG is fine.
func System() Clock {
	return &systemClock{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

func (c *systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Jitter returns a duration in [min, max]. A degenerate range yields min.
func (c *systemClock) Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(c.rnd.Int63n(int64(max-min)+1))
}
