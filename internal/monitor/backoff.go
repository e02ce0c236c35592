package monitor

import (
	"math"
	"time"
)

// Backoff computes the wait before the next attempt after consecutive provider
// failures: Base * 2^failures, never more than Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := b.Base
	for i := 0; i < failures; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			break
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}
