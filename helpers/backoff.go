package helpers

import (
	"time"

	"github.com/temoto/auvshare/helpers/atomic_clock"
)

// Backoff is limited exponential delay between reconnect attempts.
// Zero K means 2. Not safe for concurrent use.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms

	next time.Duration
	last atomic_clock.Clock
}

// DelayAfter returns how long to wait before next attempt,
// counting time passed since previous call.
// Success resets delay to Min, failure multiplies it by K.
//   for {
//     err := op()
//     time.Sleep(backoff.DelayAfter(err==nil))
//   }
func (b *Backoff) DelayAfter(success bool) time.Duration {
	since := atomic_clock.Since(&b.last)
	if b.last.IsZero() {
		since = 0
	}
	b.last.SetNow()
	switch {
	case success || b.next == 0:
		b.next = b.Min
	default:
		k := b.K
		if k == 0 {
			k = 2
		}
		b.next = time.Duration(float32(b.next) * k)
	}
	b.next = b.limit(b.next)
	if since >= b.next {
		return 0
	}
	return b.round(b.next - since)
}

func (b *Backoff) Next() time.Duration { return b.next }

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = time.Millisecond
	}
	return d / res * res
}
