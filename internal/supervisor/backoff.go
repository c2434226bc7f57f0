package supervisor

import "time"

// Backoff produces exponentially growing retry delays: Min, 2*Min, 4*Min,
// ... capped at Max. Reset returns to Min.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	if b.cur == 0 {
		return b.Min
	}
	return b.cur
}

// Next returns the current delay and doubles it for the following call.
func (b *Backoff) Next() time.Duration {
	d := b.Current()
	b.cur = min(d*2, b.Max)
	// Guard against overflow for very large Max values.
	if b.cur < d {
		b.cur = b.Max
	}
	return d
}

// Reset returns the delay to Min.
func (b *Backoff) Reset() {
	b.cur = 0
}
