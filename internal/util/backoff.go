package util

import "time"

// Backoff yields doubling retry delays, capped at a maximum. Each retry loop
// owns its own Backoff; it is not safe for concurrent use.
type Backoff struct {
	next     time.Duration
	maxDelay time.Duration
}

// NewBackoff returns a Backoff starting at initial.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{next: initial, maxDelay: maxDelay}
}

// Next returns the delay for this attempt and doubles it for the next one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.maxDelay)
	return d
}
