// Package bucket implements the leaky-bucket admission control the
// Scheduler uses to pace run-task submissions to the Runner, per
// spec.md §4.E.
package bucket

import (
	"context"
	"sync"
	"time"
)

// Bucket is a time-based admission limiter: admissions older than
// size*dripInterval are forgotten, and while size or more remain in that
// window a new admission waits until dripInterval after the most recent
// one.
type Bucket struct {
	size         int
	dripInterval time.Duration

	mu         sync.Mutex
	admissions []time.Time

	// queue is a single-slot ticket: only the caller currently holding it
	// is allowed to purge/sleep/record, which is what makes admissions
	// FIFO — Go delivers blocked channel receives in the order they
	// started waiting.
	queue chan struct{}
}

// New returns a Bucket with the given burst capacity and drip rate.
// drip_interval = 60s / requestsPerMinute, per spec.md §4.E.
func New(bucketSize, requestsPerMinute uint) *Bucket {
	b := &Bucket{
		size:         int(bucketSize),
		dripInterval: time.Minute / time.Duration(requestsPerMinute),
		queue:        make(chan struct{}, 1),
	}
	b.queue <- struct{}{}
	return b
}

// Throttle blocks the caller until an admission slot is available, then
// returns. Admissions are FIFO: a throttled call completes before a
// later caller is admitted. If ctx is cancelled while waiting — either
// for the ticket or for the drip sleep — Throttle returns ctx.Err()
// without admitting the caller, and without disturbing the turn of
// whichever caller is next.
func (b *Bucket) Throttle(ctx context.Context) error {
	select {
	case <-b.queue:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { b.queue <- struct{}{} }()

	b.mu.Lock()
	now := time.Now()
	b.purge(now)

	if len(b.admissions) >= b.size {
		last := b.admissions[len(b.admissions)-1]
		wait := last.Add(b.dripInterval).Sub(now)
		b.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.mu.Lock()
	}

	b.admissions = append(b.admissions, time.Now())
	b.mu.Unlock()
	return nil
}

// purge drops admissions older than size*dripInterval. Caller holds mu.
func (b *Bucket) purge(now time.Time) {
	cutoff := now.Add(-time.Duration(b.size) * b.dripInterval)
	i := 0
	for i < len(b.admissions) && b.admissions[i].Before(cutoff) {
		i++
	}
	b.admissions = b.admissions[i:]
}
