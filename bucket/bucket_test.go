package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestThrottleTimingProperty checks spec.md §8's universal invariant: for
// N admissions with burst B and rate R requests/minute, elapsed time is
// at least max(0, (N-B)/R) * 60s.
func TestThrottleTimingProperty(t *testing.T) {
	const (
		burst             = 2
		requestsPerMinute = 600 // drip_interval = 100ms, keeps the test fast
		n                 = 5
	)
	b := New(burst, requestsPerMinute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Throttle(ctx))
	}
	elapsed := time.Since(start)

	dripInterval := time.Minute / requestsPerMinute
	minElapsed := time.Duration(n-burst) * dripInterval
	assert.GreaterOrEqual(t, elapsed, minElapsed)
}

// TestThrottleFIFO checks that admissions complete in the order they
// called Throttle, not in some racy order among waiters.
func TestThrottleFIFO(t *testing.T) {
	b := New(1, 600)
	ctx := context.Background()
	require.NoError(t, b.Throttle(ctx)) // consume the initial free slot

	const n = 5
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			require.NoError(t, b.Throttle(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		<-started // ensure goroutines enter Throttle in launch order
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestThrottleCancellationReleasesWaiter checks that a cancelled context
// returns promptly without admitting the caller or blocking the next one.
func TestThrottleCancellationReleasesWaiter(t *testing.T) {
	b := New(1, 60) // drip_interval = 1s
	ctx := context.Background()
	require.NoError(t, b.Throttle(ctx)) // fill the only slot

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Throttle(cancelCtx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// The next (uncancelled) caller must still be able to proceed.
	longCtx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, b.Throttle(longCtx))
}
