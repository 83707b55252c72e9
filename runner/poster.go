package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"

	"lineup"
)

// resultJob is one GameLog waiting to be POSTed to its task's callback.
type resultJob struct {
	callback string
	log      *lineup.GameLog
}

// poster is the Runner's single FIFO result queue: jobs enqueues (many
// producers, one per finished game) and run drains them one at a time so
// retries on one log never queue-jump another (spec.md §4.D, §5).
type poster struct {
	client *http.Client
	jobs   chan resultJob
}

func newPoster(timeout time.Duration) *poster {
	return &poster{
		client: &http.Client{Timeout: timeout},
		jobs:   make(chan resultJob, 1024),
	}
}

func (p *poster) enqueue(callback string, gameLog *lineup.GameLog) {
	p.jobs <- resultJob{callback: callback, log: gameLog}
}

func (p *poster) run(ctx context.Context) {
	for {
		select {
		case job := <-p.jobs:
			p.postWithRetry(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// postWithRetry POSTs job.log to job.callback, retrying on any failure
// (connection refused being the case spec.md §4.D calls out explicitly)
// with an initial 3s delay, 1.5x backoff multiplier, and +/-1s jitter,
// indefinitely, until it succeeds or the service is shutting down.
func (p *poster) postWithRetry(ctx context.Context, job resultJob) {
	body, err := json.Marshal(job.log)
	if err != nil {
		log.Print(err)
		return
	}

	delay := 3 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if p.attempt(ctx, job.callback, body) {
			return
		}

		jitter := time.Duration(rand.Int63n(int64(2*time.Second))) - time.Second
		wait := delay + jitter
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		delay = time.Duration(float64(delay) * 1.5)
	}
}

// attempt makes one POST attempt and reports whether it succeeded.
func (p *poster) attempt(ctx context.Context, callback string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader(body))
	if err != nil {
		log.Print(err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		lineup.Debug.Printf("callback to %s failed: %v", callback, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		lineup.Debug.Printf("callback to %s returned %d", callback, resp.StatusCode)
		return false
	}
	return true
}
