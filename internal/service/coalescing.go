package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

// call is one upstream fetch that concurrent callers for the same key share.
type call struct {
	done chan struct{}
	feed models.Feed
	err  error
}

// requestCoalescer keeps at most one upstream fetch in flight per key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight fetch for key or starts one. The fetch runs on a
// context detached from the first caller so that caller leaving does not fail
// the others; every caller waits at most timeout or until its own ctx is done.
// shared reports whether this caller joined an existing fetch.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.Feed, error)) (feed models.Feed, shared bool, err error) {
	rc.mu.Lock()
	c, exists := rc.inFlight[key]
	if !exists {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(ctx, key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.feed, exists, c.err
	case <-waitCtx.Done():
		return models.Feed{}, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, c *call, fn func(ctx context.Context) (models.Feed, error)) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	c.feed, c.err = fn(fetchCtx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(c.done)
}
