package ratelimit

import (
	"sync"
	"time"
)

// Warn thresholds for reset waits. Waits shorter than the threshold log at
// debug; longer waits warn, at most once per interval per bucket, to keep
// sustained throttling from flooding the log.
const (
	warnWaitThreshold = 2 * time.Second
	warnMinInterval   = 10 * time.Second
)

// Bucket holds the mutable rate-limit state and pending queue for one
// family of routes. The zero remaining count only blocks dispatch once it
// has actually been observed from a response (known == true); a bucket that
// has never seen rate-limit headers is not throttled.
type Bucket struct {
	mgr *Manager
	key string

	// limited is false only for the global queue, which has no per-route
	// remaining/reset state.
	limited bool

	mu        sync.Mutex
	remaining int
	known     bool
	reset     time.Time
	queue     []*Job
	draining  bool
	lastWarn  time.Time
}

func newBucket(m *Manager, key string, limited bool) *Bucket {
	return &Bucket{
		mgr:     m,
		key:     key,
		limited: limited,
	}
}

// enqueue appends a job and ensures a drain loop is running. The draining
// flag is checked and set under the same lock as the append, so a second
// concurrent enqueue can never start a second loop over this queue.
func (b *Bucket) enqueue(j *Job) {
	b.mu.Lock()
	b.queue = append(b.queue, j)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	go b.drain()
}

// drain processes the queue head in FIFO order: wait out the global
// throttle, wait out this bucket's reset if its remaining count is
// exhausted, dispatch, repeat. The draining flag is cleared atomically with
// the empty-queue check so a job enqueued at that instant either sees the
// running loop or starts a new one, never neither.
func (b *Bucket) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		j := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.mgr.waitGlobal()
		b.waitReset()

		if b.dispatch(j) {
			// Transient failure: back of the original queue, same job.
			b.mu.Lock()
			b.queue = append(b.queue, j)
			b.mu.Unlock()
		}
	}
}

// dispatch runs one attempt. A panic in the job must not kill the drain
// loop or strand the queue, so it is contained here; the panicked job is
// dropped rather than retried.
func (b *Bucket) dispatch(j *Job) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			retry = false
			b.mgr.log.Error().
				Str("bucket", b.key).
				Interface("panic", r).
				Msg("dispatch panicked; continuing drain")
		}
	}()
	return j.Do()
}

// waitReset sleeps until the bucket's reset time when the server has told
// us the remaining count is exhausted. Unknown remaining never blocks.
func (b *Bucket) waitReset() {
	if !b.limited {
		return
	}

	b.mu.Lock()
	var wait time.Duration
	if b.known && b.remaining <= 0 {
		wait = time.Until(b.reset)
	}
	warn := false
	if wait > warnWaitThreshold && time.Since(b.lastWarn) > warnMinInterval {
		b.lastWarn = time.Now()
		warn = true
	}
	b.mu.Unlock()

	if wait <= 0 {
		return
	}

	evt := b.mgr.log.Debug()
	if warn {
		evt = b.mgr.log.Warn()
	}
	evt.Str("bucket", b.key).Dur("wait", wait).Msg("rate limited, waiting for bucket reset")

	time.Sleep(wait)
}
