// Package ratelimit schedules outbound requests against server-reported
// rate limits. Each bucket of routes owns a strict-FIFO queue drained by at
// most one loop at a time; a shared global throttle can pause every queue
// when the server reports a cross-route limit.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one deferred dispatch. Do performs a single attempt; returning
// true requeues the job at the tail of its original queue for another
// attempt. The job's timeout budget lives inside the closure, so a retried
// job keeps its original deadline rather than getting a fresh one.
type Job struct {
	Do func() (retry bool)
}

// Manager owns the bucket map, the unbucketed global queue, and the global
// throttle signal. Buckets are created lazily on first use and live for the
// lifetime of the manager. All mutation goes through Enqueue / Update /
// ArmGlobal; callers never touch bucket state directly, which is what keeps
// the single-flight drain invariant enforceable.
type Manager struct {
	log zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*Bucket

	// global is the queue for requests with no bucket key. It shares the
	// drain algorithm but has no remaining/reset state of its own.
	global *Bucket

	gmu      sync.Mutex
	globalCh chan struct{} // non-nil while the global throttle is armed
}

// New creates an empty manager.
func New(log zerolog.Logger) *Manager {
	m := &Manager{
		log:     log,
		buckets: make(map[string]*Bucket),
	}
	m.global = newBucket(m, "", false)
	return m
}

// Enqueue appends a job to the queue for key ("" means the global queue)
// and starts that queue's drain loop if one is not already running.
func (m *Manager) Enqueue(key string, job *Job) {
	m.bucket(key).enqueue(job)
}

// Update records server-reported rate-limit state for a bucket, creating
// the bucket if this is the first time the key has been seen. This is the
// only path by which a bucket's remaining count becomes known: until a
// response carries rate-limit headers, a bucket dispatches freely.
func (m *Manager) Update(key string, remaining int, reset time.Time) {
	if key == "" {
		return
	}
	b := m.bucket(key)
	b.mu.Lock()
	b.remaining = remaining
	b.known = true
	if !reset.IsZero() {
		b.reset = reset
	}
	b.mu.Unlock()
}

// ArmGlobal pauses dispatch on every queue until reset. A second call
// overwrites the previous signal; loops already waiting on the old signal
// are released at the old reset time and will observe the new one on their
// next dispatch. The warn is emitted through log so the caller's
// request-scoped fields identify which response tripped the limit.
func (m *Manager) ArmGlobal(reset time.Time, log zerolog.Logger) {
	wait := time.Until(reset)
	if wait < 0 {
		wait = 0
	}

	m.gmu.Lock()
	ch := make(chan struct{})
	m.globalCh = ch
	m.gmu.Unlock()

	log.Warn().Dur("wait", wait).Msg("global rate limit hit, pausing all dispatch")

	time.AfterFunc(wait, func() {
		close(ch)
		m.gmu.Lock()
		if m.globalCh == ch {
			m.globalCh = nil
		}
		m.gmu.Unlock()
	})
}

// GlobalActive reports whether the global throttle is currently armed.
func (m *Manager) GlobalActive() bool {
	m.gmu.Lock()
	defer m.gmu.Unlock()
	return m.globalCh != nil
}

// waitGlobal blocks while the global throttle is armed.
func (m *Manager) waitGlobal() {
	m.gmu.Lock()
	ch := m.globalCh
	m.gmu.Unlock()
	if ch != nil {
		<-ch
	}
}

// bucket returns the bucket for key, creating it on first use.
func (m *Manager) bucket(key string) *Bucket {
	if key == "" {
		return m.global
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = newBucket(m, key, true)
		m.buckets[key] = b
	}
	return b
}
