package tokens

import (
	"log/slog"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// In-memory failed attempt tracker
// ---------------------------------------------------------------------------

// AttemptTracker counts failed pairing attempts per client key within a
// window. Six-digit codes are cheap to guess, so a client that keeps
// failing is turned away until its window expires.
type AttemptTracker struct {
	mu      sync.Mutex
	entries map[string]attempts
	limit   int
	window  time.Duration
	stop    chan struct{}
	once    sync.Once
}

type attempts struct {
	count  int
	expiry time.Time
}

func NewAttemptTracker(limit int, window time.Duration) *AttemptTracker {
	return &AttemptTracker{
		entries: make(map[string]attempts),
		limit:   limit,
		window:  window,
		stop:    make(chan struct{}),
	}
}

// Allow reports whether key may attempt another pairing.
func (a *AttemptTracker) Allow(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		return true
	}
	if time.Now().After(e.expiry) {
		delete(a.entries, key)
		return true
	}
	return e.count < a.limit
}

// Fail records one failed attempt for key.
func (a *AttemptTracker) Fail(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	e, ok := a.entries[key]
	if !ok || now.After(e.expiry) {
		e = attempts{expiry: now.Add(a.window)}
	}
	e.count++
	a.entries[key] = e
	if e.count == a.limit {
		slog.Warn("Pairing attempts exhausted", "client", key, "until", e.expiry)
	}
}

// Reset forgets key after a successful attempt.
func (a *AttemptTracker) Reset(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
}

func (a *AttemptTracker) expire() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, e := range a.entries {
		if now.After(e.expiry) {
			delete(a.entries, k)
		}
	}
}

// Janitor purges expired entries until Close is called.
func (a *AttemptTracker) Janitor() {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.expire()
		case <-a.stop:
			return
		}
	}
}

// Close stops the janitor
func (a *AttemptTracker) Close() {
	a.once.Do(func() { close(a.stop) })
}
