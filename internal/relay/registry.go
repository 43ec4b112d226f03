package relay

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Starter launches the transcoder process for a freshly minted session.
// It is implemented by the Supervisor; the indirection keeps the Registry
// free of process concerns and testable with a fake.
type Starter interface {
	Start(ctx context.Context, sess *Session) error
}

// Registry is the concurrency-safe mapping from resource path to Session.
// At most one session in {Starting, Ready} exists per resource path.
type Registry interface {
	// Resolve returns the live session for resourcePath, creating and
	// starting one if absent. Concurrent first requests for the same
	// unseen path result in exactly one Starter call; latecomers share
	// the first caller's outcome.
	Resolve(ctx context.Context, resourcePath string) (*Session, error)

	// Find is the non-creating lookup used by segment handling.
	Find(resourcePath string) (*Session, bool)

	// Remove drops the session with the given id. Idempotent, and a no-op
	// when the path has since been taken over by a newer session.
	Remove(sessionID string)

	// Sessions returns a snapshot of all registered sessions.
	Sessions() []*Session

	// ActiveCount returns the number of live sessions.
	ActiveCount() int
}

// InMemoryRegistry implements Registry over a Store. The mutex serializes
// map mutation only; session creation work (directory setup, process spawn,
// readiness wait) runs outside the lock under a singleflight guard keyed by
// resource path.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	store   Store
	starter Starter
	tmpRoot string
	group   singleflight.Group
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
func NewInMemoryRegistry(starter Starter, tmpRoot string) *InMemoryRegistry {
	return NewInMemoryRegistryWithStore(NewInMemoryStore(), starter, tmpRoot)
}

// NewInMemoryRegistryWithStore constructs a registry over the given Store.
// Useful for testing or for plugging in a different backend.
func NewInMemoryRegistryWithStore(store Store, starter Starter, tmpRoot string) *InMemoryRegistry {
	return &InMemoryRegistry{store: store, starter: starter, tmpRoot: tmpRoot}
}

// Resolve implements Registry.Resolve.
func (r *InMemoryRegistry) Resolve(ctx context.Context, resourcePath string) (*Session, error) {
	if sess, ok := r.Find(resourcePath); ok {
		return sess, nil
	}

	v, err, _ := r.group.Do(resourcePath, func() (interface{}, error) {
		// Re-check: a session may have appeared between the fast path
		// and this call winning the flight.
		if sess, ok := r.Find(resourcePath); ok {
			return sess, nil
		}

		sess := NewSession(resourcePath, r.tmpRoot, time.Now().UTC())
		if err := os.MkdirAll(sess.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}

		r.mu.Lock()
		r.store.Set(sess)
		r.mu.Unlock()

		// The flight's outcome is shared by every waiter, so the first
		// caller hanging up must not cancel the start for the rest.
		if err := r.starter.Start(context.WithoutCancel(ctx), sess); err != nil {
			r.Remove(sess.ID)
			_ = os.RemoveAll(sess.Dir)
			return nil, err
		}
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Find implements Registry.Find. Sessions already in teardown are treated
// as absent so a subsequent request starts fresh.
func (r *InMemoryRegistry) Find(resourcePath string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.store.Get(resourcePath)
	if !ok || !sess.Live() {
		return nil, false
	}
	return sess, true
}

// Remove implements Registry.Remove.
func (r *InMemoryRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.store.List() {
		if sess.ID == sessionID {
			r.store.Delete(sess.ResourcePath)
			return
		}
	}
}

// Sessions implements Registry.Sessions.
func (r *InMemoryRegistry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.List()
}

// ActiveCount implements Registry.ActiveCount.
func (r *InMemoryRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sess := range r.store.List() {
		if sess.Live() {
			n++
		}
	}
	return n
}
