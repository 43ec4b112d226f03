package relay

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a transcoding session.
type SessionState int32

const (
	// StateStarting means the transcoder process has been (or is being)
	// spawned but has not produced a playlist yet.
	StateStarting SessionState = iota
	// StateReady means the playlist file exists and the session is servable.
	StateReady
	// StateClosing means teardown has begun; the process may still be exiting.
	StateClosing
	// StateClosed is terminal: process gone, artifact directory removed.
	StateClosed
)

// String implements fmt.Stringer for logging and the /status endpoint.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var (
	// ErrStartTimeout is returned when the transcoder never produced a
	// playlist within the start timeout. The process has been killed and
	// no session persists.
	ErrStartTimeout = errors.New("transcoder start timed out")

	// ErrNotReady is returned when a playlist request outlives the serving
	// wait while the session is still starting. The session stays alive.
	ErrNotReady = errors.New("session not ready")

	// ErrNotFound is returned for segment requests against an unknown or
	// evicted session, or for a segment file that does not exist.
	ErrNotFound = errors.New("not found")
)

// Session is one active transcoding pipeline bound to a single upstream
// resource path. The Supervisor owns the process on its behalf; the artifact
// directory is exclusively owned by this session.
type Session struct {
	ID           string
	ResourcePath string
	Dir          string
	CreatedAt    time.Time

	mu           sync.Mutex
	state        SessionState
	lastAccessed time.Time

	// ready is closed exactly once on the Starting -> Ready transition so
	// waiters observe readiness without polling the process themselves.
	ready chan struct{}

	// failed is closed exactly once if the session dies before reaching
	// Ready; startErr carries the cause.
	failed   chan struct{}
	startErr error
}

// NewSession mints a session for resourcePath with an id derived from the
// path and creation time, unique across repeated sessions for the same path.
// The artifact directory is a subdirectory of tmpRoot named after the id.
func NewSession(resourcePath, tmpRoot string, now time.Time) *Session {
	id := fmt.Sprintf("%s-%d", sanitizeID(resourcePath), now.UnixNano())
	return &Session{
		ID:           id,
		ResourcePath: resourcePath,
		Dir:          filepath.Join(tmpRoot, id),
		CreatedAt:    now,
		state:        StateStarting,
		lastAccessed: now,
		ready:        make(chan struct{}),
		failed:       make(chan struct{}),
	}
}

// sanitizeID flattens a resource path into an identifier-safe token.
func sanitizeID(p string) string {
	p = strings.Trim(p, "/")
	p = strings.TrimSuffix(p, PlaylistSuffix)
	repl := strings.NewReplacer("/", "_", ".", "_", " ", "_")
	return repl.Replace(p)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session can serve or accept requests.
func (s *Session) Live() bool {
	st := s.State()
	return st == StateStarting || st == StateReady
}

// transition moves the session from one state to another. It returns false
// if the session is not in the expected from state, so concurrent teardown
// triggers race safely and exactly one wins. No transition leaves Closed.
func (s *Session) transition(from, to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || s.state == StateClosed {
		return false
	}
	s.state = to
	if from == StateStarting && to == StateReady {
		close(s.ready)
	}
	return true
}

// fail records a pre-Ready death and wakes waiters. A session that already
// became Ready, failed, or entered teardown is left alone.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarting || s.startErr != nil {
		return
	}
	s.startErr = err
	close(s.failed)
}

// beginClose moves a live session into Closing. The first caller wins;
// callers seeing false must not run teardown again. Closing a session that
// never became Ready counts as a start failure so waiters unblock.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarting && s.state != StateReady {
		return false
	}
	if s.state == StateStarting && s.startErr == nil {
		s.startErr = errors.New("session closed before becoming ready")
		close(s.failed)
	}
	s.state = StateClosing
	return true
}

// closed finalizes teardown.
func (s *Session) closed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing {
		s.state = StateClosed
	}
}

// Touch records activity. last-accessed never moves backwards.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAccessed) {
		s.lastAccessed = now
	}
}

// LastAccessed returns the most recent activity time.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

// Ready returns a channel closed when the session becomes servable.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Failed returns a channel closed if the session dies before Ready.
func (s *Session) Failed() <-chan struct{} {
	return s.failed
}

// StartErr returns the recorded start failure, if any.
func (s *Session) StartErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

// SessionInfo is the snapshot shape served by GET /status.
type SessionInfo struct {
	ID             string    `json:"id"`
	ResourcePath   string    `json:"resourcePath"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	Running        bool      `json:"running"`
}
