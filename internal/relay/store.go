package relay

// Store is the storage abstraction for session records, keyed by resource
// path. The Registry serializes all access; implementations do not need to
// be safe for concurrent use on their own.
type Store interface {
	Get(resourcePath string) (*Session, bool)
	Set(s *Session)
	Delete(resourcePath string)
	List() []*Session
}

// InMemoryStore is the in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[string]*Session
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(resourcePath string) (*Session, bool) {
	sess, ok := s.sessions[resourcePath]
	return sess, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(sess *Session) {
	s.sessions[sess.ResourcePath] = sess
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(resourcePath string) {
	delete(s.sessions, resourcePath)
}

// List implements Store.List.
func (s *InMemoryStore) List() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
