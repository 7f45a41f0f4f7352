package flow

import "sync"

// Session is one user's conversational scratchpad: where they are in a
// multi-step flow and whatever the flow has collected so far.
type Session struct {
	Stage string
	Data  map[string]any
}

const pendingCodeKey = "_pending_code"

// Store keeps per-user flow sessions in memory under one lock. Sessions are
// ephemeral; restarting the service drops them, which just re-prompts the
// user.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Start begins (or restarts) a flow for userID at the given stage, replacing
// any prior session wholesale.
func (s *Store) Start(userID int64, stage string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{Stage: stage, Data: make(map[string]any, len(data))}
	for k, v := range data {
		sess.Data[k] = v
	}
	s.sessions[userID] = sess
}

// Update advances an existing session: a non-empty stage replaces the
// current one, and data entries are merged in. No-op when the user has no
// session.
func (s *Store) Update(userID int64, stage string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return
	}
	if stage != "" {
		sess.Stage = stage
	}
	for k, v := range data {
		sess.Data[k] = v
	}
}

// SetStage replaces only the stage label of an existing session.
func (s *Store) SetStage(userID int64, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		sess.Stage = stage
	}
}

// SetData sets one key in an existing session's data bag.
func (s *Store) SetData(userID int64, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		sess.Data[key] = value
	}
}

// Get returns a copy of the user's session so callers can read it without
// holding the store's lock. The second return is false when no flow is
// active.
func (s *Store) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	out := Session{Stage: sess.Stage, Data: make(map[string]any, len(sess.Data))}
	for k, v := range sess.Data {
		out.Data[k] = v
	}
	return out, true
}

// Clear ends the user's flow, if any.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// CreateCodeHandoff installs a one-shot channel in the user's session for
// an out-of-band confirmation code (e.g. a 2FA prompt in the credential
// flow). The waiting goroutine receives on the returned channel with its
// own timeout; DeliverCode fulfils it.
func (s *Store) CreateCodeHandoff(userID int64) <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan string, 1)
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{Data: make(map[string]any)}
		s.sessions[userID] = sess
	}
	sess.Data[pendingCodeKey] = chan string(ch)
	return ch
}

// DeliverCode fulfils a pending code handoff. Returns false when no handoff
// is waiting or one was already delivered; the send never blocks.
func (s *Store) DeliverCode(userID int64, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return false
	}
	raw, ok := sess.Data[pendingCodeKey]
	if !ok {
		return false
	}
	ch, ok := raw.(chan string)
	if !ok {
		return false
	}
	delete(sess.Data, pendingCodeKey)
	select {
	case ch <- code:
		return true
	default:
		return false
	}
}
