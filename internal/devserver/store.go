package devserver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/replayship/internal/domain"
)

// Session is a session issued by the development collector.
type Session struct {
	ID        string                `json:"id"`
	Token     string                `json:"-"`
	Request   domain.SessionRequest `json:"request"`
	StartedAt time.Time             `json:"startedAt"`
	Revoked   bool                  `json:"revoked"`
}

// Payload is one body received on the ingest or late endpoint, already
// decompressed.
type Payload struct {
	SessionID  string           `json:"sessionId"`
	Late       bool             `json:"late"`
	ReceivedAt time.Time        `json:"receivedAt"`
	Data       []byte           `json:"-"`
	Messages   []domain.Message `json:"-"`
}

// Archive is one frame archive received on the images endpoint.
type Archive struct {
	SessionID  string    `json:"sessionId"`
	ProjectKey string    `json:"projectKey"`
	Name       string    `json:"name"`
	ReceivedAt time.Time `json:"receivedAt"`
	Data       []byte    `json:"-"`
}

// Store keeps everything the collector receives. When dir is set, payloads
// are also written below dir/<session-id>/.
type Store struct {
	dir string

	mu       sync.RWMutex
	sessions map[string]*Session // by token
	order    []string            // tokens in issue order
	payloads []Payload
	archives []Archive
}

// NewStore creates a store. dir may be empty for memory-only operation.
func NewStore(dir string) *Store {
	return &Store{
		dir:      dir,
		sessions: make(map[string]*Session),
	}
}

func (s *Store) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	s.order = append(s.order, sess.Token)
}

// lookup returns the session for token. live requires it to be unrevoked.
func (s *Store) lookup(token string, live bool) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok || (live && sess.Revoked) {
		return nil, false
	}
	return sess, true
}

// Revoke makes the ingest endpoint reject the session's token with 401.
// Late delivery with the token is still accepted.
func (s *Store) Revoke(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			sess.Revoked = true
			return true
		}
	}
	return false
}

func (s *Store) addPayload(p Payload) error {
	s.mu.Lock()
	n := len(s.payloads)
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()

	kind := "batch"
	if p.Late {
		kind = "late"
	}
	return s.persist(p.SessionID, fmt.Sprintf("%s-%06d.dat", kind, n), p.Data)
}

func (s *Store) addArchive(a Archive) error {
	s.mu.Lock()
	s.archives = append(s.archives, a)
	s.mu.Unlock()
	return s.persist(a.SessionID, filepath.Base(a.Name), a.Data)
}

func (s *Store) persist(sessionID, name string, data []byte) error {
	if s.dir == "" {
		return nil
	}
	dir := filepath.Join(s.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// Sessions returns the issued sessions in issue order.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.order))
	for _, tok := range s.order {
		out = append(out, *s.sessions[tok])
	}
	return out
}

// Payloads returns the received ingest and late payloads in arrival order.
func (s *Store) Payloads() []Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Payload(nil), s.payloads...)
}

// Archives returns the received frame archives in arrival order.
func (s *Store) Archives() []Archive {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Archive(nil), s.archives...)
}

// Messages returns every message received for sessionID, late payloads
// included, in arrival order.
func (s *Store) Messages(sessionID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, p := range s.payloads {
		if p.SessionID == sessionID {
			out = append(out, p.Messages...)
		}
	}
	return out
}
