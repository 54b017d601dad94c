package domain

import "time"

// State represents persistent agent state that outlives a session.
// It is saved after every successful session negotiation.
type State struct {
	// UserUUID is the anonymous device identity, generated once
	UserUUID string `json:"user_uuid"`

	// LastToken is the bearer token of the most recent session,
	// used for late delivery after that session ended
	LastToken string `json:"last_token"`

	// LastSessionID is the id of the most recent session
	LastSessionID string `json:"last_session_id"`

	// UpdatedAt is the timestamp of the last save
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEmpty returns true if the state has not been initialized.
func (s State) IsEmpty() bool {
	return s.UserUUID == ""
}

// UpdateAfterSession records a freshly negotiated session.
func (s *State) UpdateAfterSession(sess *Session) {
	s.LastToken = sess.Token
	s.LastSessionID = sess.ID
	if sess.UserUUID != "" {
		s.UserUUID = sess.UserUUID
	}
	s.UpdatedAt = time.Now()
}
