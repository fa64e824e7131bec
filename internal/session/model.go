package session

import "time"

// State is the transient record of a sign-in attempt, created when the
// user is sent to the identity provider and consumed on the callback.
type State struct {
	ID           string
	Fingerprint  string
	PKCEVerifier string
	Nonce        string
	RequestURI   string
	Expiry       time.Time
}

// Session is an authenticated user session.
type Session struct {
	ID          string
	Subject     string
	DisplayName string
	Email       string
	Fingerprint string
	CSRFToken   string

	// SessionToken is the portal credential issued by the backend
	// authentication service, not a provider token.
	SessionToken string
	AccessToken  string
	RefreshToken string

	Expiry      time.Time
	LastVisited time.Time
}

// Expired reports whether the session has passed its absolute expiry.
func (s Session) Expired() bool {
	return time.Now().After(s.Expiry)
}

// Idle reports whether the session has not been visited within timeout.
func (s Session) Idle(timeout time.Duration) bool {
	return time.Since(s.LastVisited) > timeout
}
