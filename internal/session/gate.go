package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/login-portal/internal/serviceerr"
)

// Gate answers the one question the rest of the application keeps
// asking: is there a signed-in session right now? It also hands out
// subscriptions so callers can react when the answer changes.
type Gate struct {
	sessions Repository
	notifier *Notifier
}

func NewGate(sessions Repository, notifier *Notifier) *Gate {
	return &Gate{
		sessions: sessions,
		notifier: notifier,
	}
}

// Current returns the session for the given ID if it is still valid
// for this browser. Absent and expired sessions come back as
// ErrNotFound. A successful read refreshes the session's last-visited
// time.
func (g *Gate) Current(ctx context.Context, sessionID, fingerprint string) (Session, error) {
	if sessionID == "" {
		return Session{}, serviceerr.ErrNotFound
	}

	session, err := g.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return Session{}, serviceerr.ErrNotFound
		}

		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	if session.Expired() {
		return Session{}, serviceerr.ErrNotFound
	}

	if session.Fingerprint != fingerprint {
		return Session{}, serviceerr.ErrFingerprintMismatch
	}

	session.LastVisited = time.Now()
	if err := g.sessions.StoreSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("refreshing session: %w", err)
	}

	return session, nil
}

// Subscribe returns a feed of sign-in and sign-out events. The caller
// must Cancel it when done.
func (g *Gate) Subscribe() *Subscription {
	return g.notifier.Subscribe()
}
