package session

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// CleanupExpiredSessions deletes sessions that are past their absolute
// expiry or have been idle for longer than the given timeout. Every
// deleted session is announced as a signed-out event so open views can
// drop back to the login screen.
func (m *Manager) CleanupExpiredSessions(ctx context.Context, idleTimeout time.Duration) error {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		if !s.Expired() && !s.Idle(idleTimeout) {
			continue
		}

		if err := m.sessions.DeleteSession(ctx, s); err != nil {
			slogctx.Warn(ctx, "Could not delete expired session", "session_id", s.ID, "error", err)
			continue
		}

		slogctx.Info(ctx, "Deleted expired session", "session_id", s.ID)
		m.notifier.Publish(ctx, Event{Kind: EventSignedOut, SessionID: s.ID, Reason: "expired"})
	}

	return nil
}

// Housekeep runs CleanupExpiredSessions on the given interval until
// the context is cancelled.
func (m *Manager) Housekeep(ctx context.Context, interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CleanupExpiredSessions(ctx, idleTimeout); err != nil {
				slogctx.Error(ctx, "Session housekeeping failed", "error", err)
			}
		}
	}
}
