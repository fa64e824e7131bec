package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"
)

type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event describes a change in the authentication state of a session.
type Event struct {
	Kind      EventKind
	SessionID string
	Reason    string
}

// Subscription is a live feed of session events. Cancel releases it;
// after Cancel the channel is closed.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

func (s *Subscription) Cancel() {
	s.cancel()
}

const subscriptionBuffer = 8

// Notifier fans session events out to subscribers. Publishing never
// blocks; a subscriber that cannot keep up loses events.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
}

func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[string]chan Event),
	}
}

func (n *Notifier) Subscribe() *Subscription {
	id := uuid.NewString()
	ch := make(chan Event, subscriptionBuffer)

	n.mu.Lock()
	n.subscribers[id] = ch
	n.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			if ch, ok := n.subscribers[id]; ok {
				delete(n.subscribers, id)
				close(ch)
			}
		},
	}
}

func (n *Notifier) Publish(ctx context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			slogctx.Warn(ctx, "Dropping session event for slow subscriber", "subscriber_id", id, "kind", event.Kind)
		}
	}
}
