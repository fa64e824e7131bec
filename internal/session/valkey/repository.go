// Package sessionvalkey stores sign-in states and sessions in Valkey.
// Records carry a TTL matching their expiry so the store cleans up
// after itself even without housekeeping.
package sessionvalkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/login-portal/internal/session"
)

type ObjectType string

const (
	objectTypeSession ObjectType = "session"
	objectTypeState   ObjectType = "state"
)

var (
	ErrGetSessions  = errors.New("getting sessions from store")
	ErrGetState     = errors.New("getting state from store")
	ErrStoreState   = errors.New("setting state into storage")
	ErrStoreSession = errors.New("setting session into storage")
	ErrGetSession   = errors.New("getting session from store")
)

type Repository struct {
	store *store
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) LoadState(ctx context.Context, stateID string) (session.State, error) {
	var state session.State
	if err := r.store.Get(ctx, objectTypeState, stateID, &state); err != nil {
		return session.State{}, errors.Join(ErrGetState, err)
	}

	return state, nil
}

func (r *Repository) StoreState(ctx context.Context, state session.State) error {
	duration := time.Until(state.Expiry)
	if err := r.store.Set(ctx, objectTypeState, state.ID, state, duration); err != nil {
		return errors.Join(ErrStoreState, err)
	}

	return nil
}

func (r *Repository) DeleteState(ctx context.Context, stateID string) error {
	if err := r.store.Destroy(ctx, objectTypeState, stateID); err != nil {
		return fmt.Errorf("deleting state from store: %w", err)
	}

	return nil
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	var s session.Session
	if err := r.store.Get(ctx, objectTypeSession, sessionID, &s); err != nil {
		return session.Session{}, errors.Join(ErrGetSession, err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	duration := time.Until(s.Expiry)
	if err := r.store.Set(ctx, objectTypeSession, s.ID, s, duration); err != nil {
		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := getStoreObjects(ctx, r.store, objectTypeSession, "*", &sessions); err != nil {
		return nil, errors.Join(ErrGetSessions, err)
	}

	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, s session.Session) error {
	if err := r.store.Destroy(ctx, objectTypeSession, s.ID); err != nil {
		return fmt.Errorf("deleting session from store: %w", err)
	}

	return nil
}
