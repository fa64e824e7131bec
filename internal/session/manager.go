// Package session owns the sign-in lifecycle: starting the code flow,
// finishing it on the provider callback, exposing the current session
// and tearing it down again.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/login-portal/internal/authsvc"
	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/idp"
	"github.com/openkcm/login-portal/internal/pkce"
	"github.com/openkcm/login-portal/internal/serviceerr"
	"github.com/openkcm/login-portal/pkg/csrf"
)

// IdentityProvider is the part of the identity provider client the
// manager needs.
type IdentityProvider interface {
	AuthURI(ctx context.Context, stateID string, challenge pkce.PKCE, nonce string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier string) (idp.Tokens, error)
	VerifyIDToken(ctx context.Context, rawIDToken, accessToken, nonce string) (idp.Claims, error)
}

// CredentialService exchanges verified provider tokens for a backend
// credential and revokes it again on sign-out.
type CredentialService interface {
	ExchangeCredential(ctx context.Context, idToken, accessToken string) (authsvc.Credential, error)
	SignOut(ctx context.Context, sessionToken string) error
}

// SignInData is what the callback handler needs to establish the
// browser session after a successful sign-in.
type SignInData struct {
	SessionID  string
	CSRFToken  string
	RequestURI string
}

type Manager struct {
	provider    IdentityProvider
	credentials CredentialService
	sessions    Repository
	notifier    *Notifier
	pkce        pkce.Source

	sessionDuration time.Duration
	loginTimeout    time.Duration

	sessionCookieTemplate config.CookieTemplate
	csrfCookieTemplate    config.CookieTemplate

	csrfSecret []byte
}

func NewManager(
	cfg *config.Portal,
	provider IdentityProvider,
	credentials CredentialService,
	sessions Repository,
	notifier *Notifier,
) (*Manager, error) {
	csrfSecret, err := commoncfg.LoadValueFromSourceRef(cfg.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("loading csrf secret from source ref: %w", err)
	}
	if len(csrfSecret) < 32 {
		return nil, errors.New("CSRF secret must be at least 32 bytes")
	}

	return &Manager{
		provider:              provider,
		credentials:           credentials,
		sessions:              sessions,
		notifier:              notifier,
		sessionDuration:       cfg.SessionDuration,
		loginTimeout:          cfg.LoginTimeout,
		sessionCookieTemplate: cfg.SessionCookie,
		csrfCookieTemplate:    cfg.CSRFCookie,
		csrfSecret:            csrfSecret,
	}, nil
}

// BeginSignIn starts a sign-in attempt and returns the provider
// authorisation URI to redirect the user to. Each call is a fresh
// attempt with its own state, PKCE pair and nonce.
func (m *Manager) BeginSignIn(ctx context.Context, fingerprint, requestURI string) (string, error) {
	stateID := m.pkce.State()
	challenge := m.pkce.PKCE()
	nonce := m.pkce.Nonce()

	state := State{
		ID:           stateID,
		Fingerprint:  fingerprint,
		PKCEVerifier: challenge.Verifier,
		Nonce:        nonce,
		RequestURI:   requestURI,
		Expiry:       time.Now().Add(m.loginTimeout),
	}

	if err := m.sessions.StoreState(ctx, state); err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}

	u, err := m.provider.AuthURI(ctx, stateID, challenge, nonce)
	if err != nil {
		return "", fmt.Errorf("generating auth uri: %w", err)
	}

	return u, nil
}

// FinaliseSignIn completes the sign-in attempt on the provider
// callback: it validates the state, exchanges the code, verifies the
// identity token and trades the provider tokens for a backend
// credential. On success the session is stored, a signed-in event is
// published and the consumed state is deleted.
func (m *Manager) FinaliseSignIn(ctx context.Context, stateID, code, fingerprint string) (SignInData, error) {
	state, err := m.sessions.LoadState(ctx, stateID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return SignInData{}, serviceerr.ErrStateExpired
		}

		return SignInData{}, fmt.Errorf("loading state from the storage: %w", err)
	}

	if time.Now().After(state.Expiry) {
		return SignInData{}, serviceerr.ErrStateExpired
	}

	if state.Fingerprint != fingerprint {
		return SignInData{}, serviceerr.ErrFingerprintMismatch
	}

	tokens, err := m.provider.Exchange(ctx, code, state.PKCEVerifier)
	if err != nil {
		return SignInData{}, fmt.Errorf("exchanging code for tokens: %w", err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	claims, err := m.provider.VerifyIDToken(ctx, tokens.IDToken, tokens.AccessToken, state.Nonce)
	if err != nil {
		return SignInData{}, fmt.Errorf("verifying id token: %w", err)
	}

	credential, err := m.credentials.ExchangeCredential(ctx, tokens.IDToken, tokens.AccessToken)
	if err != nil {
		return SignInData{}, fmt.Errorf("exchanging provider tokens for a credential: %w", err)
	}

	sessionID := m.pkce.SessionID()
	csrfToken := csrf.NewToken(sessionID, m.csrfSecret)

	displayName := credential.DisplayName
	if displayName == "" {
		displayName = claims.DisplayName()
	}

	now := time.Now()
	session := Session{
		ID:           sessionID,
		Subject:      claims.Subject,
		DisplayName:  displayName,
		Email:        claims.Email,
		Fingerprint:  fingerprint,
		CSRFToken:    csrfToken,
		SessionToken: credential.SessionToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       now.Add(m.sessionDuration),
		LastVisited:  now,
	}

	if err := m.sessions.StoreSession(ctx, session); err != nil {
		return SignInData{}, fmt.Errorf("storing session: %w", err)
	}

	if err := m.sessions.DeleteState(ctx, stateID); err != nil {
		return SignInData{}, fmt.Errorf("deleting state: %w", err)
	}

	slogctx.Info(ctx, "User signed in", "subject", claims.Subject)
	m.notifier.Publish(ctx, Event{Kind: EventSignedIn, SessionID: sessionID})

	return SignInData{
		SessionID:  sessionID,
		CSRFToken:  csrfToken,
		RequestURI: state.RequestURI,
	}, nil
}

// SignOut revokes the backend credential and deletes the session. A
// backend revocation failure is logged but does not keep the local
// session alive.
func (m *Manager) SignOut(ctx context.Context, sessionID string) error {
	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("loading session: %w", err)
	}

	if err := m.credentials.SignOut(ctx, session.SessionToken); err != nil {
		slogctx.Warn(ctx, "Could not revoke the backend credential", "error", err)
	}

	if err := m.sessions.DeleteSession(ctx, session); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	m.notifier.Publish(ctx, Event{Kind: EventSignedOut, SessionID: sessionID, Reason: "signed_out"})

	return nil
}

func (m *Manager) MakeSessionCookie(ctx context.Context, value string) (*http.Cookie, error) {
	sessionCookie := m.sessionCookieTemplate.ToCookie(value)

	err := sessionCookie.Valid()
	if err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	if !strings.HasPrefix(sessionCookie.Name, "__Host-Http-") {
		slogctx.Warn(ctx, "Session cookie name does not start with __Host-Http-; this is not recommended in production environments")
	}
	if !sessionCookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !sessionCookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return sessionCookie, nil
}

func (m *Manager) MakeExpiredSessionCookie() *http.Cookie {
	return m.sessionCookieTemplate.ToExpiredCookie()
}

func (m *Manager) MakeExpiredCSRFCookie() *http.Cookie {
	return m.csrfCookieTemplate.ToExpiredCookie()
}

func (m *Manager) MakeCSRFCookie(ctx context.Context, value string) (*http.Cookie, error) {
	csrfCookie := m.csrfCookieTemplate.ToCookie(value)

	err := csrfCookie.Valid()
	if err != nil {
		return nil, fmt.Errorf("invalid CSRF cookie: %w", err)
	}

	if !csrfCookie.Secure {
		slogctx.Warn(ctx, "CSRF cookie is not marked as Secure; this is not recommended in production environments")
	}
	if csrfCookie.HttpOnly {
		slogctx.Warn(ctx, "CSRF cookie is marked as HttpOnly; this is not recommended as the CSRF token needs to be accessible from JavaScript")
	}
	if csrfCookie.SameSite != http.SameSiteStrictMode {
		slogctx.Warn(ctx, "CSRF cookie is not marked as SameSite=Strict; this is not recommended in production environments")
	}

	return csrfCookie, nil
}

func (m *Manager) ValidateCSRFToken(token, sessionID string) bool {
	return csrf.Validate(token, sessionID, m.csrfSecret)
}

// CancelledSignIn maps a provider callback error to the portal error
// shown on the login view. The provider reports user cancellation as
// access_denied.
func CancelledSignIn(providerErr, description string) error {
	if providerErr == "access_denied" {
		return serviceerr.ErrUserCancelled
	}

	return &serviceerr.Error{Err: serviceerr.CodeServerRejected, Description: fmt.Sprintf("provider returned %q: %s", providerErr, description)}
}
