package session_test

import (
	"context"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/login-portal/internal/authsvc"
	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/idp"
	"github.com/openkcm/login-portal/internal/pkce"
	"github.com/openkcm/login-portal/internal/session"
	sessionmock "github.com/openkcm/login-portal/internal/session/mock"
)

const testCSRFSecret = "12345678901234567890123456789012"

// fakeProvider satisfies session.IdentityProvider with canned answers.
type fakeProvider struct {
	authURI    string
	authErr    error
	tokens     idp.Tokens
	exchErr    error
	claims     idp.Claims
	verifyErr  error
	seenNonces []string
}

func (f *fakeProvider) AuthURI(_ context.Context, stateID string, _ pkce.PKCE, nonce string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return f.authURI + "?state=" + stateID + "&nonce=" + nonce, nil
}

func (f *fakeProvider) Exchange(_ context.Context, _, _ string) (idp.Tokens, error) {
	if f.exchErr != nil {
		return idp.Tokens{}, f.exchErr
	}
	return f.tokens, nil
}

func (f *fakeProvider) VerifyIDToken(_ context.Context, _, _, nonce string) (idp.Claims, error) {
	f.seenNonces = append(f.seenNonces, nonce)
	if f.verifyErr != nil {
		return idp.Claims{}, f.verifyErr
	}
	return f.claims, nil
}

// fakeCredentials satisfies session.CredentialService.
type fakeCredentials struct {
	credential  authsvc.Credential
	exchangeErr error
	signOutErr  error

	signedOut []string
}

func (f *fakeCredentials) ExchangeCredential(_ context.Context, _, _ string) (authsvc.Credential, error) {
	if f.exchangeErr != nil {
		return authsvc.Credential{}, f.exchangeErr
	}
	return f.credential, nil
}

func (f *fakeCredentials) SignOut(_ context.Context, sessionToken string) error {
	f.signedOut = append(f.signedOut, sessionToken)
	return f.signOutErr
}

func testPortalConfig() *config.Portal {
	cfg := &config.Portal{}
	cfg.SessionDuration = 12 * time.Hour
	cfg.LoginTimeout = 15 * time.Minute
	cfg.CSRFSecret = commoncfg.SourceRef{Source: "embedded", Value: testCSRFSecret}
	cfg.SessionCookie = config.CookieTemplate{Name: "portal-session", Path: "/", HTTPOnly: true}
	cfg.CSRFCookie = config.CookieTemplate{Name: "portal-csrf", Path: "/"}
	return cfg
}

func newTestManager(
	provider *fakeProvider,
	credentials *fakeCredentials,
	sessions *sessionmock.Repository,
	notifier *session.Notifier,
) (*session.Manager, error) {
	return session.NewManager(testPortalConfig(), provider, credentials, sessions, notifier)
}
