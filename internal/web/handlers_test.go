package web_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/login-portal/internal/authsvc"
	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/idp"
	"github.com/openkcm/login-portal/internal/pkce"
	"github.com/openkcm/login-portal/internal/serviceerr"
	"github.com/openkcm/login-portal/internal/session"
	sessionmock "github.com/openkcm/login-portal/internal/session/mock"
	"github.com/openkcm/login-portal/internal/web"
	"github.com/openkcm/login-portal/pkg/fingerprint"
)

const (
	testCSRFSecret = "12345678901234567890123456789012"
	testUserAgent  = "test-browser/1.0"
)

type fakeProvider struct {
	exchErr   error
	verifyErr error
}

func (f *fakeProvider) AuthURI(_ context.Context, stateID string, _ pkce.PKCE, nonce string) (string, error) {
	return "https://idp.example.com/authorize?state=" + stateID + "&nonce=" + nonce, nil
}

func (f *fakeProvider) Exchange(_ context.Context, _, _ string) (idp.Tokens, error) {
	if f.exchErr != nil {
		return idp.Tokens{}, f.exchErr
	}
	return idp.Tokens{IDToken: "id-token", AccessToken: "access-token"}, nil
}

func (f *fakeProvider) VerifyIDToken(_ context.Context, _, _, _ string) (idp.Claims, error) {
	if f.verifyErr != nil {
		return idp.Claims{}, f.verifyErr
	}
	return idp.Claims{Subject: "user-1234", Name: "Grace Hopper", Email: "grace@example.com"}, nil
}

type fakeCredentials struct{}

func (f *fakeCredentials) ExchangeCredential(_ context.Context, _, _ string) (authsvc.Credential, error) {
	return authsvc.Credential{SessionToken: "portal-token", DisplayName: "Grace Hopper"}, nil
}

func (f *fakeCredentials) SignOut(_ context.Context, _ string) error {
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Application.Name = "login-portal"
	cfg.Portal.SessionDuration = time.Hour
	cfg.Portal.LoginTimeout = 15 * time.Minute
	cfg.Portal.CSRFSecret = commoncfg.SourceRef{Source: "embedded", Value: testCSRFSecret}
	cfg.Portal.SessionCookie = config.CookieTemplate{Name: "portal-session", Path: "/", HTTPOnly: true}
	cfg.Portal.CSRFCookie = config.CookieTemplate{Name: "portal-csrf", Path: "/"}
	return cfg
}

type fixture struct {
	handler  http.Handler
	manager  *session.Manager
	gate     *session.Gate
	notifier *session.Notifier
	sessions *sessionmock.Repository
}

func newFixture(t *testing.T, provider *fakeProvider, opts ...sessionmock.RepositoryOption) *fixture {
	t.Helper()

	cfg := testConfig()
	sessions := sessionmock.NewInMemRepository(opts...)
	notifier := session.NewNotifier()

	manager, err := session.NewManager(&cfg.Portal, provider, &fakeCredentials{}, sessions, notifier)
	require.NoError(t, err)

	gate := session.NewGate(sessions, notifier)

	passthrough := func(_ string, next http.HandlerFunc) http.HandlerFunc { return next }

	return &fixture{
		handler:  web.NewHandler(cfg, manager, gate).Routes(passthrough),
		manager:  manager,
		gate:     gate,
		notifier: notifier,
		sessions: sessions,
	}
}

func browserFingerprint(t *testing.T) string {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", testUserAgent)

	fp, err := fingerprint.FromHTTPRequest(r)
	require.NoError(t, err)

	return fp
}

func signedInSession(t *testing.T, fx *fixture) session.Session {
	t.Helper()

	sess := session.Session{
		ID:          "session-1",
		Subject:     "user-1234",
		DisplayName: "Grace Hopper",
		CSRFToken:   "placeholder",
		Fingerprint: browserFingerprint(t),
		Expiry:      time.Now().Add(time.Hour),
		LastVisited: time.Now(),
	}

	require.NoError(t, fx.sessions.StoreSession(t.Context(), sess))

	return sess
}

func doRequest(fx *fixture, r *http.Request) *httptest.ResponseRecorder {
	r.Header.Set("User-Agent", testUserAgent)
	w := httptest.NewRecorder()
	fx.handler.ServeHTTP(w, r)
	return w
}

func TestIndex(t *testing.T) {
	t.Run("renders login view without a session", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, "/auth/login")
		assert.NotContains(t, body, "Hello")
	})

	t.Run("shows the error caption", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/?error=user_cancelled", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Sign-in was cancelled.")
	})

	t.Run("renders home view with a session", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sess := signedInSession(t, fx)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sess.ID})

		w := doRequest(fx, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Hello Grace Hopper")
	})

	t.Run("falls back to the login view on a foreign fingerprint", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sess := signedInSession(t, fx)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("User-Agent", "another-browser/2.0")
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sess.ID})

		w := httptest.NewRecorder()
		fx.handler.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "Hello")
	})

	t.Run("shows a missing display name", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sess := signedInSession(t, fx)
		sess.DisplayName = ""
		require.NoError(t, fx.sessions.StoreSession(t.Context(), sess))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sess.ID})

		w := doRequest(fx, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Username not found")
	})
}

func TestLogin(t *testing.T) {
	fx := newFixture(t, &fakeProvider{})

	w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", location.Hostname())
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.NotEmpty(t, location.Query().Get("nonce"))
}

func TestCallback(t *testing.T) {
	startSignIn := func(t *testing.T, fx *fixture) string {
		t.Helper()

		w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		require.Equal(t, http.StatusFound, w.Code)

		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)

		return location.Query().Get("state")
	}

	t.Run("completes the sign-in", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		stateID := startSignIn(t, fx)

		r := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+stateID+"&code=auth-code", nil)
		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))

		cookies := w.Result().Cookies()
		var names []string
		for _, c := range cookies {
			names = append(names, c.Name)
		}
		assert.Contains(t, names, "portal-session")
		assert.Contains(t, names, "portal-csrf")
	})

	t.Run("maps provider cancellation to the login view", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		r := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied", nil)
		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?error=user_cancelled", w.Header().Get("Location"))
	})

	t.Run("unknown state redirects with state_expired", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		r := httptest.NewRequest(http.MethodGet, "/auth/callback?state=bogus&code=auth-code", nil)
		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?error=state_expired", w.Header().Get("Location"))
	})

	t.Run("exchange failure redirects with its code", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{
			exchErr: &serviceerr.Error{Err: serviceerr.CodeNetwork, Description: "issuer unreachable"},
		})
		stateID := startSignIn(t, fx)

		r := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+stateID+"&code=auth-code", nil)
		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/?error=network", w.Header().Get("Location"))
	})
}

func TestLogout(t *testing.T) {
	signIn := func(t *testing.T, fx *fixture) (sessionID, csrfToken string) {
		t.Helper()

		w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+location.Query().Get("state")+"&code=auth-code", nil)
		w = doRequest(fx, r)
		require.Equal(t, http.StatusFound, w.Code)

		for _, c := range w.Result().Cookies() {
			switch c.Name {
			case "portal-session":
				sessionID = c.Value
			case "portal-csrf":
				csrfToken = c.Value
			}
		}
		require.NotEmpty(t, sessionID)
		require.NotEmpty(t, csrfToken)

		return sessionID, csrfToken
	}

	t.Run("signs out with a valid CSRF token", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sessionID, csrfToken := signIn(t, fx)

		form := url.Values{"csrf_token": {csrfToken}}
		r := httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sessionID})

		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))

		_, ok := fx.sessions.Sessions()[sessionID]
		assert.False(t, ok, "session must be deleted")
	})

	t.Run("rejects an invalid CSRF token", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sessionID, _ := signIn(t, fx)

		form := url.Values{"csrf_token": {"forged"}}
		r := httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sessionID})

		w := doRequest(fx, r)

		require.Equal(t, http.StatusForbidden, w.Code)

		_, ok := fx.sessions.Sessions()[sessionID]
		assert.True(t, ok, "session must survive a forged sign-out")
	})

	t.Run("without a session just redirects", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		w := doRequest(fx, r)

		require.Equal(t, http.StatusFound, w.Code)
	})
}

func TestEvents(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})

		w := doRequest(fx, httptest.NewRequest(http.MethodGet, "/auth/events", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("streams the signed-out event", func(t *testing.T) {
		fx := newFixture(t, &fakeProvider{})
		sess := signedInSession(t, fx)

		server := httptest.NewServer(fx.handler)
		defer server.Close()

		r, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL+"/auth/events", nil)
		require.NoError(t, err)
		r.Header.Set("User-Agent", testUserAgent)
		r.AddCookie(&http.Cookie{Name: "portal-session", Value: sess.ID})

		resp, err := http.DefaultClient.Do(r)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		// give the subscription a moment to be registered
		time.Sleep(100 * time.Millisecond)
		fx.notifier.Publish(t.Context(), session.Event{
			Kind:      session.EventSignedOut,
			SessionID: sess.ID,
			Reason:    "expired",
		})

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "event: signed_out")
		assert.Contains(t, string(body), `"Reason":"expired"`)
	})
}
