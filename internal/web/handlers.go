// Package web serves the portal's two views, the sign-in endpoints and
// the session event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/serviceerr"
	"github.com/openkcm/login-portal/internal/session"
	"github.com/openkcm/login-portal/pkg/fingerprint"
)

type Handler struct {
	cfg     *config.Config
	manager *session.Manager
	gate    *session.Gate
	title   string
}

func NewHandler(cfg *config.Config, manager *session.Manager, gate *session.Gate) *Handler {
	title := cfg.Application.Name
	if title == "" {
		title = "Login Portal"
	}

	return &Handler{
		cfg:     cfg,
		manager: manager,
		gate:    gate,
		title:   title,
	}
}

// Routes wires the handler into a mux.
func (h *Handler) Routes(instrument func(operationID string, next http.HandlerFunc) http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", instrument("index", h.index))
	mux.HandleFunc("GET /auth/login", instrument("login", h.login))
	mux.HandleFunc("GET /auth/callback", instrument("callback", h.callback))
	mux.HandleFunc("POST /auth/logout", instrument("logout", h.logout))
	mux.HandleFunc("GET /auth/events", instrument("events", h.events))

	return mux
}

// index renders the home view for a signed-in user and the login view
// for everyone else.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	current, err := h.gate.Current(ctx, h.sessionID(r), fingerprintOf(r))
	if err != nil {
		if !errors.Is(err, serviceerr.ErrNotFound) && !errors.Is(err, serviceerr.ErrFingerprintMismatch) {
			slogctx.Error(ctx, "Could not resolve the current session", "error", err)
		}

		h.renderLogin(ctx, w, r.URL.Query().Get("error"))

		return
	}

	view := homeView{
		Title:       h.title,
		DisplayName: current.DisplayName,
		CSRFToken:   current.CSRFToken,
	}
	if err := views.ExecuteTemplate(w, "home.html", view); err != nil {
		slogctx.Error(ctx, "Rendering the home view failed", "error", err)
	}
}

// login starts a fresh sign-in attempt and sends the user to the
// provider's consent screen.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authURI, err := h.manager.BeginSignIn(ctx, fingerprintOf(r), "/")
	if err != nil {
		slogctx.Error(ctx, "Could not begin sign-in", "error", err)
		h.redirectWithError(w, r, err)

		return
	}

	http.Redirect(w, r, authURI, http.StatusFound)
}

// callback finishes the sign-in attempt when the provider redirects
// back, or surfaces the provider's error on the login view.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		err := session.CancelledSignIn(providerErr, q.Get("error_description"))
		slogctx.Info(ctx, "Sign-in did not complete", "provider_error", providerErr)
		h.redirectWithError(w, r, err)

		return
	}

	data, err := h.manager.FinaliseSignIn(ctx, q.Get("state"), q.Get("code"), fingerprintOf(r))
	if err != nil {
		slogctx.Error(ctx, "Could not finalise sign-in", "error", err)
		h.redirectWithError(w, r, err)

		return
	}

	sessionCookie, err := h.manager.MakeSessionCookie(ctx, data.SessionID)
	if err != nil {
		slogctx.Error(ctx, "Could not make the session cookie", "error", err)
		h.redirectWithError(w, r, err)

		return
	}

	csrfCookie, err := h.manager.MakeCSRFCookie(ctx, data.CSRFToken)
	if err != nil {
		slogctx.Error(ctx, "Could not make the CSRF cookie", "error", err)
		h.redirectWithError(w, r, err)

		return
	}

	http.SetCookie(w, sessionCookie)
	http.SetCookie(w, csrfCookie)

	target := data.RequestURI
	if target == "" {
		target = "/"
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// logout tears the session down. The request must carry the CSRF token
// issued with the session.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := h.sessionID(r)
	if sessionID == "" {
		http.Redirect(w, r, "/", http.StatusFound)

		return
	}

	if !h.manager.ValidateCSRFToken(r.PostFormValue("csrf_token"), sessionID) {
		slogctx.Warn(ctx, "Rejected a sign-out request with an invalid CSRF token")
		http.Error(w, "invalid CSRF token", http.StatusForbidden)

		return
	}

	if err := h.manager.SignOut(ctx, sessionID); err != nil {
		slogctx.Error(ctx, "Could not sign out", "error", err)
		http.Error(w, "sign out failed", http.StatusInternalServerError)

		return
	}

	http.SetCookie(w, h.manager.MakeExpiredSessionCookie())
	http.SetCookie(w, h.manager.MakeExpiredCSRFCookie())

	http.Redirect(w, r, "/", http.StatusFound)
}

// events streams this session's sign-in and sign-out events as
// server-sent events until the client goes away.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	current, err := h.gate.Current(ctx, h.sessionID(r), fingerprintOf(r))
	if err != nil {
		http.Error(w, "no active session", http.StatusUnauthorized)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sub := h.gate.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sub.C:
			if !open {
				return
			}

			if event.SessionID != current.ID {
				continue
			}

			if err := writeEvent(w, event); err != nil {
				slogctx.Warn(ctx, "Could not write a session event", "error", err)

				return
			}
			flusher.Flush()

			if event.Kind == session.EventSignedOut {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event session.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}

func (h *Handler) renderLogin(ctx context.Context, w http.ResponseWriter, errorCode string) {
	view := loginView{Title: h.title}
	if errorCode != "" {
		view.Error = errorCaption(serviceerr.Code(errorCode))
	}

	if err := views.ExecuteTemplate(w, "login.html", view); err != nil {
		slogctx.Error(ctx, "Rendering the login view failed", "error", err)
	}
}

// redirectWithError sends the user back to the login view with the
// failure's code in the query. The index handler turns the code into a
// caption; a fresh sign-in attempt starts without it.
func (h *Handler) redirectWithError(w http.ResponseWriter, r *http.Request, err error) {
	q := url.Values{}
	q.Set("error", string(serviceerr.CodeOf(err)))

	http.Redirect(w, r, "/?"+q.Encode(), http.StatusFound)
}

func (h *Handler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(h.cfg.Portal.SessionCookie.Name)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func fingerprintOf(r *http.Request) string {
	if fp, err := fingerprint.ExtractFingerprint(r.Context()); err == nil {
		return fp
	}

	fp, _ := fingerprint.FromHTTPRequest(r)

	return fp
}
