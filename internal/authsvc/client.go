// Package authsvc is the client for the backend authentication service.
// After the identity provider vouches for the user, the provider tokens
// are exchanged here for a portal credential that identifies the user
// to the rest of the backend.
package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/serviceerr"
)

// Credential is the backend's answer to a successful token exchange.
type Credential struct {
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	Expiry       time.Time `json:"expiry"`
}

// Client calls the backend authentication service over HTTP.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(cfg config.AuthService, opts ...Option) (*Client, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing auth service URL: %w", err)
	}

	c := &Client{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.APIKey.Source != "" {
		apiKey, err := commoncfg.LoadValueFromSourceRef(cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("loading auth service API key: %w", err)
		}

		c.client = &http.Client{
			Transport: &apiKeyRoundTripper{
				apiKey: string(apiKey),
				next:   c.client.Transport,
			},
			Timeout: c.client.Timeout,
		}
	}

	return c, nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// ExchangeCredential trades provider tokens for a portal credential.
func (c *Client) ExchangeCredential(ctx context.Context, idToken, accessToken string) (Credential, error) {
	body, err := json.Marshal(map[string]string{
		"id_token":     idToken,
		"access_token": accessToken,
	})
	if err != nil {
		return Credential{}, fmt.Errorf("encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("/v1/credentials").String(), bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Credential{}, &serviceerr.Error{Err: serviceerr.CodeNetwork, Description: fmt.Sprintf("calling auth service: %s", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Credential{}, &serviceerr.Error{Err: serviceerr.CodeServerRejected, Description: fmt.Sprintf("credential exchange failed with status: %d", resp.StatusCode)}
	}

	var credential Credential
	if err := json.NewDecoder(resp.Body).Decode(&credential); err != nil {
		return Credential{}, fmt.Errorf("decoding exchange response: %w", err)
	}

	if credential.SessionToken == "" {
		return Credential{}, &serviceerr.Error{Err: serviceerr.CodeServerRejected, Description: "auth service returned an empty session token"}
	}

	return credential, nil
}

// SignOut revokes the credential on the backend. A credential the
// backend no longer knows about is treated as already signed out.
func (c *Client) SignOut(ctx context.Context, sessionToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL.JoinPath("/v1/credentials").String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sessionToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return &serviceerr.Error{Err: serviceerr.CodeNetwork, Description: fmt.Sprintf("calling auth service: %s", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return &serviceerr.Error{Err: serviceerr.CodeServerRejected, Description: fmt.Sprintf("sign out failed with status: %d", resp.StatusCode)}
	}
}

type apiKeyRoundTripper struct {
	apiKey string
	next   http.RoundTripper
}

func (t *apiKeyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-API-Key", t.apiKey)

	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}

	return next.RoundTrip(req)
}
