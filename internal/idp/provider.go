// Package idp wraps the OpenID Connect identity provider: discovery,
// authorisation URI construction, code exchange and ID token verification.
package idp

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/oidc"
	gocache "github.com/patrickmn/go-cache"

	"github.com/openkcm/login-portal/internal/config"
	"github.com/openkcm/login-portal/internal/pkce"
	"github.com/openkcm/login-portal/internal/serviceerr"
)

// Tokens is the token endpoint response.
type Tokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Claims is the subset of ID token claims the portal cares about.
type Claims struct {
	Subject       string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Nonce         string `json:"nonce"`
	AtHash        string `json:"at_hash,omitempty"`
}

// DisplayName returns the best human-readable name available in the claims.
func (c Claims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.GivenName != "" && c.FamilyName != "":
		return c.GivenName + " " + c.FamilyName
	case c.GivenName != "":
		return c.GivenName
	case c.Email != "":
		return c.Email
	default:
		return ""
	}
}

// Provider talks to a single OpenID Connect issuer described by the
// client bundle. Discovery documents and key sets are cached so that
// repeated sign-ins do not hammer the issuer.
type Provider struct {
	bundle          *config.Bundle
	callbackURL     *url.URL
	client          *http.Client
	cache           *gocache.Cache
	allowHTTPScheme bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for all issuer calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithAllowHTTPScheme permits plain http issuers. Only useful in tests
// and local development.
func WithAllowHTTPScheme(allow bool) Option {
	return func(p *Provider) {
		p.allowHTTPScheme = allow
	}
}

func NewProvider(bundle *config.Bundle, callbackURL string, opts ...Option) (*Provider, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("parsing callback URL: %w", err)
	}

	p := &Provider{
		bundle:      bundle,
		callbackURL: u,
		client:      http.DefaultClient,
		cache:       gocache.New(5*time.Minute, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// AuthURI returns the authorisation endpoint URI that starts the
// code flow for the given state, PKCE pair and nonce.
func (p *Provider) AuthURI(ctx context.Context, stateID string, challenge pkce.PKCE, nonce string) (string, error) {
	conf, err := p.getOpenIDConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("getting openid configuration: %w", err)
	}

	u, err := url.Parse(conf.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorisation endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("scope", strings.Join(p.bundle.Scopes, " "))
	q.Set("response_type", "code")
	q.Set("client_id", p.bundle.ClientID)
	q.Set("state", stateID)
	q.Set("nonce", nonce)
	q.Set("code_challenge", challenge.Challenge)
	q.Set("code_challenge_method", challenge.Method)
	q.Set("redirect_uri", p.callbackURL.String())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Exchange swaps the authorisation code for tokens at the token endpoint.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (Tokens, error) {
	conf, err := p.getOpenIDConfig(ctx)
	if err != nil {
		return Tokens{}, fmt.Errorf("getting openid configuration: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", p.callbackURL.String())
	data.Set("client_id", p.bundle.ClientID)
	if p.bundle.ClientSecret != "" {
		data.Set("client_secret", p.bundle.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return Tokens{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Tokens{}, &serviceerr.Error{Err: serviceerr.CodeNetwork, Description: fmt.Sprintf("executing token request: %s", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Tokens{}, &serviceerr.Error{Err: serviceerr.CodeServerRejected, Description: fmt.Sprintf("token exchange failed with status: %d", resp.StatusCode)}
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Tokens{}, fmt.Errorf("decoding token response: %w", err)
	}

	if tokens.IDToken == "" {
		return Tokens{}, serviceerr.ErrMissingIDToken
	}

	return tokens, nil
}

// VerifyIDToken checks the signature and standard claims of the raw ID
// token and returns its claims. The nonce must match the one sent on
// the authorisation request, and when the token carries an at_hash the
// access token is verified against it.
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken, accessToken, nonce string) (Claims, error) {
	conf, err := p.getOpenIDConfig(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("getting openid configuration: %w", err)
	}

	algs := make([]jose.SignatureAlgorithm, 0, len(conf.IDTokenSigningAlgValuesSupported))
	for _, alg := range conf.IDTokenSigningAlgValuesSupported {
		algs = append(algs, jose.SignatureAlgorithm(alg))
	}
	if len(algs) == 0 {
		algs = []jose.SignatureAlgorithm{jose.RS256}
	}

	token, err := jwt.ParseSigned(rawIDToken, algs)
	if err != nil {
		return Claims{}, &serviceerr.Error{Err: serviceerr.CodeInvalidToken, Description: fmt.Sprintf("parsing id token: %s", err)}
	}

	keyset, err := p.getProviderKeySet(ctx, conf.JwksURI)
	if err != nil {
		return Claims{}, fmt.Errorf("getting jwks for the provider: %w", err)
	}

	var standardClaims jwt.Claims
	var claims Claims
	if err := token.Claims(keyset, &standardClaims, &claims); err != nil {
		return Claims{}, &serviceerr.Error{Err: serviceerr.CodeInvalidToken, Description: fmt.Sprintf("getting JWT claims: %s", err)}
	}

	err = standardClaims.Validate(jwt.Expected{
		Issuer:      p.bundle.IssuerURL,
		AnyAudience: jwt.Audience{p.bundle.ClientID},
		Time:        time.Now(),
	})
	if err != nil {
		return Claims{}, &serviceerr.Error{Err: serviceerr.CodeInvalidToken, Description: fmt.Sprintf("validating id token: %s", err)}
	}

	if claims.Nonce != nonce {
		return Claims{}, &serviceerr.Error{Err: serviceerr.CodeInvalidToken, Description: "nonce mismatch"}
	}

	if claims.AtHash != "" {
		if err := verifyAccessToken(accessToken, claims.AtHash, token); err != nil {
			return Claims{}, err
		}
	}

	claims.Subject = standardClaims.Subject

	return claims, nil
}

func (p *Provider) getOpenIDConfig(ctx context.Context) (*oidc.Configuration, error) {
	const wkocPrefix = "wkoc_"

	// first check the cache for a recent WKOC configuration for this issuer
	cacheKey := wkocPrefix + p.bundle.IssuerURL
	cached, ok := p.cache.Get(cacheKey)
	if ok {
		//nolint:forcetypeassert
		return cached.(*oidc.Configuration), nil
	}

	// otherwise, fetch the configuration and cache it
	provider, err := oidc.NewProvider(p.bundle.IssuerURL, []string{}, oidc.WithAllowHttpScheme(p.allowHTTPScheme))
	if err != nil {
		return nil, err
	}
	cfg, err := provider.GetConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	p.cache.Set(cacheKey, cfg, 0)

	return cfg, nil
}

func (p *Provider) getProviderKeySet(ctx context.Context, jwksURI string) (*jose.JSONWebKeySet, error) {
	const jwksPrefix = "jwks_"

	cacheKey := jwksPrefix + jwksURI
	cached, ok := p.cache.Get(cacheKey)
	if ok {
		//nolint:forcetypeassert
		return cached.(*jose.JSONWebKeySet), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &serviceerr.Error{Err: serviceerr.CodeNetwork, Description: fmt.Sprintf("fetching jwks: %s", err)}
	}
	defer resp.Body.Close()

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("decoding keyset response: %w", err)
	}

	p.cache.Set(cacheKey, &keySet, 0)

	return &keySet, nil
}

func verifyAccessToken(accessToken, atHash string, idToken *jwt.JSONWebToken) error {
	var h hash.Hash
	switch alg := idToken.Headers[0].Algorithm; alg {
	case "RS256", "ES256", "PS256":
		h = sha256.New()
	case "RS384", "ES384", "PS384":
		h = sha512.New384()
	case "RS512", "ES512", "PS512", "EdDSA":
		h = sha512.New()
	default:
		return fmt.Errorf("oidc: unsupported signing algorithm %q", alg)
	}

	h.Write([]byte(accessToken)) // NOSONAR
	sum := h.Sum(nil)[:h.Size()/2]
	actual := base64.RawURLEncoding.EncodeToString(sum)
	if actual != atHash {
		return serviceerr.ErrInvalidAtHash
	}

	return nil
}
