package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Bundle is the provider-issued client configuration bundle. The file
// is produced by the identity provider's console; this application only
// reads the fields below and treats the rest as opaque.
type Bundle struct {
	IssuerURL    string   `yaml:"issuerURL"`
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	RedirectURI  string   `yaml:"redirectURI"`
	Scopes       []string `yaml:"scopes"`
}

// LoadBundle reads and validates the bundle at the given path. A
// missing or invalid bundle is a startup failure; the application
// cannot sign anyone in without it.
func LoadBundle(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client bundle: %w", err)
	}

	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parsing client bundle: %w", err)
	}

	if len(b.Scopes) == 0 {
		b.Scopes = []string{"openid", "profile", "email"}
	}

	if err := b.Valid(); err != nil {
		return nil, fmt.Errorf("validating client bundle: %w", err)
	}

	return &b, nil
}

// Valid returns an error if there are missing or invalid fields,
// otherwise nil.
func (b *Bundle) Valid() error {
	if b.IssuerURL == "" {
		return errInvalidField("issuerURL", "empty")
	}

	issuer, err := url.Parse(b.IssuerURL)
	if err != nil {
		return errInvalidField("issuerURL", err.Error())
	}

	if issuer.Scheme == "http" && issuer.Hostname() != "localhost" {
		return errInvalidField("issuerURL", "http scheme unsupported")
	}

	if b.ClientID == "" {
		return errInvalidField("clientID", "empty")
	}

	if b.RedirectURI != "" {
		redirect, err := url.Parse(b.RedirectURI)
		if err != nil {
			return errInvalidField("redirectURI", err.Error())
		}

		if redirect.Scheme == "http" && redirect.Hostname() != "localhost" {
			return errInvalidField("redirectURI", "http scheme unsupported")
		}
	}

	for _, scope := range b.Scopes {
		if strings.ContainsAny(scope, " \t\n") {
			return errInvalidField("scopes", "scope contains whitespace")
		}
	}

	return nil
}

func errInvalidField(field, reason string) error {
	return fmt.Errorf("invalid %s: %s", field, reason)
}
