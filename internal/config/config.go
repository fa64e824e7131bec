// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP   HTTPServer `yaml:"http"`
	ValKey ValKey     `yaml:"valkey"`
	Portal Portal     `yaml:"portal"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"login-portal"`
}

// Portal configures the sign-in orchestration: where the provider
// bundle lives, which backend auth service to exchange credentials
// with, and how sessions are issued.
type Portal struct {
	SessionDuration time.Duration `yaml:"sessionDuration" default:"12h"`

	// LoginTimeout bounds a single sign-in attempt: the user must come
	// back from the provider within this window.
	LoginTimeout time.Duration `yaml:"loginTimeout" default:"15m"`

	CallbackURL string `yaml:"callbackURL" default:"http://localhost:8080/auth/callback"`

	// BundlePath points at the provider-issued client configuration
	// bundle. Its format is owned by the provider; see bundle.go for
	// the fields this application reads.
	BundlePath string `yaml:"bundlePath" default:"client-bundle.yaml"`

	AuthService AuthService `yaml:"authService"`

	SessionCookie CookieTemplate `yaml:"sessionCookie"`
	CSRFCookie    CookieTemplate `yaml:"csrfCookie"`

	CSRFSecret commoncfg.SourceRef `yaml:"csrfSecret"`

	Housekeeping Housekeeping `yaml:"housekeeping"`
}

// AuthService locates the hosted backend authentication service that
// issues the portal's backend credentials.
type AuthService struct {
	URL    string              `yaml:"url"`
	APIKey commoncfg.SourceRef `yaml:"apiKey"`
}

type Housekeeping struct {
	Interval    time.Duration `yaml:"interval" default:"1m"`
	IdleTimeout time.Duration `yaml:"idleTimeout" default:"30m"`
}
