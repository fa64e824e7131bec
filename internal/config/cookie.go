package config

import "net/http"

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

// CookieTemplate describes how a cookie is issued. The value is the
// only per-request part; everything else comes from configuration.
type CookieTemplate struct {
	Name     string         `yaml:"name"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite"`
}

func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	var sameSite http.SameSite
	switch ct.SameSite {
	case CookieSameSiteNone:
		sameSite = http.SameSiteNoneMode
	case CookieSameSiteLax:
		sameSite = http.SameSiteLaxMode
	case CookieSameSiteStrict:
		sameSite = http.SameSiteStrictMode
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: sameSite,
	}
}

// ToExpiredCookie returns a cookie that removes the template's cookie
// from the client.
func (ct *CookieTemplate) ToExpiredCookie() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1

	return c
}
