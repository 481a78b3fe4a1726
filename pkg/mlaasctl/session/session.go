package session

import (
	"strings"
	"time"
)

// Provider identifies the identity provider a session was issued by.
type Provider struct {
	URL      string
	Realm    string
	ClientID string
}

func (p Provider) normalized() Provider {
	return Provider{
		URL:      strings.TrimRight(strings.TrimSpace(p.URL), "/"),
		Realm:    strings.TrimSpace(p.Realm),
		ClientID: strings.TrimSpace(p.ClientID),
	}
}

// Session is the cached result of the last successful authentication.
type Session struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	RefreshExpiry time.Time
	ProviderURL   string
	Realm         string
	ClientID      string
}

func (s *Session) Provider() Provider {
	return Provider{URL: s.ProviderURL, Realm: s.Realm, ClientID: s.ClientID}
}

// IssuedBy reports whether the session was obtained from p. URLs are compared
// without trailing slashes.
func (s *Session) IssuedBy(p Provider) bool {
	if s == nil {
		return false
	}
	return s.Provider().normalized() == p.normalized()
}

// Valid reports whether the access token is still usable for at least skew.
func (s *Session) Valid(now time.Time, skew time.Duration) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.Expiry.After(now.Add(skew))
}

// CanRefresh reports whether a refresh grant is worth attempting. An unknown
// refresh expiry counts as usable.
func (s *Session) CanRefresh(now time.Time) bool {
	if s == nil || s.RefreshToken == "" {
		return false
	}
	return s.RefreshExpiry.IsZero() || s.RefreshExpiry.After(now)
}
