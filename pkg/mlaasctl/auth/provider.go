package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
)

const (
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"

	ProviderKeycloak = "keycloak"
	ProviderOIDC     = "oidc"

	defaultTimeout = 30 * time.Second
)

var defaultScopes = []string{"openid", "profile", "email"}

// ProviderConfig describes how to reach the identity provider.
type ProviderConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Issuer and TokenURL only apply to the generic OIDC provider. Issuer
	// defaults to {URL}/realms/{Realm}; TokenURL skips discovery when set.
	Issuer          string
	TokenURL        string
	CAFile          string
	InsecureSkipTLS bool
	Timeout         time.Duration
}

func (c ProviderConfig) Info() session.Provider {
	return session.Provider{URL: strings.TrimRight(c.URL, "/"), Realm: c.Realm, ClientID: c.ClientID}
}

func (c ProviderConfig) IssuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return strings.TrimRight(c.URL, "/") + "/realms/" + c.Realm
}

// TokenEndpoint is the Keycloak realm token endpoint unless TokenURL is set.
func (c ProviderConfig) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return c.IssuerURL() + "/protocol/openid-connect/token"
}

func (c ProviderConfig) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return defaultScopes
}

func (c ProviderConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c ProviderConfig) validate() error {
	if c.URL == "" && c.Issuer == "" && c.TokenURL == "" {
		return fmt.Errorf("identity provider url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client-id is required")
	}
	return nil
}

// Token is the provider-neutral result of a grant.
type Token struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	RefreshExpiry time.Time
}

// Provider performs token grants against an identity provider.
type Provider interface {
	Info() session.Provider
	Endpoint() string
	Password(ctx context.Context, username, password string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	ClientCredentials(ctx context.Context) (*Token, error)
}

// GrantError is a failed grant as reported by the provider.
type GrantError struct {
	Grant       string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *GrantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s grant failed", e.Grant)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Code == "" && e.Description == "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GrantError) Unwrap() error {
	return e.Err
}

// oauthErrorCodes are the RFC 6749 token endpoint error codes.
var oauthErrorCodes = []string{
	"invalid_request",
	"invalid_client",
	"invalid_grant",
	"unauthorized_client",
	"unsupported_grant_type",
	"invalid_scope",
	"access_denied",
	"temporarily_unavailable",
}

func findOAuthErrorCode(msg string) string {
	for _, code := range oauthErrorCodes {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return ""
}

func expiryFrom(now time.Time, seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}
