package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
)

// OIDCProvider performs grants against any OIDC issuer using x/oauth2. The
// token endpoint is discovered on first use unless configured explicitly.
type OIDCProvider struct {
	cfg        ProviderConfig
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	endpoint oauth2.Endpoint
}

func NewOIDCProvider(cfg ProviderConfig) (*OIDCProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	httpClient, err := newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS, cfg.timeout())
	if err != nil {
		return nil, err
	}
	p := &OIDCProvider{cfg: cfg, httpClient: httpClient, now: time.Now}
	if cfg.TokenURL != "" {
		p.endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: p.authStyle()}
	}
	return p, nil
}

func (p *OIDCProvider) Info() session.Provider {
	return p.cfg.Info()
}

func (p *OIDCProvider) Endpoint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endpoint.TokenURL != "" {
		return p.endpoint.TokenURL
	}
	return p.cfg.IssuerURL()
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

func (p *OIDCProvider) resolveEndpoint(ctx context.Context) (oauth2.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endpoint.TokenURL != "" {
		return p.endpoint, nil
	}
	provider, err := oidc.NewProvider(p.clientContext(ctx), p.cfg.IssuerURL())
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	p.endpoint = provider.Endpoint()
	p.endpoint.AuthStyle = p.authStyle()
	return p.endpoint, nil
}

// authStyle avoids auto-detection, which resends a failed grant.
func (p *OIDCProvider) authStyle() oauth2.AuthStyle {
	if p.cfg.ClientSecret == "" {
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleInHeader
}

func (p *OIDCProvider) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	endpoint, err := p.resolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       p.cfg.scopes(),
	}, nil
}

func (p *OIDCProvider) Password(ctx context.Context, username, password string) (*Token, error) {
	cfg, err := p.oauthConfig(ctx)
	if err != nil {
		return nil, &GrantError{Grant: GrantPassword, Description: err.Error(), Err: err}
	}
	issued := p.now()
	tok, err := cfg.PasswordCredentialsToken(p.clientContext(ctx), username, password)
	if err != nil {
		return nil, oauthGrantError(GrantPassword, err)
	}
	return p.convert(issued, tok), nil
}

func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	cfg, err := p.oauthConfig(ctx)
	if err != nil {
		return nil, &GrantError{Grant: GrantRefreshToken, Description: err.Error(), Err: err}
	}
	issued := p.now()
	// An empty access token forces the token source to refresh.
	src := cfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, oauthGrantError(GrantRefreshToken, err)
	}
	return p.convert(issued, tok), nil
}

func (p *OIDCProvider) ClientCredentials(ctx context.Context) (*Token, error) {
	endpoint, err := p.resolveEndpoint(ctx)
	if err != nil {
		return nil, &GrantError{Grant: GrantClientCredentials, Description: err.Error(), Err: err}
	}
	cc := &clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     endpoint.TokenURL,
		Scopes:       p.cfg.scopes(),
		AuthStyle:    endpoint.AuthStyle,
	}
	issued := p.now()
	tok, err := cc.Token(p.clientContext(ctx))
	if err != nil {
		return nil, oauthGrantError(GrantClientCredentials, err)
	}
	return p.convert(issued, tok), nil
}

func (p *OIDCProvider) convert(issued time.Time, tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if secs := intExtra(tok.Extra("refresh_expires_in")); secs > 0 {
		out.RefreshExpiry = expiryFrom(issued, secs)
	}
	return out
}

func intExtra(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func oauthGrantError(grantType string, err error) error {
	ge := &GrantError{Grant: grantType, Err: err, Description: err.Error()}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			ge.Status = re.Response.StatusCode
		}
		ge.Code = re.ErrorCode
		ge.Description = re.ErrorDescription
		if ge.Code == "" && ge.Description == "" {
			ge.Description = string(re.Body)
		}
	}
	return ge
}
