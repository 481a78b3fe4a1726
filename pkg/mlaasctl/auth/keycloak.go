package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
	"github.com/helix-mlaas/mlaasctl/pkg/version"
)

// KeycloakProvider talks to a Keycloak realm token endpoint through gocloak.
type KeycloakProvider struct {
	cfg    ProviderConfig
	client *gocloak.GoCloak
	now    func() time.Time
}

func NewKeycloakProvider(cfg ProviderConfig) (*KeycloakProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Realm == "" {
		return nil, errors.New("realm is required")
	}
	hc, err := newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS, cfg.timeout())
	if err != nil {
		return nil, err
	}
	kc := gocloak.NewClient(strings.TrimRight(cfg.URL, "/"))
	kc.RestyClient().
		SetTransport(hc.Transport).
		SetTimeout(cfg.timeout()).
		SetHeader("User-Agent", version.UserAgent())
	return &KeycloakProvider{cfg: cfg, client: kc, now: time.Now}, nil
}

func (p *KeycloakProvider) Info() session.Provider {
	return p.cfg.Info()
}

func (p *KeycloakProvider) Endpoint() string {
	return p.cfg.IssuerURL() + "/protocol/openid-connect/token"
}

func (p *KeycloakProvider) Password(ctx context.Context, username, password string) (*Token, error) {
	return p.grant(ctx, GrantPassword, gocloak.TokenOptions{
		Username: gocloak.StringP(username),
		Password: gocloak.StringP(password),
	})
}

func (p *KeycloakProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return p.grant(ctx, GrantRefreshToken, gocloak.TokenOptions{
		RefreshToken: gocloak.StringP(refreshToken),
	})
}

func (p *KeycloakProvider) ClientCredentials(ctx context.Context) (*Token, error) {
	return p.grant(ctx, GrantClientCredentials, gocloak.TokenOptions{})
}

func (p *KeycloakProvider) grant(ctx context.Context, grantType string, opts gocloak.TokenOptions) (*Token, error) {
	opts.GrantType = gocloak.StringP(grantType)
	opts.ClientID = gocloak.StringP(p.cfg.ClientID)
	if p.cfg.ClientSecret != "" {
		opts.ClientSecret = gocloak.StringP(p.cfg.ClientSecret)
	}
	scopes := p.cfg.scopes()
	opts.Scopes = &scopes

	issued := p.now()
	jwt, err := p.client.GetToken(ctx, p.cfg.Realm, opts)
	if err != nil {
		return nil, keycloakGrantError(grantType, err)
	}
	if jwt.AccessToken == "" {
		return nil, &GrantError{Grant: grantType, Description: "token response without access_token"}
	}
	tok := &Token{
		AccessToken:   jwt.AccessToken,
		RefreshToken:  jwt.RefreshToken,
		TokenType:     jwt.TokenType,
		Expiry:        expiryFrom(issued, jwt.ExpiresIn),
		RefreshExpiry: expiryFrom(issued, jwt.RefreshExpiresIn),
	}
	if grantType == GrantRefreshToken && tok.RefreshToken == "" && opts.RefreshToken != nil {
		tok.RefreshToken = *opts.RefreshToken
	}
	return tok, nil
}

func keycloakGrantError(grantType string, err error) error {
	ge := &GrantError{Grant: grantType, Err: err, Description: err.Error()}
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) {
		ge.Status = apiErr.Code
		ge.Description = apiErr.Message
	}
	ge.Code = findOAuthErrorCode(ge.Description)
	return ge
}
