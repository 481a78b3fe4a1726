package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
)

// Identity is the caller as described by the access token claims.
type Identity struct {
	Subject string
	Email   string
	Claims  map[string]interface{}
}

// DecodeIdentity reads the claims of a JWT access token without verifying
// its signature. The token was just issued to us by the provider.
func DecodeIdentity(token string) (*Identity, error) {
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}
	return IdentityFromClaims(claims)
}

// IdentityFromClaims picks preferred_username as the subject and falls back
// to sub.
func IdentityFromClaims(claims map[string]interface{}) (*Identity, error) {
	id := &Identity{Claims: claims}
	if username, ok := claims["preferred_username"].(string); ok && username != "" {
		id.Subject = username
	} else if sub, ok := claims["sub"].(string); ok && sub != "" {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if id.Subject == "" {
		return nil, errors.New("access token has neither preferred_username nor sub")
	}
	return id, nil
}

// Verifier checks access token signatures against the issuer's JWKS.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	provider *OIDCProvider
}

// NewVerifier discovers the issuer configured in cfg. Audience is not checked
// since Keycloak access tokens are issued for the account client.
func NewVerifier(ctx context.Context, cfg ProviderConfig) (*Verifier, error) {
	p, err := NewOIDCProvider(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(p.clientContext(ctx), cfg.IssuerURL())
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	v := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &Verifier{verifier: v, provider: p}, nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(v.provider.clientContext(ctx), token)
	if err != nil {
		return nil, fmt.Errorf("access token verification failed: %w", err)
	}
	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to read verified claims: %w", err)
	}
	return IdentityFromClaims(claims)
}
