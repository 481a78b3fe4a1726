package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer serves discovery, JWKS and a token endpoint for realm "mlaas".
type fakeIssuer struct {
	*httptest.Server
	key       *rsa.PrivateKey
	discovery atomic.Int32
	tokens    atomic.Int32
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	fi := &fakeIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/mlaas/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		fi.discovery.Add(1)
		issuer := fi.URL + "/realms/mlaas"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/protocol/openid-connect/auth",
			"token_endpoint":                        issuer + "/protocol/openid-connect/token",
			"jwks_uri":                              issuer + "/protocol/openid-connect/certs",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/realms/mlaas/protocol/openid-connect/certs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/realms/mlaas/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		fi.tokens.Add(1)
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case GrantPassword:
			if r.PostForm.Get("password") != "s3cret" {
				writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
				return
			}
		case GrantRefreshToken, GrantClientCredentials:
		default:
			writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
			return
		}
		writeToken(w, "jdoe", 300)
	})
	fi.Server = httptest.NewServer(mux)
	t.Cleanup(fi.Close)
	return fi
}

func (fi *fakeIssuer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	s, err := tok.SignedString(fi.key)
	require.NoError(t, err)
	return s
}

func (fi *fakeIssuer) config() ProviderConfig {
	return ProviderConfig{URL: fi.URL, Realm: "mlaas", ClientID: "mlaas-cli", Timeout: 5 * time.Second}
}

func TestOIDCProviderDiscoversEndpointLazily(t *testing.T) {
	fi := newFakeIssuer(t)
	p, err := NewOIDCProvider(fi.config())
	require.NoError(t, err)
	assert.Equal(t, int32(0), fi.discovery.Load(), "construction does not touch the network")

	tok, err := p.Password(context.Background(), "jdoe", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.False(t, tok.Expiry.IsZero())
	assert.False(t, tok.RefreshExpiry.IsZero(), "refresh_expires_in is honoured")

	_, err = p.ClientCredentials(context.Background())
	require.NoError(t, err)
	_, err = p.Refresh(context.Background(), "refresh-jdoe")
	require.NoError(t, err)

	assert.Equal(t, int32(1), fi.discovery.Load())
	assert.Equal(t, int32(3), fi.tokens.Load())
	assert.Equal(t, fi.URL+"/realms/mlaas/protocol/openid-connect/token", p.Endpoint())
}

func TestOIDCProviderExplicitTokenURL(t *testing.T) {
	fi := newFakeIssuer(t)
	cfg := fi.config()
	cfg.TokenURL = fi.URL + "/realms/mlaas/protocol/openid-connect/token"
	p, err := NewOIDCProvider(cfg)
	require.NoError(t, err)

	_, err = p.Password(context.Background(), "jdoe", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, int32(0), fi.discovery.Load())
}

func TestOIDCProviderGrantError(t *testing.T) {
	fi := newFakeIssuer(t)
	p, err := NewOIDCProvider(fi.config())
	require.NoError(t, err)

	_, err = p.Password(context.Background(), "jdoe", "nope")
	var ge *GrantError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusUnauthorized, ge.Status)
	assert.Equal(t, "invalid_grant", ge.Code)
	assert.Equal(t, "Invalid user credentials", ge.Description)
}

func TestVerifier(t *testing.T) {
	fi := newFakeIssuer(t)
	v, err := NewVerifier(context.Background(), fi.config())
	require.NoError(t, err)

	good := fi.sign(t, jwt.MapClaims{
		"iss":                fi.URL + "/realms/mlaas",
		"aud":                "account",
		"sub":                "uuid-1",
		"preferred_username": "jdoe",
		"email":              "jdoe@example.com",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
	})
	id, err := v.Verify(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", id.Subject)
	assert.Equal(t, "jdoe@example.com", id.Email)

	forged := signHS256(t, jwt.MapClaims{
		"iss": fi.URL + "/realms/mlaas",
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), forged)
	require.Error(t, err)

	expired := fi.sign(t, jwt.MapClaims{
		"iss": fi.URL + "/realms/mlaas",
		"sub": "uuid-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), expired)
	require.Error(t, err)
}
