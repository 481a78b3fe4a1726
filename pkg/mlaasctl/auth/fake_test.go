package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

// fakeKeycloak serves a realm token endpoint and counts grants by type.
type fakeKeycloak struct {
	*httptest.Server
	realm string

	mu        sync.Mutex
	grants    map[string]int
	password  string
	refreshOK bool
	expiresIn int
	lastForm  map[string]string
}

func newFakeKeycloak(t *testing.T, realm string) *fakeKeycloak {
	t.Helper()
	fk := &fakeKeycloak{
		realm:     realm,
		grants:    map[string]int{},
		password:  "s3cret",
		refreshOK: true,
		expiresIn: 300,
	}
	fk.Server = httptest.NewServer(http.HandlerFunc(fk.handle))
	t.Cleanup(fk.Close)
	return fk
}

func (fk *fakeKeycloak) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/realms/"+fk.realm+"/protocol/openid-connect/token" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	grant := r.PostForm.Get("grant_type")

	fk.mu.Lock()
	fk.grants[grant]++
	fk.lastForm = map[string]string{}
	for k := range r.PostForm {
		fk.lastForm[k] = r.PostForm.Get(k)
	}
	password, refreshOK, expiresIn := fk.password, fk.refreshOK, fk.expiresIn
	fk.mu.Unlock()

	switch grant {
	case GrantPassword:
		if r.PostForm.Get("password") != password {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		writeToken(w, r.PostForm.Get("username"), expiresIn)
	case GrantRefreshToken:
		if !refreshOK || r.PostForm.Get("refresh_token") == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
			return
		}
		writeToken(w, "refreshed-user", expiresIn)
	case GrantClientCredentials:
		writeToken(w, "service-account-mlaas-cli", expiresIn)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", grant)
	}
}

func (fk *fakeKeycloak) count(grant string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.grants[grant]
}

func (fk *fakeKeycloak) total() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	n := 0
	for _, c := range fk.grants {
		n += c
	}
	return n
}

func (fk *fakeKeycloak) form(key string) string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.lastForm[key]
}

func (fk *fakeKeycloak) config() ProviderConfig {
	return ProviderConfig{URL: fk.URL, Realm: fk.realm, ClientID: "mlaas-cli", Timeout: 5 * time.Second}
}

func writeToken(w http.ResponseWriter, username string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":       unsignedJWT(username, username+"@example.com"),
		"refresh_token":      "refresh-" + username,
		"token_type":         "Bearer",
		"expires_in":         expiresIn,
		"refresh_expires_in": 1800,
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

func unsignedJWT(username, email string) string {
	claims := jwt.MapClaims{
		"sub":                "0f6c1a3e-" + strings.ReplaceAll(username, "@", "-"),
		"preferred_username": username,
		"email":              email,
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		panic(err)
	}
	return signed
}

func mustKeycloak(t *testing.T, cfg ProviderConfig) *KeycloakProvider {
	t.Helper()
	p, err := NewKeycloakProvider(cfg)
	require.NoError(t, err)
	return p
}
