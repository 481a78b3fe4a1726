package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// FakeKeycloak serves one realm's token endpoint. Users maps username to
// password; tokens carry preferred_username and email claims.
type FakeKeycloak struct {
	Server *httptest.Server
	Realm  string

	mu     sync.Mutex
	users  map[string]fakeUser
	grants map[string]int
}

type fakeUser struct {
	password string
	email    string
}

func NewFakeKeycloak(t testing.TB, realm string) *FakeKeycloak {
	t.Helper()
	fk := &FakeKeycloak{Realm: realm, users: map[string]fakeUser{}, grants: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/"+realm+"/protocol/openid-connect/token", fk.token)
	fk.Server = httptest.NewServer(mux)
	t.Cleanup(fk.Server.Close)
	return fk
}

func (fk *FakeKeycloak) URL() string {
	return fk.Server.URL
}

func (fk *FakeKeycloak) AddUser(username, password, email string) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.users[username] = fakeUser{password: password, email: email}
}

// Grants returns how many token requests of grantType were served.
func (fk *FakeKeycloak) Grants(grantType string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.grants[grantType]
}

func (fk *FakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	grant := r.PostForm.Get("grant_type")
	fk.mu.Lock()
	fk.grants[grant]++
	fk.mu.Unlock()

	switch grant {
	case "password":
		username := r.PostForm.Get("username")
		fk.mu.Lock()
		u, ok := fk.users[username]
		fk.mu.Unlock()
		if !ok || u.password != r.PostForm.Get("password") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid user credentials",
			})
			return
		}
		fk.issue(w, username, u.email)
	case "refresh_token":
		claims := jwt.MapClaims{}
		if _, _, err := (&jwt.Parser{}).ParseUnverified(r.PostForm.Get("refresh_token"), claims); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid refresh token"})
			return
		}
		username, _ := claims["preferred_username"].(string)
		email, _ := claims["email"].(string)
		fk.issue(w, username, email)
	case "client_credentials":
		fk.issue(w, "service-account-"+r.PostForm.Get("client_id"), "")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (fk *FakeKeycloak) issue(w http.ResponseWriter, username, email string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       SignToken(username, email, 5*time.Minute),
		"refresh_token":      SignToken(username, email, 30*time.Minute),
		"token_type":         "Bearer",
		"expires_in":         300,
		"refresh_expires_in": 1800,
	})
}

// SignToken returns an HS256 JWT with the claims Keycloak puts in access
// tokens. The signature is not meant to be verified.
func SignToken(username, email string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":                "sub-" + username,
		"preferred_username": username,
		"exp":                time.Now().Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-keycloak"))
	if err != nil {
		panic(err)
	}
	return s
}
