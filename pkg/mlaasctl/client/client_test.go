package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/testutil"
	"github.com/helix-mlaas/mlaasctl/pkg/ratelimit"
)

func newTestClient(t *testing.T, server string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithServer(server),
		WithAdminKey(testutil.AdminKey),
		WithRetry(1, time.Millisecond, 5*time.Millisecond),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "missing server", opts: []Option{}, wantErr: true},
		{name: "relative server", opts: []Option{WithServer("admin/api")}, wantErr: true},
		{name: "missing admin key", opts: []Option{WithServer("https://example.com"), WithAdminKey("")}, wantErr: true},
		{
			name: "valid config",
			opts: []Option{WithServer("https://example.com/admin/api/"), WithAdminKey("k"), WithToken("t")},
		},
		{
			name: "with custom user agent",
			opts: []Option{WithServer("https://example.com"), WithUserAgent("test-agent")},
		},
		{
			name:    "bad ca file",
			opts:    []Option{WithServer("https://example.com"), WithTLSConfig("/does/not/exist.pem", false)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
		})
	}
}

func TestClientSendsCredentialsAndHeaders(t *testing.T) {
	var seen http.Header
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"services":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/admin/api", WithToken("session-token"), WithUserAgent("mlaasctl-test"))
	services, err := c.Services().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, services)

	assert.Equal(t, "Bearer session-token", seen.Get("Authorization"))
	assert.Equal(t, "mlaasctl-test", seen.Get("User-Agent"))
	assert.Equal(t, "application/json", seen.Get("Accept"))
	assert.NotEmpty(t, seen.Get(CorrelationIDHeader))
	assert.Contains(t, query, "access_token="+testutil.AdminKey)
	assert.Contains(t, query, "per_page=500")
	assert.Contains(t, query, "page=1")
}

func TestGetRetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Services().List(context.Background())
	require.Error(t, err)

	assert.Equal(t, int32(2), calls.Load(), "one attempt plus one retry")
	assert.True(t, IsTransient(err))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Contains(t, err.Error(), "maintenance")
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Services().List(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, IsTransient(err))
}

func TestPostIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Applications().Create(context.Background(), "7", CreateApplicationRequest{PlanID: "9", Name: "app"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.Services().List(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "error field", body: `{"error":"Access denied"}`, want: "Access denied"},
		{name: "validation errors", body: `{"errors":{"username":["has already been taken"],"email":["is invalid"]}}`, want: "email is invalid; username has already been taken"},
		{name: "plain text", body: "boom", want: "boom"},
		{name: "empty", body: "", want: "422 Unprocessable Entity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeError(http.MethodPost, "signup.json", 422, "422 Unprocessable Entity", []byte(tt.body))
			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.want, httpErr.Message)
			assert.Equal(t, 422, httpErr.StatusCode)
		})
	}
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&HTTPError{StatusCode: http.StatusConflict}))
	assert.True(t, IsConflict(&HTTPError{StatusCode: 422, Message: "username has already been taken"}))
	assert.False(t, IsConflict(&HTTPError{StatusCode: 422, Message: "email is invalid"}))
	assert.False(t, IsConflict(&HTTPError{StatusCode: 500, Message: "taken"}))
	assert.False(t, IsConflict(nil))
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "17", "c": null}`), &v))
	assert.Equal(t, ID("42"), v.A)
	assert.Equal(t, ID("17"), v.B)
	assert.Equal(t, ID(""), v.C)

	require.Error(t, json.Unmarshal([]byte(`{"a": true}`), &v))
}

func TestRateLimiterIsConsulted(t *testing.T) {
	fa := testutil.NewFakeAdmin(t)
	limiter := ratelimit.New(ratelimit.Config{Rate: 1000, Burst: 10})
	c := newTestClient(t, fa.URL(), WithRateLimiter(limiter))

	_, err := c.Services().List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.Len(), "admin host has a bucket")
}

func TestApplicationKeyAndLiveness(t *testing.T) {
	assert.Equal(t, "uk", Application{UserKey: "uk", ApplicationID: "aid"}.Key())
	assert.Equal(t, "aid", Application{ApplicationID: "aid"}.Key())
	assert.True(t, Application{State: "live", UserKey: "k"}.Live())
	assert.True(t, Application{State: "pending", UserKey: "k"}.Live())
	assert.False(t, Application{State: "suspended", UserKey: "k"}.Live())
	assert.False(t, Application{State: "live"}.Live())
}
