package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/auth"
	"github.com/helix-mlaas/mlaasctl/pkg/ratelimit"
	"github.com/helix-mlaas/mlaasctl/pkg/version"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"

	defaultTimeout      = 30 * time.Second
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 3 * time.Second
)

// Client talks to the API management admin API. Only GET requests are
// retried; POSTs are sent exactly once.
type Client struct {
	rc      *resty.Client
	baseURL *url.URL
	limiter *ratelimit.Limiter
	log     *zap.SugaredLogger
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{log: zap.NewNop().Sugar()}
	c.rc = resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetTimeout(defaultTimeout).
		SetRetryCount(1).
		SetRetryWaitTime(defaultRetryWait).
		SetRetryMaxWaitTime(defaultRetryMaxWait).
		AddRetryCondition(retryIdempotent).
		SetTransport(metrics.InstrumentRoundTripper("admin", &http.Transport{Proxy: http.ProxyFromEnvironment}))
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("admin api url is required")
	}
	c.rc.SetLogger(c.log)
	c.rc.AddRetryHook(func(resp *resty.Response, err error) {
		metrics.APIRetries.WithLabelValues("admin").Inc()
		fields := []interface{}{"error", err}
		if resp != nil && resp.Request != nil {
			fields = append(fields, "method", resp.Request.Method, "status", resp.StatusCode())
		}
		c.log.Infow("Retrying admin API request", fields...)
	})
	c.rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(CorrelationIDHeader) == "" {
			r.SetHeader(CorrelationIDHeader, uuid.NewString())
		}
		return c.limiter.Wait(r.Context(), c.baseURL.Host)
	})
	c.rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.log.Debugw("Admin API response",
			"method", resp.Request.Method,
			"path", redactedPath(resp),
			"status", resp.StatusCode(),
			"duration", resp.Time(),
			"correlationID", resp.Request.Header.Get(CorrelationIDHeader))
		return nil
	})
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("admin api url is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid admin api url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid admin api url %q: scheme and host are required", server)
		}
		c.baseURL = parsed
		c.rc.SetBaseURL(strings.TrimRight(parsed.String(), "/"))
		return nil
	}
}

// WithAdminKey sets the provider key sent as the access_token query parameter.
func WithAdminKey(key string) Option {
	return func(c *Client) error {
		if key == "" {
			return errors.New("admin api key is required")
		}
		c.rc.SetQueryParam("access_token", key)
		return nil
	}
}

// WithToken forwards the user's session token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) error {
		if token != "" {
			c.rc.SetAuthToken(token)
		}
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.rc.SetHeader("User-Agent", userAgent)
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.rc.SetTimeout(timeout)
		}
		return nil
	}
}

// WithRetry overrides how GET requests back off. count is the number of
// retries after the first attempt.
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(c *Client) error {
		c.rc.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(maxWait)
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := auth.LoadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment, TLSClientConfig: tlsConfig}
		c.rc.SetTransport(metrics.InstrumentRoundTripper("admin", transport))
		return nil
	}
}

func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) error {
		c.limiter = l
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// BaseURL returns the admin API root as configured.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func redactedPath(resp *resty.Response) string {
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		return resp.RawResponse.Request.URL.Path
	}
	if u, err := url.Parse(resp.Request.URL); err == nil {
		return u.Path
	}
	return ""
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, pathParams map[string]string, out any) error {
	req := c.rc.R().SetContext(ctx).SetQueryParams(params).SetPathParams(pathParams)
	resp, err := req.Get(endpoint)
	return c.handle(http.MethodGet, endpoint, resp, err, out)
}

func (c *Client) post(ctx context.Context, endpoint string, form map[string]string, pathParams map[string]string, out any) error {
	req := c.rc.R().SetContext(ctx).SetFormData(form).SetPathParams(pathParams)
	resp, err := req.Post(endpoint)
	return c.handle(http.MethodPost, endpoint, resp, err, out)
}

func (c *Client) handle(method, endpoint string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return &TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	if resp.IsError() {
		return decodeError(method, endpoint, resp.StatusCode(), resp.Status(), resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// decodeError understands both {"error": "..."} and the validation form
// {"errors": {"field": ["msg", ...]}}.
func decodeError(method, endpoint string, status int, statusText string, body []byte) error {
	var apiErr struct {
		Error  string              `json:"error"`
		Errors map[string][]string `json:"errors"`
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" && len(apiErr.Errors) > 0 {
		fields := make([]string, 0, len(apiErr.Errors))
		for f := range apiErr.Errors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f+" "+strings.Join(apiErr.Errors[f], ", "))
		}
		msg = strings.Join(parts, "; ")
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = statusText
	}
	return &HTTPError{StatusCode: status, Method: method, Endpoint: endpoint, Message: msg}
}

type HTTPError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
}

// TransportError is a request that never produced an HTTP response.
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of err, or 0 when there is none.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err is worth retrying later: no response at
// all, a timeout, throttling or a server-side failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsConflict reports whether err is the API rejecting a duplicate.
func IsConflict(err error) bool {
	code := StatusCode(err)
	if code == http.StatusConflict {
		return true
	}
	if code != http.StatusUnprocessableEntity {
		return false
	}
	var httpErr *HTTPError
	errors.As(err, &httpErr)
	msg := strings.ToLower(httpErr.Message)
	return strings.Contains(msg, "taken") || strings.Contains(msg, "already exists")
}
