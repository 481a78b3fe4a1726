package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
	"github.com/helix-mlaas/mlaasctl/pkg/system"
)

// DefaultSkew is how long a cached token must remain valid to be reused.
const DefaultSkew = 30 * time.Second

// PromptFunc asks the user for credentials. username is the suggested default.
type PromptFunc func(ctx context.Context, username string) (string, string, error)

// Credentials for the password grant. Prompt is only consulted when a login
// is actually needed and Password is empty.
type Credentials struct {
	Username string
	Password string
	Prompt   PromptFunc
}

// Manager owns the session lifecycle: cached reuse, one refresh, then login.
type Manager struct {
	Provider  Provider
	Store     session.Store
	GrantType string
	Log       *zap.SugaredLogger
	Skew      time.Duration
	Now       func() time.Time
}

func NewManager(provider Provider, store session.Store, grantType string, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if grantType == "" {
		grantType = GrantPassword
	}
	return &Manager{
		Provider:  provider,
		Store:     store,
		GrantType: grantType,
		Log:       log,
		Skew:      DefaultSkew,
		Now:       time.Now,
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Cached returns the stored session if it was issued by the configured
// provider. It never touches the network.
func (m *Manager) Cached() *session.Session {
	cached, _ := m.Store.Load()
	if cached == nil {
		return nil
	}
	if !cached.IssuedBy(m.Provider.Info()) {
		m.Log.Debugw("Cached session belongs to a different provider, ignoring",
			"cachedURL", cached.ProviderURL, "cachedRealm", cached.Realm, "cachedClient", cached.ClientID)
		return nil
	}
	return cached
}

func (m *Manager) Authenticate(ctx context.Context, creds *Credentials) (*session.Session, error) {
	now := m.now()
	cached := m.Cached()
	if cached.Valid(now, m.Skew) {
		m.Log.With(system.TokenFields(cached.AccessToken)...).Debugw("Reusing cached session", "expiry", cached.Expiry)
		metrics.Authentications.WithLabelValues("cache", "success").Inc()
		return cached, nil
	}

	var refreshErr error
	if cached.CanRefresh(now) {
		tok, err := m.Provider.Refresh(ctx, cached.RefreshToken)
		if err == nil {
			metrics.Authentications.WithLabelValues("refresh", "success").Inc()
			return m.persist(tok, "refresh"), nil
		}
		metrics.Authentications.WithLabelValues("refresh", "failure").Inc()
		refreshErr = err
		m.Log.Infow("Session refresh failed, logging in again", "error", err)
	}

	tok, identity, err := m.login(ctx, creds)
	if err != nil {
		metrics.Authentications.WithLabelValues("login", "failure").Inc()
		return nil, m.authError(err, refreshErr, identity)
	}
	metrics.Authentications.WithLabelValues("login", "success").Inc()
	return m.persist(tok, "login"), nil
}

func (m *Manager) login(ctx context.Context, creds *Credentials) (*Token, string, error) {
	if m.GrantType == GrantClientCredentials {
		tok, err := m.Provider.ClientCredentials(ctx)
		return tok, m.Provider.Info().ClientID, err
	}
	if m.GrantType != GrantPassword {
		return nil, "", fmt.Errorf("unsupported grant type %q", m.GrantType)
	}
	if creds == nil {
		creds = &Credentials{}
	}
	username, password := creds.Username, creds.Password
	if password == "" {
		if creds.Prompt == nil {
			return nil, username, errors.New("password required but no credentials were provided and prompting is disabled")
		}
		var err error
		username, password, err = creds.Prompt(ctx, username)
		if err != nil {
			return nil, username, fmt.Errorf("failed to read credentials: %w", err)
		}
	}
	if username == "" || password == "" {
		return nil, username, errors.New("username and password are required")
	}
	tok, err := m.Provider.Password(ctx, username, password)
	return tok, username, err
}

func (m *Manager) persist(tok *Token, path string) *session.Session {
	info := m.Provider.Info()
	s := &session.Session{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		Expiry:        tok.Expiry,
		RefreshExpiry: tok.RefreshExpiry,
		ProviderURL:   info.URL,
		Realm:         info.Realm,
		ClientID:      info.ClientID,
	}
	log := m.Log.With(system.TokenFields(s.AccessToken)...)
	if err := m.Store.Save(s); err != nil {
		log.Warnw("Failed to cache session; the next run will log in again", "error", err)
	} else {
		log.Debugw("Session cached", "path", path, "expiry", s.Expiry)
	}
	return s
}

func (m *Manager) authError(err, refreshErr error, identity string) error {
	op := "login"
	e := errdefs.Authentication(op, err, "could not obtain an access token").
		WithEndpoint(m.Provider.Endpoint()).
		WithIdentity(identity)
	var ge *GrantError
	if errors.As(err, &ge) {
		op = ge.Grant + " grant"
		e.Op = op
		switch {
		case ge.Code != "":
			e.WithCode(ge.Code)
		case ge.Status > 0:
			e.WithCode(strconv.Itoa(ge.Status))
		}
	}
	if refreshErr != nil {
		e.Message = fmt.Sprintf("%s (refresh also failed: %v)", e.Message, refreshErr)
	}
	return e
}

// Logout removes the cached session.
func (m *Manager) Logout() error {
	return m.Store.Delete()
}
