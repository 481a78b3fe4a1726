package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	ProviderKeycloak = "keycloak"
	ProviderOIDC     = "oidc"

	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"

	StorageFile     = "file"
	StorageKeychain = "keychain"

	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
	DefaultAppPrefix   = "helix-app"
)

type Config struct {
	Version  string   `yaml:"version"`
	Identity Identity `yaml:"identity,omitempty"`
	Admin    Admin    `yaml:"admin,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

// Identity describes the OIDC provider sessions are obtained from.
type Identity struct {
	Provider         string   `yaml:"provider,omitempty"`
	URL              string   `yaml:"url,omitempty"`
	Realm            string   `yaml:"realm,omitempty"`
	ClientID         string   `yaml:"client-id,omitempty"`
	ClientSecret     string   `yaml:"client-secret,omitempty"`
	ClientSecretEnv  string   `yaml:"client-secret-env,omitempty"`
	ClientSecretFile string   `yaml:"client-secret-file,omitempty"`
	GrantType        string   `yaml:"grant-type,omitempty"`
	Username         string   `yaml:"username,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
	Issuer           string   `yaml:"issuer,omitempty"`
	TokenURL         string   `yaml:"token-url,omitempty"`
	CAFile           string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLS  bool     `yaml:"insecure-skip-tls-verify,omitempty"`
	VerifySignature  bool     `yaml:"verify-signature,omitempty"`
}

// Admin describes the API management admin endpoint.
type Admin struct {
	URL               string  `yaml:"url,omitempty"`
	Key               string  `yaml:"key,omitempty"`
	KeyEnv            string  `yaml:"key-env,omitempty"`
	KeyFile           string  `yaml:"key-file,omitempty"`
	CAFile            string  `yaml:"ca-file,omitempty"`
	InsecureSkipTLS   bool    `yaml:"insecure-skip-tls-verify,omitempty"`
	Concurrency       int     `yaml:"concurrency,omitempty"`
	RequestsPerSecond float64 `yaml:"requests-per-second,omitempty"`
	AppPrefix         string  `yaml:"app-prefix,omitempty"`
}

type Settings struct {
	OutputFormat string        `yaml:"output-format,omitempty"`
	TokenStorage string        `yaml:"token-storage,omitempty"`
	SessionFile  string        `yaml:"session-file,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MetricsFile  string        `yaml:"metrics-file,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Identity: Identity{
			Provider:  ProviderKeycloak,
			GrantType: GrantPassword,
		},
		Admin: Admin{
			Concurrency: DefaultConcurrency,
			AppPrefix:   DefaultAppPrefix,
		},
		Settings: Settings{
			OutputFormat: "table",
			TokenStorage: StorageFile,
			Timeout:      DefaultTimeout,
		},
	}
}

// Load reads path on top of DefaultConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		def := DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Version != VersionV1 {
		add("unsupported config version %q", c.Version)
	}

	id := c.Identity
	switch id.Provider {
	case ProviderKeycloak:
		if strings.TrimSpace(id.Realm) == "" {
			add("identity.realm is required (or set %s)", EnvKeycloakRealm)
		}
	case ProviderOIDC:
	default:
		add("identity.provider must be %s or %s, got %q", ProviderKeycloak, ProviderOIDC, id.Provider)
	}
	if err := checkURL(id.URL); err != nil {
		add("identity.url %v (or set %s)", err, EnvKeycloakURL)
	}
	if strings.TrimSpace(id.ClientID) == "" {
		add("identity.client-id is required (or set %s)", EnvKeycloakClientID)
	}
	switch id.GrantType {
	case GrantPassword:
	case GrantClientCredentials:
		if id.ClientSecret == "" && id.ClientSecretEnv == "" && id.ClientSecretFile == "" {
			add("identity.client-secret is required for the %s grant", GrantClientCredentials)
		}
	default:
		add("identity.grant-type must be %s or %s, got %q", GrantPassword, GrantClientCredentials, id.GrantType)
	}

	if err := checkURL(c.Admin.URL); err != nil {
		add("admin.url %v (or set %s)", err, EnvAdminURL)
	}
	if c.Admin.Key == "" && c.Admin.KeyEnv == "" && c.Admin.KeyFile == "" {
		add("admin.key is required (or set %s)", EnvAdminKey)
	}
	if c.Admin.Concurrency < 0 {
		add("admin.concurrency must not be negative")
	}
	if c.Admin.RequestsPerSecond < 0 {
		add("admin.requests-per-second must not be negative")
	}

	switch c.Settings.OutputFormat {
	case "", "table", "wide", "json", "yaml":
	default:
		add("settings.output-format must be table, wide, json or yaml, got %q", c.Settings.OutputFormat)
	}
	switch c.Settings.TokenStorage {
	case "", StorageFile, StorageKeychain:
	default:
		add("settings.token-storage must be %s or %s, got %q", StorageFile, StorageKeychain, c.Settings.TokenStorage)
	}
	if c.Settings.Timeout < 0 {
		add("settings.timeout must not be negative")
	}
	return result.ErrorOrNil()
}

func checkURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// ClientSecret resolves the identity client secret from its literal, env or
// file source, in that order. An unset secret is not an error.
func (c *Config) ClientSecret() (string, error) {
	return resolveSecret("identity.client-secret", c.Identity.ClientSecret, c.Identity.ClientSecretEnv, c.Identity.ClientSecretFile)
}

func (c *Config) AdminKey() (string, error) {
	key, err := resolveSecret("admin.key", c.Admin.Key, c.Admin.KeyEnv, c.Admin.KeyFile)
	if err == nil && key == "" {
		err = fmt.Errorf("admin.key is empty")
	}
	return key, err
}

func resolveSecret(name, literal, env, file string) (string, error) {
	if literal != "" {
		return literal, nil
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
		if file == "" {
			return "", fmt.Errorf("%s: environment variable %s is not set", name, env)
		}
	}
	if file != "" {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return "", nil
}

func (c *Config) Timeout() time.Duration {
	if c.Settings.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Settings.Timeout
}

// Redacted returns a copy with literal secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Identity.ClientSecret != "" {
		c.Identity.ClientSecret = redactedValue
	}
	if c.Admin.Key != "" {
		c.Admin.Key = redactedValue
	}
	return c
}

const redactedValue = "<redacted>"
