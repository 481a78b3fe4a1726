package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables shared with the helix helper scripts. They take
// precedence over the config file.
const (
	EnvKeycloakURL          = "KEYCLOAK_URL"
	EnvKeycloakRealm        = "KEYCLOAK_REALM"
	EnvKeycloakClientID     = "KEYCLOAK_CLIENT_ID"
	EnvKeycloakClientSecret = "KEYCLOAK_CLIENT_SECRET"
	EnvKeycloakGrantType    = "KEYCLOAK_GRANT_TYPE"
	EnvKeycloakUsername     = "KEYCLOAK_USERNAME"
	EnvKeycloakPassword     = "KEYCLOAK_PASSWORD"
	EnvAdminURL             = "THREESCALE_ADMIN_API_URL"
	EnvAdminKey             = "THREESCALE_ADMIN_API_KEY"
)

// LoadEnvFile loads KEY=value pairs from path (".env" when empty) without
// overriding variables already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides config values with the environment variables above.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Identity.URL, EnvKeycloakURL)
	set(&c.Identity.Realm, EnvKeycloakRealm)
	set(&c.Identity.ClientID, EnvKeycloakClientID)
	set(&c.Identity.GrantType, EnvKeycloakGrantType)
	set(&c.Identity.Username, EnvKeycloakUsername)
	set(&c.Admin.URL, EnvAdminURL)
	if v := getenv(EnvKeycloakClientSecret); v != "" {
		c.Identity.ClientSecret = v
		c.Identity.ClientSecretEnv, c.Identity.ClientSecretFile = "", ""
	}
	if v := getenv(EnvAdminKey); v != "" {
		c.Admin.Key = v
		c.Admin.KeyEnv, c.Admin.KeyFile = "", ""
	}
}
