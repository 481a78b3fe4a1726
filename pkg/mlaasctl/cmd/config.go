package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/config"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage mlaasctl configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigValidateCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		provider    string
		identityURL string
		realm       string
		clientID    string
		grantType   string
		adminURL    string
		adminKey    string
		adminKeyEnv string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a mlaasctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if adminKey != "" && adminKeyEnv != "" {
				return errors.New("--admin-key and --admin-key-env are mutually exclusive")
			}

			cfg := config.DefaultConfig()
			cfg.Identity.Provider = provider
			cfg.Identity.URL = identityURL
			cfg.Identity.Realm = realm
			cfg.Identity.ClientID = clientID
			cfg.Identity.GrantType = grantType
			cfg.Admin.URL = adminURL
			cfg.Admin.Key = adminKey
			cfg.Admin.KeyEnv = adminKeyEnv
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", config.ProviderKeycloak, "Identity provider type: keycloak or oidc")
	cmd.Flags().StringVar(&identityURL, "identity-url", "", "Keycloak base URL or OIDC issuer URL")
	cmd.Flags().StringVar(&realm, "realm", "", "Keycloak realm")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OIDC client ID")
	cmd.Flags().StringVar(&grantType, "grant-type", config.GrantPassword, "Grant type: password or client_credentials")
	cmd.Flags().StringVar(&adminURL, "admin-url", "", "Admin API base URL")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "Admin API access token stored in the file")
	cmd.Flags().StringVar(&adminKeyEnv, "admin-key-env", "", "Environment variable that holds the admin API access token")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")

	_ = cmd.MarkFlagRequired("identity-url")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("admin-url")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			return output.WriteObject(rt.Writer(), output.FormatYAML, rt.cfg.Redacted())
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			if err := rt.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration (%s): %w", rt.configPathValue(), err)
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Configuration is valid")
			return nil
		},
	}
}
