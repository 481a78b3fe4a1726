package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/auth"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
	"github.com/helix-mlaas/mlaasctl/pkg/system"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the cached login session",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and cache the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			manager, _, err := rt.buildManager()
			if err != nil {
				return err
			}
			if force {
				if err := manager.Logout(); err != nil {
					return err
				}
			}
			sess, err := manager.Authenticate(cmd.Context(), rt.credentials())
			if err != nil {
				return err
			}
			who := "unknown"
			if id, err := auth.DecodeIdentity(sess.AccessToken); err == nil {
				who = id.Subject
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Authenticated as %s. Token expires at %s\n", who, sess.Expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard the cached session and log in again")
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			manager, pcfg, err := rt.buildManager()
			if err != nil {
				return err
			}
			sess := manager.Cached()
			if sess == nil {
				_, _ = fmt.Fprintln(rt.Writer(), "Not authenticated")
				return nil
			}
			now := time.Now()
			status := output.SessionStatus{
				Provider:      sess.ProviderURL,
				Realm:         sess.Realm,
				ClientID:      sess.ClientID,
				Expiry:        sess.Expiry,
				RefreshExpiry: sess.RefreshExpiry,
				Valid:         sess.Valid(now, manager.Skew),
				Refreshable:   sess.CanRefresh(now),
				Token:         system.Fingerprint(sess.AccessToken),
			}
			if status.Provider == "" {
				status.Provider = pcfg.URL
			}
			if id, err := auth.DecodeIdentity(sess.AccessToken); err == nil {
				status.Subject = id.Subject
				status.Email = id.Email
			}
			if format.Structured() {
				return output.WriteObject(rt.Writer(), format, status)
			}
			output.WriteSessionStatus(rt.Writer(), status)
			return nil
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.sessionStore()
			if err != nil {
				return err
			}
			if err := store.Delete(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}
