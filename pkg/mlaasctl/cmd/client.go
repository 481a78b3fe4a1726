package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/account"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/auth"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/client"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/config"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/provision"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/workflow"
	"github.com/helix-mlaas/mlaasctl/pkg/ratelimit"
	"github.com/helix-mlaas/mlaasctl/pkg/version"
)

func (rt *runtimeState) networkTimeout() (time.Duration, error) {
	if rt.timeout != "" {
		d, err := time.ParseDuration(rt.timeout)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid --timeout %q", rt.timeout)
		}
		return d, nil
	}
	return rt.cfg.Timeout(), nil
}

func (rt *runtimeState) providerConfig() (auth.ProviderConfig, error) {
	id := rt.cfg.Identity
	secret, err := rt.cfg.ClientSecret()
	if err != nil {
		return auth.ProviderConfig{}, err
	}
	timeout, err := rt.networkTimeout()
	if err != nil {
		return auth.ProviderConfig{}, err
	}
	return auth.ProviderConfig{
		URL:             id.URL,
		Realm:           id.Realm,
		ClientID:        id.ClientID,
		ClientSecret:    secret,
		Scopes:          id.Scopes,
		Issuer:          id.Issuer,
		TokenURL:        id.TokenURL,
		CAFile:          id.CAFile,
		InsecureSkipTLS: id.InsecureSkipTLS,
		Timeout:         timeout,
	}, nil
}

func newProvider(kind string, cfg auth.ProviderConfig) (auth.Provider, error) {
	switch kind {
	case "", config.ProviderKeycloak:
		return auth.NewKeycloakProvider(cfg)
	case config.ProviderOIDC:
		return auth.NewOIDCProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown identity provider %q", kind)
	}
}

func (rt *runtimeState) sessionStore() (session.Store, error) {
	path := rt.cfg.Settings.SessionFile
	if path == "" {
		path = session.DefaultPath()
	}
	return session.NewStore(rt.TokenStorage(), path, rt.logger())
}

// buildManager wires the identity provider and session store. It does not
// validate the admin side of the config so auth subcommands work without it.
func (rt *runtimeState) buildManager() (*auth.Manager, auth.ProviderConfig, error) {
	pcfg, err := rt.providerConfig()
	if err != nil {
		return nil, pcfg, err
	}
	provider, err := newProvider(rt.cfg.Identity.Provider, pcfg)
	if err != nil {
		return nil, pcfg, err
	}
	store, err := rt.sessionStore()
	if err != nil {
		return nil, pcfg, err
	}
	return auth.NewManager(provider, store, rt.cfg.Identity.GrantType, rt.logger()), pcfg, nil
}

func (rt *runtimeState) credentials() *auth.Credentials {
	creds := &auth.Credentials{Username: rt.username}
	if creds.Username == "" {
		creds.Username = rt.cfg.Identity.Username
	}
	creds.Password = lookupEnvPassword()
	if creds.Username == "" && creds.Password != "" {
		creds.Username = osUsername()
	}
	if rt.passwordStdin {
		creds.Prompt = rt.stdinPassword
	} else if !rt.nonInteractive {
		creds.Prompt = rt.promptCredentials
	}
	return creds
}

func (rt *runtimeState) identify(pcfg auth.ProviderConfig) workflow.IdentifyFunc {
	if !rt.cfg.Identity.VerifySignature {
		return nil
	}
	return func(ctx context.Context, token string) (*auth.Identity, error) {
		v, err := auth.NewVerifier(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		return v.Verify(ctx, token)
	}
}

func (rt *runtimeState) adminClient(sess *session.Session) (*client.Client, error) {
	key, err := rt.cfg.AdminKey()
	if err != nil {
		return nil, err
	}
	timeout, err := rt.networkTimeout()
	if err != nil {
		return nil, err
	}
	admin := rt.cfg.Admin
	options := []client.Option{
		client.WithServer(admin.URL),
		client.WithAdminKey(key),
		client.WithUserAgent(version.UserAgent()),
		client.WithTimeout(timeout),
		client.WithTLSConfig(admin.CAFile, admin.InsecureSkipTLS),
		client.WithLogger(rt.logger()),
	}
	if sess != nil {
		options = append(options, client.WithToken(sess.AccessToken))
	}
	if admin.RequestsPerSecond > 0 {
		options = append(options, client.WithRateLimiter(ratelimit.New(ratelimit.Config{
			Rate:  admin.RequestsPerSecond,
			Burst: admin.Concurrency,
		})))
	}
	return client.New(options...)
}

// buildPipeline validates the whole config and wires every stage.
func (rt *runtimeState) buildPipeline() (*workflow.Pipeline, error) {
	if err := rt.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (%s): %w", rt.configPathValue(), err)
	}
	manager, pcfg, err := rt.buildManager()
	if err != nil {
		return nil, err
	}
	log := rt.logger()
	return &workflow.Pipeline{
		Auth:        manager,
		Credentials: rt.credentials(),
		Identify:    rt.identify(pcfg),
		Log:         log,
		Connect: func(sess *session.Session) (*workflow.Stages, error) {
			c, err := rt.adminClient(sess)
			if err != nil {
				return nil, err
			}
			p := provision.New(c.Services(), c.Applications(), log)
			if rt.cfg.Admin.AppPrefix != "" {
				p.Prefix = rt.cfg.Admin.AppPrefix
			}
			resolver := account.NewResolver(c.Accounts(), log)
			if !rt.nonInteractive {
				resolver.PromptEmail = rt.promptEmail
			}
			return &workflow.Stages{
				Accounts:    resolver,
				Catalog:     catalog.New(c.Services(), c.Applications(), rt.cfg.Admin.Concurrency, log),
				Provisioner: p,
			}, nil
		},
	}, nil
}
