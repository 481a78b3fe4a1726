// Package catalog lists the admin API's services together with whether the
// caller's account already holds a key for each of them.
package catalog

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/account"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/client"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
)

// DefaultConcurrency bounds the per-service lookups in flight.
const DefaultConcurrency = 4

type KeyStatus string

const (
	KeyYes     KeyStatus = "yes"
	KeyNo      KeyStatus = "no"
	KeyUnknown KeyStatus = "unknown"
)

const (
	AuthUserKey     = "user_key"
	AuthAppIDAppKey = "app_id/app_key"
	AuthOIDC        = "oidc"
)

type Service struct {
	ID            client.ID `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	SystemName    string    `json:"systemName" yaml:"systemName"`
	ProxyEndpoint string    `json:"proxyEndpoint" yaml:"proxyEndpoint"`
	AuthMethod    string    `json:"authMethod" yaml:"authMethod"`
	KeyStatus     KeyStatus `json:"keyStatus" yaml:"keyStatus"`
	// ApplicationID and Key identify the live application when KeyStatus is yes.
	ApplicationID client.ID `json:"applicationId,omitempty" yaml:"applicationId,omitempty"`
	Key           string    `json:"key,omitempty" yaml:"key,omitempty"`
}

// HasKey is true only when the key status is known to be yes.
func (s Service) HasKey() bool {
	return s.KeyStatus == KeyYes
}

// AuthMethod maps a service's backend_version to the credential style callers use.
func AuthMethod(backendVersion string) string {
	switch backendVersion {
	case "1":
		return AuthUserKey
	case "2":
		return AuthAppIDAppKey
	case "oidc":
		return AuthOIDC
	default:
		return backendVersion
	}
}

type ServiceAPI interface {
	List(ctx context.Context) ([]client.Service, error)
	Proxy(ctx context.Context, serviceID client.ID) (*client.Proxy, error)
}

type ApplicationAPI interface {
	List(ctx context.Context, accountID, serviceID client.ID) ([]client.Application, error)
}

type Catalog struct {
	services    ServiceAPI
	apps        ApplicationAPI
	concurrency int
	log         *zap.SugaredLogger
}

func New(services ServiceAPI, apps ApplicationAPI, concurrency int, log *zap.SugaredLogger) *Catalog {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Catalog{services: services, apps: apps, concurrency: concurrency, log: log}
}

// List returns every service in the order the admin API reports them. A
// failed per-service lookup degrades that entry (unknown key status or empty
// endpoint) and is logged; only a failure of the listing itself is returned.
func (c *Catalog) List(ctx context.Context, acct account.Account) ([]Service, error) {
	raw, err := c.services.List(ctx)
	if err != nil {
		return nil, listingError(err)
	}

	out := make([]Service, len(raw))
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, s := range raw {
		out[i] = Service{
			ID:         s.ID,
			Name:       s.Name,
			SystemName: s.SystemName,
			AuthMethod: AuthMethod(s.BackendVersion),
			KeyStatus:  KeyUnknown,
		}
		g.Go(func() error {
			out[i].ProxyEndpoint = c.endpoint(ctx, s)
			return nil
		})
		g.Go(func() error {
			status, app := c.keyStatus(ctx, acct, s)
			out[i].KeyStatus = status
			if app != nil {
				out[i].ApplicationID = app.ID
				out[i].Key = app.Key()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) endpoint(ctx context.Context, s client.Service) string {
	proxy, err := c.services.Proxy(ctx, s.ID)
	if err != nil {
		c.log.Warnw("Could not look up proxy endpoint; listing it as empty",
			"serviceID", s.ID, "service", s.Name, "error", err)
		metrics.CatalogLookupFailures.WithLabelValues("proxy").Inc()
		return ""
	}
	return proxy.Endpoint
}

// keyStatus also returns the first live application, which holds the key.
func (c *Catalog) keyStatus(ctx context.Context, acct account.Account, s client.Service) (KeyStatus, *client.Application) {
	apps, err := c.apps.List(ctx, acct.ID, s.ID)
	if err != nil {
		c.log.Warnw("Could not look up applications; key status unknown",
			"serviceID", s.ID, "service", s.Name, "accountID", acct.ID, "error", err)
		metrics.CatalogLookupFailures.WithLabelValues("applications").Inc()
		return KeyUnknown, nil
	}
	for i := range apps {
		if apps[i].Live() {
			return KeyYes, &apps[i]
		}
	}
	return KeyNo, nil
}

// listingError classifies a failed service listing. A rejected admin key is an
// authentication failure; anything else means the admin API cannot serve the
// catalog right now.
func listingError(err error) error {
	const op, endpoint = "list services", "services.json"
	code := client.StatusCode(err)
	var e *errdefs.Error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e = errdefs.Authentication(op, err, "admin API rejected the configured admin key")
	case client.IsTransient(err):
		e = errdefs.TransientNetwork(op, err, "admin API unavailable")
	default:
		e = errdefs.TransientNetwork(op, err, "admin API could not list services")
	}
	return e.WithEndpoint(endpoint).WithCode(statusCode(err))
}

func statusCode(err error) string {
	if code := client.StatusCode(err); code != 0 {
		return fmt.Sprint(code)
	}
	return ""
}
