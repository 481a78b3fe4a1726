// Package provision selects a service and returns the account's key for it,
// registering a new application only when none exists yet.
package provision

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/account"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/client"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
)

const (
	DefaultPrefix = "helix-app"

	timestampLayout = "20060102150405"
	createEndpoint  = "accounts/{id}/applications.json"
)

// Credential is the key a caller uses for one service.
type Credential struct {
	ServiceID     client.ID `json:"serviceId" yaml:"serviceId"`
	ServiceName   string    `json:"serviceName" yaml:"serviceName"`
	ApplicationID client.ID `json:"applicationId" yaml:"applicationId"`
	PlanID        client.ID `json:"planId" yaml:"planId"`
	Key           string    `json:"key" yaml:"key"`
	// Created is false when an existing application was returned.
	Created bool `json:"created" yaml:"created"`
}

type PlanAPI interface {
	Plans(ctx context.Context, serviceID client.ID) ([]client.ApplicationPlan, error)
}

type ApplicationAPI interface {
	List(ctx context.Context, accountID, serviceID client.ID) ([]client.Application, error)
	Create(ctx context.Context, accountID client.ID, req client.CreateApplicationRequest) (*client.Application, error)
}

type Provisioner struct {
	plans PlanAPI
	apps  ApplicationAPI
	log   *zap.SugaredLogger

	// Prefix starts every application name.
	Prefix string
	Now    func() time.Time
}

func New(plans PlanAPI, apps ApplicationAPI, log *zap.SugaredLogger) *Provisioner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Provisioner{plans: plans, apps: apps, log: log, Prefix: DefaultPrefix, Now: time.Now}
}

// AppName builds "<prefix>-<key>-<service>-<plan>-<UTC timestamp>".
func AppName(prefix, externalKey string, serviceID, planID client.ID, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s", prefix, externalKey, serviceID, planID, at.UTC().Format(timestampLayout))
}

// PickPlan returns the first default plan, else the first published one, else
// the first listed.
func PickPlan(plans []client.ApplicationPlan) (client.ApplicationPlan, bool) {
	if len(plans) == 0 {
		return client.ApplicationPlan{}, false
	}
	for _, p := range plans {
		if p.Default {
			return p, true
		}
	}
	for _, p := range plans {
		if p.Published() {
			return p, true
		}
	}
	return plans[0], true
}

// Provision returns the account's live key for svc, creating an application
// when there is none. A failed create is not resent; the account's
// applications are checked once more instead.
func (p *Provisioner) Provision(ctx context.Context, acct account.Account, svc catalog.Service) (*Credential, error) {
	log := p.log.With("accountID", acct.ID, "serviceID", svc.ID, "service", svc.Name)

	existing, err := p.existing(ctx, acct, svc)
	if err != nil {
		return nil, p.fail(acct, svc, "list applications", "accounts/{id}/applications.json", err,
			"could not check for an existing key")
	}
	if existing != nil {
		log.Infow("Returning existing key", "applicationID", existing.ApplicationID)
		metrics.Provisions.WithLabelValues("existing").Inc()
		return existing, nil
	}

	plans, err := p.plans.Plans(ctx, svc.ID)
	if err != nil {
		return nil, p.fail(acct, svc, "list application plans", "services/{id}/application_plans.json", err,
			"could not list application plans")
	}
	plan, ok := PickPlan(plans)
	if !ok {
		return nil, p.fail(acct, svc, "select plan", "services/{id}/application_plans.json", nil,
			"service has no application plans")
	}

	name := AppName(p.Prefix, acct.ExternalKey, svc.ID, plan.ID, p.Now())
	log.Infow("Registering application", "planID", plan.ID, "plan", plan.Name, "name", name)
	app, err := p.apps.Create(ctx, acct.ID, client.CreateApplicationRequest{
		PlanID:      plan.ID,
		Name:        name,
		Description: fmt.Sprintf("API key for %s, created by mlaasctl for %s", svc.Name, acct.ExternalKey),
	})
	if err == nil && app.Key() != "" {
		metrics.Provisions.WithLabelValues("created").Inc()
		return credential(svc, app, true), nil
	}
	if err == nil {
		err = fmt.Errorf("application %s was created without a key", app.ID)
	}

	log.Warnw("Application registration failed, checking whether it went through", "error", err)
	recovered, recheckErr := p.existing(ctx, acct, svc)
	if recheckErr == nil && recovered != nil {
		metrics.Provisions.WithLabelValues("recovered").Inc()
		recovered.Created = true
		return recovered, nil
	}
	if recheckErr != nil {
		log.Warnw("Re-check after failed registration also failed", "error", recheckErr)
	}
	return nil, p.fail(acct, svc, "create application", createEndpoint, err, "could not register application")
}

func (p *Provisioner) existing(ctx context.Context, acct account.Account, svc catalog.Service) (*Credential, error) {
	apps, err := p.apps.List(ctx, acct.ID, svc.ID)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].ServiceID == svc.ID && apps[i].Live() {
			return credential(svc, &apps[i], false), nil
		}
	}
	return nil, nil
}

func credential(svc catalog.Service, app *client.Application, created bool) *Credential {
	return &Credential{
		ServiceID:     svc.ID,
		ServiceName:   svc.Name,
		ApplicationID: app.ID,
		PlanID:        app.PlanID,
		Key:           app.Key(),
		Created:       created,
	}
}

func (p *Provisioner) fail(acct account.Account, svc catalog.Service, op, endpoint string, err error, msg string) error {
	metrics.Provisions.WithLabelValues("failed").Inc()
	e := errdefs.Provisioning(op, err, "%s", msg).
		WithEndpoint(endpoint).
		WithIdentity(acct.ExternalKey).
		WithService(svc.ID.String())
	if code := client.StatusCode(err); code != 0 {
		e.WithCode(strconv.Itoa(code))
	}
	return e
}
