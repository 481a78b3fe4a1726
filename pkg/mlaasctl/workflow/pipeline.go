// Package workflow runs the stages every mlaasctl entry point shares:
// authenticate, resolve the account, list services, then optionally select
// one and provision a key for it.
package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/account"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/auth"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/provision"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/session"
)

type Authenticator interface {
	Authenticate(ctx context.Context, creds *auth.Credentials) (*session.Session, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, id auth.Identity) (*account.Account, error)
}

type ServiceLister interface {
	List(ctx context.Context, acct account.Account) ([]catalog.Service, error)
}

type KeyProvisioner interface {
	Provision(ctx context.Context, acct account.Account, svc catalog.Service) (*provision.Credential, error)
}

// Chooser picks the service to provision. provision.Selector implements it
// for --init; the CLI's numeric menu implements it for interactive runs.
type Chooser interface {
	Choose(ctx context.Context, services []catalog.Service) (*catalog.Service, error)
}

// IdentifyFunc turns an access token into the caller's identity.
type IdentifyFunc func(ctx context.Context, token string) (*auth.Identity, error)

// Stages are the admin-side stages. They are built per run because the
// admin client carries the session token.
type Stages struct {
	Accounts    AccountResolver
	Catalog     ServiceLister
	Provisioner KeyProvisioner
}

type Pipeline struct {
	Auth        Authenticator
	Credentials *auth.Credentials
	Identify    IdentifyFunc
	Connect     func(sess *session.Session) (*Stages, error)
	Log         *zap.SugaredLogger
}

// Listing is the outcome of the list stage.
type Listing struct {
	Identity auth.Identity
	Account  account.Account
	Services []catalog.Service

	stages *Stages
}

func (p *Pipeline) log() *zap.SugaredLogger {
	if p.Log == nil {
		return zap.NewNop().Sugar()
	}
	return p.Log
}

func (p *Pipeline) identify(ctx context.Context, token string) (*auth.Identity, error) {
	identify := p.Identify
	if identify == nil {
		identify = func(_ context.Context, token string) (*auth.Identity, error) {
			return auth.DecodeIdentity(token)
		}
	}
	id, err := identify(ctx, token)
	if err != nil {
		if errdefs.KindOf(err) != errdefs.KindUnknown {
			return nil, err
		}
		return nil, errdefs.Authentication("decode identity", err, "access token does not identify a user")
	}
	return id, nil
}

// List authenticates, resolves the account and lists services with their
// key status.
func (p *Pipeline) List(ctx context.Context) (*Listing, error) {
	sess, err := p.Auth.Authenticate(ctx, p.Credentials)
	if err != nil {
		return nil, err
	}
	id, err := p.identify(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	stages, err := p.Connect(sess)
	if err != nil {
		return nil, err
	}

	acct, err := stages.Accounts.Resolve(ctx, *id)
	if err != nil {
		return nil, err
	}
	p.log().Debugw("Resolved account", "accountID", acct.ID, "externalKey", acct.ExternalKey)

	services, err := stages.Catalog.List(ctx, *acct)
	if err != nil {
		return nil, err
	}
	return &Listing{Identity: *id, Account: *acct, Services: services, stages: stages}, nil
}

// Provision runs List, lets chooser pick a service and returns its key.
func (p *Pipeline) Provision(ctx context.Context, chooser Chooser) (*provision.Credential, error) {
	listing, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	return p.ProvisionFrom(ctx, listing, chooser)
}

// ProvisionFrom continues from a listing that was already shown to the user.
func (p *Pipeline) ProvisionFrom(ctx context.Context, listing *Listing, chooser Chooser) (*provision.Credential, error) {
	if len(listing.Services) == 0 {
		return nil, errdefs.NotFound("select service", "no services are available")
	}
	svc, err := chooser.Choose(ctx, listing.Services)
	if err != nil {
		return nil, err
	}
	p.log().Infow("Selected service", "serviceID", svc.ID, "service", svc.Name)
	return listing.stages.Provisioner.Provision(ctx, listing.Account, *svc)
}
