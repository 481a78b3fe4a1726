// Package account maps an authenticated identity to its developer account on
// the admin API, creating the account on first use.
package account

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/auth"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/client"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
)

// Account is the developer account that owns the caller's applications.
type Account struct {
	ID          client.ID `json:"id" yaml:"id"`
	ExternalKey string    `json:"externalKey" yaml:"externalKey"`
	Email       string    `json:"email,omitempty" yaml:"email,omitempty"`
	State       string    `json:"state,omitempty" yaml:"state,omitempty"`
}

// API is the part of the admin client the resolver needs.
type API interface {
	Find(ctx context.Context, q client.AccountQuery) (*client.Account, error)
	Signup(ctx context.Context, req client.SignupRequest) (*client.Account, error)
}

// EmailPromptFunc asks the user for the email address to sign up with when
// the access token carries none.
type EmailPromptFunc func(ctx context.Context, key string) (string, error)

type Resolver struct {
	api API
	log *zap.SugaredLogger

	// PromptEmail is consulted only when no account exists and the identity
	// has no email. Nil means the resolver never prompts.
	PromptEmail EmailPromptFunc
}

func NewResolver(api API, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{api: api, log: log}
}

// ExternalKey is the account username derived from the identity subject.
func ExternalKey(id auth.Identity) string {
	return strings.TrimSpace(id.Subject)
}

// Resolve finds the account by external key, then by email, and creates it
// when neither matches. Calling it again for the same identity returns the
// same account.
func (r *Resolver) Resolve(ctx context.Context, id auth.Identity) (*Account, error) {
	key := ExternalKey(id)
	if key == "" {
		return nil, errdefs.AccountResolution("resolve account", nil, "identity has no subject")
	}
	log := r.log.With("externalKey", key)

	found, err := r.api.Find(ctx, client.AccountQuery{Username: key})
	if err != nil {
		return nil, r.fail("find account", "accounts/find.json", key, err)
	}
	if found != nil {
		log.Debugw("Account found by external key", "accountID", found.ID)
		metrics.AccountResolutions.WithLabelValues("found_key").Inc()
		return r.account(found, id), nil
	}

	if id.Email == "" && r.PromptEmail != nil {
		email, err := r.PromptEmail(ctx, key)
		if err != nil {
			return nil, errdefs.AccountResolution("read email", err, "could not read an email address").WithIdentity(key)
		}
		email = strings.TrimSpace(email)
		if !strings.Contains(email, "@") {
			return nil, errdefs.AccountResolution("read email", nil, "%q is not an email address", email).WithIdentity(key)
		}
		id.Email = email
	}

	if id.Email != "" {
		found, err = r.api.Find(ctx, client.AccountQuery{Email: id.Email})
		if err != nil {
			return nil, r.fail("find account by email", "accounts/find.json", key, err)
		}
		if found != nil {
			log.Warnw("Account matched by email only; its username differs from the external key",
				"accountID", found.ID, "email", id.Email)
			metrics.AccountResolutions.WithLabelValues("found_email").Inc()
			return r.account(found, id), nil
		}
	}

	if id.Email == "" {
		return nil, errdefs.AccountResolution("create account", nil,
			"no account exists and the access token has no email claim to sign up with").WithIdentity(key)
	}

	created, err := r.api.Signup(ctx, client.SignupRequest{OrgName: id.Email, Username: key, Email: id.Email})
	if err == nil {
		log.Infow("Created developer account", "accountID", created.ID)
		metrics.AccountResolutions.WithLabelValues("created").Inc()
		return r.account(created, id), nil
	}
	if !client.IsConflict(err) {
		return nil, r.fail("create account", "signup.json", key, err)
	}

	log.Infow("Account was created concurrently, looking it up again", "error", err)
	found, findErr := r.api.Find(ctx, client.AccountQuery{Username: key})
	if findErr != nil {
		return nil, r.fail("find account after conflict", "accounts/find.json", key, findErr)
	}
	if found == nil {
		return nil, r.fail("create account", "signup.json", key, err)
	}
	metrics.AccountResolutions.WithLabelValues("recovered").Inc()
	return r.account(found, id), nil
}

func (r *Resolver) account(a *client.Account, id auth.Identity) *Account {
	return &Account{ID: a.ID, ExternalKey: ExternalKey(id), Email: id.Email, State: a.State}
}

func (r *Resolver) fail(op, endpoint, key string, err error) error {
	e := errdefs.AccountResolution(op, err, "account resolution failed").
		WithEndpoint(endpoint).
		WithIdentity(key)
	if code := client.StatusCode(err); code != 0 {
		e.WithCode(strconv.Itoa(code))
	}
	return e
}
