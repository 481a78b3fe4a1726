package client

import (
	"context"
	"errors"
	"net/http"
)

type AccountService struct {
	client *Client
}

func (c *Client) Accounts() *AccountService {
	return &AccountService{client: c}
}

// AccountQuery selects an account by exactly one of Username or Email.
type AccountQuery struct {
	Username string
	Email    string
}

// Find returns nil without error when no account matches.
func (a *AccountService) Find(ctx context.Context, q AccountQuery) (*Account, error) {
	params := map[string]string{}
	switch {
	case q.Username != "":
		params["username"] = q.Username
	case q.Email != "":
		params["email"] = q.Email
	default:
		return nil, errors.New("username or email is required")
	}
	var out accountEnvelope
	if err := a.client.get(ctx, "accounts/find.json", params, nil, &out); err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if out.Account.ID == "" {
		return nil, nil
	}
	return &out.Account, nil
}

type SignupRequest struct {
	OrgName  string
	Username string
	Email    string
}

// Signup creates a developer account with its admin user.
func (a *AccountService) Signup(ctx context.Context, req SignupRequest) (*Account, error) {
	form := map[string]string{
		"org_name": req.OrgName,
		"username": req.Username,
		"email":    req.Email,
	}
	var out accountEnvelope
	if err := a.client.post(ctx, "signup.json", form, nil, &out); err != nil {
		return nil, err
	}
	if out.Account.ID == "" {
		return nil, errors.New("signup response did not include an account id")
	}
	return &out.Account, nil
}
