package client

import (
	"context"
	"errors"
)

type ApplicationService struct {
	client *Client
}

func (c *Client) Applications() *ApplicationService {
	return &ApplicationService{client: c}
}

// List returns the account's applications, restricted to serviceID when set.
func (a *ApplicationService) List(ctx context.Context, accountID, serviceID ID) ([]Application, error) {
	var params map[string]string
	if serviceID != "" {
		params = map[string]string{"service_id": serviceID.String()}
	}
	var out applicationsEnvelope
	if err := a.client.get(ctx, "accounts/{id}/applications.json", params, map[string]string{"id": accountID.String()}, &out); err != nil {
		return nil, err
	}
	apps := make([]Application, 0, len(out.Applications))
	for _, item := range out.Applications {
		if serviceID != "" && item.Application.ServiceID != serviceID {
			continue
		}
		apps = append(apps, item.Application)
	}
	return apps, nil
}

type CreateApplicationRequest struct {
	PlanID      ID
	Name        string
	Description string
}

// Create registers a new application. It is never retried.
func (a *ApplicationService) Create(ctx context.Context, accountID ID, req CreateApplicationRequest) (*Application, error) {
	form := map[string]string{
		"plan_id":     req.PlanID.String(),
		"name":        req.Name,
		"description": req.Description,
	}
	var out applicationEnvelope
	if err := a.client.post(ctx, "accounts/{id}/applications.json", form, map[string]string{"id": accountID.String()}, &out); err != nil {
		return nil, err
	}
	if out.Application.ID == "" {
		return nil, errors.New("create application response did not include an application id")
	}
	return &out.Application, nil
}
