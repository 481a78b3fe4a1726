package client

import (
	"context"
	"fmt"
)

// MaxPerPage is the largest page the admin API serves.
const MaxPerPage = 500

type ServiceService struct {
	client *Client
}

func (c *Client) Services() *ServiceService {
	return &ServiceService{client: c}
}

// List returns the services in the order the API reports them.
func (s *ServiceService) List(ctx context.Context) ([]Service, error) {
	params := map[string]string{"page": "1", "per_page": fmt.Sprint(MaxPerPage)}
	var out servicesEnvelope
	if err := s.client.get(ctx, "services.json", params, nil, &out); err != nil {
		return nil, err
	}
	services := make([]Service, 0, len(out.Services))
	for _, item := range out.Services {
		services = append(services, item.Service)
	}
	return services, nil
}

func (s *ServiceService) Proxy(ctx context.Context, serviceID ID) (*Proxy, error) {
	var out proxyEnvelope
	if err := s.client.get(ctx, "services/{id}/proxy.json", nil, map[string]string{"id": serviceID.String()}, &out); err != nil {
		return nil, err
	}
	return &out.Proxy, nil
}

func (s *ServiceService) Plans(ctx context.Context, serviceID ID) ([]ApplicationPlan, error) {
	var out plansEnvelope
	if err := s.client.get(ctx, "services/{id}/application_plans.json", nil, map[string]string{"id": serviceID.String()}, &out); err != nil {
		return nil, err
	}
	plans := make([]ApplicationPlan, 0, len(out.Plans))
	for _, item := range out.Plans {
		plans = append(plans, item.ApplicationPlan)
	}
	return plans, nil
}
