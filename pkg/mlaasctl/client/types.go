package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an admin API identifier. The API renders ids as numbers in JSON but
// they are only ever compared and echoed back, so they are kept as strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type Account struct {
	ID      ID     `json:"id"`
	State   string `json:"state"`
	OrgName string `json:"org_name"`
}

type accountEnvelope struct {
	Account Account `json:"account"`
}

type Service struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	SystemName     string `json:"system_name"`
	BackendVersion string `json:"backend_version"`
	State          string `json:"state"`
}

type servicesEnvelope struct {
	Services []struct {
		Service Service `json:"service"`
	} `json:"services"`
}

type Proxy struct {
	ServiceID       ID     `json:"service_id"`
	Endpoint        string `json:"endpoint"`
	SandboxEndpoint string `json:"sandbox_endpoint"`
}

type proxyEnvelope struct {
	Proxy Proxy `json:"proxy"`
}

type ApplicationPlan struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	SystemName string `json:"system_name"`
	State      string `json:"state"`
	Default    bool   `json:"default"`
}

func (p ApplicationPlan) Published() bool {
	return p.State == "published"
}

type plansEnvelope struct {
	Plans []struct {
		ApplicationPlan ApplicationPlan `json:"application_plan"`
	} `json:"plans"`
}

type Application struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	ServiceID     ID     `json:"service_id"`
	PlanID        ID     `json:"plan_id"`
	UserKey       string `json:"user_key"`
	ApplicationID string `json:"application_id"`
	CreatedAt     string `json:"created_at"`
}

// Key is the credential a caller presents: the user_key for key-based
// services, otherwise the application id.
func (a Application) Key() string {
	if a.UserKey != "" {
		return a.UserKey
	}
	return a.ApplicationID
}

// Live reports whether the application can still be used to call the service.
func (a Application) Live() bool {
	return !strings.EqualFold(a.State, "suspended") && a.Key() != ""
}

type applicationEnvelope struct {
	Application Application `json:"application"`
}

type applicationsEnvelope struct {
	Applications []applicationEnvelope `json:"applications"`
}
