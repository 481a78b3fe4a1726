package provision

import (
	"context"
	"strings"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
)

const (
	FieldName = "name"
	FieldID   = "id"
)

// Selector picks one service by name or id, as given to --init.
type Selector struct {
	Field string
	Value string
}

// ParseSelector accepts "name=<service name>" or "id=<service id>".
func ParseSelector(s string) (Selector, error) {
	field, value, ok := strings.Cut(s, "=")
	sel := Selector{Field: strings.ToLower(strings.TrimSpace(field)), Value: strings.TrimSpace(value)}
	if !ok || (sel.Field != FieldName && sel.Field != FieldID) || sel.Value == "" {
		return Selector{}, errdefs.NotFound("parse selector", "invalid service selector %q: use name=<service name> or id=<service id>", s)
	}
	return sel, nil
}

func (s Selector) String() string {
	return s.Field + "=" + s.Value
}

func (s Selector) matches(svc catalog.Service) bool {
	if s.Field == FieldID {
		return svc.ID.String() == s.Value
	}
	return strings.EqualFold(strings.TrimSpace(svc.Name), s.Value)
}

// Resolve returns the single matching service. Names compare case-insensitively.
func (s Selector) Resolve(services []catalog.Service) (*catalog.Service, error) {
	var matches []catalog.Service
	for _, svc := range services {
		if s.matches(svc) {
			matches = append(matches, svc)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errdefs.NotFound("select service", "no service with %s", s).WithService(s.Value)
	case 1:
		return &matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID.String())
		}
		return nil, errdefs.AmbiguousService("select service", "%s matches services %s; select by id instead",
			s, strings.Join(ids, ", ")).WithService(s.Value)
	}
}

// Choose lets a Selector stand in for interactive selection.
func (s Selector) Choose(_ context.Context, services []catalog.Service) (*catalog.Service, error) {
	return s.Resolve(services)
}
