// Package testutil provides in-memory fakes of the identity provider and the
// admin API for tests across mlaasctl packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const AdminKey = "admin-secret"

type FakeService struct {
	ID             int
	Name           string
	SystemName     string
	BackendVersion string
	Endpoint       string
	Plans          []FakePlan
}

type FakePlan struct {
	ID      int
	Name    string
	State   string
	Default bool
}

type FakeAccount struct {
	ID       int
	Username string
	Email    string
	OrgName  string
	State    string
}

type FakeApplication struct {
	ID        int
	AccountID int
	ServiceID int
	PlanID    int
	Name      string
	State     string
	UserKey   string
}

// FakeAdmin is an httptest server speaking the subset of the admin API that
// mlaasctl uses. Fail* fields inject HTTP status codes per route.
type FakeAdmin struct {
	Server *httptest.Server

	mu       sync.Mutex
	nextID   int
	services []FakeService
	accounts []FakeAccount
	apps     []FakeApplication
	calls    map[string]int

	// FailServices answers services.json with this status the given number of times.
	FailServices      int
	FailServicesTimes int
	// FailProxy and FailApplications fail per-service lookups by service id.
	FailProxy        map[int]int
	FailApplications map[int]int
	// FailCreate answers application creation with this status. When
	// CreateDespiteFailure is set the application is stored anyway.
	FailCreate           int
	CreateDespiteFailure bool
	// BeforeSignup runs before a signup is processed, outside the lock.
	BeforeSignup func()
}

func NewFakeAdmin(t testing.TB) *FakeAdmin {
	t.Helper()
	fa := &FakeAdmin{
		nextID:           100,
		calls:            map[string]int{},
		FailProxy:        map[int]int{},
		FailApplications: map[int]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/api/accounts/find.json", fa.findAccount)
	mux.HandleFunc("POST /admin/api/signup.json", fa.signup)
	mux.HandleFunc("GET /admin/api/services.json", fa.listServices)
	mux.HandleFunc("GET /admin/api/services/{id}/proxy.json", fa.proxy)
	mux.HandleFunc("GET /admin/api/services/{id}/application_plans.json", fa.plans)
	mux.HandleFunc("GET /admin/api/accounts/{id}/applications.json", fa.listApplications)
	mux.HandleFunc("POST /admin/api/accounts/{id}/applications.json", fa.createApplication)
	fa.Server = httptest.NewServer(fa.authorize(mux))
	t.Cleanup(fa.Server.Close)
	return fa
}

// URL is the admin API root, as it would be configured.
func (fa *FakeAdmin) URL() string {
	return fa.Server.URL + "/admin/api"
}

func (fa *FakeAdmin) AddService(s FakeService) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.services = append(fa.services, s)
}

func (fa *FakeAdmin) AddAccount(a FakeAccount) FakeAccount {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if a.ID == 0 {
		a.ID = fa.id()
	}
	if a.State == "" {
		a.State = "approved"
	}
	fa.accounts = append(fa.accounts, a)
	return a
}

func (fa *FakeAdmin) AddApplication(app FakeApplication) FakeApplication {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if app.ID == 0 {
		app.ID = fa.id()
	}
	if app.State == "" {
		app.State = "live"
	}
	if app.UserKey == "" {
		app.UserKey = fmt.Sprintf("key-%d", app.ID)
	}
	fa.apps = append(fa.apps, app)
	return app
}

func (fa *FakeAdmin) Accounts() []FakeAccount {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]FakeAccount(nil), fa.accounts...)
}

func (fa *FakeAdmin) Applications() []FakeApplication {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]FakeApplication(nil), fa.apps...)
}

// Calls returns how often route ("GET services.json", "POST signup.json", ...)
// was hit.
func (fa *FakeAdmin) Calls(route string) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.calls[route]
}

func (fa *FakeAdmin) id() int {
	fa.nextID++
	return fa.nextID
}

func (fa *FakeAdmin) record(route string) {
	fa.mu.Lock()
	fa.calls[route]++
	fa.mu.Unlock()
}

func (fa *FakeAdmin) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != AdminKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access denied"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fa *FakeAdmin) findAccount(w http.ResponseWriter, r *http.Request) {
	fa.record("GET accounts/find.json")
	username, email := r.URL.Query().Get("username"), r.URL.Query().Get("email")
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for _, a := range fa.accounts {
		if (username != "" && a.Username == username) || (username == "" && email != "" && a.Email == email) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"account": accountJSON(a)})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"status": "Not found"})
}

func (fa *FakeAdmin) signup(w http.ResponseWriter, r *http.Request) {
	fa.record("POST signup.json")
	if hook := fa.BeforeSignup; hook != nil {
		hook()
	}
	_ = r.ParseForm()
	username, email, org := r.PostForm.Get("username"), r.PostForm.Get("email"), r.PostForm.Get("org_name")
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if username == "" || org == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"errors": map[string][]string{"username": {"can't be blank"}},
		})
		return
	}
	for _, a := range fa.accounts {
		if a.Username == username {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"errors": map[string][]string{"username": {"has already been taken"}},
			})
			return
		}
	}
	a := FakeAccount{ID: fa.id(), Username: username, Email: email, OrgName: org, State: "approved"}
	fa.accounts = append(fa.accounts, a)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"account": accountJSON(a)})
}

func (fa *FakeAdmin) listServices(w http.ResponseWriter, r *http.Request) {
	fa.record("GET services.json")
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.FailServicesTimes > 0 {
		fa.FailServicesTimes--
		writeJSON(w, fa.FailServices, map[string]string{"error": "backend unavailable"})
		return
	}
	items := make([]map[string]interface{}, 0, len(fa.services))
	for _, s := range fa.services {
		items = append(items, map[string]interface{}{"service": map[string]interface{}{
			"id":              s.ID,
			"name":            s.Name,
			"system_name":     s.SystemName,
			"backend_version": s.BackendVersion,
			"state":           "incomplete",
		}})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": items})
}

func (fa *FakeAdmin) proxy(w http.ResponseWriter, r *http.Request) {
	fa.record("GET services/{id}/proxy.json")
	id, _ := strconv.Atoi(r.PathValue("id"))
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if status := fa.FailProxy[id]; status != 0 {
		writeJSON(w, status, map[string]string{"error": "proxy lookup failed"})
		return
	}
	s, ok := fa.service(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proxy": map[string]interface{}{
		"service_id":       s.ID,
		"endpoint":         s.Endpoint,
		"sandbox_endpoint": strings.Replace(s.Endpoint, "https://", "https://sandbox-", 1),
	}})
}

func (fa *FakeAdmin) plans(w http.ResponseWriter, r *http.Request) {
	fa.record("GET services/{id}/application_plans.json")
	id, _ := strconv.Atoi(r.PathValue("id"))
	fa.mu.Lock()
	defer fa.mu.Unlock()
	s, ok := fa.service(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "Not found"})
		return
	}
	items := make([]map[string]interface{}, 0, len(s.Plans))
	for _, p := range s.Plans {
		items = append(items, map[string]interface{}{"application_plan": map[string]interface{}{
			"id":          p.ID,
			"name":        p.Name,
			"system_name": strings.ToLower(p.Name),
			"state":       p.State,
			"default":     p.Default,
		}})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": items})
}

func (fa *FakeAdmin) listApplications(w http.ResponseWriter, r *http.Request) {
	fa.record("GET accounts/{id}/applications.json")
	accountID, _ := strconv.Atoi(r.PathValue("id"))
	serviceID, _ := strconv.Atoi(r.URL.Query().Get("service_id"))
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if status := fa.FailApplications[serviceID]; serviceID != 0 && status != 0 {
		writeJSON(w, status, map[string]string{"error": "application lookup failed"})
		return
	}
	items := make([]map[string]interface{}, 0)
	for _, app := range fa.apps {
		if app.AccountID != accountID || (serviceID != 0 && app.ServiceID != serviceID) {
			continue
		}
		items = append(items, map[string]interface{}{"application": applicationJSON(app)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": items})
}

func (fa *FakeAdmin) createApplication(w http.ResponseWriter, r *http.Request) {
	fa.record("POST accounts/{id}/applications.json")
	accountID, _ := strconv.Atoi(r.PathValue("id"))
	_ = r.ParseForm()
	planID, _ := strconv.Atoi(r.PostForm.Get("plan_id"))
	fa.mu.Lock()
	defer fa.mu.Unlock()

	var serviceID int
	for _, s := range fa.services {
		for _, p := range s.Plans {
			if p.ID == planID {
				serviceID = s.ID
			}
		}
	}
	if serviceID == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"errors": map[string][]string{"plan": {"must exist"}},
		})
		return
	}
	if fa.FailCreate != 0 && !fa.CreateDespiteFailure {
		writeJSON(w, fa.FailCreate, map[string]string{"error": "application limit reached"})
		return
	}
	app := FakeApplication{
		ID:        fa.id(),
		AccountID: accountID,
		ServiceID: serviceID,
		PlanID:    planID,
		Name:      r.PostForm.Get("name"),
		State:     "live",
	}
	app.UserKey = fmt.Sprintf("key-%d", app.ID)
	fa.apps = append(fa.apps, app)
	if fa.FailCreate != 0 {
		writeJSON(w, fa.FailCreate, map[string]string{"error": "gateway timeout"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"application": applicationJSON(app)})
}

func (fa *FakeAdmin) service(id int) (FakeService, bool) {
	for _, s := range fa.services {
		if s.ID == id {
			return s, true
		}
	}
	return FakeService{}, false
}

func accountJSON(a FakeAccount) map[string]interface{} {
	return map[string]interface{}{"id": a.ID, "state": a.State, "org_name": a.OrgName}
}

func applicationJSON(app FakeApplication) map[string]interface{} {
	return map[string]interface{}{
		"id":         app.ID,
		"name":       app.Name,
		"state":      app.State,
		"service_id": app.ServiceID,
		"plan_id":    app.PlanID,
		"user_key":   app.UserKey,
		"created_at": "2026-01-01T00:00:00Z",
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
