package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"bima/internal/audit"
	complianceengine "bima/internal/compliance/engine"
	complianceservice "bima/internal/compliance/service"
	compliancestore "bima/internal/compliance/store"
	"bima/internal/dynamicfield"
	fleetservice "bima/internal/fleet/service"
	fleetstore "bima/internal/fleet/store"
	"bima/internal/history"
	"bima/internal/identity"
	identitymodels "bima/internal/identity/models"
	identityservice "bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/notification"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/report"
	"bima/internal/session"
	tenantmodels "bima/internal/tenant/models"
	tenantservice "bima/internal/tenant/service"
	tenantstore "bima/internal/tenant/store"
	id "bima/pkg/domain"
	"bima/pkg/platform/tx"
)

type RouterSuite struct {
	suite.Suite
	router      http.Handler
	users       *identitystore.InMemory
	tenantStore *tenantstore.InMemory
	fleetStore  *fleetstore.InMemory
	tenantA     *tenantmodels.Tenant
	tenantB     *tenantmodels.Tenant
	now         time.Time
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	runner := tx.NopRunner{}

	s.users = identitystore.NewInMemory()
	s.tenantStore = tenantstore.NewInMemory()
	s.fleetStore = fleetstore.NewInMemory()
	records := compliancestore.NewInMemory()

	recorder := audit.NewRecorder(audit.NewInMemoryStore(), log)
	snaps := history.NewSnapshotter(history.NewInMemoryStore())

	tenants := tenantservice.New(s.tenantStore, recorder, runner, log)
	identitySvc, err := identityservice.New(s.users, tenants, recorder, log, m)
	s.Require().NoError(err)
	resetTokens := identityservice.NewResetTokens("test-secret", 30*time.Minute)
	sessions := session.NewManager(session.NewInMemoryStore(), "test-secret", time.Hour)

	fleet := fleetservice.New(s.fleetStore, identitySvc, recorder, snaps, runner, log)
	notifications := notification.New(notification.NewInMemoryStore(), identitySvc, log, m)
	engine := complianceengine.New(records, identitySvc, recorder, snaps, runner,
		notification.NewLifecycleNotifier(notifications), log, m)
	compliance := complianceservice.New(records, fleet, identitySvc, recorder, snaps, runner, log)
	fields := dynamicfield.New(dynamicfield.NewInMemoryStore(), identitySvc, recorder, runner, log)
	reports := report.New(records, s.fleetStore, compliance, identitySvc)

	handler := NewHandler(identitySvc, resetTokens, tenants, sessions,
		fleet, compliance, engine, fields, notifications, reports, log)
	s.router = NewRouter(handler, m)

	s.now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.tenantA = s.seedTenant("acme")
	s.tenantB = s.seedTenant("globex")
}

func (s *RouterSuite) seedTenant(slug string) *tenantmodels.Tenant {
	t, err := tenantmodels.New(id.NewTenantID(), slug+" Insurance", slug, "ops@"+slug+".tz", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.tenantStore.Create(context.Background(), t))
	return t
}

func (s *RouterSuite) seedUser(email, password string, role identitymodels.Role, tenantID *id.TenantID) *identitymodels.User {
	hash, err := identity.HashPassword(password)
	s.Require().NoError(err)
	u, err := identitymodels.NewUser(id.NewUserID(), email, hash, role, tenantID, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(context.Background(), u))
	return u
}

type authClient struct {
	cookie *http.Cookie
	csrf   string
}

func (s *RouterSuite) login(email, password string) *authClient {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	s.Require().NotNil(cookie, "login must set the session cookie")
	return &authClient{cookie: cookie, csrf: resp.CSRFToken}
}

func (s *RouterSuite) do(client *authClient, method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if client != nil {
		req.AddCookie(client.cookie)
		req.Header.Set(CSRFHeader, client.csrf)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestLoginAndMe() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	client := s.login("admin@acme.tz", "password-long-enough")

	rec := s.do(client, http.MethodGet, "/auth/me", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "admin@acme.tz")
}

func (s *RouterSuite) TestBadCredentialsRejected() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	body, _ := json.Marshal(map[string]string{"email": "admin@acme.tz", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestCSRFRequiredOnWrites() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	client := s.login("admin@acme.tz", "password-long-enough")

	// Same cookie, missing CSRF header.
	body, _ := json.Marshal(map[string]string{"kind": "individual", "display_name": "Juma"})
	req := httptest.NewRequest(http.MethodPost, "/customers/", bytes.NewReader(body))
	req.AddCookie(client.cookie)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusForbidden, rec.Code)

	// With the token the same request goes through.
	rec2 := s.do(client, http.MethodPost, "/customers/", map[string]string{
		"kind": "individual", "display_name": "Juma",
	})
	s.Equal(http.StatusCreated, rec2.Code, rec2.Body.String())
}

func (s *RouterSuite) TestTenantIsolationOverHTTP() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	s.seedUser("admin@globex.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantB.ID)

	clientA := s.login("admin@acme.tz", "password-long-enough")
	rec := s.do(clientA, http.MethodPost, "/customers/", map[string]string{
		"kind": "individual", "display_name": "Acme Customer",
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&created))

	clientB := s.login("admin@globex.tz", "password-long-enough")

	// Direct fetch of the other tenant's row reads as 404, not 403.
	recGet := s.do(clientB, http.MethodGet, "/customers/"+created.ID, nil)
	s.Equal(http.StatusNotFound, recGet.Code)

	// And listings exclude it.
	recList := s.do(clientB, http.MethodGet, "/customers/", nil)
	s.Equal(http.StatusOK, recList.Code)
	s.NotContains(recList.Body.String(), created.ID)
}

func (s *RouterSuite) TestSuperAdminBlockedFromBusinessWrites() {
	s.seedUser("root@bima.tz", "password-long-enough", identitymodels.RoleSuperAdmin, nil)
	client := s.login("root@bima.tz", "password-long-enough")

	rec := s.do(client, http.MethodPost, "/customers/", map[string]string{
		"kind": "individual", "display_name": "Should Fail",
	})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *RouterSuite) TestSuperAdminManagesTenants() {
	s.seedUser("root@bima.tz", "password-long-enough", identitymodels.RoleSuperAdmin, nil)
	client := s.login("root@bima.tz", "password-long-enough")

	rec := s.do(client, http.MethodPost, "/admin/tenants", map[string]string{
		"name": "New Insurance Co", "slug": "newco", "contact_email": "ops@newco.tz",
	})
	s.Equal(http.StatusCreated, rec.Code, rec.Body.String())

	// A tenant admin cannot.
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	adminClient := s.login("admin@acme.tz", "password-long-enough")
	rec2 := s.do(adminClient, http.MethodPost, "/admin/tenants", map[string]string{
		"name": "Rogue", "slug": "rogue", "contact_email": "x@y.tz",
	})
	s.Equal(http.StatusForbidden, rec2.Code)
}

func (s *RouterSuite) TestSuspendedTenantLoginBlocked() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	s.Require().NoError(s.tenantA.Suspend(s.now))
	s.Require().NoError(s.tenantStore.Update(context.Background(), s.tenantA))

	body, _ := json.Marshal(map[string]string{"email": "admin@acme.tz", "password": "password-long-enough"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestLogoutEndsSession() {
	s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantA.ID)
	client := s.login("admin@acme.tz", "password-long-enough")

	rec := s.do(client, http.MethodPost, "/auth/logout", nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec2 := s.do(client, http.MethodGet, "/auth/me", nil)
	s.Equal(http.StatusUnauthorized, rec2.Code)
}
