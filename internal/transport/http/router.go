package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	compliancemodels "bima/internal/compliance/models"
	"bima/internal/platform/metrics"
)

// NewRouter wires all endpoints. State-changing routes sit behind the
// session and CSRF middleware. The login endpoint has one rate limit keyed
// on the pair of client IP and X-Login-Identifier header; there is no
// separate per-IP or per-identifier limit, and the email in the request
// body is not part of the key.
func NewRouter(h *Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(requestMeta)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authentication.
	loginLimit := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, keyByLoginEmail))
	r.With(loginLimit).Post("/auth/login", instrument(m, "login", h.handleLogin))
	r.Post("/auth/password-reset", instrument(m, "password_reset", h.handleConsumeReset))

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		authed := func(route string, fn http.HandlerFunc) http.HandlerFunc {
			return instrument(m, route, h.requireSession(h.requireCSRF(fn)))
		}

		r.Post("/auth/logout", authed("logout", h.handleLogout))
		r.Get("/auth/me", authed("me", h.handleMe))

		// Platform administration (super admin).
		r.Route("/admin", func(r chi.Router) {
			r.Post("/tenants", authed("admin_create_tenant", h.handleCreateTenant))
			r.Get("/tenants", authed("admin_list_tenants", h.handleListTenants))
			r.Post("/tenants/{tenantID}/suspend", authed("admin_suspend_tenant", h.handleSuspendTenant))
			r.Post("/tenants/{tenantID}/reactivate", authed("admin_reactivate_tenant", h.handleReactivateTenant))
			r.Put("/tenants/{tenantID}/settings", authed("admin_tenant_settings", h.handleUpdateTenantSettings))
			r.Post("/password-resets", authed("admin_issue_reset", h.handleIssueReset))
		})

		r.Post("/users", authed("create_user", h.handleCreateUser))

		// Fleet.
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", authed("create_customer", h.handleCreateCustomer))
			r.Get("/", authed("list_customers", h.handleListCustomers))
			r.Get("/{customerID}", authed("get_customer", h.handleGetCustomer))
			r.Put("/{customerID}", authed("update_customer", h.handleUpdateCustomer))
			r.Delete("/{customerID}", authed("delete_customer", h.handleDeleteCustomer))
		})
		r.Route("/vehicles", func(r chi.Router) {
			r.Post("/", authed("create_vehicle", h.handleCreateVehicle))
			r.Get("/", authed("list_vehicles", h.handleListVehicles))
			r.Get("/{vehicleID}", authed("get_vehicle", h.handleGetVehicle))
			r.Post("/{vehicleID}/ownership", authed("transfer_ownership", h.handleTransferOwnership))
			r.Get("/{vehicleID}/ownership", authed("ownership_history", h.handleOwnershipHistory))
			r.Get("/{vehicleID}/compliance", authed("vehicle_compliance", h.handleVehicleCompliance))
		})

		// Policies.
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", authed("create_policy", h.handleCreatePolicy))
			r.Put("/{policyID}", authed("edit_policy", h.handleEditPolicy))
			r.Post("/{policyID}/request-activation", authed("request_activation", h.handleRequestActivation))
			r.Post("/{policyID}/activate", authed("activate_policy", h.handleActivate(compliancemodels.KindPolicy, "policyID")))
			r.Post("/{policyID}/cancel", authed("cancel_policy", h.handleCancel(compliancemodels.KindPolicy, "policyID")))
			r.Post("/{policyID}/renew", authed("renew_policy", h.handleRenewPolicy))
			r.Post("/{policyID}/payments", authed("record_payment", h.handleRecordPayment))
			r.Get("/{policyID}/payments", authed("list_payments", h.handleReportPayments))
		})
		r.Post("/payments/{paymentID}/verify", authed("verify_payment", h.handleVerifyPayment))

		// Permits (LATRA records included).
		r.Route("/permits", func(r chi.Router) {
			r.Post("/", authed("create_permit", h.handleCreatePermit))
			r.Post("/{permitID}/activate", authed("activate_permit", h.handleActivate(compliancemodels.KindPermit, "permitID")))
			r.Post("/{permitID}/cancel", authed("cancel_permit", h.handleCancel(compliancemodels.KindPermit, "permitID")))
		})

		// Compliance and reports.
		r.Get("/compliance/summary", authed("compliance_summary", h.handleComplianceSummary))
		r.Route("/reports", func(r chi.Router) {
			r.Get("/policies", authed("report_policies", h.handleReportPolicies))
			r.Get("/registrations", authed("report_registrations", h.handleReportRegistrations))
			r.Get("/vehicles/{vehicleID}", authed("report_vehicle", h.handleReportVehicleSnapshot))
		})

		// Dynamic fields.
		r.Route("/fields", func(r chi.Router) {
			r.Post("/", authed("define_field", h.handleDefineField))
			r.Get("/", authed("list_fields", h.handleListFields))
			r.Post("/{definitionID}/deactivate", authed("deactivate_field", h.handleDeactivateField))
			r.Post("/values", authed("set_field_values", h.handleSetFieldValues))
		})

		// Notifications.
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", authed("inbox", h.handleInbox))
			r.Post("/{notificationID}/read", authed("mark_read", h.handleMarkRead))
		})
	})

	return r
}

func keyByLoginEmail(r *http.Request) (string, error) {
	// Reads only the X-Login-Identifier header; the request body is not read.
	return r.Header.Get("X-Login-Identifier"), nil
}
