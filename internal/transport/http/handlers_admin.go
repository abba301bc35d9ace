package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	identitymodels "bima/internal/identity/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

var errForbiddenUserCreate = domainerrors.New(domainerrors.CodeForbidden, "not allowed to create this user")

type createTenantRequest struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ContactEmail string `json:"contact_email"`
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	tenant, err := h.tenants.Create(r.Context(), actorFrom(r.Context()), req.Name, req.Slug, req.ContactEmail)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tenant)
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context(), actorFrom(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenants)
}

func (h *Handler) handleSuspendTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondError(w, err)
		return
	}
	tenant, err := h.tenants.Suspend(r.Context(), actorFrom(r.Context()), tenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleReactivateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondError(w, err)
		return
	}
	tenant, err := h.tenants.Reactivate(r.Context(), actorFrom(r.Context()), tenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleUpdateTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondError(w, err)
		return
	}
	var settings tenantctx.Settings
	if err := decodeBody(r, &settings); err != nil {
		respondError(w, err)
		return
	}
	tenant, err := h.tenants.UpdateSettings(r.Context(), actorFrom(r.Context()), tenantID, settings)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// handleCreateUser registers a user. Super admins create tenant admins;
// tenant admins create managers and agents inside their own tenant.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	role, err := identitymodels.ParseRole(req.Role)
	if err != nil {
		respondError(w, err)
		return
	}

	var tenantID *id.TenantID
	switch {
	case actor.IsSuperAdmin():
		if req.TenantID != "" {
			tid, err := id.ParseTenantID(req.TenantID)
			if err != nil {
				respondError(w, err)
				return
			}
			tenantID = &tid
		}
	default:
		// Tenant admins may only create users in their own tenant, and
		// never other admins or super admins.
		if actor.Role != identitymodels.RoleAdmin || role == identitymodels.RoleSuperAdmin || role == identitymodels.RoleAdmin {
			respondError(w, errForbiddenUserCreate)
			return
		}
		tenantID = actor.TenantID
	}

	user, err := h.identity.CreateUser(ctx, req.Email, req.Password, role, tenantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

type issueResetRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleIssueReset(w http.ResponseWriter, r *http.Request) {
	var req issueResetRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	token, err := h.identity.IssuePasswordReset(r.Context(), actorFrom(r.Context()), h.resetTokens, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reset_token": token})
}
