package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	compliancemodels "bima/internal/compliance/models"
	"bima/internal/dynamicfield"
	fleetmodels "bima/internal/fleet/models"
	"bima/internal/report"
	id "bima/pkg/domain"
	"bima/pkg/requestcontext"
)

// --- notifications ---

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"
	items, err := h.notifications.Inbox(r.Context(), actor.ID, unreadOnly, pageFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "notificationID"))
	if err != nil {
		respondError(w, err)
		return
	}
	actor := actorFrom(r.Context())
	if err := h.notifications.MarkRead(r.Context(), notificationID, actor.ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// --- dynamic fields ---

type defineFieldRequest struct {
	EntityKind string   `json:"entity_kind"`
	Name       string   `json:"name"`
	Key        string   `json:"key"`
	DataType   string   `json:"data_type"`
	Choices    []string `json:"choices"`
	Required   bool     `json:"required"`
	Order      int      `json:"order"`
}

func (h *Handler) handleDefineField(w http.ResponseWriter, r *http.Request) {
	var req defineFieldRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	def, err := h.fields.Define(r.Context(), actorFrom(r.Context()),
		dynamicfield.EntityKind(req.EntityKind), req.Name, req.Key,
		dynamicfield.DataType(req.DataType), req.Choices, req.Required, req.Order)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, def)
}

func (h *Handler) handleDeactivateField(w http.ResponseWriter, r *http.Request) {
	defID, err := id.ParseFieldDefinitionID(chi.URLParam(r, "definitionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	def, err := h.fields.Deactivate(r.Context(), actorFrom(r.Context()), defID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (h *Handler) handleListFields(w http.ResponseWriter, r *http.Request) {
	kind := dynamicfield.EntityKind(r.URL.Query().Get("entity_kind"))
	activeOnly := r.URL.Query().Get("active") != "false"
	defs, err := h.fields.Definitions(r.Context(), kind, activeOnly)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

type setValuesRequest struct {
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Values     map[string]any `json:"values"`
}

func (h *Handler) handleSetFieldValues(w http.ResponseWriter, r *http.Request) {
	var req setValuesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	err := h.fields.SetValues(r.Context(), actorFrom(r.Context()),
		dynamicfield.EntityKind(req.EntityKind), req.EntityID, req.Values)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// --- reports ---

func (h *Handler) handleReportPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := report.PolicyFilter{
		Status:      compliancemodels.Status(q.Get("status")),
		VehicleType: fleetmodels.VehicleType(q.Get("vehicle_type")),
	}
	if raw := q.Get("end_from"); raw != "" {
		d, err := parseDate(raw, "end_from")
		if err != nil {
			respondError(w, err)
			return
		}
		filter.EndFrom = d
	}
	if raw := q.Get("end_to"); raw != "" {
		d, err := parseDate(raw, "end_to")
		if err != nil {
			respondError(w, err)
			return
		}
		filter.EndTo = d
	}
	policies, err := h.reports.Policies(r.Context(), actorFrom(r.Context()), filter, pageFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policies)
}

func (h *Handler) handleReportRegistrations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"), "from")
	if err != nil {
		respondError(w, err)
		return
	}
	to, err := parseDate(q.Get("to"), "to")
	if err != nil {
		respondError(w, err)
		return
	}
	vehicles, err := h.reports.VehiclesRegisteredBetween(r.Context(), actorFrom(r.Context()), from, to.AddDate(0, 0, 1), pageFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, vehicles)
}

func (h *Handler) handleReportVehicleSnapshot(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := id.ParseVehicleID(chi.URLParam(r, "vehicleID"))
	if err != nil {
		respondError(w, err)
		return
	}
	asOf := requestcontext.Now(r.Context())
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = parseDate(raw, "as_of")
		if err != nil {
			respondError(w, err)
			return
		}
	}
	snapshot, err := h.reports.VehicleSnapshot(r.Context(), actorFrom(r.Context()), vehicleID, asOf)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleReportPayments(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, err)
		return
	}
	payments, err := h.reports.PaymentsLedger(r.Context(), actorFrom(r.Context()), policyID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payments)
}
