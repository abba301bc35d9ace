package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	compliancemodels "bima/internal/compliance/models"
	complianceservice "bima/internal/compliance/service"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/requestcontext"
)

func parseDate(raw, field string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, domainerrors.NewValidation(field, "expected YYYY-MM-DD")
	}
	return d, nil
}

type policyDraftRequest struct {
	VehicleID      string `json:"vehicle_id"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	PremiumAmount  int64  `json:"premium_amount"`
	CoverageAmount int64  `json:"coverage_amount"`
	PolicyType     string `json:"policy_type"`
	Notes          string `json:"notes"`
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyDraftRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	vehicleID, err := id.ParseVehicleID(req.VehicleID)
	if err != nil {
		respondError(w, err)
		return
	}
	start, err := parseDate(req.StartDate, "start_date")
	if err != nil {
		respondError(w, err)
		return
	}
	end, err := parseDate(req.EndDate, "end_date")
	if err != nil {
		respondError(w, err)
		return
	}
	premium, err := id.ParseMoney(req.PremiumAmount)
	if err != nil {
		respondError(w, err)
		return
	}
	policy, err := h.compliance.CreatePolicyDraft(r.Context(), actorFrom(r.Context()), complianceservice.PolicyDraftInput{
		VehicleID:      vehicleID,
		Start:          start,
		End:            end,
		PremiumAmount:  premium,
		CoverageAmount: id.Money(req.CoverageAmount),
		PolicyType:     req.PolicyType,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, policy)
}

func (h *Handler) handleRequestActivation(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, err)
		return
	}
	policy, err := h.engine.RequestActivation(r.Context(), actorFrom(r.Context()), policyID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleActivate(kind compliancemodels.Kind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.engine.Activate(r.Context(), actorFrom(r.Context()), kind, chi.URLParam(r, param))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rec)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (h *Handler) handleCancel(kind compliancemodels.Kind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
		rec, err := h.engine.Cancel(r.Context(), actorFrom(r.Context()), kind,
			chi.URLParam(r, param), compliancemodels.CancellationReason(req.Reason), req.Note)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) handleRenewPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, err)
		return
	}
	successor, err := h.compliance.RenewPolicy(r.Context(), actorFrom(r.Context()), policyID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, successor)
}

type policyEditRequest struct {
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	PremiumAmount int64  `json:"premium_amount"`
	Notes         string `json:"notes"`
}

func (h *Handler) handleEditPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, err)
		return
	}
	var req policyEditRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	policy, err := h.engine.EditPolicy(r.Context(), actorFrom(r.Context()), policyID, func(p *compliancemodels.Policy) error {
		if req.StartDate != "" {
			start, err := parseDate(req.StartDate, "start_date")
			if err != nil {
				return err
			}
			p.Start = compliancemodels.DateOnly(start)
		}
		if req.EndDate != "" {
			end, err := parseDate(req.EndDate, "end_date")
			if err != nil {
				return err
			}
			p.End = compliancemodels.DateOnly(end)
		}
		if req.PremiumAmount > 0 {
			p.PremiumAmount = id.Money(req.PremiumAmount)
		}
		if req.Notes != "" {
			p.Notes = req.Notes
		}
		return nil
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

type permitDraftRequest struct {
	VehicleID        string `json:"vehicle_id"`
	PermitType       string `json:"permit_type"`
	ReferenceNumber  string `json:"reference_number"`
	IssuingAuthority string `json:"issuing_authority"`
	Route            string `json:"route"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
}

func (h *Handler) handleCreatePermit(w http.ResponseWriter, r *http.Request) {
	var req permitDraftRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	vehicleID, err := id.ParseVehicleID(req.VehicleID)
	if err != nil {
		respondError(w, err)
		return
	}
	start, err := parseDate(req.StartDate, "start_date")
	if err != nil {
		respondError(w, err)
		return
	}
	end, err := parseDate(req.EndDate, "end_date")
	if err != nil {
		respondError(w, err)
		return
	}
	permit, err := h.compliance.CreatePermitDraft(r.Context(), actorFrom(r.Context()), complianceservice.PermitDraftInput{
		VehicleID:        vehicleID,
		PermitType:       req.PermitType,
		ReferenceNumber:  req.ReferenceNumber,
		IssuingAuthority: req.IssuingAuthority,
		Route:            req.Route,
		Start:            start,
		End:              end,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, permit)
}

type paymentRequest struct {
	Amount     int64  `json:"amount"`
	Reference  string `json:"reference"`
	ReceivedAt string `json:"received_at"`
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, err)
		return
	}
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	amount, err := id.ParseMoney(req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	var receivedAt time.Time
	if req.ReceivedAt != "" {
		receivedAt, err = parseDate(req.ReceivedAt, "received_at")
		if err != nil {
			respondError(w, err)
			return
		}
	}
	payment, err := h.compliance.RecordPayment(r.Context(), actorFrom(r.Context()), policyID, amount, req.Reference, receivedAt)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := id.ParsePaymentID(chi.URLParam(r, "paymentID"))
	if err != nil {
		respondError(w, err)
		return
	}
	payment, err := h.compliance.VerifyPayment(r.Context(), actorFrom(r.Context()), paymentID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleVehicleCompliance(w http.ResponseWriter, r *http.Request) {
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
	status, err := h.compliance.VehicleStatus(r.Context(), vehicleID, asOf, 0)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleComplianceSummary(w http.ResponseWriter, r *http.Request) {
	asOf := requestcontext.Now(r.Context())
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		var err error
		asOf, err = parseDate(raw, "as_of")
		if err != nil {
			respondError(w, err)
			return
		}
	}
	summary, err := h.compliance.TenantSummary(r.Context(), asOf)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
