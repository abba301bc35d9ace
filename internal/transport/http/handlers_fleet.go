package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	fleetmodels "bima/internal/fleet/models"
	fleetservice "bima/internal/fleet/service"
	fleetstore "bima/internal/fleet/store"
	id "bima/pkg/domain"
)

func pageFrom(r *http.Request) id.Page {
	page := id.Page{}
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		page.Number = n
	}
	if s, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		page.Size = s
	}
	return page.Normalize()
}

type customerRequest struct {
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	customer, err := h.fleet.CreateCustomer(r.Context(), actorFrom(r.Context()),
		fleetmodels.CustomerKind(req.Kind), req.DisplayName, req.Email, req.Phone)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, customer)
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, err)
		return
	}
	customer, err := h.fleet.GetCustomer(r.Context(), customerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, err)
		return
	}
	var req customerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	customer, err := h.fleet.UpdateCustomer(r.Context(), actorFrom(r.Context()), customerID, func(c *fleetmodels.Customer) error {
		if req.DisplayName != "" {
			c.DisplayName = req.DisplayName
		}
		if req.Email != "" {
			c.Email = req.Email
		}
		if req.Phone != "" {
			c.Phone = req.Phone
		}
		return nil
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := id.ParseCustomerID(chi.URLParam(r, "customerID"))
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.fleet.DeleteCustomer(r.Context(), actorFrom(r.Context()), customerID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.fleet.ListCustomers(r.Context(), pageFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, customers)
}

type vehicleRequest struct {
	RegistrationPlate string `json:"registration_plate"`
	ChassisNumber     string `json:"chassis_number"`
	EngineNumber      string `json:"engine_number"`
	VehicleType       string `json:"vehicle_type"`
	UsageCategory     string `json:"usage_category"`
	OwnerID           string `json:"owner_id"`
}

func (h *Handler) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	ownerID, err := id.ParseCustomerID(req.OwnerID)
	if err != nil {
		respondError(w, err)
		return
	}
	vehicle, err := h.fleet.CreateVehicle(r.Context(), actorFrom(r.Context()), fleetservice.VehicleInput{
		RegistrationPlate: req.RegistrationPlate,
		ChassisNumber:     req.ChassisNumber,
		EngineNumber:      req.EngineNumber,
		VehicleType:       fleetmodels.VehicleType(req.VehicleType),
		UsageCategory:     req.UsageCategory,
		OwnerID:           ownerID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, vehicle)
}

func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := id.ParseVehicleID(chi.URLParam(r, "vehicleID"))
	if err != nil {
		respondError(w, err)
		return
	}
	vehicle, err := h.fleet.GetVehicle(r.Context(), vehicleID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, vehicle)
}

func (h *Handler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	filter := fleetstore.VehicleFilter{
		Status:      fleetmodels.VehicleStatus(r.URL.Query().Get("status")),
		VehicleType: fleetmodels.VehicleType(r.URL.Query().Get("vehicle_type")),
	}
	vehicles, err := h.fleet.ListVehicles(r.Context(), filter, pageFrom(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, vehicles)
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

func (h *Handler) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := id.ParseVehicleID(chi.URLParam(r, "vehicleID"))
	if err != nil {
		respondError(w, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	ownerID, err := id.ParseCustomerID(req.NewOwnerID)
	if err != nil {
		respondError(w, err)
		return
	}
	ownership, err := h.fleet.TransferOwnership(r.Context(), actorFrom(r.Context()), vehicleID, ownerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ownership)
}

func (h *Handler) handleOwnershipHistory(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := id.ParseVehicleID(chi.URLParam(r, "vehicleID"))
	if err != nil {
		respondError(w, err)
		return
	}
	history, err := h.fleet.OwnershipHistory(r.Context(), vehicleID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}
