package httptransport

import (
	"log/slog"

	complianceengine "bima/internal/compliance/engine"
	complianceservice "bima/internal/compliance/service"
	"bima/internal/dynamicfield"
	fleetservice "bima/internal/fleet/service"
	identityservice "bima/internal/identity/service"
	"bima/internal/notification"
	"bima/internal/report"
	"bima/internal/session"
	tenantservice "bima/internal/tenant/service"
)

// Handler aggregates the domain services behind the router.
type Handler struct {
	identity      *identityservice.Service
	resetTokens   *identityservice.ResetTokens
	tenants       *tenantservice.Service
	sessions      *session.Manager
	fleet         *fleetservice.Service
	compliance    *complianceservice.Service
	engine        *complianceengine.Engine
	fields        *dynamicfield.Service
	notifications *notification.Service
	reports       *report.Service
	logger        *slog.Logger
}

// NewHandler wires the HTTP layer.
func NewHandler(
	identity *identityservice.Service,
	resetTokens *identityservice.ResetTokens,
	tenants *tenantservice.Service,
	sessions *session.Manager,
	fleet *fleetservice.Service,
	compliance *complianceservice.Service,
	engine *complianceengine.Engine,
	fields *dynamicfield.Service,
	notifications *notification.Service,
	reports *report.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		identity:      identity,
		resetTokens:   resetTokens,
		tenants:       tenants,
		sessions:      sessions,
		fleet:         fleet,
		compliance:    compliance,
		engine:        engine,
		fields:        fields,
		notifications: notifications,
		reports:       reports,
		logger:        logger,
	}
}
