package followup

import (
	apphttp "leadflow_backend/internal/http"
)

// Module is the follow-up bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the follow-up HTTP module around an existing service.
func NewModule(service *Service, store Store) *Module {
	return &Module{handler: NewHandler(service, store)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "followup"
}

// RegisterRoutes mounts the operator endpoints. Everything here sits
// behind the operator token.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/leads/:leadId/followups")
	group.GET("", m.handler.HandleOverview)
	group.POST("/cancel", m.handler.HandleCancel)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
