package webhook

import (
	"net/http"
	"time"

	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxBatchSize = 100

// Handler handles webhook HTTP requests.
type Handler struct {
	service *Service
	repo    *Repository
	val     *validator.Validator
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, repo *Repository, val *validator.Validator) *Handler {
	return &Handler{service: service, repo: repo, val: val}
}

// BatchRequest is the body of a webhook updates post.
type BatchRequest struct {
	Updates []UpdateRequest `json:"updates" validate:"required,min=1,max=100,dive"`
}

// HandleUpdates processes a batch of lead updates.
// POST /api/v1/webhook/updates
// Authenticated via X-Webhook-API-Key header (set by middleware).
func (h *Handler) HandleUpdates(c *gin.Context) {
	businessID, ok := h.getWebhookBusinessID(c)
	if !ok {
		return
	}

	var req BatchRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if len(req.Updates) > maxBatchSize {
		httpkit.Error(c, http.StatusBadRequest, "batch too large", nil)
		return
	}

	resp, err := h.service.ProcessBatch(c.Request.Context(), businessID, req.Updates)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, resp)
}

// ---- Admin API key management (operator token auth) ----

// CreateAPIKeyRequest is the request body for creating a new API key.
type CreateAPIKeyRequest struct {
	BusinessID string `json:"businessId" validate:"required,uuid"`
	Name       string `json:"name" validate:"required,min=1,max=100"`
}

// APIKeyResponse is returned when listing or creating API keys.
type APIKeyResponse struct {
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"businessId"`
	Name       string    `json:"name"`
	KeyPrefix  string    `json:"keyPrefix"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  string    `json:"createdAt"`
}

// CreateAPIKeyResponse includes the plaintext key, shown only once.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// HandleCreateAPIKey creates a new webhook API key.
// POST /api/v1/admin/webhook/keys
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	businessID, err := uuid.Parse(req.BusinessID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid business ID", nil)
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to generate API key", nil)
		return
	}

	key, err := h.repo.Create(c.Request.Context(), businessID, req.Name, hash, prefix)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// HandleListAPIKeys lists all webhook API keys for a business.
// GET /api/v1/admin/webhook/keys?businessId=...
func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	businessID, err := uuid.Parse(c.Query("businessId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid business ID", nil)
		return
	}

	keys, err := h.repo.ListByBusiness(c.Request.Context(), businessID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]APIKeyResponse, len(keys))
	for i, k := range keys {
		result[i] = toAPIKeyResponse(k)
	}

	httpkit.OK(c, result)
}

// HandleRevokeAPIKey deactivates a webhook API key.
// DELETE /api/v1/admin/webhook/keys/:keyId?businessId=...
func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key ID", nil)
		return
	}

	businessID, err := uuid.Parse(c.Query("businessId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid business ID", nil)
		return
	}

	if err := h.repo.Revoke(c.Request.Context(), keyID, businessID); err != nil {
		if err == ErrAPIKeyNotFound {
			httpkit.Error(c, http.StatusNotFound, "API key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return false
	}
	return true
}

func (h *Handler) getWebhookBusinessID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get("webhookBusinessID")
	if !exists {
		httpkit.Error(c, http.StatusUnauthorized, "no business context", nil)
		return uuid.Nil, false
	}
	businessID, ok := value.(uuid.UUID)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "no business context", nil)
		return uuid.Nil, false
	}
	return businessID, true
}

func toAPIKeyResponse(key APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         key.ID,
		BusinessID: key.BusinessID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt.Format(time.RFC3339),
	}
}
