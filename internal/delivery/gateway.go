// Package delivery sends follow-up texts to the messaging platform.
package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/internal/followup"
	"leadflow_backend/internal/leads"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"

	"github.com/google/uuid"
)

// Gateway is the HTTP client for the outbound messaging service. Leads
// with a known phone number get a direct message; everyone else gets a
// reply into their platform conversation.
type Gateway struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

type directMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type chatMessageRequest struct {
	LeadID  string `json:"leadId"`
	Message string `json:"message"`
}

type sendResponse struct {
	Results struct {
		MessageID string `json:"message_id"`
	} `json:"results"`
}

func NewGateway(cfg config.DeliveryConfig, log *logger.Logger) *Gateway {
	timeout := cfg.GetDeliveryTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Gateway{
		baseURL:  strings.TrimRight(cfg.GetDeliveryURL(), "/"),
		apiKey:   cfg.GetDeliveryAPIKey(),
		deviceID: cfg.GetDeliveryDeviceID(),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Send performs exactly one delivery attempt and returns the platform's
// message id. A gateway without a base URL or API key reports
// ErrMissingCredential so the job fails without retrying.
func (g *Gateway) Send(ctx context.Context, lead leads.Lead, text string) (string, error) {
	if g == nil || g.baseURL == "" || g.apiKey == "" {
		return "", followup.ErrMissingCredential
	}

	var path string
	var payload any
	if lead.PhoneKnown && lead.PhoneNumber != nil && *lead.PhoneNumber != "" {
		path = "/send/message"
		payload = directMessageRequest{
			Phone:   strings.TrimPrefix(phone.NormalizeE164(*lead.PhoneNumber), "+"),
			Message: text,
		}
	} else {
		path = "/send/chat"
		payload = chatMessageRequest{
			LeadID:  lead.ID.String(),
			Message: text,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", formatAuthHeader(g.apiKey))
	if g.deviceID != "" {
		req.Header.Set("X-Device-Id", g.deviceID)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("delivery request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	g.log.Info("follow-up delivered", "lead_id", lead.ID.String(), "channel", path)

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Results.MessageID == "" {
		// Some gateway deployments return an empty body on success.
		return uuid.NewString(), nil
	}
	return parsed.Results.MessageID, nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}

var _ followup.Gateway = (*Gateway)(nil)
