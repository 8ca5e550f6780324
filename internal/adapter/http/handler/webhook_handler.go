package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"casino-ewallet/internal/adapter/http/dto"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/apperror"
	"casino-ewallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
)

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	depositSvc ports.DepositService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(depositSvc ports.DepositService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{depositSvc: depositSvc, log: log}
}

// Receive handles POST /api/v1/webhooks/gateway. Any accepted callback,
// including duplicates and stale statuses, answers 200 so the gateway stops
// redelivering.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, apperror.ErrPayloadTooLarge(maxErr.Limit))
			return
		}
		response.Error(c, apperror.ErrWebhookPayload("cannot read request body"))
		return
	}

	var req dto.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.Error(c, apperror.ErrWebhookPayload("malformed JSON: "+err.Error()))
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		response.Error(c, apperror.ErrWebhookPayload(err.Error()))
		return
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	result, err := h.depositSvc.IngestWebhook(c.Request.Context(), req.ToPayload(raw))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Debug().
		Str("reference", req.Reference).
		Str("effect", string(result.Effect)).
		Bool("duplicate", result.Duplicate).
		Msg("webhook handled")
	response.OK(c, result)
}
