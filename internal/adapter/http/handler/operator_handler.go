package handler

import (
	"strconv"

	"casino-ewallet/internal/adapter/http/dto"
	"casino-ewallet/internal/adapter/http/middleware"
	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/apperror"
	"casino-ewallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OperatorHandler serves back-office reconciliation endpoints.
type OperatorHandler struct {
	depositSvc ports.DepositService
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(depositSvc ports.DepositService) *OperatorHandler {
	return &OperatorHandler{depositSvc: depositSvc}
}

// List handles GET /api/v1/ops/transactions.
// Filters: status, user_id, manual_review.
func (h *OperatorHandler) List(c *gin.Context) {
	var params ports.TransactionListParams
	params.Page, params.PageSize = pagination(c)

	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if s := c.Query("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			response.Error(c, apperror.Validation("user_id must be a UUID"))
			return
		}
		params.UserID = &id
	}
	if s := c.Query("manual_review"); s != "" {
		flag, err := strconv.ParseBool(s)
		if err != nil {
			response.Error(c, apperror.Validation("manual_review must be true or false"))
			return
		}
		params.ManualReview = &flag
	}

	txns, total, err := h.depositSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewTransactionResponse(&ports.DepositView{Transaction: &txns[i]}))
	}
	response.OK(c, dto.NewListResponse(items, total, params.Page, params.PageSize))
}

// Get handles GET /api/v1/ops/transactions/:id.
func (h *OperatorHandler) Get(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	view, err := h.depositSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(view))
}

// Retry handles POST /api/v1/ops/transactions/:id/retry. Outcomes that are
// still settling answer 202.
func (h *OperatorHandler) Retry(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	var req dto.RetryRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	actorID, _ := middleware.UserID(c)
	result, err := h.depositSvc.RetryTransfer(c.Request.Context(), ports.RetryTransferRequest{
		TransactionID: id,
		ActorID:       actorID,
		Force:         req.Force,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	switch result.Outcome {
	case domain.ResultInFlight, domain.ResultUncertain:
		response.Accepted(c, result)
	default:
		response.OK(c, result)
	}
}

// Cancel handles POST /api/v1/ops/transactions/:id/cancel.
func (h *OperatorHandler) Cancel(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	var req dto.CancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	actorID, _ := middleware.UserID(c)
	txn, err := h.depositSvc.CancelDeposit(c.Request.Context(), ports.CancelDepositRequest{
		TransactionID: id,
		ActorID:       actorID,
		Reason:        req.Reason,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(&ports.DepositView{Transaction: txn}))
}

// Resolve handles POST /api/v1/ops/transactions/:id/resolve.
func (h *OperatorHandler) Resolve(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}
	var req dto.ResolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	actorID, _ := middleware.UserID(c)
	txn, err := h.depositSvc.ResolveReview(c.Request.Context(), ports.ResolveReviewRequest{
		TransactionID:       id,
		ActorID:             actorID,
		Outcome:             ports.ReviewOutcome(req.Outcome),
		CasinoTransactionID: req.CasinoTransactionID,
		Note:                req.Note,
		ClientIP:            c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(&ports.DepositView{Transaction: txn}))
}
