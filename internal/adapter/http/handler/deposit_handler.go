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

// DepositHandler serves the player-facing deposit endpoints.
type DepositHandler struct {
	depositSvc ports.DepositService
}

// NewDepositHandler creates a new DepositHandler.
func NewDepositHandler(depositSvc ports.DepositService) *DepositHandler {
	return &DepositHandler{depositSvc: depositSvc}
}

// Create handles POST /api/v1/deposits.
func (h *DepositHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	amount, err := dto.ParseMoney(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	view, err := h.depositSvc.CreateDeposit(c.Request.Context(), ports.CreateDepositRequest{
		UserID:   userID,
		Amount:   amount,
		Currency: req.Currency,
		Method:   domain.PaymentMethod(req.Method),
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewDepositResponse(view))
}

// Get handles GET /api/v1/deposits/:id. Other players' deposits read as not found.
func (h *DepositHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := transactionID(c)
	if !ok {
		return
	}

	view, err := h.depositSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if view.Transaction.UserID != userID {
		response.Error(c, apperror.ErrNotFound("transaction"))
		return
	}

	response.OK(c, dto.NewDepositResponse(view))
}

// List handles GET /api/v1/deposits.
func (h *DepositHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params := ports.TransactionListParams{UserID: &userID}
	params.Page, params.PageSize = pagination(c)
	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}

	txns, total, err := h.depositSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.DepositResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewDepositResponse(&ports.DepositView{Transaction: &txns[i]}))
	}
	response.OK(c, dto.NewListResponse(items, total, params.Page, params.PageSize))
}

// Cancel handles POST /api/v1/deposits/:id/cancel. Players may cancel only
// their own deposits while still unpaid.
func (h *DepositHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := transactionID(c)
	if !ok {
		return
	}

	var req dto.CancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.depositSvc.CancelDeposit(c.Request.Context(), ports.CancelDepositRequest{
		TransactionID: id,
		ActorID:       userID,
		OwnerID:       &userID,
		Reason:        req.Reason,
		ClientIP:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewDepositResponse(&ports.DepositView{Transaction: txn}))
}

// transactionID parses the :id path parameter, answering 404 when malformed.
func transactionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("transaction"))
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds a body when one was sent.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	return true
}

// pagination reads page and page_size; the service clamps them.
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
