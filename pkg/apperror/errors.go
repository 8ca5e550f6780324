package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ---- Transaction Ledger (TXN) ----

func ErrNotFound(entity string) *AppError {
	return New("TXN_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("TXN_002", "Invalid amount", http.StatusBadRequest)
}

func ErrInvalidTransition(err error) *AppError {
	return Wrap("TXN_003", "Transaction state does not allow this operation", http.StatusConflict, err)
}

func ErrTransactionBusy() *AppError {
	return New("TXN_004", "Transaction is being processed, try again later", http.StatusConflict)
}

func ErrUnsupportedMethod(method string) *AppError {
	return New("TXN_005", fmt.Sprintf("Unsupported payment method: %s", method), http.StatusBadRequest)
}

// ---- Webhook Ingestion (WHK) ----

func ErrWebhookPayload(message string) *AppError {
	return New("WHK_001", message, http.StatusBadRequest)
}

func ErrInvalidSignature() *AppError {
	return New("WHK_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrPayloadTooLarge(limit int64) *AppError {
	return New("WHK_004", fmt.Sprintf("Request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

func ErrUnknownReference(reference string) *AppError {
	return New("WHK_003", fmt.Sprintf("Unknown payment reference: %s", reference), http.StatusNotFound)
}

// ---- Casino Transfer (XFR) ----

func ErrTransferNotEligible(reason string) *AppError {
	return New("XFR_001", fmt.Sprintf("Transfer not eligible: %s", reason), http.StatusConflict)
}

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap("XFR_002", "Payment gateway unavailable", http.StatusBadGateway, err)
}

func ErrReviewNotPending() *AppError {
	return New("XFR_003", "Transaction is not awaiting manual review", http.StatusConflict)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_002", "Insufficient role for this operation", http.StatusForbidden)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition failed", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a TXN_002-style validation error.
func Validation(message string) *AppError {
	return New("TXN_002", message, http.StatusBadRequest)
}
