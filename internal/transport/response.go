package transport

import (
	"errors"
	"net/http"

	"github.com/daytrader/matching-engine/internal/auth"
	"github.com/daytrader/matching-engine/internal/domain"
)

// Response is the envelope returned on both transports:
// {"success": true, "data": ...} or {"success": false, "error": {...}}.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable code, the HTTP-equivalent status
// the edge service should map it to, and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func successResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// errorResponse maps a domain error to its envelope. Unexpected errors
// surface as a generic internal error: their details stay in the logs.
func errorResponse(err error) Response {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return failure("validation_error", http.StatusBadRequest, verr.Message)
	}

	status := http.StatusBadRequest
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientVolume),
		errors.Is(err, domain.ErrAlreadyCompleted):
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrStockNotFound),
		errors.Is(err, domain.ErrTxNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	default:
		return failure("internal_error", http.StatusInternalServerError, "internal error")
	}
	return failure(err.Error(), status, err.Error())
}

func failure(code string, status int, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorBody{Code: code, Status: status, Message: message},
	}
}
