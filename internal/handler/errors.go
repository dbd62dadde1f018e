package handler

import (
	"errors"
	"net/http"

	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/response"
	"github.com/gin-gonic/gin"
)

// writeError maps lifecycle errors to HTTP statuses and falls back to the shared mapping.
func writeError(c *gin.Context, err error) {
	var guard *booking.GuardFailedError
	switch {
	case errors.Is(err, booking.ErrTerminalState):
		response.ErrorWithStatus(c, http.StatusConflict, "TERMINAL_STATE", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		response.ErrorWithStatus(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, booking.ErrUnauthorizedTransition):
		response.ErrorWithStatus(c, http.StatusForbidden, "UNAUTHORIZED_TRANSITION", err.Error())
	case errors.As(err, &guard):
		response.ErrorWithStatus(c, http.StatusUnprocessableEntity, "GUARD_FAILED", guard.Reason)
	case errors.Is(err, booking.ErrGuardFailed):
		response.ErrorWithStatus(c, http.StatusUnprocessableEntity, "INVALID_REFUND_AMOUNT", err.Error())
	case errors.Is(err, booking.ErrPersistenceConflict):
		response.ErrorWithStatus(c, http.StatusConflict, "CONFLICT", "booking was modified concurrently, reload and retry")
	case errors.Is(err, booking.ErrPaymentCapture):
		response.ErrorWithStatus(c, http.StatusPaymentRequired, "PAYMENT_CAPTURE_FAILED", "payment could not be captured")
	default:
		response.Error(c, err)
	}
}
