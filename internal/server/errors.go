package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	orderdomain "github.com/orbitcart/payments/internal/order/domain"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	pointdomain "github.com/orbitcart/payments/internal/point/domain"
	productdomain "github.com/orbitcart/payments/internal/product/domain"
	refunddomain "github.com/orbitcart/payments/internal/refund/domain"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, pointdomain.ErrUserNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "caller does not own this resource",
		}
	case errors.Is(err, paymentdomain.ErrTamperSuspected):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "amount_mismatch",
			Message: "payment amount does not match the gateway record",
		}
	case errors.Is(err, paymentdomain.ErrVerificationFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "verification_failed",
			Message: "payment could not be verified as paid",
		}
	case errors.Is(err, productdomain.ErrInsufficientStock):
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_stock",
			Message: "not enough stock to complete the order",
		}
	case errors.Is(err, pointdomain.ErrInsufficientPoints):
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_points",
			Message: "point balance is too low",
		}
	case errors.Is(err, paymentdomain.ErrAlreadyPaid):
		return http.StatusConflict, errorPayload{
			Type:    "already_paid",
			Message: "payment is already settled",
		}
	case errors.Is(err, paymentdomain.ErrOrderNotPayable):
		return http.StatusConflict, errorPayload{
			Type:    "order_not_payable",
			Message: "order is not awaiting payment",
		}
	case errors.Is(err, refunddomain.ErrNotRefundable):
		return http.StatusConflict, errorPayload{
			Type:    "not_refundable",
			Message: "payment is not refundable",
		}
	case errors.Is(err, orderdomain.ErrNoItems):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "order has no items",
		}
	case errors.Is(err, gatewaydomain.ErrPaymentNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "gateway does not know this payment",
		}
	case errors.Is(err, gatewaydomain.ErrUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unavailable",
			Message: "payment gateway is unavailable",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
