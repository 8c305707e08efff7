package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// callerID resolves the authenticated user from the X-User-ID header. The
// edge proxy terminates authentication; this service only needs the identity.
func callerID(c *gin.Context) (snowflake.ID, error) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, newValidationError("X-User-ID", "required", "missing X-User-ID header")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("X-User-ID", "invalid", "X-User-ID is not a valid id")
	}
	return id, nil
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		return 0, newValidationError(name, "invalid", name+" is not a valid id")
	}
	return id, nil
}

type createIntentRequest struct {
	UsePoints bool `json:"use_points"`
}

type completePaymentRequest struct {
	PaymentKey string `json:"payment_key" binding:"required"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	userID, err := callerID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orderID, err := pathID(c, "orderId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, newValidationError("body", "invalid", "invalid request body"))
			return
		}
	}

	intent, err := s.paymentSvc.CreateIntent(c.Request.Context(), userID, orderID, req.UsePoints)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent)
}

func (s *Server) CompletePayment(c *gin.Context) {
	userID, err := callerID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req completePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("payment_key", "required", "payment_key is required"))
		return
	}

	snapshot, err := s.paymentSvc.Reconcile(c.Request.Context(), req.PaymentKey, &userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) GetPayment(c *gin.Context) {
	userID, err := callerID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	paymentID, err := pathID(c, "paymentId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.paymentSvc.GetPayment(c.Request.Context(), paymentID, &userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
