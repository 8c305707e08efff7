package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createRefundRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	userID, err := callerID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("payment_id", "required", "payment_id is required"))
		return
	}

	paymentID, err := snowflake.ParseString(req.PaymentID)
	if err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid", "payment_id is not a valid id"))
		return
	}

	refund, err := s.refundSvc.Refund(c.Request.Context(), paymentID, &userID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, refund)
}
