package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/orbitcart/payments/internal/webhook/domain"
	"go.uber.org/zap"
)

const webhookBucketKey = "webhook:payment"

// webhookRateLimit throttles gateway deliveries. Redis faults fail open: a
// broken limiter must not drop payment notifications.
func (s *Server) webhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.bucket == nil {
			c.Next()
			return
		}

		res, err := s.bucket.Allow(c.Request.Context(), webhookBucketKey, s.cfg.WebhookRate, s.cfg.WebhookBurst)
		if err != nil {
			s.log.Warn("webhook rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"type":    "rate_limited",
					"message": "too many webhook deliveries",
				},
			})
			return
		}
		c.Next()
	}
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, newValidationError("body", "invalid", "unreadable request body"))
		return
	}

	var event webhookdomain.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		AbortWithError(c, newValidationError("body", "invalid", "invalid webhook payload"))
		return
	}
	if event.PaymentKey == "" {
		AbortWithError(c, newValidationError("imp_uid", "required", "imp_uid is required"))
		return
	}
	if event.Status == "" {
		AbortWithError(c, newValidationError("status", "required", "status is required"))
		return
	}
	event.Raw = raw

	if err := s.webhookSvc.Handle(c.Request.Context(), event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
