package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/clock"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	obsmetrics "github.com/orbitcart/payments/internal/observability/metrics"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	refunddomain "github.com/orbitcart/payments/internal/refund/domain"
	webhookdomain "github.com/orbitcart/payments/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       webhookdomain.Repository
	PaymentSvc paymentdomain.Service
	RefundSvc  refunddomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       webhookdomain.Repository
	paymentSvc paymentdomain.Service
	refundSvc  refunddomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		refundSvc:  p.RefundSvc,
		metrics:    p.Metrics,
	}
}

// Handle dispatches a gateway event. A nil return tells the gateway the
// delivery is settled; only transient faults propagate so the gateway retries
// them later.
func (s *Service) Handle(ctx context.Context, event webhookdomain.Event) error {
	status := strings.ToLower(strings.TrimSpace(event.Status))
	s.metrics.RecordWebhookEvent(status)

	var (
		outcome string
		err     error
	)
	switch status {
	case "paid":
		outcome, err = s.handlePaid(ctx, event)
	case "failed":
		outcome, err = s.handleFailed(ctx, event)
	case "cancelled", "refunded":
		outcome, err = s.handleCancelled(ctx, event)
	default:
		// Unrecognized statuses are recorded and acknowledged; retrying
		// them would never change the outcome.
		outcome = "ignored_unknown_status"
		s.log.Warn("webhook with unknown status",
			zap.String("payment_key", event.PaymentKey),
			zap.String("status", event.Status),
		)
	}

	s.record(ctx, event, outcome)
	return err
}

func (s *Service) handlePaid(ctx context.Context, event webhookdomain.Event) (string, error) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = s.paymentSvc.Reconcile(ctx, event.PaymentKey, nil)
		if err == nil {
			return "reconciled", nil
		}
		if !errors.Is(err, gatewaydomain.ErrUnavailable) {
			break
		}
		s.log.Warn("gateway unavailable during webhook reconcile, retrying",
			zap.String("payment_key", event.PaymentKey),
			zap.Int("attempt", attempt),
		)
		if attempt < maxAttempts {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}

	switch {
	case errors.Is(err, gatewaydomain.ErrUnavailable):
		// Still down after the local retries; a non-2xx response makes the
		// gateway redeliver later.
		return "gateway_unavailable", err
	case errors.Is(err, paymentdomain.ErrNotFound):
		// Unknown keys are acknowledged; the gateway retrying forever would
		// never make the payment appear.
		return "unknown_payment", nil
	case errors.Is(err, paymentdomain.ErrTamperSuspected):
		return "tampered", nil
	case errors.Is(err, paymentdomain.ErrVerificationFailed):
		return "verification_failed", nil
	default:
		return "error", err
	}
}

func (s *Service) handleFailed(ctx context.Context, event webhookdomain.Event) (string, error) {
	err := s.paymentSvc.FailByKey(ctx, event.PaymentKey)
	switch {
	case err == nil:
		return "failed", nil
	case errors.Is(err, paymentdomain.ErrAlreadyPaid):
		// A failure notice can never undo a confirmed payment.
		return "ignored_already_paid", nil
	case errors.Is(err, paymentdomain.ErrNotFound):
		return "unknown_payment", nil
	default:
		return "error", err
	}
}

func (s *Service) handleCancelled(ctx context.Context, event webhookdomain.Event) (string, error) {
	_, err := s.refundSvc.RefundFromGateway(ctx, event.PaymentKey, "gateway cancellation")
	switch {
	case err == nil:
		return "refunded", nil
	case errors.Is(err, refunddomain.ErrNotRefundable):
		return "ignored_not_refundable", nil
	case errors.Is(err, paymentdomain.ErrNotFound):
		return "unknown_payment", nil
	default:
		return "error", err
	}
}

// record persists the audit row; a failure to record never fails the event.
func (s *Service) record(ctx context.Context, event webhookdomain.Event, outcome string) {
	rec := &webhookdomain.EventRecord{
		ID:          s.genID.Generate(),
		PaymentKey:  event.PaymentKey,
		MerchantUID: event.MerchantUID,
		Status:      event.Status,
		Payload:     event.Raw,
		Outcome:     outcome,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, rec); err != nil {
		s.log.Error("failed to record webhook event",
			zap.String("payment_key", event.PaymentKey),
			zap.Error(err),
		)
	}
}
