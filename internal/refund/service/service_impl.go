package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/clock"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/orbitcart/payments/internal/membership"
	obsmetrics "github.com/orbitcart/payments/internal/observability/metrics"
	orderdomain "github.com/orbitcart/payments/internal/order/domain"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	pointdomain "github.com/orbitcart/payments/internal/point/domain"
	productdomain "github.com/orbitcart/payments/internal/product/domain"
	refunddomain "github.com/orbitcart/payments/internal/refund/domain"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
	"github.com/orbitcart/payments/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        refunddomain.Repository
	PaymentRepo paymentdomain.Repository
	OrderRepo   orderdomain.Repository
	ProductRepo productdomain.Repository
	UserRepo    userdomain.Repository
	PointSvc    pointdomain.Service
	Evaluator   *membership.Evaluator
	Verifier    gatewaydomain.Verifier
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        refunddomain.Repository
	paymentRepo paymentdomain.Repository
	orderRepo   orderdomain.Repository
	productRepo productdomain.Repository
	userRepo    userdomain.Repository
	pointSvc    pointdomain.Service
	evaluator   *membership.Evaluator
	verifier    gatewaydomain.Verifier
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) refunddomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		orderRepo:   p.OrderRepo,
		productRepo: p.ProductRepo,
		userRepo:    p.UserRepo,
		pointSvc:    p.PointSvc,
		evaluator:   p.Evaluator,
		verifier:    p.Verifier,
		metrics:     p.Metrics,
	}
}

func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID, callerUserID *snowflake.ID, reason string) (*refunddomain.Refund, error) {
	payment, err := s.paymentRepo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return s.apply(ctx, payment, callerUserID, reason, false)
}

func (s *Service) RefundFromGateway(ctx context.Context, paymentKey, reason string) (*refunddomain.Refund, error) {
	payment, err := s.paymentRepo.FindByKey(ctx, s.db, paymentKey)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}
	return s.apply(ctx, payment, nil, reason, true)
}

func (s *Service) apply(ctx context.Context, payment *paymentdomain.Payment, callerUserID *snowflake.ID, reason string, gatewaySettled bool) (*refunddomain.Refund, error) {
	order, err := s.orderRepo.FindByID(ctx, s.db, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}
	if callerUserID != nil && order.UserID != *callerUserID {
		return nil, paymentdomain.ErrForbidden
	}

	switch payment.Status {
	case paymentdomain.StatusPaid:
	case paymentdomain.StatusRefunded:
		// Duplicate request collapses onto the one existing refund row.
		existing, err := s.repo.FindByPaymentID(ctx, s.db, payment.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.metrics.RecordRefund("duplicate")
			return existing, nil
		}
		return nil, refunddomain.ErrNotRefundable
	default:
		return nil, refunddomain.ErrNotRefundable
	}

	// Gateway first for user-initiated refunds. If the gateway refuses to
	// give the money back we change nothing locally.
	if !gatewaySettled {
		if err := s.verifier.Cancel(ctx, payment.PaymentKey, reason); err != nil {
			s.metrics.RecordRefund("gateway_error")
			s.log.Error("gateway cancel failed, refund aborted",
				zap.String("payment_key", payment.PaymentKey),
				zap.Error(err),
			)
			return nil, err
		}
	}

	refund := &refunddomain.Refund{
		ID:               s.genID.Generate(),
		PaymentID:        payment.ID,
		Amount:           payment.Amount,
		PointsRestored:   payment.PointsUsed,
		PointsClawedBack: payment.EarnedPoints,
		Reason:           reason,
		CreatedAt:        s.clock.Now(),
	}

	var won bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		won, txErr = s.paymentRepo.TransitionStatus(ctx, tx, payment.ID,
			paymentdomain.StatusPaid, paymentdomain.StatusRefunded, nil, nil)
		if txErr != nil {
			return txErr
		}
		if !won {
			return nil
		}

		if txErr := s.orderRepo.UpdateStatus(ctx, tx, order.ID, orderdomain.OrderStatusCancelled); txErr != nil {
			return txErr
		}

		for _, item := range order.Items {
			if txErr := s.productRepo.Restock(ctx, tx, item.ProductID, item.Quantity); txErr != nil {
				return txErr
			}
		}

		// Restore before clawing back so the restored points can cover the
		// clawback when the user spent the earned points elsewhere.
		if payment.PointsUsed.IsPositive() {
			if txErr := s.pointSvc.Accrue(ctx, tx, order.UserID, payment.PointsUsed); txErr != nil {
				return txErr
			}
		}
		if payment.EarnedPoints.IsPositive() {
			if txErr := s.pointSvc.Spend(ctx, tx, order.UserID, payment.EarnedPoints); txErr != nil {
				return txErr
			}
		}

		totalPaid, txErr := s.paymentRepo.SumPaidByUser(ctx, tx, order.UserID)
		if txErr != nil {
			return txErr
		}
		if txErr := s.userRepo.UpdateMembershipRank(ctx, tx, order.UserID, s.evaluator.Evaluate(totalPaid)); txErr != nil {
			return txErr
		}

		if txErr := s.repo.Insert(ctx, tx, refund); txErr != nil {
			if db.IsDuplicateKeyErr(txErr) {
				won = false
				return txErr
			}
			return txErr
		}
		return nil
	})
	if err != nil && won {
		return nil, err
	}

	if !won {
		// A racing caller refunded first; its row is the refund.
		existing, findErr := s.repo.FindByPaymentID(ctx, s.db, payment.ID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			s.metrics.RecordRefund("duplicate")
			return existing, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, refunddomain.ErrNotRefundable
	}

	s.metrics.RecordRefund("refunded")
	s.log.Info("payment refunded",
		zap.String("payment_key", payment.PaymentKey),
		zap.String("amount", refund.Amount.String()),
		zap.String("points_restored", refund.PointsRestored.String()),
		zap.String("points_clawed_back", refund.PointsClawedBack.String()),
	)
	return refund, nil
}
