package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/orbitcart/payments/internal/clock"
	"github.com/orbitcart/payments/internal/config"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/orbitcart/payments/internal/membership"
	obsmetrics "github.com/orbitcart/payments/internal/observability/metrics"
	orderdomain "github.com/orbitcart/payments/internal/order/domain"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	pointdomain "github.com/orbitcart/payments/internal/point/domain"
	productdomain "github.com/orbitcart/payments/internal/product/domain"
	"github.com/orbitcart/payments/internal/ratelimit"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
	"github.com/orbitcart/payments/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileLockTTL = 15 * time.Second

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Cfg         config.Config
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	OrderRepo   orderdomain.Repository
	ProductRepo productdomain.Repository
	UserRepo    userdomain.Repository
	PointSvc    pointdomain.Service
	Evaluator   *membership.Evaluator
	Verifier    gatewaydomain.Verifier
	Locker      *ratelimit.Locker   `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	cfg         config.Config
	clock       clock.Clock
	repo        paymentdomain.Repository
	orderRepo   orderdomain.Repository
	productRepo productdomain.Repository
	userRepo    userdomain.Repository
	pointSvc    pointdomain.Service
	evaluator   *membership.Evaluator
	verifier    gatewaydomain.Verifier
	locker      *ratelimit.Locker
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		cfg:         p.Cfg,
		clock:       p.Clock,
		repo:        p.Repo,
		orderRepo:   p.OrderRepo,
		productRepo: p.ProductRepo,
		userRepo:    p.UserRepo,
		pointSvc:    p.PointSvc,
		evaluator:   p.Evaluator,
		verifier:    p.Verifier,
		locker:      p.Locker,
		metrics:     p.Metrics,
	}
}

func (s *Service) CreateIntent(ctx context.Context, userID, orderID snowflake.ID, usePoints bool) (*paymentdomain.Intent, error) {
	order, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}
	if order.UserID != userID {
		return nil, paymentdomain.ErrForbidden
	}
	if order.Status != orderdomain.OrderStatusPendingPayment {
		return nil, paymentdomain.ErrOrderNotPayable
	}
	if len(order.Items) == 0 {
		return nil, orderdomain.ErrNoItems
	}

	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}

	// Optimistic availability check only; nothing is reserved. The guarded
	// decrement at completion time is what actually prevents overselling.
	for _, item := range order.Items {
		product, err := s.productRepo.FindByID(ctx, s.db, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, productdomain.ErrNotFound
		}
		if product.Stock < item.Quantity {
			return nil, productdomain.ErrInsufficientStock
		}
	}

	// One open intent per order: repeated checkout attempts reuse it
	// instead of minting duplicate payment rows and keys.
	existing, err := s.repo.FindCreatedByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &paymentdomain.Intent{
			PaymentID:  existing.ID,
			PaymentKey: existing.PaymentKey,
			Amount:     existing.Amount,
			OrderName:  orderName(order.Items),
		}, nil
	}

	pointsUsed := decimal.Zero
	if usePoints && user.TotalPoints.IsPositive() {
		pointsUsed = decimal.Min(user.TotalPoints, order.TotalAmount)
	}
	amount := order.TotalAmount.Sub(pointsUsed)

	methodID, err := config.MethodID(config.MethodCard)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	intent := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		OrderID:        orderID,
		PaymentKey:     uuid.NewString(),
		MethodID:       methodID,
		Amount:         amount,
		PointsUsed:     pointsUsed,
		DiscountAmount: decimal.Zero,
		EarnedPoints:   decimal.Zero,
		Status:         paymentdomain.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, intent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A fresh uuid colliding with a stored key means broken key
			// generation; operators must intervene, retrying won't help.
			s.log.Error("payment key collision", zap.String("payment_key", intent.PaymentKey))
			return nil, paymentdomain.ErrKeyCollision
		}
		return nil, err
	}

	return &paymentdomain.Intent{
		PaymentID:  intent.ID,
		PaymentKey: intent.PaymentKey,
		Amount:     intent.Amount,
		OrderName:  orderName(order.Items),
	}, nil
}

func (s *Service) Reconcile(ctx context.Context, paymentKey string, callerUserID *snowflake.ID) (*paymentdomain.Snapshot, error) {
	payment, err := s.repo.FindByKey(ctx, s.db, paymentKey)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}

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

	// Idempotent short-circuit: a settled payment returns its snapshot and
	// re-applies nothing, whichever channel asks again.
	if payment.Status == paymentdomain.StatusPaid {
		s.metrics.RecordReconcile("duplicate")
		return s.snapshot(ctx, payment, order)
	}
	if payment.Status != paymentdomain.StatusCreated {
		return nil, paymentdomain.ErrVerificationFailed
	}

	token, acquired, err := s.locker.TryLock(ctx, "payments:reconcile:"+paymentKey, reconcileLockTTL)
	if err != nil {
		s.log.Warn("reconcile lock unavailable", zap.Error(err))
	} else if acquired {
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), "payments:reconcile:"+paymentKey, token); releaseErr != nil {
				s.log.Warn("reconcile lock release failed", zap.Error(releaseErr))
			}
		}()
	} else {
		// Another caller holds the key. Re-read; the status CAS below still
		// protects us if it lost its lease mid-flight.
		current, err := s.repo.FindByKey(ctx, s.db, paymentKey)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == paymentdomain.StatusPaid {
			s.metrics.RecordReconcile("duplicate")
			return s.snapshot(ctx, current, order)
		}
	}

	verification, err := s.verifier.Verify(ctx, paymentKey)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrUnavailable) {
			// Transient fault: leave the payment CREATED so a retry can
			// still settle it once the gateway answers.
			s.metrics.RecordReconcile("gateway_unavailable")
			s.log.Warn("gateway unavailable during verification",
				zap.String("payment_key", paymentKey),
				zap.Error(err),
			)
			return nil, err
		}
		// A definitive answer that the payment cannot be confirmed paid.
		s.log.Warn("gateway verification failed",
			zap.String("payment_key", paymentKey),
			zap.Error(err),
		)
		return s.settleFailed(ctx, payment, order, paymentdomain.ErrVerificationFailed, "verify_error")
	}

	if !payment.Amount.Equal(verification.Amount) {
		s.log.Error("payment amount mismatch, tamper suspected",
			zap.String("payment_key", paymentKey),
			zap.String("expected", payment.Amount.String()),
			zap.String("verified", verification.Amount.String()),
		)
		s.compensateCancel(ctx, paymentKey)
		return s.settleFailed(ctx, payment, order, paymentdomain.ErrTamperSuspected, "tampered")
	}

	if !strings.EqualFold(verification.Status, gatewaydomain.StatusPaid) {
		s.log.Warn("gateway reports payment not paid",
			zap.String("payment_key", paymentKey),
			zap.String("gateway_status", verification.Status),
		)
		return s.settleFailed(ctx, payment, order, paymentdomain.ErrVerificationFailed, "not_paid")
	}

	return s.settlePaid(ctx, payment, order)
}

// settlePaid applies the PAID transition and all its side effects in one
// transaction. The status compare-and-set decides the winner of a race; the
// loser re-reads and takes the short-circuit path.
func (s *Service) settlePaid(ctx context.Context, payment *paymentdomain.Payment, order *orderdomain.Order) (*paymentdomain.Snapshot, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, order.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}

	pointsBefore := user.TotalPoints
	rankBefore := user.MembershipRank
	earned := payment.Amount.Mul(s.cfg.Points.EarnRate).Round(2)
	paidAt := s.clock.Now()

	var (
		won       bool
		rankAfter userdomain.MembershipRank
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		won, txErr = s.repo.TransitionStatus(ctx, tx, payment.ID,
			paymentdomain.StatusCreated, paymentdomain.StatusPaid, &paidAt, &earned)
		if txErr != nil {
			return txErr
		}
		if !won {
			return nil
		}

		if txErr := s.orderRepo.UpdateStatus(ctx, tx, order.ID, orderdomain.OrderStatusCompleted); txErr != nil {
			return txErr
		}

		for _, item := range order.Items {
			if txErr := s.productRepo.DecrementStock(ctx, tx, item.ProductID, item.Quantity); txErr != nil {
				// A race the intent-time check did not catch: abort the
				// whole transition so nothing is left half-applied.
				return txErr
			}
		}

		if payment.PointsUsed.IsPositive() {
			if txErr := s.pointSvc.Spend(ctx, tx, user.ID, payment.PointsUsed); txErr != nil {
				return txErr
			}
		}
		if earned.IsPositive() {
			if txErr := s.pointSvc.Accrue(ctx, tx, user.ID, earned); txErr != nil {
				return txErr
			}
		}

		totalPaid, txErr := s.repo.SumPaidByUser(ctx, tx, user.ID)
		if txErr != nil {
			return txErr
		}
		rankAfter = s.evaluator.Evaluate(totalPaid)
		return s.userRepo.UpdateMembershipRank(ctx, tx, user.ID, rankAfter)
	})
	if err != nil {
		if errors.Is(err, productdomain.ErrInsufficientStock) {
			s.metrics.RecordReconcile("oversell")
			s.log.Error("oversell prevented during completion",
				zap.String("payment_key", payment.PaymentKey),
				zap.Int64("order_id", int64(order.ID)),
			)
		}
		return nil, err
	}

	if !won {
		// Lost the race; the winner's terminal state decides the outcome.
		current, err := s.repo.FindByKey(ctx, s.db, payment.PaymentKey)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == paymentdomain.StatusPaid {
			s.metrics.RecordReconcile("duplicate")
			return s.snapshot(ctx, current, order)
		}
		return nil, paymentdomain.ErrVerificationFailed
	}

	s.metrics.RecordReconcile("paid")
	s.log.Info("payment reconciled",
		zap.String("payment_key", payment.PaymentKey),
		zap.String("amount", payment.Amount.String()),
		zap.String("earned_points", earned.String()),
	)

	pointsAfter := pointsBefore.Sub(payment.PointsUsed).Add(earned)
	payment.Status = paymentdomain.StatusPaid
	payment.PaidAt = &paidAt
	payment.EarnedPoints = earned

	snap := s.buildSnapshot(payment, order, user.ID, pointsBefore, pointsAfter, rankBefore, rankAfter)
	return snap, nil
}

// settleFailed marks the payment FAILED unless a racing caller already
// settled it as PAID, in which case the paid snapshot wins: a failure
// outcome can never override a confirmed payment.
func (s *Service) settleFailed(ctx context.Context, payment *paymentdomain.Payment, order *orderdomain.Order, cause error, outcome string) (*paymentdomain.Snapshot, error) {
	won, err := s.repo.TransitionStatus(ctx, s.db, payment.ID,
		paymentdomain.StatusCreated, paymentdomain.StatusFailed, nil, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.repo.FindByKey(ctx, s.db, payment.PaymentKey)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == paymentdomain.StatusPaid {
			s.metrics.RecordReconcile("duplicate")
			return s.snapshot(ctx, current, order)
		}
	}
	s.metrics.RecordReconcile(outcome)
	return nil, cause
}

// compensateCancel asks the gateway to cancel a charge we will not honor.
// Best effort: its failure is logged, never propagated, and never blocks the
// FAILED transition.
func (s *Service) compensateCancel(ctx context.Context, paymentKey string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.verifier.Cancel(cancelCtx, paymentKey, "amount mismatch"); err != nil {
		s.log.Warn("compensating gateway cancel failed",
			zap.String("payment_key", paymentKey),
			zap.Error(err),
		)
	}
}

func (s *Service) FailByKey(ctx context.Context, paymentKey string) error {
	payment, err := s.repo.FindByKey(ctx, s.db, paymentKey)
	if err != nil {
		return err
	}
	if payment == nil {
		return paymentdomain.ErrNotFound
	}

	switch payment.Status {
	case paymentdomain.StatusPaid, paymentdomain.StatusRefunded:
		return paymentdomain.ErrAlreadyPaid
	case paymentdomain.StatusFailed:
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, txErr := s.repo.TransitionStatus(ctx, tx, payment.ID,
			paymentdomain.StatusCreated, paymentdomain.StatusFailed, nil, nil)
		if txErr != nil {
			return txErr
		}
		if !won {
			current, txErr := s.repo.FindByKey(ctx, tx, paymentKey)
			if txErr != nil {
				return txErr
			}
			if current != nil && current.Status == paymentdomain.StatusPaid {
				return paymentdomain.ErrAlreadyPaid
			}
			return nil
		}
		return s.orderRepo.UpdateStatus(ctx, tx, payment.OrderID, orderdomain.OrderStatusCancelled)
	})
}

func (s *Service) GetPayment(ctx context.Context, paymentID snowflake.ID, callerUserID *snowflake.ID) (*paymentdomain.Snapshot, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrNotFound
	}

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

	return s.snapshot(ctx, payment, order)
}

// snapshot builds the terminal view from current state; before/after values
// coincide because no transition ran in this call.
func (s *Service) snapshot(ctx context.Context, payment *paymentdomain.Payment, order *orderdomain.Order) (*paymentdomain.Snapshot, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, order.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}
	return s.buildSnapshot(payment, order, user.ID,
		user.TotalPoints, user.TotalPoints, user.MembershipRank, user.MembershipRank), nil
}

func (s *Service) buildSnapshot(
	payment *paymentdomain.Payment,
	order *orderdomain.Order,
	userID snowflake.ID,
	pointsBefore, pointsAfter decimal.Decimal,
	rankBefore, rankAfter userdomain.MembershipRank,
) *paymentdomain.Snapshot {

	items := make([]paymentdomain.ItemInfo, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, paymentdomain.ItemInfo{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Price:       item.Price,
			Quantity:    item.Quantity,
		})
	}

	method, err := config.MethodFromID(payment.MethodID)
	if err != nil {
		// Validated at startup; an unknown stored ID is surfaced, not fatal.
		s.log.Error("payment row carries unknown method id",
			zap.Int64("method_id", payment.MethodID))
	}

	return &paymentdomain.Snapshot{
		PaymentID:      payment.ID,
		OrderID:        order.ID,
		UserID:         userID,
		Amount:         payment.Amount,
		PointsUsed:     payment.PointsUsed,
		DiscountAmount: payment.DiscountAmount,
		EarnedPoints:   payment.EarnedPoints,
		Status:         payment.Status,
		Method:         string(method),
		PointsBefore:   pointsBefore,
		PointsAfter:    pointsAfter,
		RankBefore:     rankBefore,
		RankAfter:      rankAfter,
		Items:          items,
		PaidAt:         payment.PaidAt,
		CreatedAt:      payment.CreatedAt,
		UpdatedAt:      payment.UpdatedAt,
	}
}

func orderName(items []orderdomain.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) == 1 {
		return items[0].ProductName
	}
	return items[0].ProductName + " and " + strconv.Itoa(len(items)-1) + " more"
}
