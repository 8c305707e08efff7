package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/orbitcart/payments/internal/clock"
	"github.com/orbitcart/payments/internal/config"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/orbitcart/payments/internal/membership"
	orderrepo "github.com/orbitcart/payments/internal/order/repository"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	paymentrepo "github.com/orbitcart/payments/internal/payment/repository"
	paymentservice "github.com/orbitcart/payments/internal/payment/service"
	pointservice "github.com/orbitcart/payments/internal/point/service"
	productrepo "github.com/orbitcart/payments/internal/product/repository"
	refundrepo "github.com/orbitcart/payments/internal/refund/repository"
	refundservice "github.com/orbitcart/payments/internal/refund/service"
	userrepo "github.com/orbitcart/payments/internal/user/repository"
	webhookdomain "github.com/orbitcart/payments/internal/webhook/domain"
	webhookrepo "github.com/orbitcart/payments/internal/webhook/repository"
	webhookservice "github.com/orbitcart/payments/internal/webhook/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeVerifier struct {
	amount decimal.Decimal
	status string
}

func (f *fakeVerifier) Verify(ctx context.Context, paymentKey string) (*gatewaydomain.Verification, error) {
	return &gatewaydomain.Verification{
		PaymentKey: paymentKey,
		Amount:     f.amount,
		Status:     f.status,
	}, nil
}

func (f *fakeVerifier) Cancel(ctx context.Context, paymentKey, reason string) error {
	return nil
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	verifier   *fakeVerifier
	paymentSvc paymentdomain.Service
	webhookSvc webhookdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(13)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	verifier := &fakeVerifier{status: gatewaydomain.StatusPaid}
	cfg := config.Config{
		Points: config.Points{
			EarnRate:      decimal.RequireFromString("0.01"),
			VIPThreshold:  decimal.NewFromInt(100000),
			VVIPThreshold: decimal.NewFromInt(150000),
		},
	}

	pointSvc := pointservice.NewService(pointservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	evaluator := membership.NewEvaluator(cfg)

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Cfg:         cfg,
		Clock:       clk,
		Repo:        paymentrepo.Provide(),
		OrderRepo:   orderrepo.Provide(),
		ProductRepo: productrepo.Provide(),
		UserRepo:    userrepo.Provide(),
		PointSvc:    pointSvc,
		Evaluator:   evaluator,
		Verifier:    verifier,
	})

	refundSvc := refundservice.NewService(refundservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        refundrepo.Provide(),
		PaymentRepo: paymentrepo.Provide(),
		OrderRepo:   orderrepo.Provide(),
		ProductRepo: productrepo.Provide(),
		UserRepo:    userrepo.Provide(),
		PointSvc:    pointSvc,
		Evaluator:   evaluator,
		Verifier:    verifier,
	})

	webhookSvc := webhookservice.NewService(webhookservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       webhookrepo.Provide(),
		PaymentSvc: paymentSvc,
		RefundSvc:  refundSvc,
	})

	return &fixture{
		db:         db,
		node:       node,
		clk:        clk,
		verifier:   verifier,
		paymentSvc: paymentSvc,
		webhookSvc: webhookSvc,
	}
}

func (f *fixture) seedIntent(t *testing.T, price int64) (snowflake.ID, string) {
	t.Helper()
	ctx := context.Background()

	userID := f.node.Generate()
	err := f.db.Exec(
		`INSERT INTO users (id, email, name, total_points, membership_rank, created_at, updated_at)
		 VALUES (?, ?, 'Test User', 0, 'NORMAL', ?, ?)`,
		userID, fmt.Sprintf("user-%d@example.com", userID), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	productID := f.node.Generate()
	err = f.db.Exec(
		`INSERT INTO products (id, name, price, stock, created_at, updated_at)
		 VALUES (?, 'Widget', ?, 10, ?, ?)`,
		productID, decimal.NewFromInt(price), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	orderID := f.node.Generate()
	err = f.db.Exec(
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'PENDING_PAYMENT', ?, ?)`,
		orderID, userID, decimal.NewFromInt(price), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	err = f.db.Exec(
		`INSERT INTO order_items (id, order_id, product_id, product_name, price, quantity)
		 VALUES (?, ?, ?, 'Widget', ?, 1)`,
		f.node.Generate(), orderID, productID, decimal.NewFromInt(price),
	).Error
	if err != nil {
		t.Fatalf("seed order item: %v", err)
	}

	intent, err := f.paymentSvc.CreateIntent(ctx, userID, orderID, false)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	f.verifier.amount = intent.Amount
	return userID, intent.PaymentKey
}

func (f *fixture) paymentStatus(t *testing.T, key string) string {
	t.Helper()
	var status string
	if err := f.db.Raw(`SELECT status FROM payments WHERE payment_key = ?`, key).Scan(&status).Error; err != nil {
		t.Fatalf("scan payment status: %v", err)
	}
	return status
}

func (f *fixture) lastOutcome(t *testing.T, key string) string {
	t.Helper()
	var outcome string
	err := f.db.Raw(
		`SELECT outcome FROM webhook_events WHERE payment_key = ? ORDER BY id DESC LIMIT 1`,
		key,
	).Scan(&outcome).Error
	if err != nil {
		t.Fatalf("scan outcome: %v", err)
	}
	return outcome
}

func TestHandlePaidEventCompletesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, key := f.seedIntent(t, 10000)

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: key,
		Status:     "paid",
		Raw:        []byte(`{"imp_uid":"` + key + `","status":"paid"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := f.paymentStatus(t, key); got != string(paymentdomain.StatusPaid) {
		t.Fatalf("expected PAID, got %s", got)
	}
	if got := f.lastOutcome(t, key); got != "reconciled" {
		t.Fatalf("expected outcome reconciled, got %s", got)
	}
}

func TestHandleFailedEventCancelsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, key := f.seedIntent(t, 10000)

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: key,
		Status:     "failed",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := f.paymentStatus(t, key); got != string(paymentdomain.StatusFailed) {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if got := f.lastOutcome(t, key); got != "failed" {
		t.Fatalf("expected outcome failed, got %s", got)
	}
}

func TestHandleFailedEventIgnoredAfterPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, key := f.seedIntent(t, 10000)
	if _, err := f.paymentSvc.Reconcile(ctx, key, &userID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: key,
		Status:     "failed",
	})
	if err != nil {
		t.Fatalf("a late failure notice must be acknowledged, got %v", err)
	}

	if got := f.paymentStatus(t, key); got != string(paymentdomain.StatusPaid) {
		t.Fatalf("PAID must survive, got %s", got)
	}
	if got := f.lastOutcome(t, key); got != "ignored_already_paid" {
		t.Fatalf("expected outcome ignored_already_paid, got %s", got)
	}
}

func TestHandleCancelledEventRefundsWithoutGatewayCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, key := f.seedIntent(t, 10000)
	if _, err := f.paymentSvc.Reconcile(ctx, key, &userID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: key,
		Status:     "cancelled",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := f.paymentStatus(t, key); got != string(paymentdomain.StatusRefunded) {
		t.Fatalf("expected REFUNDED, got %s", got)
	}
	if got := f.lastOutcome(t, key); got != "refunded" {
		t.Fatalf("expected outcome refunded, got %s", got)
	}
}

func TestHandleUnknownStatusIsRecordedAndAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, key := f.seedIntent(t, 10000)

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: key,
		Status:     "vbank_issued",
	})
	if err != nil {
		t.Fatalf("unknown statuses must be acknowledged, got %v", err)
	}

	if got := f.paymentStatus(t, key); got != string(paymentdomain.StatusCreated) {
		t.Fatalf("payment must be untouched, got %s", got)
	}
	if got := f.lastOutcome(t, key); got != "ignored_unknown_status" {
		t.Fatalf("expected outcome ignored_unknown_status, got %s", got)
	}
}

func TestHandleUnknownKeyIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.webhookSvc.Handle(ctx, webhookdomain.Event{
		PaymentKey: "imp_missing",
		Status:     "paid",
	})
	if err != nil {
		t.Fatalf("unknown keys must be acknowledged, got %v", err)
	}
	if got := f.lastOutcome(t, "imp_missing"); got != "unknown_payment" {
		t.Fatalf("expected outcome unknown_payment, got %s", got)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			total_points NUMERIC(18,2) NOT NULL DEFAULT 0,
			membership_rank TEXT NOT NULL DEFAULT 'NORMAL',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(18,2) NOT NULL,
			stock BIGINT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			total_amount NUMERIC(18,2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING_PAYMENT',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE order_items (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			product_id BIGINT NOT NULL,
			product_name TEXT NOT NULL,
			price NUMERIC(18,2) NOT NULL,
			quantity BIGINT NOT NULL
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			payment_key TEXT NOT NULL,
			method_id BIGINT NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			points_used NUMERIC(18,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
			earned_points NUMERIC(18,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'CREATED',
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_payment_key ON payments(payment_key)`,
		`CREATE TABLE refunds (
			id BIGINT PRIMARY KEY,
			payment_id BIGINT NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			points_restored NUMERIC(18,2) NOT NULL DEFAULT 0,
			points_clawed_back NUMERIC(18,2) NOT NULL DEFAULT 0,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_refunds_payment ON refunds(payment_id)`,
		`CREATE TABLE point_transactions (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			points_changed NUMERIC(18,2) NOT NULL,
			type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE webhook_events (
			id BIGINT PRIMARY KEY,
			payment_key TEXT NOT NULL,
			merchant_uid TEXT,
			status TEXT NOT NULL,
			payload TEXT,
			outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
