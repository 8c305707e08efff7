package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/orbitcart/payments/internal/clock"
	"github.com/orbitcart/payments/internal/config"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/orbitcart/payments/internal/membership"
	orderdomain "github.com/orbitcart/payments/internal/order/domain"
	orderrepo "github.com/orbitcart/payments/internal/order/repository"
	paymentdomain "github.com/orbitcart/payments/internal/payment/domain"
	paymentrepo "github.com/orbitcart/payments/internal/payment/repository"
	paymentservice "github.com/orbitcart/payments/internal/payment/service"
	pointservice "github.com/orbitcart/payments/internal/point/service"
	productrepo "github.com/orbitcart/payments/internal/product/repository"
	refunddomain "github.com/orbitcart/payments/internal/refund/domain"
	refundrepo "github.com/orbitcart/payments/internal/refund/repository"
	refundservice "github.com/orbitcart/payments/internal/refund/service"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
	userrepo "github.com/orbitcart/payments/internal/user/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeVerifier struct {
	amount      decimal.Decimal
	status      string
	cancelErr   error
	cancelCalls int
}

func (f *fakeVerifier) Verify(ctx context.Context, paymentKey string) (*gatewaydomain.Verification, error) {
	return &gatewaydomain.Verification{
		PaymentKey: paymentKey,
		Amount:     f.amount,
		Status:     f.status,
	}, nil
}

func (f *fakeVerifier) Cancel(ctx context.Context, paymentKey, reason string) error {
	f.cancelCalls++
	return f.cancelErr
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	verifier   *fakeVerifier
	paymentSvc paymentdomain.Service
	refundSvc  refunddomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(12)
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

	return &fixture{
		db:         db,
		node:       node,
		clk:        clk,
		verifier:   verifier,
		paymentSvc: paymentSvc,
		refundSvc:  refundSvc,
	}
}

// paidPayment seeds a user with points, an order for one product and drives
// the payment all the way to PAID.
func (f *fixture) paidPayment(t *testing.T, points, price, stock, qty int64) (userID, productID, orderID, paymentID snowflake.ID, key string) {
	t.Helper()
	ctx := context.Background()

	userID = f.node.Generate()
	err := f.db.Exec(
		`INSERT INTO users (id, email, name, total_points, membership_rank, created_at, updated_at)
		 VALUES (?, ?, 'Test User', ?, 'NORMAL', ?, ?)`,
		userID, fmt.Sprintf("user-%d@example.com", userID),
		decimal.NewFromInt(points), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if points > 0 {
		err = f.db.Exec(
			`INSERT INTO point_transactions (id, user_id, points_changed, type, created_at)
			 VALUES (?, ?, ?, 'EARNED', ?)`,
			f.node.Generate(), userID, decimal.NewFromInt(points), f.clk.Now(),
		).Error
		if err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}

	productID = f.node.Generate()
	err = f.db.Exec(
		`INSERT INTO products (id, name, price, stock, created_at, updated_at)
		 VALUES (?, 'Widget', ?, ?, ?, ?)`,
		productID, decimal.NewFromInt(price), stock, f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	orderID = f.node.Generate()
	err = f.db.Exec(
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'PENDING_PAYMENT', ?, ?)`,
		orderID, userID, decimal.NewFromInt(price*qty), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	err = f.db.Exec(
		`INSERT INTO order_items (id, order_id, product_id, product_name, price, quantity)
		 VALUES (?, ?, ?, 'Widget', ?, ?)`,
		f.node.Generate(), orderID, productID, decimal.NewFromInt(price), qty,
	).Error
	if err != nil {
		t.Fatalf("seed order item: %v", err)
	}

	intent, err := f.paymentSvc.CreateIntent(ctx, userID, orderID, points > 0)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	f.verifier.amount = intent.Amount
	if _, err := f.paymentSvc.Reconcile(ctx, intent.PaymentKey, &userID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return userID, productID, orderID, intent.PaymentID, intent.PaymentKey
}

func (f *fixture) balance(t *testing.T, userID snowflake.ID) decimal.Decimal {
	t.Helper()
	var raw string
	if err := f.db.Raw(`SELECT total_points FROM users WHERE id = ?`, userID).Scan(&raw).Error; err != nil {
		t.Fatalf("scan balance: %v", err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse balance %q: %v", raw, err)
	}
	return d
}

func (f *fixture) column(t *testing.T, query string, args ...any) string {
	t.Helper()
	var out string
	if err := f.db.Raw(query, args...).Scan(&out).Error; err != nil {
		t.Fatalf("scan %q: %v", query, err)
	}
	return out
}

func TestRefundRestoresEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, productID, orderID, paymentID, _ := f.paidPayment(t, 3000, 5000, 10, 2)

	// After payment: balance 3000-3000+70, stock 8, order COMPLETED.
	if got := f.balance(t, userID); !got.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("post-payment balance: %s", got)
	}

	refund, err := f.refundSvc.Refund(ctx, paymentID, &userID, "changed my mind")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}

	if !refund.Amount.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("expected refund amount 7000, got %s", refund.Amount)
	}
	if !refund.PointsRestored.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected 3000 points restored, got %s", refund.PointsRestored)
	}
	if !refund.PointsClawedBack.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected 70 points clawed back, got %s", refund.PointsClawedBack)
	}

	if got := f.balance(t, userID); !got.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected balance restored to 3000, got %s", got)
	}
	if got := f.column(t, `SELECT stock FROM products WHERE id = ?`, productID); got != "10" {
		t.Fatalf("expected stock restored to 10, got %s", got)
	}
	if got := f.column(t, `SELECT status FROM orders WHERE id = ?`, orderID); got != string(orderdomain.OrderStatusCancelled) {
		t.Fatalf("expected CANCELLED order, got %s", got)
	}
	if got := f.column(t, `SELECT status FROM payments WHERE id = ?`, paymentID); got != string(paymentdomain.StatusRefunded) {
		t.Fatalf("expected REFUNDED payment, got %s", got)
	}
	if f.verifier.cancelCalls != 1 {
		t.Fatalf("expected 1 gateway cancel, got %d", f.verifier.cancelCalls)
	}
}

func TestRefundIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, productID, _, paymentID, _ := f.paidPayment(t, 0, 5000, 10, 1)

	first, err := f.refundSvc.Refund(ctx, paymentID, &userID, "dup test")
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	second, err := f.refundSvc.Refund(ctx, paymentID, &userID, "dup test")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the same refund row, got %d and %d", first.ID, second.ID)
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM refunds WHERE payment_id = ?`, paymentID).Scan(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 refund row, got %d", count)
	}
	// Stock restored once, not twice.
	if got := f.column(t, `SELECT stock FROM products WHERE id = ?`, productID); got != "10" {
		t.Fatalf("expected stock 10, got %s", got)
	}
	if f.verifier.cancelCalls != 1 {
		t.Fatalf("expected a single gateway cancel, got %d", f.verifier.cancelCalls)
	}
}

func TestRefundAbortsWhenGatewayRefuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, productID, _, paymentID, _ := f.paidPayment(t, 0, 5000, 10, 1)
	f.verifier.cancelErr = gatewaydomain.ErrUnavailable

	if _, err := f.refundSvc.Refund(ctx, paymentID, &userID, "will fail"); !errors.Is(err, gatewaydomain.ErrUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	// Nothing changed locally.
	if got := f.column(t, `SELECT status FROM payments WHERE id = ?`, paymentID); got != string(paymentdomain.StatusPaid) {
		t.Fatalf("expected payment still PAID, got %s", got)
	}
	if got := f.column(t, `SELECT stock FROM products WHERE id = ?`, productID); got != "9" {
		t.Fatalf("expected stock still 9, got %s", got)
	}
	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM refunds WHERE payment_id = ?`, paymentID).Scan(&count).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no refund row, got %d", count)
	}
}

func TestRefundFromGatewaySkipsCancelCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, _, paymentID, key := f.paidPayment(t, 0, 5000, 10, 1)
	cancelsBefore := f.verifier.cancelCalls

	refund, err := f.refundSvc.RefundFromGateway(ctx, key, "gateway cancellation")
	if err != nil {
		t.Fatalf("refund from gateway: %v", err)
	}
	if refund.PaymentID != paymentID {
		t.Fatalf("refund bound to wrong payment: %d", refund.PaymentID)
	}
	if f.verifier.cancelCalls != cancelsBefore {
		t.Fatal("gateway-settled refund must not call cancel")
	}
}

func TestRefundRejectsUnpaidPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, _, _, _, key := f.paidPayment(t, 0, 5000, 10, 1)

	// A second order with an intent that never completes.
	orderID := f.node.Generate()
	err := f.db.Exec(
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'PENDING_PAYMENT', ?, ?)`,
		orderID, userID, decimal.NewFromInt(5000), f.clk.Now(), f.clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	var productID string
	if err := f.db.Raw(`SELECT id FROM products LIMIT 1`).Scan(&productID).Error; err != nil {
		t.Fatalf("find product: %v", err)
	}
	err = f.db.Exec(
		`INSERT INTO order_items (id, order_id, product_id, product_name, price, quantity)
		 VALUES (?, ?, ?, 'Widget', ?, 1)`,
		f.node.Generate(), orderID, productID, decimal.NewFromInt(5000),
	).Error
	if err != nil {
		t.Fatalf("seed order item: %v", err)
	}

	intent, err := f.paymentSvc.CreateIntent(ctx, userID, orderID, false)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.PaymentKey == key {
		t.Fatal("fresh intent reused another order's key")
	}

	if _, err := f.refundSvc.Refund(ctx, intent.PaymentID, &userID, "too early"); !errors.Is(err, refunddomain.ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
}

func TestRefundDowngradesMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, _, _, paymentID, _ := f.paidPayment(t, 0, 120000, 2, 1)

	if got := f.column(t, `SELECT membership_rank FROM users WHERE id = ?`, userID); got != string(userdomain.RankVIP) {
		t.Fatalf("expected VIP after payment, got %s", got)
	}

	if _, err := f.refundSvc.Refund(ctx, paymentID, &userID, "downgrade"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	if got := f.column(t, `SELECT membership_rank FROM users WHERE id = ?`, userID); got != string(userdomain.RankNormal) {
		t.Fatalf("expected NORMAL after refund, got %s", got)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_refund_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
