package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/clock"
	pointdomain "github.com/orbitcart/payments/internal/point/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) pointdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("point.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Spend(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pointdomain.ErrInvalidAmount
	}

	// Guarded decrement: the cached balance can never go negative even if a
	// racing writer spent first.
	res := tx.WithContext(ctx).Exec(
		`UPDATE users
		 SET total_points = total_points - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND total_points >= ?`,
		amount,
		userID,
		amount,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pointdomain.ErrInsufficientPoints
	}

	return s.appendEntry(ctx, tx, userID, amount, pointdomain.PointTypeUsed)
}

func (s *Service) Accrue(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pointdomain.ErrInvalidAmount
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE users
		 SET total_points = total_points + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		amount,
		userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pointdomain.ErrUserNotFound
	}

	return s.appendEntry(ctx, tx, userID, amount, pointdomain.PointTypeEarned)
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal, entryType pointdomain.PointType) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO point_transactions (id, user_id, points_changed, type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		userID,
		amount,
		entryType,
		s.clock.Now(),
	).Error
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	var raw string
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(total_points, 0) FROM users WHERE id = ?`,
		userID,
	).Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == "" {
		return decimal.Zero, pointdomain.ErrUserNotFound
	}
	return decimal.NewFromString(raw)
}

func (s *Service) LedgerSum(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	var rows []pointdomain.PointTransaction
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, user_id, points_changed, type, created_at
		 FROM point_transactions
		 WHERE user_id = ?
		 ORDER BY id`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, row := range rows {
		switch row.Type {
		case pointdomain.PointTypeEarned:
			sum = sum.Add(row.PointsChanged)
		case pointdomain.PointTypeUsed:
			sum = sum.Sub(row.PointsChanged)
		}
	}
	return sum, nil
}
