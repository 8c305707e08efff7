package membership

import (
	"github.com/orbitcart/payments/internal/config"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// Evaluator maps a cumulative paid total to a membership rank. It is always
// fed the full sum over PAID payments, never an incremental delta, so a
// refund self-corrects the rank on recompute.
type Evaluator struct {
	vip  decimal.Decimal
	vvip decimal.Decimal
}

func NewEvaluator(cfg config.Config) *Evaluator {
	return &Evaluator{
		vip:  cfg.Points.VIPThreshold,
		vvip: cfg.Points.VVIPThreshold,
	}
}

func (e *Evaluator) Evaluate(totalPaid decimal.Decimal) userdomain.MembershipRank {
	if totalPaid.GreaterThanOrEqual(e.vvip) {
		return userdomain.RankVVIP
	}
	if totalPaid.GreaterThanOrEqual(e.vip) {
		return userdomain.RankVIP
	}
	return userdomain.RankNormal
}

// Module wires the membership evaluator.
var Module = fx.Module("membership",
	fx.Provide(NewEvaluator),
)
