package loyalty

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// ErrInvalidProgram возвращается при некорректных параметрах программы.
var ErrInvalidProgram = errors.New("invalid loyalty program")

// DefaultRedemptionTTL задаёт срок действия кода награды по умолчанию.
const DefaultRedemptionTTL = 30 * 24 * time.Hour

// Program содержит параметры начисления баллов.
// PointsExpirationMonths только сообщается клиентам, сгорание баллов не выполняется.
type Program struct {
	PointsPerDollar        decimal.Decimal
	MinimumPurchaseAmount  decimal.Decimal
	PointsExpirationMonths int
	BirthdayBonusPoints    int64
	ReferralBonusPoints    int64
	RedemptionTTL          time.Duration
}

// Validate проверяет параметры программы.
func (p Program) Validate() error {
	if !p.PointsPerDollar.IsPositive() {
		return fmt.Errorf("%w: points per dollar must be positive", ErrInvalidProgram)
	}
	if p.MinimumPurchaseAmount.IsNegative() {
		return fmt.Errorf("%w: minimum purchase amount must not be negative", ErrInvalidProgram)
	}
	if p.PointsExpirationMonths < 0 {
		return fmt.Errorf("%w: points expiration must not be negative", ErrInvalidProgram)
	}
	if p.BirthdayBonusPoints < 0 || p.ReferralBonusPoints < 0 {
		return fmt.Errorf("%w: bonus points must not be negative", ErrInvalidProgram)
	}
	if p.RedemptionTTL < 0 {
		return fmt.Errorf("%w: redemption ttl must not be negative", ErrInvalidProgram)
	}
	return nil
}

// CalculatePoints возвращает количество баллов за покупку на сумму amount.
// Покупки ниже минимальной суммы баллов не приносят. Округление вниз выполняется дважды:
// сначала для базовых баллов, затем после применения множителя уровня.
func CalculatePoints(p Program, amount decimal.Decimal, tier model.Tier) int64 {
	if amount.LessThan(p.MinimumPurchaseAmount) || !amount.IsPositive() {
		return 0
	}

	base := amount.Mul(p.PointsPerDollar).Floor()
	return base.Mul(tier.Multiplier).Floor().IntPart()
}
