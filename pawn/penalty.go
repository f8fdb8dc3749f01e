/*
penalty.go - Overdue penalty under the grace-period policy

ALGORITHM:
  days_overdue           = calendar days from maturity to as-of
  effective_days_overdue = max(0, days_overdue - grace_period_days)

  effective == 0                 -> nothing owed (inside grace, inclusive)
  0 < effective < threshold      -> principal * rate/30 * effective   "daily"
  otherwise                      -> principal * rate                  "monthly"
    with compounding             -> principal * rate * ceil(eff/30)   "monthly_compound"
                                    (months capped at max_multiplier)

  amount = min(amount, principal * rate * max_multiplier), rounded to cents.

EXAMPLE:
  principal 15000, rate 0.02, grace 0, threshold 3,
  maturity 2024-01-01, as-of 2024-01-03
    -> days 2, effective 2, daily, 15000 * 0.02/30 * 2 = 20.00
*/
package pawn

import (
	"github.com/shopspring/decimal"
)

type PenaltyMethod string

const (
	PenaltyNone            PenaltyMethod = "none"
	PenaltyDaily           PenaltyMethod = "daily"
	PenaltyMonthly         PenaltyMethod = "monthly"
	PenaltyMonthlyCompound PenaltyMethod = "monthly_compound"
)

type PenaltyResult struct {
	Amount               decimal.Decimal
	DaysOverdue          int
	EffectiveDaysOverdue int
	Method               PenaltyMethod
	Applicable           bool
}

var daysPerMonth = decimal.NewFromInt(DaysPerPawnMonth)

// CalculatePenalty computes the penalty owed on principal for a term that
// matured on maturity, as of asOf.
func CalculatePenalty(cfg PenaltyConfig, principal decimal.Decimal, maturity, asOf Date) (PenaltyResult, error) {
	if principal.IsNegative() {
		return PenaltyResult{}, invalid("principal", "must not be negative")
	}
	if maturity.IsZero() {
		return PenaltyResult{}, invalid("maturity_date", "is required")
	}
	if asOf.IsZero() {
		return PenaltyResult{}, invalid("as_of_date", "is required")
	}
	if err := cfg.Validate(); err != nil {
		return PenaltyResult{}, &CalculationError{Op: "penalty", Message: err.Error()}
	}

	days := DaysBetween(maturity, asOf)
	if days < 0 {
		days = 0
	}
	effective := days - cfg.GracePeriodDays
	if effective <= 0 {
		return PenaltyResult{
			Amount:      decimal.Zero,
			DaysOverdue: days,
			Method:      PenaltyNone,
		}, nil
	}

	monthly := principal.Mul(cfg.MonthlyRate)
	ceiling := monthly.Mul(decimal.NewFromInt(int64(cfg.MaxMultiplier)))

	var (
		amount decimal.Decimal
		method PenaltyMethod
	)
	switch {
	case effective < cfg.DailyThresholdDays:
		amount = monthly.Mul(decimal.NewFromInt(int64(effective))).Div(daysPerMonth)
		method = PenaltyDaily
	case cfg.Compounding:
		months := (effective + DaysPerPawnMonth - 1) / DaysPerPawnMonth
		if months > cfg.MaxMultiplier {
			months = cfg.MaxMultiplier
		}
		amount = monthly.Mul(decimal.NewFromInt(int64(months)))
		method = PenaltyMonthlyCompound
	default:
		amount = monthly
		method = PenaltyMonthly
	}

	return PenaltyResult{
		Amount:               RoundMoney(minDecimal(amount, ceiling)),
		DaysOverdue:          days,
		EffectiveDaysOverdue: effective,
		Method:               method,
		Applicable:           true,
	}, nil
}
