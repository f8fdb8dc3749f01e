package pawn

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE CHARGE
// =============================================================================

type ServiceChargeResult struct {
	Amount  decimal.Decimal
	Method  ServiceChargeMethod
	Bracket *ServiceChargeBracket // set for the bracket method
	// Fallback is true when no bracket matched and the highest
	// display-order bracket was used instead.
	Fallback bool
	Clamped  bool
}

// CalculateServiceCharge dispatches on the configured method, then clamps
// the charge to [MinCharge, MaxCharge] and rounds it to cents.
func CalculateServiceCharge(cfg ServiceChargeConfig, principal decimal.Decimal) (ServiceChargeResult, error) {
	if principal.IsNegative() {
		return ServiceChargeResult{}, invalid("principal", "must not be negative")
	}
	if err := cfg.Validate(); err != nil {
		return ServiceChargeResult{}, &CalculationError{Op: "service charge", Message: err.Error()}
	}

	result := ServiceChargeResult{Method: cfg.Method}
	switch cfg.Method {
	case MethodBracket:
		bracket, fallback, err := MatchBracket(cfg.Brackets, principal)
		if err != nil {
			return ServiceChargeResult{}, err
		}
		result.Amount = bracket.Charge
		result.Bracket = &bracket
		result.Fallback = fallback
	case MethodPercentage:
		result.Amount = principal.Mul(cfg.PercentageRate)
	case MethodFixed:
		result.Amount = cfg.FixedAmount
	}

	clamped := maxDecimal(result.Amount, cfg.MinCharge)
	if cfg.MaxCharge.IsPositive() {
		clamped = minDecimal(clamped, cfg.MaxCharge)
	}
	result.Clamped = !clamped.Equal(result.Amount)
	result.Amount = RoundMoney(clamped)
	return result, nil
}

// MatchBracket scans active brackets by ascending MinAmount and returns the
// first whose inclusive range holds amount. When none does, the bracket with
// the highest DisplayOrder is returned with fallback=true, so the lookup is
// total over any non-empty active set.
func MatchBracket(brackets []ServiceChargeBracket, amount decimal.Decimal) (ServiceChargeBracket, bool, error) {
	active := ActiveBrackets(brackets)
	if len(active) == 0 {
		return ServiceChargeBracket{}, false, &CalculationError{Op: "service charge", Message: "no active service charge brackets configured"}
	}
	for _, b := range active {
		if b.Contains(amount) {
			return b, false, nil
		}
	}

	last := active[0]
	for _, b := range active[1:] {
		if b.DisplayOrder > last.DisplayOrder {
			last = b
		}
	}
	return last, true, nil
}
