package pawn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
)

func penaltyConfig() pawn.PenaltyConfig {
	return pawn.PenaltyConfig{
		MonthlyRate:        money("0.02"),
		DailyThresholdDays: 3,
		GracePeriodDays:    3,
		MaxMultiplier:      3,
	}
}

// =============================================================================
// PENALTY ENGINE TESTS
// =============================================================================

func TestCalculatePenalty_DailyPenalty(t *testing.T) {
	// GIVEN: 15,000 principal, 2% monthly, no grace, threshold 3 days
	// WHEN: Two days past maturity
	// THEN: Daily method, 15000 * 0.02/30 * 2 = 20.00

	cfg := penaltyConfig()
	cfg.GracePeriodDays = 0

	res, err := pawn.CalculatePenalty(cfg, money("15000"), date("2024-01-01"), date("2024-01-03"))
	require.NoError(t, err)

	assertMoney(t, "20.00", res.Amount)
	assert.Equal(t, 2, res.DaysOverdue)
	assert.Equal(t, 2, res.EffectiveDaysOverdue)
	assert.Equal(t, pawn.PenaltyDaily, res.Method)
	assert.True(t, res.Applicable)
}

func TestCalculatePenalty_GraceBoundaryInclusive(t *testing.T) {
	// GIVEN: Grace period of 3 days after a 2024-01-31 maturity
	// WHEN: Asking on the last grace day, then the day after
	// THEN: Nothing on 02-03; the daily penalty starts on 02-04

	cfg := penaltyConfig()
	maturity := date("2024-01-31")

	onGrace, err := pawn.CalculatePenalty(cfg, money("1000"), maturity, date("2024-02-03"))
	require.NoError(t, err)
	assert.False(t, onGrace.Applicable)
	assert.True(t, onGrace.Amount.IsZero())
	assert.Equal(t, 3, onGrace.DaysOverdue)
	assert.Equal(t, pawn.PenaltyNone, onGrace.Method)

	after, err := pawn.CalculatePenalty(cfg, money("1000"), maturity, date("2024-02-04"))
	require.NoError(t, err)
	assert.True(t, after.Applicable)
	assert.Equal(t, 1, after.EffectiveDaysOverdue)
	assertMoney(t, "0.67", after.Amount)
}

func TestCalculatePenalty_BeforeMaturity(t *testing.T) {
	res, err := pawn.CalculatePenalty(penaltyConfig(), money("1000"), date("2024-01-31"), date("2024-01-15"))
	require.NoError(t, err)

	assert.Equal(t, 0, res.DaysOverdue, "days overdue never negative")
	assert.True(t, res.Amount.IsZero())
}

func TestCalculatePenalty_Methods(t *testing.T) {
	maturity := date("2024-01-31")

	tests := []struct {
		name        string
		compounding bool
		asOf        string
		wantAmount  string
		wantMethod  pawn.PenaltyMethod
	}{
		{"daily below threshold", false, "2024-02-05", "1.33", pawn.PenaltyDaily},
		{"monthly at threshold", false, "2024-02-06", "20.00", pawn.PenaltyMonthly},
		{"monthly flat long overdue", false, "2024-06-30", "20.00", pawn.PenaltyMonthly},
		{"compound first month", true, "2024-02-10", "20.00", pawn.PenaltyMonthlyCompound},
		{"compound second month", true, "2024-03-05", "40.00", pawn.PenaltyMonthlyCompound},
		{"compound capped", true, "2024-12-31", "60.00", pawn.PenaltyMonthlyCompound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := penaltyConfig()
			cfg.Compounding = tt.compounding

			res, err := pawn.CalculatePenalty(cfg, money("1000"), maturity, date(tt.asOf))
			require.NoError(t, err)
			assertMoney(t, tt.wantAmount, res.Amount)
			assert.Equal(t, tt.wantMethod, res.Method)
		})
	}
}

func TestCalculatePenalty_NeverExceedsCap(t *testing.T) {
	// GIVEN: Any configuration shape (daily threshold up to a full month,
	//        compounding on or off)
	// WHEN: Walking as-of dates a full year past maturity
	// THEN: The penalty never exceeds principal * rate * max_multiplier

	principal := money("12345.67")
	maturity := date("2024-01-31")

	for _, threshold := range []int{0, 3, 31} {
		for _, compounding := range []bool{false, true} {
			cfg := penaltyConfig()
			cfg.DailyThresholdDays = threshold
			cfg.Compounding = compounding
			ceiling := pawn.RoundMoney(principal.Mul(cfg.MonthlyRate).Mul(money("3")))

			for d := 0; d <= 365; d++ {
				res, err := pawn.CalculatePenalty(cfg, principal, maturity, maturity.AddDays(d))
				require.NoError(t, err)
				assert.True(t, res.Amount.LessThanOrEqual(ceiling),
					"threshold=%d compounding=%v day=%d: %s > %s", threshold, compounding, d, res.Amount, ceiling)
			}
		}
	}
}

func TestCalculatePenalty_MonotonicInDate(t *testing.T) {
	principal := money("5000")
	maturity := date("2024-01-31")

	for _, compounding := range []bool{false, true} {
		cfg := penaltyConfig()
		cfg.Compounding = compounding

		prev, err := pawn.CalculatePenalty(cfg, principal, maturity, maturity)
		require.NoError(t, err)
		for d := 1; d <= 200; d++ {
			res, err := pawn.CalculatePenalty(cfg, principal, maturity, maturity.AddDays(d))
			require.NoError(t, err)
			assert.True(t, res.Amount.GreaterThanOrEqual(prev.Amount),
				"compounding=%v day=%d: %s < %s", compounding, d, res.Amount, prev.Amount)
			prev = res
		}
	}
}

func TestCalculatePenalty_InvalidInput(t *testing.T) {
	_, err := pawn.CalculatePenalty(penaltyConfig(), money("-1"), date("2024-01-31"), date("2024-02-10"))
	var ve *pawn.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "principal", ve.Field)

	_, err = pawn.CalculatePenalty(penaltyConfig(), money("100"), pawn.Date{}, date("2024-02-10"))
	assert.ErrorIs(t, err, pawn.ErrValidation)

	bad := penaltyConfig()
	bad.MaxMultiplier = 0
	_, err = pawn.CalculatePenalty(bad, money("100"), date("2024-01-31"), date("2024-02-10"))
	var ce *pawn.CalculationError
	assert.ErrorAs(t, err, &ce)
}

func TestCalculatePenalty_ZeroPrincipal(t *testing.T) {
	res, err := pawn.CalculatePenalty(penaltyConfig(), money("0"), date("2024-01-31"), date("2024-03-31"))
	require.NoError(t, err)
	assert.True(t, res.Amount.IsZero())
}
