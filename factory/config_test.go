package factory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
	"github.com/warp/pawn-engine/pawn/store"
)

func TestParsePreset_Standard(t *testing.T) {
	// GIVEN: The standard preset
	// WHEN: Parsing it
	// THEN: It matches the compiled-in defaults row for row

	f := NewConfigFactory()
	preset, err := f.ParsePreset(StandardJSON())
	require.NoError(t, err)

	assert.Equal(t, "standard", preset.ID)
	assert.Equal(t, pawn.DefaultParameters(), preset.Parameters)
	require.Len(t, preset.Brackets, 5)
	assert.Nil(t, preset.Brackets[4].MaxAmount, "top bracket is open-ended")
	assert.Equal(t, 5, preset.Brackets[4].DisplayOrder)
	assert.True(t, preset.Brackets[0].Charge.Equal(decimal.NewFromInt(1)))
}

func TestParsePreset_PartialOverlaysDefaults(t *testing.T) {
	f := NewConfigFactory()
	preset, err := f.ParsePreset(CompoundingJSON("0.03", 4))
	require.NoError(t, err)

	assert.True(t, preset.Config.Penalty.Compounding)
	assert.True(t, preset.Config.Penalty.MonthlyRate.Equal(decimal.RequireFromString("0.03")))
	assert.Equal(t, 4, preset.Config.Penalty.MaxMultiplier)
	assert.Equal(t, 0, preset.Config.Penalty.DailyThresholdDays)
	assert.Equal(t, 3, preset.Config.Penalty.GracePeriodDays, "untouched field keeps default")
	assert.Equal(t, pawn.MethodBracket, preset.Config.ServiceCharge.Method)
	assert.Nil(t, preset.Brackets, "no table in preset leaves the stored one alone")
}

func TestParsePreset_Percentage(t *testing.T) {
	f := NewConfigFactory()
	preset, err := f.ParsePreset(PercentageJSON("0.015", "2", "0"))
	require.NoError(t, err)

	res, err := pawn.CalculateServiceCharge(preset.Config.ServiceCharge, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, "150.00", res.Amount.StringFixed(2), "zero max leaves the charge unbounded")
}

func TestParsePreset_NumbersAccepted(t *testing.T) {
	f := NewConfigFactory()
	preset, err := f.ParsePreset(`{"id": "n", "loan": {"advance_interest_rate": 0.025, "maturity_days": 45, "expiry_days": 120}}`)
	require.NoError(t, err)

	assert.True(t, preset.Config.Loan.AdvanceInterestRate.Equal(decimal.RequireFromString("0.025")))
	assert.Equal(t, 45, preset.Config.Loan.MaturityDays)
}

func TestParsePreset_Rejections(t *testing.T) {
	f := NewConfigFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id": `},
		{"unknown method", `{"id": "x", "service_charge": {"method": "tiered"}}`},
		{"threshold beyond a month", `{"id": "x", "penalty": {"daily_threshold_days": 40}}`},
		{"min above max", `{"id": "x", "service_charge": {"min_charge": "9", "max_charge": "5"}}`},
		{"overlapping brackets", `{"id": "x", "service_charge": {"brackets": [
			{"min": "0", "max": "200", "charge": "1"},
			{"min": "100", "charge": "2"}
		]}}`},
		{"open bracket below another", `{"id": "x", "service_charge": {"brackets": [
			{"min": "0", "charge": "1"},
			{"min": "100", "charge": "2"}
		]}}`},
		{"expiry inside grace period", `{"id": "x", "loan": {"expiry_days": 2}}`},
		{"zero maturity", `{"id": "x", "loan": {"maturity_days": 0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePreset(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestParseBrackets_SortsByMinimum(t *testing.T) {
	f := NewConfigFactory()
	preset, err := f.ParsePreset(`{"id": "x", "service_charge": {"brackets": [
		{"min": "1000", "charge": "8"},
		{"min": "0", "max": "999.99", "charge": "3"}
	]}}`)
	require.NoError(t, err)

	require.Len(t, preset.Brackets, 2)
	assert.Equal(t, 1, preset.Brackets[0].DisplayOrder)
	assert.True(t, preset.Brackets[0].MinAmount.IsZero())
	assert.Equal(t, 2, preset.Brackets[1].DisplayOrder)
}

func TestToJSON_RoundTripsThroughParse(t *testing.T) {
	// GIVEN: A configuration exported as a preset
	// WHEN: The JSON is parsed again
	// THEN: The same parameter rows come back

	f := NewConfigFactory()
	original, err := f.ParsePreset(CompoundingJSON("0.04", 2))
	require.NoError(t, err)

	raw, err := json.Marshal(f.ToJSON("export", "Exported", original.Config))
	require.NoError(t, err)

	again, err := f.ParsePreset(string(raw))
	require.NoError(t, err)
	assert.Equal(t, original.Parameters, again.Parameters)
	assert.Len(t, again.Brackets, 5)
}

func TestBuiltin(t *testing.T) {
	f := NewConfigFactory()
	for _, name := range BuiltinNames {
		js, err := Builtin(name)
		require.NoError(t, err, name)
		_, err = f.ParsePreset(js)
		assert.NoError(t, err, name)
	}

	_, err := Builtin("generous")
	assert.Error(t, err)
}

func TestApply_WritesOnlyChangedParameters(t *testing.T) {
	// GIVEN: A store seeded with the standard preset
	// WHEN: The percentage preset is applied over it
	// THEN: Only the differing keys get a new version

	ctx := context.Background()
	cs := pawn.NewConfigStore(store.NewMemory(), pawn.NewCache[pawn.Config](time.Minute, nil), nil)
	f := NewConfigFactory()

	standard, err := f.ParsePreset(StandardJSON())
	require.NoError(t, err)
	require.NoError(t, cs.Seed(ctx, standard.Parameters, standard.Brackets, "seed"))

	percentage, err := f.ParsePreset(PercentageJSON("0.015", "2", "0"))
	require.NoError(t, err)

	changed, err := Apply(ctx, cs, percentage, "admin")
	require.NoError(t, err)
	assert.Equal(t, 4, changed, "method, rate, min and max")

	cfg, err := cs.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, pawn.MethodPercentage, cfg.ServiceCharge.Method)
	assert.Len(t, cfg.ServiceCharge.Brackets, 5, "table untouched")

	history, err := cs.History(ctx, pawn.KeyPenaltyMonthlyRate)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	changed, err = Apply(ctx, cs, percentage, "admin")
	require.NoError(t, err)
	assert.Zero(t, changed, "applying twice is a no-op")
}
