/*
Package factory provides JSON to Go conversion of pawn configuration presets.

PURPOSE:
  Converts a JSON description of a branch's pawn terms into the parameter
  rows and bracket table the ConfigStore persists. Operations staff can
  keep terms in version-controlled JSON and seed a database from it.

JSON SCHEMA:
  {
    "id": "standard",
    "name": "Standard 30/90 terms",
    "penalty": {
      "monthly_rate": "0.02",
      "daily_threshold_days": 3,
      "grace_period_days": 3,
      "compounding": false,
      "max_multiplier": 3
    },
    "service_charge": {
      "method": "bracket",
      "min_charge": "1",
      "max_charge": "5",
      "brackets": [
        {"min": "1", "max": "100", "charge": "1"},
        {"min": "500", "charge": "5"}
      ]
    },
    "loan": {
      "advance_interest_rate": "0.02",
      "maturity_days": 30,
      "expiry_days": 90
    }
  }

  Every field is optional; anything left out keeps the compiled-in default.
  Amounts may be JSON strings or numbers.

USAGE:
  f := factory.NewConfigFactory()
  preset, err := f.ParsePreset(factory.StandardJSON())
  err = configStore.Seed(ctx, preset.Parameters, preset.Brackets, "seed")

  // or overwrite what is already stored
  changed, err := factory.Apply(ctx, configStore, preset, "admin")

SEE ALSO:
  - pawn/params.go: Parameter keys and defaults
  - cmd/server/main.go: "seed" command
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/pawn-engine/pawn"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PresetJSON is the JSON representation of a configuration preset.
type PresetJSON struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Penalty       *PenaltyJSON       `json:"penalty,omitempty"`
	ServiceCharge *ServiceChargeJSON `json:"service_charge,omitempty"`
	Loan          *LoanJSON          `json:"loan,omitempty"`
}

type PenaltyJSON struct {
	MonthlyRate        *decimal.Decimal `json:"monthly_rate,omitempty"`
	DailyThresholdDays *int             `json:"daily_threshold_days,omitempty"`
	GracePeriodDays    *int             `json:"grace_period_days,omitempty"`
	Compounding        *bool            `json:"compounding,omitempty"`
	MaxMultiplier      *int             `json:"max_multiplier,omitempty"`
}

type ServiceChargeJSON struct {
	Method         string           `json:"method,omitempty"` // bracket, percentage, fixed
	PercentageRate *decimal.Decimal `json:"percentage_rate,omitempty"`
	FixedAmount    *decimal.Decimal `json:"fixed_amount,omitempty"`
	MinCharge      *decimal.Decimal `json:"min_charge,omitempty"`
	MaxCharge      *decimal.Decimal `json:"max_charge,omitempty"` // 0 = no upper bound
	Brackets       []BracketJSON    `json:"brackets,omitempty"`
}

// BracketJSON is one row of the bracket table. A missing max is open-ended.
type BracketJSON struct {
	Min    decimal.Decimal  `json:"min"`
	Max    *decimal.Decimal `json:"max,omitempty"`
	Charge decimal.Decimal  `json:"charge"`
}

type LoanJSON struct {
	AdvanceInterestRate *decimal.Decimal `json:"advance_interest_rate,omitempty"`
	MaturityDays        *int             `json:"maturity_days,omitempty"`
	ExpiryDays          *int             `json:"expiry_days,omitempty"`
}

// Preset is a parsed, validated configuration ready to seed a store.
type Preset struct {
	ID         string
	Name       string
	Parameters []pawn.ConfigParameter
	Brackets   []pawn.ServiceChargeBracket // nil keeps whatever table exists
	Config     pawn.Config
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON presets to parameter rows.
type ConfigFactory struct{}

func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParsePreset parses and validates a JSON preset.
func (f *ConfigFactory) ParsePreset(jsonStr string) (*Preset, error) {
	var pj PresetJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse preset JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON overlays pj on the default configuration and validates the result.
func (f *ConfigFactory) FromJSON(pj PresetJSON) (*Preset, error) {
	cfg := pawn.DefaultConfig()

	if p := pj.Penalty; p != nil {
		setDecimal(&cfg.Penalty.MonthlyRate, p.MonthlyRate)
		setInt(&cfg.Penalty.DailyThresholdDays, p.DailyThresholdDays)
		setInt(&cfg.Penalty.GracePeriodDays, p.GracePeriodDays)
		setInt(&cfg.Penalty.MaxMultiplier, p.MaxMultiplier)
		if p.Compounding != nil {
			cfg.Penalty.Compounding = *p.Compounding
		}
	}

	var brackets []pawn.ServiceChargeBracket
	if sc := pj.ServiceCharge; sc != nil {
		if sc.Method != "" {
			cfg.ServiceCharge.Method = pawn.ServiceChargeMethod(sc.Method)
		}
		setDecimal(&cfg.ServiceCharge.PercentageRate, sc.PercentageRate)
		setDecimal(&cfg.ServiceCharge.FixedAmount, sc.FixedAmount)
		setDecimal(&cfg.ServiceCharge.MinCharge, sc.MinCharge)
		setDecimal(&cfg.ServiceCharge.MaxCharge, sc.MaxCharge)

		if len(sc.Brackets) > 0 {
			brackets = parseBrackets(sc.Brackets)
			if err := pawn.ValidateBrackets(brackets); err != nil {
				return nil, fmt.Errorf("preset %q: %w", pj.ID, err)
			}
			cfg.ServiceCharge.Brackets = brackets
		}
	}

	if l := pj.Loan; l != nil {
		setDecimal(&cfg.Loan.AdvanceInterestRate, l.AdvanceInterestRate)
		setInt(&cfg.Loan.MaturityDays, l.MaturityDays)
		setInt(&cfg.Loan.ExpiryDays, l.ExpiryDays)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preset %q: %w", pj.ID, err)
	}

	return &Preset{
		ID:         pj.ID,
		Name:       pj.Name,
		Parameters: parametersOf(cfg),
		Brackets:   brackets,
		Config:     cfg,
	}, nil
}

// ToJSON converts a configuration back to its preset form.
func (f *ConfigFactory) ToJSON(id, name string, cfg pawn.Config) PresetJSON {
	pj := PresetJSON{
		ID:   id,
		Name: name,
		Penalty: &PenaltyJSON{
			MonthlyRate:        decimalPtr(cfg.Penalty.MonthlyRate),
			DailyThresholdDays: intPtr(cfg.Penalty.DailyThresholdDays),
			GracePeriodDays:    intPtr(cfg.Penalty.GracePeriodDays),
			Compounding:        &cfg.Penalty.Compounding,
			MaxMultiplier:      intPtr(cfg.Penalty.MaxMultiplier),
		},
		ServiceCharge: &ServiceChargeJSON{
			Method:         string(cfg.ServiceCharge.Method),
			PercentageRate: decimalPtr(cfg.ServiceCharge.PercentageRate),
			FixedAmount:    decimalPtr(cfg.ServiceCharge.FixedAmount),
			MinCharge:      decimalPtr(cfg.ServiceCharge.MinCharge),
			MaxCharge:      decimalPtr(cfg.ServiceCharge.MaxCharge),
		},
		Loan: &LoanJSON{
			AdvanceInterestRate: decimalPtr(cfg.Loan.AdvanceInterestRate),
			MaturityDays:        intPtr(cfg.Loan.MaturityDays),
			ExpiryDays:          intPtr(cfg.Loan.ExpiryDays),
		},
	}
	for _, b := range pawn.ActiveBrackets(cfg.ServiceCharge.Brackets) {
		pj.ServiceCharge.Brackets = append(pj.ServiceCharge.Brackets, BracketJSON{
			Min:    b.MinAmount,
			Max:    b.MaxAmount,
			Charge: b.Charge,
		})
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseBrackets(bj []BracketJSON) []pawn.ServiceChargeBracket {
	brackets := make([]pawn.ServiceChargeBracket, 0, len(bj))
	for _, b := range bj {
		brackets = append(brackets, pawn.ServiceChargeBracket{
			MinAmount: b.Min,
			MaxAmount: b.Max,
			Charge:    b.Charge,
			Active:    true,
		})
	}
	// Display order follows ascending minimum, so the fallback bracket is
	// always the highest one.
	sort.SliceStable(brackets, func(i, j int) bool {
		return brackets[i].MinAmount.LessThan(brackets[j].MinAmount)
	})
	for i := range brackets {
		brackets[i].DisplayOrder = i + 1
	}
	return brackets
}

func parametersOf(cfg pawn.Config) []pawn.ConfigParameter {
	snap := cfg.Snapshot()
	keys := pawn.ParameterKeys()
	params := make([]pawn.ConfigParameter, 0, len(keys))
	for _, key := range keys {
		params = append(params, pawn.ConfigParameter{Key: key, Value: snap[key], Active: true, Version: 1})
	}
	return params
}

func setDecimal(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
func intPtr(n int) *int                             { return &n }

// =============================================================================
// PRESETS
// =============================================================================

// StandardJSON is the default 30/90 schedule with the five-step bracket table.
func StandardJSON() string {
	return `{
		"id": "standard",
		"name": "Standard 30/90 terms",
		"penalty": {
			"monthly_rate": "0.02",
			"daily_threshold_days": 3,
			"grace_period_days": 3,
			"compounding": false,
			"max_multiplier": 3
		},
		"service_charge": {
			"method": "bracket",
			"min_charge": "1",
			"max_charge": "5",
			"brackets": [
				{"min": "1", "max": "100", "charge": "1"},
				{"min": "101", "max": "299", "charge": "2"},
				{"min": "300", "max": "399", "charge": "3"},
				{"min": "400", "max": "499", "charge": "4"},
				{"min": "500", "charge": "5"}
			]
		},
		"loan": {
			"advance_interest_rate": "0.02",
			"maturity_days": 30,
			"expiry_days": 90
		}
	}`
}

// CompoundingJSON charges one monthly penalty per started overdue month, up
// to the given multiplier.
func CompoundingJSON(monthlyRate string, maxMultiplier int) string {
	return fmt.Sprintf(`{
		"id": "compounding",
		"name": "Compounding penalty",
		"penalty": {
			"monthly_rate": %q,
			"daily_threshold_days": 0,
			"compounding": true,
			"max_multiplier": %d
		}
	}`, monthlyRate, maxMultiplier)
}

// PercentageJSON replaces the bracket table with a percentage of principal,
// bounded by min and max ("0" for no maximum).
func PercentageJSON(rate, minCharge, maxCharge string) string {
	return fmt.Sprintf(`{
		"id": "percentage",
		"name": "Percentage service charge",
		"service_charge": {
			"method": "percentage",
			"percentage_rate": %q,
			"min_charge": %q,
			"max_charge": %q
		}
	}`, rate, minCharge, maxCharge)
}

// BuiltinNames lists the presets Builtin knows.
var BuiltinNames = []string{"standard", "compounding", "percentage"}

// Builtin returns the JSON of a named preset with its usual parameters.
func Builtin(name string) (string, error) {
	switch name {
	case "standard":
		return StandardJSON(), nil
	case "compounding":
		return CompoundingJSON("0.02", 3), nil
	case "percentage":
		return PercentageJSON("0.01", "1", "0"), nil
	default:
		return "", fmt.Errorf("unknown preset %q (known: %s)", name, strings.Join(BuiltinNames, ", "))
	}
}

// =============================================================================
// APPLYING A PRESET
// =============================================================================

// Apply makes preset the active configuration of cs, writing a new version
// only for parameters whose value differs. The bracket table is replaced
// when the preset carries one. It returns the number of parameters changed.
func Apply(ctx context.Context, cs *pawn.ConfigStore, preset *Preset, actor string) (int, error) {
	current, err := cs.Get(ctx)
	if err != nil {
		return 0, err
	}
	if current.Source != pawn.SourceStore {
		return 0, fmt.Errorf("preset %q: configuration store unavailable", preset.ID)
	}

	snap := current.Snapshot()
	changed := 0
	for _, p := range preset.Parameters {
		if snap[p.Key] == p.Value {
			continue
		}
		if _, err := cs.Update(ctx, p.Key, p.Value, actor); err != nil {
			return changed, fmt.Errorf("preset %q: %w", preset.ID, err)
		}
		changed++
	}

	if preset.Brackets != nil {
		if err := cs.UpdateBrackets(ctx, preset.Brackets, actor); err != nil {
			return changed, fmt.Errorf("preset %q: %w", preset.ID, err)
		}
	}
	return changed, nil
}
