/*
params.go - Penalty, service-charge and loan configuration

PURPOSE:
  Business parameters live in the store as key/value rows (one active row
  per key, older versions kept with active=false) plus an ordered bracket
  table. This file turns those rows into typed configuration, validates
  administrative writes, and carries the compiled-in defaults the
  ConfigStore falls back to when the store cannot be read.

KEYS:
  penalty.monthly_rate            decimal, e.g. 0.02
  penalty.daily_threshold_days    int, 0..31
  penalty.grace_period_days       int, >= 0
  penalty.compounding             0 or 1
  penalty.max_multiplier          int, >= 1
  service_charge.method           bracket | percentage | fixed
  service_charge.percentage_rate  decimal
  service_charge.fixed_amount     decimal
  service_charge.min_charge       decimal
  service_charge.max_charge       decimal, 0 = unbounded
  loan.advance_interest_rate      decimal
  loan.maturity_days              int, >= 1
  loan.expiry_days                int, >= grace period

SEE ALSO:
  - configstore.go: Caching and fallback
  - factory/config.go: JSON presets producing these rows
*/
package pawn

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPED CONFIGURATION
// =============================================================================

type PenaltyConfig struct {
	MonthlyRate        decimal.Decimal
	DailyThresholdDays int
	GracePeriodDays    int
	Compounding        bool
	MaxMultiplier      int
}

func (c PenaltyConfig) Validate() error {
	if c.MonthlyRate.IsNegative() {
		return invalid(KeyPenaltyMonthlyRate, "must not be negative")
	}
	if c.DailyThresholdDays < 0 || c.DailyThresholdDays > DaysPerPawnMonth+1 {
		return invalid(KeyPenaltyDailyThreshold, "must be between 0 and %d, got %d", DaysPerPawnMonth+1, c.DailyThresholdDays)
	}
	if c.GracePeriodDays < 0 {
		return invalid(KeyPenaltyGraceDays, "must not be negative, got %d", c.GracePeriodDays)
	}
	if c.MaxMultiplier < 1 {
		return invalid(KeyPenaltyMaxMultiplier, "must be at least 1, got %d", c.MaxMultiplier)
	}
	return nil
}

type ServiceChargeMethod string

const (
	MethodBracket    ServiceChargeMethod = "bracket"
	MethodPercentage ServiceChargeMethod = "percentage"
	MethodFixed      ServiceChargeMethod = "fixed"
)

func (m ServiceChargeMethod) Valid() bool {
	return m == MethodBracket || m == MethodPercentage || m == MethodFixed
}

// ServiceChargeBracket maps an inclusive principal range to a charge.
// A nil MaxAmount leaves the range open-ended.
type ServiceChargeBracket struct {
	ID           string
	MinAmount    decimal.Decimal
	MaxAmount    *decimal.Decimal
	Charge       decimal.Decimal
	DisplayOrder int
	Active       bool
}

// Contains reports whether amount falls inside the bracket, both ends inclusive.
func (b ServiceChargeBracket) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(b.MinAmount) {
		return false
	}
	return b.MaxAmount == nil || amount.LessThanOrEqual(*b.MaxAmount)
}

type ServiceChargeConfig struct {
	Method         ServiceChargeMethod
	PercentageRate decimal.Decimal
	FixedAmount    decimal.Decimal
	MinCharge      decimal.Decimal
	MaxCharge      decimal.Decimal // zero means no upper bound
	Brackets       []ServiceChargeBracket
}

func (c ServiceChargeConfig) Validate() error {
	if !c.Method.Valid() {
		return invalid(KeyServiceChargeMethod, "unknown method %q", c.Method)
	}
	if c.MinCharge.IsNegative() || c.MaxCharge.IsNegative() {
		return invalid(KeyServiceChargeMinCharge, "charge bounds must not be negative")
	}
	if c.MaxCharge.IsPositive() && c.MaxCharge.LessThan(c.MinCharge) {
		return invalid(KeyServiceChargeMaxCharge, "max charge %s is below min charge %s", c.MaxCharge, c.MinCharge)
	}
	return nil
}

type LoanConfig struct {
	AdvanceInterestRate decimal.Decimal
	MaturityDays        int
	ExpiryDays          int
}

// ConfigSource tells whether a Config came from the store or the defaults.
type ConfigSource string

const (
	SourceStore   ConfigSource = "store"
	SourceDefault ConfigSource = "default"
)

// Config is the complete parameter set used by one calculation.
type Config struct {
	Penalty       PenaltyConfig
	ServiceCharge ServiceChargeConfig
	Loan          LoanConfig
	Source        ConfigSource
	LoadedAt      time.Time
}

// Durations is the term schedule. The grace offset is the penalty grace
// period, so the grace date and the penalty-free window always agree.
func (c Config) Durations() Durations {
	return Durations{
		MaturityDays: c.Loan.MaturityDays,
		GraceDays:    c.Penalty.GracePeriodDays,
		ExpiryDays:   c.Loan.ExpiryDays,
	}
}

func (c Config) Validate() error {
	if err := c.Penalty.Validate(); err != nil {
		return err
	}
	if err := c.ServiceCharge.Validate(); err != nil {
		return err
	}
	if c.Loan.AdvanceInterestRate.IsNegative() {
		return invalid(KeyLoanAdvanceInterest, "must not be negative")
	}
	return c.Durations().Validate()
}

// Snapshot flattens the configuration for audit records.
func (c Config) Snapshot() map[string]string {
	snap := map[string]string{
		KeyPenaltyMonthlyRate:          c.Penalty.MonthlyRate.String(),
		KeyPenaltyDailyThreshold:       strconv.Itoa(c.Penalty.DailyThresholdDays),
		KeyPenaltyGraceDays:            strconv.Itoa(c.Penalty.GracePeriodDays),
		KeyPenaltyCompounding:          boolParam(c.Penalty.Compounding),
		KeyPenaltyMaxMultiplier:        strconv.Itoa(c.Penalty.MaxMultiplier),
		KeyServiceChargeMethod:         string(c.ServiceCharge.Method),
		KeyServiceChargePercentageRate: c.ServiceCharge.PercentageRate.String(),
		KeyServiceChargeFixedAmount:    c.ServiceCharge.FixedAmount.String(),
		KeyServiceChargeMinCharge:      c.ServiceCharge.MinCharge.String(),
		KeyServiceChargeMaxCharge:      c.ServiceCharge.MaxCharge.String(),
		KeyLoanAdvanceInterest:         c.Loan.AdvanceInterestRate.String(),
		KeyLoanMaturityDays:            strconv.Itoa(c.Loan.MaturityDays),
		KeyLoanExpiryDays:              strconv.Itoa(c.Loan.ExpiryDays),
		"source":                       string(c.Source),
	}
	return snap
}

// =============================================================================
// PARAMETER ROWS
// =============================================================================

const (
	KeyPenaltyMonthlyRate          = "penalty.monthly_rate"
	KeyPenaltyDailyThreshold       = "penalty.daily_threshold_days"
	KeyPenaltyGraceDays            = "penalty.grace_period_days"
	KeyPenaltyCompounding          = "penalty.compounding"
	KeyPenaltyMaxMultiplier        = "penalty.max_multiplier"
	KeyServiceChargeMethod         = "service_charge.method"
	KeyServiceChargePercentageRate = "service_charge.percentage_rate"
	KeyServiceChargeFixedAmount    = "service_charge.fixed_amount"
	KeyServiceChargeMinCharge      = "service_charge.min_charge"
	KeyServiceChargeMaxCharge      = "service_charge.max_charge"
	KeyLoanAdvanceInterest         = "loan.advance_interest_rate"
	KeyLoanMaturityDays            = "loan.maturity_days"
	KeyLoanExpiryDays              = "loan.expiry_days"
)

// ConfigParameter is one stored key/value row. Updates insert a new version
// and flip the previous row to inactive; rows are never deleted.
type ConfigParameter struct {
	ID            string
	Key           string
	Value         string
	Active        bool
	Version       int
	EffectiveDate Date
	UpdatedBy     string
	CreatedAt     time.Time
}

type paramKind int

const (
	kindDecimal paramKind = iota
	kindInt
	kindBool
	kindMethod
)

var paramKinds = map[string]paramKind{
	KeyPenaltyMonthlyRate:          kindDecimal,
	KeyPenaltyDailyThreshold:       kindInt,
	KeyPenaltyGraceDays:            kindInt,
	KeyPenaltyCompounding:          kindBool,
	KeyPenaltyMaxMultiplier:        kindInt,
	KeyServiceChargeMethod:         kindMethod,
	KeyServiceChargePercentageRate: kindDecimal,
	KeyServiceChargeFixedAmount:    kindDecimal,
	KeyServiceChargeMinCharge:      kindDecimal,
	KeyServiceChargeMaxCharge:      kindDecimal,
	KeyLoanAdvanceInterest:         kindDecimal,
	KeyLoanMaturityDays:            kindInt,
	KeyLoanExpiryDays:              kindInt,
}

// ParameterKeys lists every recognised key in a stable order.
func ParameterKeys() []string {
	keys := make([]string, 0, len(paramKinds))
	for k := range paramKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateParameter checks the shape of a single value. Cross-field rules
// are checked by Config.Validate once the value is merged.
func ValidateParameter(key, value string) error {
	kind, ok := paramKinds[key]
	if !ok {
		return &NotFoundError{Kind: "config key", ID: key}
	}
	switch kind {
	case kindDecimal:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return invalid(key, "%q is not a number", value)
		}
		if d.IsNegative() {
			return invalid(key, "must not be negative")
		}
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid(key, "%q is not a whole number", value)
		}
		if n < 0 {
			return invalid(key, "must not be negative")
		}
	case kindBool:
		if value != "0" && value != "1" {
			return invalid(key, "must be 0 or 1, got %q", value)
		}
	case kindMethod:
		if !ServiceChargeMethod(value).Valid() {
			return invalid(key, "unknown method %q", value)
		}
	}
	return nil
}

// ConfigFromParameters overlays active rows on the defaults. Inactive rows
// and unknown keys are ignored; a malformed active row is an error.
func ConfigFromParameters(params []ConfigParameter, brackets []ServiceChargeBracket) (Config, error) {
	cfg := DefaultConfig()
	cfg.Source = SourceStore
	for _, p := range params {
		if !p.Active {
			continue
		}
		if _, known := paramKinds[p.Key]; !known {
			continue
		}
		if err := applyParameter(&cfg, p.Key, p.Value); err != nil {
			return Config{}, err
		}
	}

	active := ActiveBrackets(brackets)
	if len(active) > 0 {
		cfg.ServiceCharge.Brackets = active
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyParameter(cfg *Config, key, value string) error {
	if err := ValidateParameter(key, value); err != nil {
		return err
	}
	dec := func() decimal.Decimal { return decimal.RequireFromString(value) }
	num := func() int { n, _ := strconv.Atoi(value); return n }

	switch key {
	case KeyPenaltyMonthlyRate:
		cfg.Penalty.MonthlyRate = dec()
	case KeyPenaltyDailyThreshold:
		cfg.Penalty.DailyThresholdDays = num()
	case KeyPenaltyGraceDays:
		cfg.Penalty.GracePeriodDays = num()
	case KeyPenaltyCompounding:
		cfg.Penalty.Compounding = value == "1"
	case KeyPenaltyMaxMultiplier:
		cfg.Penalty.MaxMultiplier = num()
	case KeyServiceChargeMethod:
		cfg.ServiceCharge.Method = ServiceChargeMethod(value)
	case KeyServiceChargePercentageRate:
		cfg.ServiceCharge.PercentageRate = dec()
	case KeyServiceChargeFixedAmount:
		cfg.ServiceCharge.FixedAmount = dec()
	case KeyServiceChargeMinCharge:
		cfg.ServiceCharge.MinCharge = dec()
	case KeyServiceChargeMaxCharge:
		cfg.ServiceCharge.MaxCharge = dec()
	case KeyLoanAdvanceInterest:
		cfg.Loan.AdvanceInterestRate = dec()
	case KeyLoanMaturityDays:
		cfg.Loan.MaturityDays = num()
	case KeyLoanExpiryDays:
		cfg.Loan.ExpiryDays = num()
	}
	return nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// =============================================================================
// BRACKETS
// =============================================================================

// ActiveBrackets returns the active brackets ordered by MinAmount.
func ActiveBrackets(brackets []ServiceChargeBracket) []ServiceChargeBracket {
	var active []ServiceChargeBracket
	for _, b := range brackets {
		if b.Active {
			active = append(active, b)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MinAmount.LessThan(active[j].MinAmount)
	})
	return active
}

// ValidateBrackets enforces the table invariants on the active set:
// non-negative bounds, min <= max, no overlap, and only the highest
// bracket may be open-ended.
func ValidateBrackets(brackets []ServiceChargeBracket) error {
	active := ActiveBrackets(brackets)
	if len(active) == 0 {
		return invalid("brackets", "at least one active bracket is required")
	}
	for i, b := range active {
		if b.MinAmount.IsNegative() || b.Charge.IsNegative() {
			return invalid("brackets", "bracket %d has a negative amount", i+1)
		}
		if b.MaxAmount != nil && b.MaxAmount.LessThan(b.MinAmount) {
			return invalid("brackets", "bracket %s-%s has max below min", b.MinAmount, *b.MaxAmount)
		}
		if i == len(active)-1 {
			break
		}
		next := active[i+1]
		if b.MaxAmount == nil {
			return invalid("brackets", "open-ended bracket from %s must be the highest", b.MinAmount)
		}
		if !b.MaxAmount.LessThan(next.MinAmount) {
			return invalid("brackets", "bracket %s-%s overlaps bracket starting at %s", b.MinAmount, *b.MaxAmount, next.MinAmount)
		}
	}
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultBrackets is the standard five-step table.
func DefaultBrackets() []ServiceChargeBracket {
	bracket := func(order int, min string, max string, charge string) ServiceChargeBracket {
		b := ServiceChargeBracket{
			ID:           fmt.Sprintf("default-%d", order),
			MinAmount:    decimal.RequireFromString(min),
			Charge:       decimal.RequireFromString(charge),
			DisplayOrder: order,
			Active:       true,
		}
		if max != "" {
			m := decimal.RequireFromString(max)
			b.MaxAmount = &m
		}
		return b
	}
	return []ServiceChargeBracket{
		bracket(1, "1", "100", "1"),
		bracket(2, "101", "299", "2"),
		bracket(3, "300", "399", "3"),
		bracket(4, "400", "499", "4"),
		bracket(5, "500", "", "5"),
	}
}

// DefaultConfig is the compiled-in configuration used when the store is
// unavailable.
func DefaultConfig() Config {
	return Config{
		Penalty: PenaltyConfig{
			MonthlyRate:        decimal.RequireFromString("0.02"),
			DailyThresholdDays: 3,
			GracePeriodDays:    DefaultDurations.GraceDays,
			Compounding:        false,
			MaxMultiplier:      3,
		},
		ServiceCharge: ServiceChargeConfig{
			Method:         MethodBracket,
			PercentageRate: decimal.RequireFromString("0.01"),
			FixedAmount:    decimal.NewFromInt(5),
			MinCharge:      decimal.NewFromInt(1),
			MaxCharge:      decimal.NewFromInt(5),
			Brackets:       DefaultBrackets(),
		},
		Loan: LoanConfig{
			AdvanceInterestRate: decimal.RequireFromString("0.02"),
			MaturityDays:        DefaultDurations.MaturityDays,
			ExpiryDays:          DefaultDurations.ExpiryDays,
		},
		Source: SourceDefault,
	}
}

// DefaultParameters returns the defaults as version-1 parameter rows.
func DefaultParameters() []ConfigParameter {
	snap := DefaultConfig().Snapshot()
	params := make([]ConfigParameter, 0, len(paramKinds))
	for _, key := range ParameterKeys() {
		params = append(params, ConfigParameter{Key: key, Value: snap[key], Active: true, Version: 1})
	}
	return params
}
