package pawn

// =============================================================================
// DATE SCHEDULER - Maturity, grace and expiry dates from a base date
// =============================================================================

// DaysPerPawnMonth is the length of one loan term in the pawn calendar.
const DaysPerPawnMonth = 30

// Durations are the offsets used to build a Schedule.
//
//	maturity = base + MaturityDays
//	grace    = maturity + GraceDays
//	expiry   = maturity + ExpiryDays
//
// Maturity and grace are plain calendar days. The expiry offset is counted
// in pawn months: every whole 30 days moves expiry by one calendar month,
// the remainder by days (2024-01-31 + 90 => 2024-05-01).
type Durations struct {
	MaturityDays int
	GraceDays    int
	ExpiryDays   int
}

// DefaultDurations is the 30/3/90 schedule.
var DefaultDurations = Durations{MaturityDays: 30, GraceDays: 3, ExpiryDays: 90}

// Schedule is the set of dates attached to a loan term.
type Schedule struct {
	Maturity Date
	Grace    Date
	Expiry   Date
}

// ComputeDates is pure and deterministic in its inputs.
func ComputeDates(base Date, maturityDays, graceDays, expiryDaysFromMaturity int) Schedule {
	maturity := base.AddDays(maturityDays)
	return Schedule{
		Maturity: maturity,
		Grace:    maturity.AddDays(graceDays),
		Expiry:   addPawnDays(maturity, expiryDaysFromMaturity),
	}
}

// From builds the schedule for a term starting on base.
func (d Durations) From(base Date) Schedule {
	return ComputeDates(base, d.MaturityDays, d.GraceDays, d.ExpiryDays)
}

func (d Durations) Validate() error {
	if d.MaturityDays <= 0 {
		return invalid("maturity_days", "must be positive, got %d", d.MaturityDays)
	}
	if d.GraceDays < 0 {
		return invalid("grace_days", "must not be negative, got %d", d.GraceDays)
	}
	if d.ExpiryDays < d.GraceDays {
		return invalid("expiry_days", "must be at least the grace period (%d), got %d", d.GraceDays, d.ExpiryDays)
	}
	return nil
}

func addPawnDays(d Date, days int) Date {
	return d.AddMonths(days / DaysPerPawnMonth).AddDays(days % DaysPerPawnMonth)
}
