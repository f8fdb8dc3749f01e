package pawn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
)

var ctxBG = context.Background()

// =============================================================================
// DATE SCHEDULER TESTS
// =============================================================================

func TestComputeDates_StandardTerm(t *testing.T) {
	// GIVEN: A loan granted on 2024-01-01 with the 30/3/90 schedule
	// WHEN: Computing its dates
	// THEN: Maturity 01-31, grace 02-03, expiry 05-01

	s := pawn.ComputeDates(date("2024-01-01"), 30, 3, 90)

	assert.Equal(t, "2024-01-31", s.Maturity.String())
	assert.Equal(t, "2024-02-03", s.Grace.String())
	assert.Equal(t, "2024-05-01", s.Expiry.String())
}

func TestComputeDates_Table(t *testing.T) {
	tests := []struct {
		name                    string
		base                    string
		maturity, grace, expiry int
		wantMaturity, wantGrace string
		wantExpiry              string
	}{
		{"leap february", "2024-02-10", 30, 3, 90, "2024-03-11", "2024-03-14", "2024-06-11"},
		{"year end", "2024-12-15", 30, 3, 90, "2025-01-14", "2025-01-17", "2025-04-14"},
		{"no grace", "2024-03-01", 30, 0, 90, "2024-03-31", "2024-03-31", "2024-07-01"},
		{"partial pawn month", "2024-01-01", 30, 3, 45, "2024-01-31", "2024-02-03", "2024-03-17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := pawn.ComputeDates(date(tt.base), tt.maturity, tt.grace, tt.expiry)
			assert.Equal(t, tt.wantMaturity, s.Maturity.String())
			assert.Equal(t, tt.wantGrace, s.Grace.String())
			assert.Equal(t, tt.wantExpiry, s.Expiry.String())
		})
	}
}

func TestComputeDates_Deterministic(t *testing.T) {
	base := date("2024-07-19")
	assert.Equal(t, pawn.ComputeDates(base, 30, 3, 90), pawn.ComputeDates(base, 30, 3, 90))
}

func TestDurations_Validate(t *testing.T) {
	assert.NoError(t, pawn.DefaultDurations.Validate())

	err := pawn.Durations{MaturityDays: 0, GraceDays: 3, ExpiryDays: 90}.Validate()
	assert.ErrorIs(t, err, pawn.ErrValidation)

	err = pawn.Durations{MaturityDays: 30, GraceDays: 10, ExpiryDays: 5}.Validate()
	assert.ErrorIs(t, err, pawn.ErrValidation)
}

func TestTransaction_StateAt(t *testing.T) {
	s := pawn.DefaultDurations.From(date("2024-01-01"))
	tx := pawn.Transaction{
		Status:       pawn.StatusActive,
		GrantedDate:  date("2024-01-01"),
		MaturityDate: s.Maturity,
		GraceDate:    s.Grace,
		ExpiryDate:   s.Expiry,
	}

	assert.Equal(t, pawn.StatusActive, tx.StateAt(date("2024-01-31")), "maturity day itself is still active")
	assert.Equal(t, pawn.StateMatured, tx.StateAt(date("2024-02-01")))
	assert.Equal(t, pawn.StateMatured, tx.StateAt(date("2024-05-01")), "expiry day itself is not yet expired")
	assert.Equal(t, pawn.StateExpired, tx.StateAt(date("2024-05-02")))

	tx.Status = pawn.StatusRedeemed
	assert.Equal(t, pawn.StatusRedeemed, tx.StateAt(date("2024-05-02")))
}

func TestParseDate(t *testing.T) {
	d, err := pawn.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	_, err = pawn.ParseDate("29/02/2024")
	var ve *pawn.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 2, pawn.DaysBetween(date("2024-01-01"), date("2024-01-03")))
	assert.Equal(t, 29, pawn.DaysBetween(date("2024-02-01"), date("2024-03-01")))
	assert.Equal(t, -1, pawn.DaysBetween(date("2024-01-02"), date("2024-01-01")))
}
