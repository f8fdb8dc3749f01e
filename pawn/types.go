/*
Package pawn provides the pawn-ticket calculation engine and transaction chain.

PURPOSE:
  Given a loan ticket and a date, this package decides what is owed
  (advance interest, overdue penalty, service charge) and which transaction
  in a ticket's history may be acted upon next. Everything else a pawnshop
  system does (branches, vouchers, printing, reports) lives outside.

KEY CONCEPTS IN THIS FILE (types.go):
  - Ticket: A pawn loan, root of a transaction chain
  - Transaction: One link in the chain (new loan, additional loan,
    partial payment, renewal); carries principal, charges and schedule
  - Status: Stored lifecycle status of a transaction or ticket
  - Money helpers: decimal arithmetic rounded half-up to 2 places

CHAIN MODEL:
  T1 (new_loan, seq 1) -> T2 (renewal, seq 2) -> T3 (partial_payment, seq 3)

  Only the head (max sequence) can be acted upon. Acting on it either
  supersedes it with a successor or closes it (redeemed / defaulted).
  NewPrincipalLoan of transaction n is the PrincipalAmount of n+1.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every amount and rate
  2. Explicit ordering: a per-ticket sequence number, never timestamps
  3. Type Safety: distinct ID types for tickets and transactions

SEE ALSO:
  - chain.go: Eligibility guard and successor computation
  - penalty.go, servicecharge.go: Charge calculations
  - configstore.go: Cached configuration with default fallback
*/
package pawn

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places kept on currency amounts.
const MoneyPlaces = 2

// RoundMoney rounds half away from zero, which is half-up for the
// non-negative amounts this package produces.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// MustParseDecimal parses s or panics. Intended for literals and tests.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TicketID string
type TransactionID string

// =============================================================================
// STATUS
// =============================================================================

// Status is the stored status of a transaction or ticket. Matured and
// expired are derived from dates and never stored.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusRedeemed   Status = "redeemed"
	StatusDefaulted  Status = "defaulted"

	StateMatured Status = "matured"
	StateExpired Status = "expired"
)

// IsTerminal reports whether nothing may be done with a record in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSuperseded || s == StatusRedeemed || s == StatusDefaulted
}

// =============================================================================
// TICKET
// =============================================================================

// Ticket identifies a pawn loan. Only Status and ClosedAt change after
// creation, and only through the chain.
type Ticket struct {
	ID         TicketID
	Number     string // printed ticket number
	PawnerID   string
	BranchID   string
	Collateral string // item description
	Status     Status
	CreatedBy  string
	CreatedAt  time.Time
	ClosedAt   *time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxNewLoan        TransactionType = "new_loan"
	TxAdditionalLoan TransactionType = "additional_loan"
	TxPartialPayment TransactionType = "partial_payment"
	TxRenewal        TransactionType = "renewal"
	TxRedemption     TransactionType = "redemption"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxNewLoan, TxAdditionalLoan, TxPartialPayment, TxRenewal, TxRedemption:
		return true
	}
	return false
}

// Transaction is one link of a ticket's chain.
type Transaction struct {
	ID       TransactionID
	TicketID TicketID
	Sequence int64
	Type     TransactionType

	// PrincipalAmount is the baseline carried over from the predecessor
	// (the loan amount itself for a new loan).
	PrincipalAmount decimal.Decimal
	// AdjustmentAmount is the signed principal change this transaction made.
	AdjustmentAmount decimal.Decimal
	NewPrincipalLoan decimal.Decimal

	InterestAmount decimal.Decimal
	PenaltyAmount  decimal.Decimal
	ServiceCharge  decimal.Decimal

	// AmountDue is collected from the pawner, NetProceeds paid out to them.
	AmountDue   decimal.Decimal
	NetProceeds decimal.Decimal

	Status       Status
	GrantedDate  Date
	MaturityDate Date
	GraceDate    Date
	ExpiryDate   Date

	CreatedBy string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// StateAt derives the lifecycle state of the transaction on asOf.
// Terminal statuses are returned as stored.
func (t Transaction) StateAt(asOf Date) Status {
	if t.Status != StatusActive {
		return t.Status
	}
	switch {
	case asOf.After(t.ExpiryDate):
		return StateExpired
	case asOf.After(t.MaturityDate):
		return StateMatured
	default:
		return StatusActive
	}
}

// Schedule returns the dates attached to the transaction.
func (t Transaction) Schedule() Schedule {
	return Schedule{Maturity: t.MaturityDate, Grace: t.GraceDate, Expiry: t.ExpiryDate}
}
