/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the pawn domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are accepted as JSON strings or numbers and always returned as
  strings with two decimal places ("1025.00"), so clients never see
  binary floating point. Rates and bracket bounds are returned as stored.

DATES:
  YYYY-MM-DD everywhere.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: PresetJSON (config export)
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pawn-engine/pawn"
)

// =============================================================================
// CALCULATIONS
// =============================================================================

// PenaltyRequest is also the body of the calculate-all endpoint.
type PenaltyRequest struct {
	Principal    *decimal.Decimal `json:"principal"`
	MaturityDate pawn.Date        `json:"maturity_date"`
	AsOfDate     pawn.Date        `json:"as_of_date"`
}

type ServiceChargeRequest struct {
	Principal *decimal.Decimal `json:"principal"`
}

type PenaltyDTO struct {
	Amount               string `json:"amount"`
	Method               string `json:"method"`
	Applicable           bool   `json:"applicable"`
	DaysOverdue          int    `json:"days_overdue"`
	EffectiveDaysOverdue int    `json:"effective_days_overdue"`
}

type ServiceChargeDTO struct {
	Amount   string      `json:"amount"`
	Method   string      `json:"method"`
	Bracket  *BracketDTO `json:"bracket,omitempty"`
	Fallback bool        `json:"fallback,omitempty"`
	Clamped  bool        `json:"clamped,omitempty"`
}

type QuoteDTO struct {
	Principal     string           `json:"principal"`
	Penalty       PenaltyDTO       `json:"penalty"`
	ServiceCharge ServiceChargeDTO `json:"service_charge"`
	TotalCharges  string           `json:"total_charges"`
	TotalDue      string           `json:"total_due"`
}

// =============================================================================
// TICKETS AND TRANSACTIONS
// =============================================================================

type NewLoanRequest struct {
	TicketNumber string           `json:"ticket_number"`
	PawnerID     string           `json:"pawner_id"`
	BranchID     string           `json:"branch_id"`
	Collateral   string           `json:"collateral"`
	Principal    *decimal.Decimal `json:"principal"`
	GrantedDate  pawn.Date        `json:"granted_date"`
}

// OperationRequest is the body of additional-loan, partial-payment,
// renewal and redemption. Amount is ignored for default.
type OperationRequest struct {
	Amount   *decimal.Decimal `json:"amount"`
	AsOfDate pawn.Date        `json:"as_of_date"`
}

type TicketDTO struct {
	ID         string  `json:"id"`
	Number     string  `json:"number,omitempty"`
	PawnerID   string  `json:"pawner_id,omitempty"`
	BranchID   string  `json:"branch_id,omitempty"`
	Collateral string  `json:"collateral,omitempty"`
	Status     string  `json:"status"`
	CreatedBy  string  `json:"created_by"`
	CreatedAt  string  `json:"created_at"`
	ClosedAt   *string `json:"closed_at,omitempty"`
}

type TransactionDTO struct {
	ID               string    `json:"id"`
	TicketID         string    `json:"ticket_id"`
	Sequence         int64     `json:"sequence"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	State            string    `json:"state"` // status with matured/expired derived for today
	PrincipalAmount  string    `json:"principal_amount"`
	AdjustmentAmount string    `json:"adjustment_amount"`
	NewPrincipalLoan string    `json:"new_principal_loan"`
	InterestAmount   string    `json:"interest_amount"`
	PenaltyAmount    string    `json:"penalty_amount"`
	ServiceCharge    string    `json:"service_charge"`
	AmountDue        string    `json:"amount_due"`
	NetProceeds      string    `json:"net_proceeds"`
	GrantedDate      pawn.Date `json:"granted_date"`
	MaturityDate     pawn.Date `json:"maturity_date"`
	GraceDate        pawn.Date `json:"grace_date"`
	ExpiryDate       pawn.Date `json:"expiry_date"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        string    `json:"created_at"`
	ClosedAt         *string   `json:"closed_at,omitempty"`
}

type ChargesDTO struct {
	Penalty       PenaltyDTO       `json:"penalty"`
	ServiceCharge ServiceChargeDTO `json:"service_charge"`
	Interest      string           `json:"interest"`
	AmountDue     string           `json:"amount_due"`
	NetProceeds   string           `json:"net_proceeds"`
}

// ChainResultDTO is returned by every ticket operation.
type ChainResultDTO struct {
	Ticket      TicketDTO       `json:"ticket"`
	Previous    *TransactionDTO `json:"previous,omitempty"`
	Transaction TransactionDTO  `json:"transaction"`
	Charges     ChargesDTO      `json:"charges"`
}

// TicketDetailDTO is a ticket with its chain, newest first.
type TicketDetailDTO struct {
	Ticket       TicketDTO        `json:"ticket"`
	Head         *TransactionDTO  `json:"head,omitempty"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// CONFIGURATION
// =============================================================================

type ConfigDTO struct {
	Source     string            `json:"source"`
	Parameters map[string]string `json:"parameters"`
	Brackets   []BracketDTO      `json:"brackets"`
}

type UpdateConfigRequest struct {
	Value *string `json:"value"`
}

type ConfigParameterDTO struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Active        bool      `json:"active"`
	Version       int       `json:"version"`
	EffectiveDate pawn.Date `json:"effective_date"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
	CreatedAt     string    `json:"created_at,omitempty"`
}

type BracketDTO struct {
	ID           string           `json:"id,omitempty"`
	MinAmount    decimal.Decimal  `json:"min_amount"`
	MaxAmount    *decimal.Decimal `json:"max_amount,omitempty"`
	Charge       decimal.Decimal  `json:"charge"`
	DisplayOrder int              `json:"display_order"`
	Active       *bool            `json:"active,omitempty"` // omitted in requests means active
}

type UpdateBracketsRequest struct {
	Brackets []BracketDTO `json:"brackets"`
}

// =============================================================================
// CALCULATION LOG
// =============================================================================

type CalculationLogDTO struct {
	ID             string            `json:"id"`
	Kind           string            `json:"kind"`
	TicketID       string            `json:"ticket_id,omitempty"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	Actor          string            `json:"actor"`
	Inputs         map[string]string `json:"inputs"`
	Result         map[string]string `json:"result"`
	ConfigSnapshot map[string]string `json:"config_snapshot,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// HeadTransactionID is set on 409 so the client can retry against the
	// current head.
	HeadTransactionID string `json:"head_transaction_id,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(pawn.MoneyPlaces) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func toPenaltyDTO(r pawn.PenaltyResult) PenaltyDTO {
	return PenaltyDTO{
		Amount:               money(r.Amount),
		Method:               string(r.Method),
		Applicable:           r.Applicable,
		DaysOverdue:          r.DaysOverdue,
		EffectiveDaysOverdue: r.EffectiveDaysOverdue,
	}
}

func toServiceChargeDTO(r pawn.ServiceChargeResult) ServiceChargeDTO {
	dto := ServiceChargeDTO{
		Amount:   money(r.Amount),
		Method:   string(r.Method),
		Fallback: r.Fallback,
		Clamped:  r.Clamped,
	}
	if r.Bracket != nil {
		b := toBracketDTO(*r.Bracket)
		dto.Bracket = &b
	}
	return dto
}

func toQuoteDTO(q pawn.Quote) QuoteDTO {
	return QuoteDTO{
		Principal:     money(q.Principal),
		Penalty:       toPenaltyDTO(q.Penalty),
		ServiceCharge: toServiceChargeDTO(q.ServiceCharge),
		TotalCharges:  money(q.TotalCharges),
		TotalDue:      money(q.TotalDue),
	}
}

func toTicketDTO(t pawn.Ticket) TicketDTO {
	return TicketDTO{
		ID:         string(t.ID),
		Number:     t.Number,
		PawnerID:   t.PawnerID,
		BranchID:   t.BranchID,
		Collateral: t.Collateral,
		Status:     string(t.Status),
		CreatedBy:  t.CreatedBy,
		CreatedAt:  timestamp(t.CreatedAt),
		ClosedAt:   optionalTimestamp(t.ClosedAt),
	}
}

func toTransactionDTO(t pawn.Transaction, today pawn.Date) TransactionDTO {
	return TransactionDTO{
		ID:               string(t.ID),
		TicketID:         string(t.TicketID),
		Sequence:         t.Sequence,
		Type:             string(t.Type),
		Status:           string(t.Status),
		State:            string(t.StateAt(today)),
		PrincipalAmount:  money(t.PrincipalAmount),
		AdjustmentAmount: money(t.AdjustmentAmount),
		NewPrincipalLoan: money(t.NewPrincipalLoan),
		InterestAmount:   money(t.InterestAmount),
		PenaltyAmount:    money(t.PenaltyAmount),
		ServiceCharge:    money(t.ServiceCharge),
		AmountDue:        money(t.AmountDue),
		NetProceeds:      money(t.NetProceeds),
		GrantedDate:      t.GrantedDate,
		MaturityDate:     t.MaturityDate,
		GraceDate:        t.GraceDate,
		ExpiryDate:       t.ExpiryDate,
		CreatedBy:        t.CreatedBy,
		CreatedAt:        timestamp(t.CreatedAt),
		ClosedAt:         optionalTimestamp(t.ClosedAt),
	}
}

func toChainResultDTO(r *pawn.ChainResult, today pawn.Date) ChainResultDTO {
	dto := ChainResultDTO{
		Ticket:      toTicketDTO(r.Ticket),
		Transaction: toTransactionDTO(r.Transaction, today),
		Charges: ChargesDTO{
			Penalty:       toPenaltyDTO(r.Charges.Penalty),
			ServiceCharge: toServiceChargeDTO(r.Charges.ServiceCharge),
			Interest:      money(r.Charges.Interest),
			AmountDue:     money(r.Charges.AmountDue),
			NetProceeds:   money(r.Charges.NetProceeds),
		},
	}
	if r.Previous != nil {
		prev := toTransactionDTO(*r.Previous, today)
		dto.Previous = &prev
	}
	return dto
}

func toConfigDTO(cfg pawn.Config) ConfigDTO {
	params := cfg.Snapshot()
	delete(params, "source")

	brackets := make([]BracketDTO, 0, len(cfg.ServiceCharge.Brackets))
	for _, b := range pawn.ActiveBrackets(cfg.ServiceCharge.Brackets) {
		brackets = append(brackets, toBracketDTO(b))
	}
	return ConfigDTO{Source: string(cfg.Source), Parameters: params, Brackets: brackets}
}

func toConfigParameterDTO(p pawn.ConfigParameter) ConfigParameterDTO {
	dto := ConfigParameterDTO{
		ID:            p.ID,
		Key:           p.Key,
		Value:         p.Value,
		Active:        p.Active,
		Version:       p.Version,
		EffectiveDate: p.EffectiveDate,
		UpdatedBy:     p.UpdatedBy,
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = timestamp(p.CreatedAt)
	}
	return dto
}

func toBracketDTO(b pawn.ServiceChargeBracket) BracketDTO {
	active := b.Active
	return BracketDTO{
		ID:           b.ID,
		MinAmount:    b.MinAmount,
		MaxAmount:    b.MaxAmount,
		Charge:       b.Charge,
		DisplayOrder: b.DisplayOrder,
		Active:       &active,
	}
}

func fromBracketDTO(b BracketDTO) pawn.ServiceChargeBracket {
	return pawn.ServiceChargeBracket{
		ID:           b.ID,
		MinAmount:    b.MinAmount,
		MaxAmount:    b.MaxAmount,
		Charge:       b.Charge,
		DisplayOrder: b.DisplayOrder,
		Active:       b.Active == nil || *b.Active,
	}
}

func toCalculationLogDTO(e pawn.CalculationLogEntry) CalculationLogDTO {
	return CalculationLogDTO{
		ID:             e.ID,
		Kind:           string(e.Kind),
		TicketID:       string(e.TicketID),
		TransactionID:  string(e.TransactionID),
		Actor:          e.Actor,
		Inputs:         e.Inputs,
		Result:         e.Result,
		ConfigSnapshot: e.ConfigSnapshot,
		CreatedAt:      timestamp(e.CreatedAt),
	}
}
