/*
chain.go - Ticket transaction chain state machine

PURPOSE:
  Decides which transaction of a ticket may be acted upon and computes the
  record that replaces it. The primary defect this prevents is acting on a
  stale transaction (e.g. applying the same partial payment twice).

STATES:
  active     -> stored; matured / expired derived from dates (StateAt)
  superseded -> terminal, a successor exists
  redeemed   -> terminal, loan settled, no successor
  defaulted  -> terminal, collateral handed to liquidation

TRANSITIONS (always against the head, the highest sequence):
  new_loan                                creates sequence 1, active
  additional_loan / partial_payment /     head -> superseded,
  renewal                                 successor appended (sequence+1)
  redemption                              head -> redeemed, ticket redeemed
  default (after expiry)                  head -> defaulted, ticket defaulted

ELIGIBILITY GUARD:
  Referenced transaction unknown or on another ticket -> NotFoundError
  Referenced transaction is not the head             -> ConflictError
  Head or ticket in a terminal status                -> ConflictError
  Store reports a lost race                          -> ConflictError

PRINCIPAL PROPAGATION:
  successor.PrincipalAmount  = head.NewPrincipalLoan
  successor.NewPrincipalLoan = + amount     additional_loan
                               - amount     partial_payment (floored at 0)
                               unchanged    renewal

CHARGES:
  Each term-opening transaction collects advance interest on the new
  principal for the coming term. Anything owed for time past maturity comes
  from the penalty engine, whose grace period is also the schedule's grace
  offset.

SEE ALSO:
  - store.go: ChainStore / ChainTx contracts
  - engine.go: Facade wiring config, chain and audit log
*/
package pawn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

// NewLoan originates a ticket.
type NewLoan struct {
	Ticket      Ticket // ID is generated when empty
	Principal   decimal.Decimal
	GrantedDate Date
	Actor       string
}

// Operation acts on the head of an existing chain.
type Operation struct {
	TicketID      TicketID
	TransactionID TransactionID
	Type          TransactionType
	Amount        decimal.Decimal
	AsOf          Date
	Actor         string
}

// Charges is what one chain operation computed.
type Charges struct {
	Penalty       PenaltyResult
	ServiceCharge ServiceChargeResult
	Interest      decimal.Decimal
	AmountDue     decimal.Decimal
	NetProceeds   decimal.Decimal
}

type ChainResult struct {
	Ticket Ticket
	// Previous is the head that was acted upon, with its new status.
	// Nil for a new loan.
	Previous *Transaction
	// Transaction is the new head; for redemption and default it is the
	// closed head itself.
	Transaction Transaction
	Charges     Charges
}

// =============================================================================
// CHAIN
// =============================================================================

type Chain struct {
	Store ChainStore
	Clock Clock
	NewID func() string
}

func NewChain(store ChainStore, clock Clock) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Chain{Store: store, Clock: clock, NewID: uuid.NewString}
}

// Originate creates a ticket and the root of its chain.
func (c *Chain) Originate(ctx context.Context, req NewLoan, cfg Config) (*ChainResult, error) {
	if !req.Principal.IsPositive() {
		return nil, invalid("principal", "must be positive")
	}
	if req.GrantedDate.IsZero() {
		return nil, invalid("granted_date", "is required")
	}

	charges, err := termCharges(req.Principal, cfg)
	if err != nil {
		return nil, err
	}
	charges.NetProceeds = req.Principal.Sub(charges.Interest).Sub(charges.ServiceCharge.Amount)
	if charges.NetProceeds.IsNegative() {
		return nil, invalid("principal", "%s does not cover interest and service charge", req.Principal)
	}

	now := c.Clock.Now()
	ticket := req.Ticket
	if ticket.ID == "" {
		ticket.ID = TicketID(c.NewID())
	}
	ticket.Status = StatusActive
	ticket.CreatedBy = req.Actor
	ticket.CreatedAt = now
	ticket.ClosedAt = nil

	schedule := cfg.Durations().From(req.GrantedDate)
	root := Transaction{
		ID:               TransactionID(c.NewID()),
		TicketID:         ticket.ID,
		Sequence:         1,
		Type:             TxNewLoan,
		PrincipalAmount:  req.Principal,
		AdjustmentAmount: decimal.Zero,
		NewPrincipalLoan: req.Principal,
		InterestAmount:   charges.Interest,
		PenaltyAmount:    decimal.Zero,
		ServiceCharge:    charges.ServiceCharge.Amount,
		AmountDue:        decimal.Zero,
		NetProceeds:      charges.NetProceeds,
		Status:           StatusActive,
		GrantedDate:      req.GrantedDate,
		MaturityDate:     schedule.Maturity,
		GraceDate:        schedule.Grace,
		ExpiryDate:       schedule.Expiry,
		CreatedBy:        req.Actor,
		CreatedAt:        now,
	}

	err = c.Store.WithTx(ctx, func(tx ChainTx) error {
		existing, err := tx.GetTicket(ctx, ticket.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return invalid("ticket_id", "ticket %s already exists", ticket.ID)
		}
		if err := tx.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, root)
	})
	if err != nil {
		return nil, err
	}
	return &ChainResult{Ticket: ticket, Transaction: root, Charges: charges}, nil
}

// Advance applies an additional loan, partial payment, renewal or
// redemption to the head of a chain, atomically.
func (c *Chain) Advance(ctx context.Context, op Operation, cfg Config) (*ChainResult, error) {
	if err := validateOperation(op); err != nil {
		return nil, err
	}

	var result *ChainResult
	err := c.Store.WithTx(ctx, func(tx ChainTx) error {
		ticket, head, err := c.lockHead(ctx, tx, op.TicketID, op.TransactionID)
		if err != nil {
			return err
		}
		now := c.Clock.Now()

		if op.Type == TxRedemption {
			charges, err := Settlement(*head, op.AsOf, cfg)
			if err != nil {
				return err
			}
			if err := closeHead(ctx, tx, ticket, head, StatusRedeemed, now); err != nil {
				return err
			}
			result = &ChainResult{Ticket: *ticket, Previous: head, Transaction: *head, Charges: charges}
			return nil
		}

		next, charges, err := Successor(*head, op, cfg)
		if err != nil {
			return err
		}
		next.ID = TransactionID(c.NewID())
		next.CreatedAt = now

		if err := tx.CloseTransaction(ctx, head.ID, StatusActive, StatusSuperseded, now); err != nil {
			return raceConflict(err, ticket.ID, head)
		}
		if err := tx.AppendTransaction(ctx, next); err != nil {
			return raceConflict(err, ticket.ID, head)
		}
		head.Status = StatusSuperseded
		head.ClosedAt = &now
		result = &ChainResult{Ticket: *ticket, Previous: head, Transaction: next, Charges: charges}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkDefaulted hands an expired ticket over to liquidation.
func (c *Chain) MarkDefaulted(ctx context.Context, ticketID TicketID, txID TransactionID, asOf Date, actor string) (*ChainResult, error) {
	if asOf.IsZero() {
		return nil, invalid("as_of_date", "is required")
	}

	var result *ChainResult
	err := c.Store.WithTx(ctx, func(tx ChainTx) error {
		ticket, head, err := c.lockHead(ctx, tx, ticketID, txID)
		if err != nil {
			return err
		}
		if head.StateAt(asOf) != StateExpired {
			return invalid("as_of_date", "ticket %s does not expire until after %s", ticketID, head.ExpiryDate)
		}
		now := c.Clock.Now()
		if err := closeHead(ctx, tx, ticket, head, StatusDefaulted, now); err != nil {
			return err
		}
		log.Printf("[Chain] Ticket %s defaulted by %s (expired %s)", ticketID, actor, head.ExpiryDate)
		result = &ChainResult{Ticket: *ticket, Previous: head, Transaction: *head}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// History returns the ticket and its chain, newest first.
func (c *Chain) History(ctx context.Context, ticketID TicketID) (*Ticket, []Transaction, error) {
	ticket, err := c.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket == nil {
		return nil, nil, &NotFoundError{Kind: "ticket", ID: string(ticketID)}
	}
	txs, err := c.Store.Chain(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, txs, nil
}

// lockHead resolves ticket, referenced transaction and head inside tx and
// runs the eligibility guard.
func (c *Chain) lockHead(ctx context.Context, tx ChainTx, ticketID TicketID, txID TransactionID) (*Ticket, *Transaction, error) {
	ticket, err := tx.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket == nil {
		return nil, nil, &NotFoundError{Kind: "ticket", ID: string(ticketID)}
	}
	target, err := tx.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil || target.TicketID != ticketID {
		return nil, nil, &NotFoundError{Kind: "transaction", ID: string(txID)}
	}
	head, err := tx.Head(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if head == nil {
		return nil, nil, &CalculationError{Op: "chain", Message: fmt.Sprintf("ticket %s has no transactions", ticketID)}
	}
	if err := CheckEligible(*ticket, *target, *head); err != nil {
		return nil, nil, err
	}
	return ticket, head, nil
}

func closeHead(ctx context.Context, tx ChainTx, ticket *Ticket, head *Transaction, status Status, now time.Time) error {
	if err := tx.CloseTransaction(ctx, head.ID, StatusActive, status, now); err != nil {
		return raceConflict(err, ticket.ID, head)
	}
	if err := tx.SetTicketStatus(ctx, ticket.ID, status, now); err != nil {
		return err
	}
	head.Status = status
	head.ClosedAt = &now
	ticket.Status = status
	ticket.ClosedAt = &now
	return nil
}

func raceConflict(err error, ticketID TicketID, head *Transaction) error {
	if errors.Is(err, ErrConcurrentModification) {
		return &ConflictError{
			TicketID:      ticketID,
			TransactionID: head.ID,
			Status:        head.Status,
			Reason:        "processed by a concurrent request",
		}
	}
	return err
}

// =============================================================================
// ELIGIBILITY AND SUCCESSOR COMPUTATION (pure)
// =============================================================================

// CheckEligible enforces that target is the actionable head of ticket.
func CheckEligible(ticket Ticket, target, head Transaction) error {
	if target.ID != head.ID {
		return &ConflictError{
			TicketID:      ticket.ID,
			TransactionID: target.ID,
			HeadID:        head.ID,
			Status:        target.Status,
			Reason:        fmt.Sprintf("superseded by transaction %s", head.ID),
		}
	}
	if head.Status.IsTerminal() {
		return &ConflictError{
			TicketID:      ticket.ID,
			TransactionID: target.ID,
			HeadID:        head.ID,
			Status:        head.Status,
			Reason:        fmt.Sprintf("transaction is %s", head.Status),
		}
	}
	if ticket.Status.IsTerminal() {
		return &ConflictError{
			TicketID:      ticket.ID,
			TransactionID: target.ID,
			HeadID:        head.ID,
			Status:        head.Status,
			Reason:        fmt.Sprintf("ticket is %s", ticket.Status),
		}
	}
	return nil
}

// PropagatePrincipal returns the new principal and the signed adjustment
// applied by a transaction of type t on principal.
func PropagatePrincipal(t TransactionType, principal, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch t {
	case TxAdditionalLoan:
		return principal.Add(amount), amount
	case TxPartialPayment:
		paid := minDecimal(amount, principal)
		return principal.Sub(paid), paid.Neg()
	default:
		return principal, decimal.Zero
	}
}

// Successor computes the transaction that replaces head for an additional
// loan, partial payment or renewal. ID and CreatedAt are left to the caller.
func Successor(head Transaction, op Operation, cfg Config) (Transaction, Charges, error) {
	switch op.Type {
	case TxAdditionalLoan, TxPartialPayment, TxRenewal:
	default:
		return Transaction{}, Charges{}, invalid("type", "%q does not create a successor", op.Type)
	}
	if err := checkAsOf(head, op.AsOf); err != nil {
		return Transaction{}, Charges{}, err
	}
	if head.StateAt(op.AsOf) == StateExpired {
		return Transaction{}, Charges{}, invalid("as_of_date", "ticket expired on %s; only redemption or default is possible", head.ExpiryDate)
	}

	principal := head.NewPrincipalLoan
	penalty, err := CalculatePenalty(cfg.Penalty, principal, head.MaturityDate, op.AsOf)
	if err != nil {
		return Transaction{}, Charges{}, err
	}
	newPrincipal, adjustment := PropagatePrincipal(op.Type, principal, op.Amount)

	charges, err := termCharges(newPrincipal, cfg)
	if err != nil {
		return Transaction{}, Charges{}, err
	}
	charges.Penalty = penalty
	fees := charges.Interest.Add(penalty.Amount).Add(charges.ServiceCharge.Amount)

	switch op.Type {
	case TxAdditionalLoan:
		net := adjustment.Sub(fees)
		if net.IsNegative() {
			charges.AmountDue = net.Neg()
			charges.NetProceeds = decimal.Zero
		} else {
			charges.AmountDue = decimal.Zero
			charges.NetProceeds = net
		}
	case TxPartialPayment:
		charges.AmountDue = adjustment.Neg().Add(fees)
		charges.NetProceeds = decimal.Zero
	case TxRenewal:
		charges.AmountDue = fees
		charges.NetProceeds = decimal.Zero
	}

	schedule := cfg.Durations().From(op.AsOf)
	next := Transaction{
		TicketID:         head.TicketID,
		Sequence:         head.Sequence + 1,
		Type:             op.Type,
		PrincipalAmount:  principal,
		AdjustmentAmount: adjustment,
		NewPrincipalLoan: newPrincipal,
		InterestAmount:   charges.Interest,
		PenaltyAmount:    penalty.Amount,
		ServiceCharge:    charges.ServiceCharge.Amount,
		AmountDue:        charges.AmountDue,
		NetProceeds:      charges.NetProceeds,
		Status:           StatusActive,
		GrantedDate:      op.AsOf,
		MaturityDate:     schedule.Maturity,
		GraceDate:        schedule.Grace,
		ExpiryDate:       schedule.Expiry,
		CreatedBy:        op.Actor,
	}
	return next, charges, nil
}

// Settlement computes what redeeming head on asOf costs: the outstanding
// principal, any penalty and the service charge.
func Settlement(head Transaction, asOf Date, cfg Config) (Charges, error) {
	if err := checkAsOf(head, asOf); err != nil {
		return Charges{}, err
	}
	principal := head.NewPrincipalLoan
	penalty, err := CalculatePenalty(cfg.Penalty, principal, head.MaturityDate, asOf)
	if err != nil {
		return Charges{}, err
	}
	charges := Charges{Penalty: penalty, Interest: decimal.Zero, NetProceeds: decimal.Zero}
	if principal.IsPositive() {
		sc, err := CalculateServiceCharge(cfg.ServiceCharge, principal)
		if err != nil {
			return Charges{}, err
		}
		charges.ServiceCharge = sc
	} else {
		charges.ServiceCharge = ServiceChargeResult{Amount: decimal.Zero, Method: cfg.ServiceCharge.Method}
	}
	charges.AmountDue = principal.Add(penalty.Amount).Add(charges.ServiceCharge.Amount)
	return charges, nil
}

// termCharges computes advance interest and service charge for a term
// financing principal. Nothing is charged on a zero principal.
func termCharges(principal decimal.Decimal, cfg Config) (Charges, error) {
	charges := Charges{
		Interest:      decimal.Zero,
		ServiceCharge: ServiceChargeResult{Amount: decimal.Zero, Method: cfg.ServiceCharge.Method},
		Penalty:       PenaltyResult{Amount: decimal.Zero, Method: PenaltyNone},
	}
	if !principal.IsPositive() {
		return charges, nil
	}
	sc, err := CalculateServiceCharge(cfg.ServiceCharge, principal)
	if err != nil {
		return Charges{}, err
	}
	charges.ServiceCharge = sc
	charges.Interest = RoundMoney(principal.Mul(cfg.Loan.AdvanceInterestRate))
	return charges, nil
}

func validateOperation(op Operation) error {
	if op.TicketID == "" {
		return invalid("ticket_id", "is required")
	}
	if op.TransactionID == "" {
		return invalid("transaction_id", "is required")
	}
	if op.AsOf.IsZero() {
		return invalid("as_of_date", "is required")
	}
	switch op.Type {
	case TxAdditionalLoan, TxPartialPayment:
		if !op.Amount.IsPositive() {
			return invalid("amount", "must be positive for %s", op.Type)
		}
	case TxRenewal, TxRedemption:
		if op.Amount.IsNegative() {
			return invalid("amount", "must not be negative")
		}
	default:
		return invalid("type", "unsupported operation %q", op.Type)
	}
	return nil
}

func checkAsOf(head Transaction, asOf Date) error {
	if asOf.IsZero() {
		return invalid("as_of_date", "is required")
	}
	if asOf.Before(head.GrantedDate) {
		return invalid("as_of_date", "%s is before the transaction date %s", asOf, head.GrantedDate)
	}
	return nil
}
