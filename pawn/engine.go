/*
engine.go - Entry point used by the API and CLI

REQUEST FLOW:
  1. ConfigStore supplies the active parameters (cached, default fallback)
  2. Chain resolves and locks the ticket head, validates eligibility
  3. Penalty and service charge engines compute charges
  4. Chain writes the superseded head and its successor atomically
  5. CalculationLogger records the computation, off the request path

Calculations that do not touch a ticket (CalculatePenalty,
CalculateServiceCharge, CalculateAll) skip steps 2 and 4.
*/
package pawn

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

type Engine struct {
	Config   *ConfigStore
	Chain    *Chain
	Log      *CalculationLogger // nil disables the audit log
	Observer Observer
}

func NewEngine(config *ConfigStore, chain *Chain, logger *CalculationLogger, observer Observer) *Engine {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine{Config: config, Chain: chain, Log: logger, Observer: observer}
}

// Quote is the combined result of CalculateAll.
type Quote struct {
	Principal     decimal.Decimal
	Penalty       PenaltyResult
	ServiceCharge ServiceChargeResult
	TotalCharges  decimal.Decimal // penalty + service charge
	TotalDue      decimal.Decimal // principal + total charges
}

// =============================================================================
// CALCULATIONS
// =============================================================================

func (e *Engine) CalculatePenalty(ctx context.Context, principal decimal.Decimal, maturity, asOf Date, actor string) (PenaltyResult, error) {
	cfg, err := e.Config.Get(ctx)
	if err != nil {
		return PenaltyResult{}, err
	}
	res, err := CalculatePenalty(cfg.Penalty, principal, maturity, asOf)
	if err != nil {
		return PenaltyResult{}, err
	}
	e.Observer.CalculationCompleted(KindPenalty, string(res.Method))
	e.Log.Log(CalculationLogEntry{
		Kind:           KindPenalty,
		Actor:          actor,
		Inputs:         penaltyInputs(principal, maturity, asOf),
		Result:         penaltyFields(res),
		ConfigSnapshot: cfg.Snapshot(),
	})
	return res, nil
}

func (e *Engine) CalculateServiceCharge(ctx context.Context, principal decimal.Decimal, actor string) (ServiceChargeResult, error) {
	cfg, err := e.Config.Get(ctx)
	if err != nil {
		return ServiceChargeResult{}, err
	}
	res, err := CalculateServiceCharge(cfg.ServiceCharge, principal)
	if err != nil {
		return ServiceChargeResult{}, err
	}
	e.Observer.CalculationCompleted(KindServiceCharge, string(res.Method))
	e.Log.Log(CalculationLogEntry{
		Kind:           KindServiceCharge,
		Actor:          actor,
		Inputs:         map[string]string{"principal": principal.String()},
		Result:         serviceChargeFields(res),
		ConfigSnapshot: cfg.Snapshot(),
	})
	return res, nil
}

// CalculateAll returns penalty, service charge and the redemption total
// for principal, all computed against one configuration snapshot.
func (e *Engine) CalculateAll(ctx context.Context, principal decimal.Decimal, maturity, asOf Date, actor string) (Quote, error) {
	cfg, err := e.Config.Get(ctx)
	if err != nil {
		return Quote{}, err
	}
	penalty, err := CalculatePenalty(cfg.Penalty, principal, maturity, asOf)
	if err != nil {
		return Quote{}, err
	}
	sc, err := CalculateServiceCharge(cfg.ServiceCharge, principal)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Principal:     principal,
		Penalty:       penalty,
		ServiceCharge: sc,
		TotalCharges:  penalty.Amount.Add(sc.Amount),
	}
	q.TotalDue = principal.Add(q.TotalCharges)

	e.Observer.CalculationCompleted(KindQuote, string(penalty.Method))
	result := mergeFields(penaltyFields(penalty), serviceChargeFields(sc))
	result["total_charges"] = q.TotalCharges.StringFixed(MoneyPlaces)
	result["total_due"] = q.TotalDue.StringFixed(MoneyPlaces)
	e.Log.Log(CalculationLogEntry{
		Kind:           KindQuote,
		Actor:          actor,
		Inputs:         penaltyInputs(principal, maturity, asOf),
		Result:         result,
		ConfigSnapshot: cfg.Snapshot(),
	})
	return q, nil
}

// =============================================================================
// CHAIN OPERATIONS
// =============================================================================

func (e *Engine) ProcessNewLoan(ctx context.Context, req NewLoan) (*ChainResult, error) {
	cfg, err := e.Config.Get(ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.Chain.Originate(ctx, req, cfg)
	e.Observer.ChainOperation(string(TxNewLoan), outcomeOf(err))
	if err != nil {
		return nil, err
	}
	e.logChain(KindOf(TxNewLoan), res, map[string]string{
		"principal":    req.Principal.String(),
		"granted_date": req.GrantedDate.String(),
	}, req.Actor, cfg)
	return res, nil
}

func (e *Engine) ProcessAdditionalLoan(ctx context.Context, ticketID TicketID, txID TransactionID, amount decimal.Decimal, asOf Date, actor string) (*ChainResult, error) {
	return e.process(ctx, Operation{TicketID: ticketID, TransactionID: txID, Type: TxAdditionalLoan, Amount: amount, AsOf: asOf, Actor: actor})
}

func (e *Engine) ProcessPartialPayment(ctx context.Context, ticketID TicketID, txID TransactionID, amount decimal.Decimal, asOf Date, actor string) (*ChainResult, error) {
	return e.process(ctx, Operation{TicketID: ticketID, TransactionID: txID, Type: TxPartialPayment, Amount: amount, AsOf: asOf, Actor: actor})
}

func (e *Engine) ProcessRenewal(ctx context.Context, ticketID TicketID, txID TransactionID, amount decimal.Decimal, asOf Date, actor string) (*ChainResult, error) {
	return e.process(ctx, Operation{TicketID: ticketID, TransactionID: txID, Type: TxRenewal, Amount: amount, AsOf: asOf, Actor: actor})
}

func (e *Engine) ProcessRedemption(ctx context.Context, ticketID TicketID, txID TransactionID, amount decimal.Decimal, asOf Date, actor string) (*ChainResult, error) {
	return e.process(ctx, Operation{TicketID: ticketID, TransactionID: txID, Type: TxRedemption, Amount: amount, AsOf: asOf, Actor: actor})
}

// Process dispatches on op.Type.
func (e *Engine) Process(ctx context.Context, op Operation) (*ChainResult, error) {
	return e.process(ctx, op)
}

func (e *Engine) process(ctx context.Context, op Operation) (*ChainResult, error) {
	cfg, err := e.Config.Get(ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.Chain.Advance(ctx, op, cfg)
	e.Observer.ChainOperation(string(op.Type), outcomeOf(err))
	if err != nil {
		return nil, err
	}
	e.logChain(KindOf(op.Type), res, map[string]string{
		"transaction_id": string(op.TransactionID),
		"amount":         op.Amount.String(),
		"as_of_date":     op.AsOf.String(),
	}, op.Actor, cfg)
	return res, nil
}

func (e *Engine) ProcessDefault(ctx context.Context, ticketID TicketID, txID TransactionID, asOf Date, actor string) (*ChainResult, error) {
	res, err := e.Chain.MarkDefaulted(ctx, ticketID, txID, asOf, actor)
	e.Observer.ChainOperation(string(KindDefault), outcomeOf(err))
	if err != nil {
		return nil, err
	}
	e.Log.Log(CalculationLogEntry{
		Kind:          KindDefault,
		TicketID:      ticketID,
		TransactionID: txID,
		Actor:         actor,
		Inputs:        map[string]string{"as_of_date": asOf.String()},
		Result:        map[string]string{"status": string(StatusDefaulted), "principal": res.Transaction.NewPrincipalLoan.String()},
	})
	return res, nil
}

func (e *Engine) GetTicket(ctx context.Context, id TicketID) (*Ticket, []Transaction, error) {
	return e.Chain.History(ctx, id)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (e *Engine) GetConfig(ctx context.Context) (Config, error) { return e.Config.Get(ctx) }

func (e *Engine) UpdateConfig(ctx context.Context, key, value, actor string) (ConfigParameter, error) {
	return e.Config.Update(ctx, key, value, actor)
}

func (e *Engine) UpdateBrackets(ctx context.Context, brackets []ServiceChargeBracket, actor string) error {
	return e.Config.UpdateBrackets(ctx, brackets, actor)
}

func (e *Engine) ClearCache() { e.Config.Invalidate() }

// =============================================================================
// AUDIT FIELDS
// =============================================================================

func (e *Engine) logChain(kind CalculationKind, res *ChainResult, inputs map[string]string, actor string, cfg Config) {
	tx := res.Transaction
	result := mergeFields(penaltyFields(res.Charges.Penalty), serviceChargeFields(res.Charges.ServiceCharge))
	result["sequence"] = strconv.FormatInt(tx.Sequence, 10)
	result["principal_amount"] = tx.PrincipalAmount.String()
	result["new_principal_loan"] = tx.NewPrincipalLoan.String()
	result["interest_amount"] = res.Charges.Interest.StringFixed(MoneyPlaces)
	result["amount_due"] = res.Charges.AmountDue.StringFixed(MoneyPlaces)
	result["net_proceeds"] = res.Charges.NetProceeds.StringFixed(MoneyPlaces)
	result["status"] = string(tx.Status)
	result["maturity_date"] = tx.MaturityDate.String()

	e.Log.Log(CalculationLogEntry{
		Kind:           kind,
		TicketID:       res.Ticket.ID,
		TransactionID:  tx.ID,
		Actor:          actor,
		Inputs:         inputs,
		Result:         result,
		ConfigSnapshot: cfg.Snapshot(),
	})
}

func penaltyInputs(principal decimal.Decimal, maturity, asOf Date) map[string]string {
	return map[string]string{
		"principal":     principal.String(),
		"maturity_date": maturity.String(),
		"as_of_date":    asOf.String(),
	}
}

func penaltyFields(r PenaltyResult) map[string]string {
	return map[string]string{
		"penalty_amount":         r.Amount.StringFixed(MoneyPlaces),
		"days_overdue":           strconv.Itoa(r.DaysOverdue),
		"effective_days_overdue": strconv.Itoa(r.EffectiveDaysOverdue),
		"penalty_method":         string(r.Method),
		"penalty_applicable":     strconv.FormatBool(r.Applicable),
	}
}

func serviceChargeFields(r ServiceChargeResult) map[string]string {
	fields := map[string]string{
		"service_charge":        r.Amount.StringFixed(MoneyPlaces),
		"service_charge_method": string(r.Method),
	}
	if r.Bracket != nil {
		fields["bracket_min"] = r.Bracket.MinAmount.String()
		fields["bracket_fallback"] = strconv.FormatBool(r.Fallback)
	}
	return fields
}

func mergeFields(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
