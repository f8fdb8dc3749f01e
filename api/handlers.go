/*
handlers.go - HTTP API handlers for the pawn engine

PURPOSE:
  Exposes the calculation engine and ticket chain via REST API. Handles
  HTTP request/response and JSON serialization, and delegates everything
  else to pawn.Engine.

ENDPOINTS:
  Calculations (no ticket, nothing persisted but the calculation log):
    POST   /api/calculations/penalty          Penalty for principal/maturity/as-of
    POST   /api/calculations/service-charge   Service charge for principal
    POST   /api/calculations/all              Penalty + service charge + total due

  Tickets:
    POST   /api/tickets                       Originate a new loan
    GET    /api/tickets/{id}                  Ticket with its chain, newest first
    POST   /api/tickets/{id}/transactions/{txid}/additional-loan
    POST   /api/tickets/{id}/transactions/{txid}/partial-payment
    POST   /api/tickets/{id}/transactions/{txid}/renewal
    POST   /api/tickets/{id}/transactions/{txid}/redemption
    POST   /api/tickets/{id}/transactions/{txid}/default

  Configuration:
    GET    /api/config                        Active configuration
    GET    /api/config/export                 Active configuration as a preset
    PUT    /api/config/brackets               Replace the bracket table
    POST   /api/config/cache/clear            Drop the cached configuration
    PUT    /api/config/{key}                  Update one parameter
    GET    /api/config/{key}/history          All versions of a parameter

  Audit:
    GET    /api/calculation-logs?ticket_id=&kind=&limit=

ACTOR:
  The X-Actor-ID header is recorded on every write and calculation log
  entry. The engine does no authentication; a gateway in front must.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown ticket, transaction or config key
  - 409: Transaction closed or superseded (stale reference or lost race)
  - 500: Calculation errors and store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/pawn-engine/factory"
	"github.com/warp/pawn-engine/pawn"
)

// ActorHeader names the caller recorded on writes and calculation logs.
const ActorHeader = "X-Actor-ID"

const anonymousActor = "anonymous"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *pawn.Engine
	Logs    pawn.CalculationLogStore
	DB      Pinger // optional, used by /healthz
	Presets *factory.ConfigFactory
}

// NewHandler creates a new handler over engine, reading calculation logs
// from logs.
func NewHandler(engine *pawn.Engine, logs pawn.CalculationLogStore) *Handler {
	return &Handler{
		Engine:  engine,
		Logs:    logs,
		Presets: factory.NewConfigFactory(),
	}
}

func (h *Handler) today() pawn.Date { return pawn.Today(h.Engine.Chain.Clock) }

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

func (h *Handler) CalculatePenalty(w http.ResponseWriter, r *http.Request) {
	var req PenaltyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, err := requireAmount("principal", req.Principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.CalculatePenalty(r.Context(), principal, req.MaturityDate, req.AsOfDate, actor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPenaltyDTO(res))
}

func (h *Handler) CalculateServiceCharge(w http.ResponseWriter, r *http.Request) {
	var req ServiceChargeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, err := requireAmount("principal", req.Principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.CalculateServiceCharge(r.Context(), principal, actor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceChargeDTO(res))
}

func (h *Handler) CalculateAll(w http.ResponseWriter, r *http.Request) {
	var req PenaltyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, err := requireAmount("principal", req.Principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q, err := h.Engine.CalculateAll(r.Context(), principal, req.MaturityDate, req.AsOfDate, actor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// CreateTicket originates a loan: the ticket and the root of its chain.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req NewLoanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, err := requireAmount("principal", req.Principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.ProcessNewLoan(r.Context(), pawn.NewLoan{
		Ticket: pawn.Ticket{
			Number:     req.TicketNumber,
			PawnerID:   req.PawnerID,
			BranchID:   req.BranchID,
			Collateral: req.Collateral,
		},
		Principal:   principal,
		GrantedDate: req.GrantedDate,
		Actor:       actor(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChainResultDTO(res, h.today()))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id := pawn.TicketID(chi.URLParam(r, "id"))

	ticket, txs, err := h.Engine.GetTicket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	today := h.today()
	dto := TicketDetailDTO{
		Ticket:       toTicketDTO(*ticket),
		Transactions: make([]TransactionDTO, 0, len(txs)),
	}
	for _, tx := range txs {
		dto.Transactions = append(dto.Transactions, toTransactionDTO(tx, today))
	}
	if len(dto.Transactions) > 0 {
		head := dto.Transactions[0]
		dto.Head = &head
	}
	writeJSON(w, http.StatusOK, dto)
}

// Operation returns the handler for one chain operation against
// /api/tickets/{id}/transactions/{txid}.
func (h *Handler) Operation(txType pawn.TransactionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OperationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount := decimal.Zero
		if req.Amount != nil {
			amount = *req.Amount
		} else if txType == pawn.TxAdditionalLoan || txType == pawn.TxPartialPayment {
			writeDomainError(w, &pawn.ValidationError{Field: "amount", Message: "is required"})
			return
		}

		res, err := h.Engine.Process(r.Context(), pawn.Operation{
			TicketID:      pawn.TicketID(chi.URLParam(r, "id")),
			TransactionID: pawn.TransactionID(chi.URLParam(r, "txid")),
			Type:          txType,
			Amount:        amount,
			AsOf:          req.AsOfDate,
			Actor:         actor(r),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toChainResultDTO(res, h.today()))
	}
}

// DefaultTicket hands an expired ticket over to liquidation.
func (h *Handler) DefaultTicket(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.ProcessDefault(r.Context(),
		pawn.TicketID(chi.URLParam(r, "id")),
		pawn.TransactionID(chi.URLParam(r, "txid")),
		req.AsOfDate, actor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChainResultDTO(res, h.today()))
}

// =============================================================================
// CONFIG HANDLERS
// =============================================================================

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Engine.GetConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

// ExportConfig returns the active configuration in preset form, ready to
// be fed back to "seed --file".
func (h *Handler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Engine.GetConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presets.ToJSON("export", "Exported configuration", cfg))
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeDomainError(w, &pawn.ValidationError{Field: "value", Message: "is required"})
		return
	}

	p, err := h.Engine.UpdateConfig(r.Context(), chi.URLParam(r, "key"), *req.Value, actor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigParameterDTO(p))
}

func (h *Handler) ConfigHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Engine.Config.History(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ConfigParameterDTO, len(history))
	for i, p := range history {
		dtos[i] = toConfigParameterDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) UpdateBrackets(w http.ResponseWriter, r *http.Request) {
	var req UpdateBracketsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	brackets := make([]pawn.ServiceChargeBracket, len(req.Brackets))
	for i, b := range req.Brackets {
		brackets[i] = fromBracketDTO(b)
	}
	if err := h.Engine.UpdateBrackets(r.Context(), brackets, actor(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	h.GetConfig(w, r)
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.Engine.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// =============================================================================
// CALCULATION LOG HANDLERS
// =============================================================================

func (h *Handler) ListCalculationLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pawn.CalculationLogFilter{
		TicketID: pawn.TicketID(q.Get("ticket_id")),
		Kind:     pawn.CalculationKind(q.Get("kind")),
		Limit:    100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Logs.ListCalculationLogs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list calculation logs", err)
		return
	}

	dtos := make([]CalculationLogDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCalculationLogDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) string {
	if a := r.Header.Get(ActorHeader); a != "" {
		return a
	}
	return anonymousActor
}

func requireAmount(field string, d *decimal.Decimal) (decimal.Decimal, error) {
	if d == nil {
		return decimal.Zero, &pawn.ValidationError{Field: field, Message: "is required"}
	}
	return *d, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the pawn error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *pawn.ConflictError
	switch {
	case pawn.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case pawn.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:             "Transaction closed or superseded",
			Details:           err.Error(),
			HeadTransactionID: string(conflict.HeadID),
		})
	case pawn.IsConflict(err):
		writeError(w, http.StatusConflict, "Transaction closed or superseded", err)
	default:
		log.Printf("[API] Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
