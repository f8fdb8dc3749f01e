/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  The engine never talks to a database directly. It needs three narrow
  capabilities, each implemented by store/sqlite (production) and
  pawn/store (in-memory, tests):

  ChainStore:          tickets and transactions, with a transactional
                       boundary for read-validate-write of a chain head
  ConfigRepository:    active parameter rows and brackets, versioned writes
  CalculationLogStore: append-only audit of computed charges

HEAD LOCKING:
  Every chain operation runs inside ChainStore.WithTx. Implementations must
  serialize transactions that touch the same ticket (SQLite: BEGIN
  IMMEDIATE; PostgreSQL: SELECT ... FOR UPDATE on the head). On top of that,
  CloseTransaction is conditional on the expected status and
  AppendTransaction on a free (ticket, sequence) slot; either failing
  returns ErrConcurrentModification.

MISSING ROWS:
  Lookups return (nil, nil) when the row does not exist, matching the rest
  of the codebase; callers decide which NotFoundError to raise.
*/
package pawn

import (
	"context"
	"time"
)

// =============================================================================
// CHAIN STORE
// =============================================================================

// ChainReader is the read side shared by the store and its transactions.
type ChainReader interface {
	GetTicket(ctx context.Context, id TicketID) (*Ticket, error)
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// Head returns the transaction with the highest sequence for the ticket.
	Head(ctx context.Context, ticketID TicketID) (*Transaction, error)

	// Chain returns all transactions of a ticket, newest (highest sequence) first.
	Chain(ctx context.Context, ticketID TicketID) ([]Transaction, error)
}

// ChainTx is the view of the store inside a transaction boundary.
type ChainTx interface {
	ChainReader

	CreateTicket(ctx context.Context, ticket Ticket) error

	// AppendTransaction inserts tx. Returns ErrConcurrentModification if
	// (TicketID, Sequence) is already taken.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// CloseTransaction moves a transaction from status `from` to `to`.
	// Returns ErrConcurrentModification if its status is no longer `from`.
	CloseTransaction(ctx context.Context, id TransactionID, from, to Status, at time.Time) error

	SetTicketStatus(ctx context.Context, id TicketID, status Status, at time.Time) error
}

type ChainStore interface {
	ChainReader

	// WithTx executes fn atomically. If fn returns an error nothing it
	// wrote is kept.
	WithTx(ctx context.Context, fn func(tx ChainTx) error) error
}

// =============================================================================
// CONFIG REPOSITORY
// =============================================================================

type ConfigRepository interface {
	ActiveParameters(ctx context.Context) ([]ConfigParameter, error)
	ActiveBrackets(ctx context.Context) ([]ServiceChargeBracket, error)

	// ParameterHistory returns every version of key, newest first.
	ParameterHistory(ctx context.Context, key string) ([]ConfigParameter, error)

	// UpdateParameter supersedes the active row for key with a new version.
	// Returns *NotFoundError if no active row exists for key.
	UpdateParameter(ctx context.Context, key, value, actor string, at time.Time) (ConfigParameter, error)

	// SeedParameters inserts rows for keys that have no active row yet.
	SeedParameters(ctx context.Context, params []ConfigParameter, actor string, at time.Time) error

	// ReplaceBrackets deactivates the current set and activates brackets.
	ReplaceBrackets(ctx context.Context, brackets []ServiceChargeBracket, actor string, at time.Time) error
}

// =============================================================================
// CALCULATION LOG STORE
// =============================================================================

type CalculationLogFilter struct {
	TicketID TicketID
	Kind     CalculationKind
	Limit    int
}

type CalculationLogStore interface {
	AppendCalculationLog(ctx context.Context, entry CalculationLogEntry) error
	ListCalculationLogs(ctx context.Context, filter CalculationLogFilter) ([]CalculationLogEntry, error)
}
