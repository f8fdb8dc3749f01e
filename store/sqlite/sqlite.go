/*
Package sqlite provides a SQLite-backed implementation of the pawn storage
interfaces.

INTERFACES IMPLEMENTED:
  pawn.ChainStore:          tickets and their transaction chains
  pawn.ConfigRepository:    versioned parameters and service charge brackets
  pawn.CalculationLogStore: audit log of computed charges

KEY TABLES:
  tickets:                One row per pawn ticket
  transactions:           Chain links, UNIQUE(ticket_id, sequence)
  config_parameters:      Versioned key/value rows, one active row per key
  service_charge_brackets: Bracket table, replaced as a whole
  calculation_logs:       Append-only, inputs/results stored as JSON

HEAD LOCKING:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so two
  chain operations never read the same head concurrently. The conditional
  UPDATE ... WHERE status = ? and the unique sequence index catch anything
  that slips past (e.g. a second process on the same file) and surface it
  as pawn.ErrConcurrentModification.

MONEY:
  Decimals are stored as TEXT and read back exactly; no REAL columns.

USAGE:
  store, err := sqlite.New("./data/pawn.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - pawn/store.go: Interface definitions
  - pawn/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/pawn-engine/pawn"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Tickets
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		ticket_number TEXT,
		pawner_id TEXT,
		branch_id TEXT,
		collateral TEXT,
		status TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL,
		closed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_status
		ON tickets(status);

	-- Transactions (one chain per ticket)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		sequence INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		adjustment_amount TEXT NOT NULL,
		new_principal_loan TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		service_charge TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		net_proceeds TEXT NOT NULL,
		status TEXT NOT NULL,
		granted_date TEXT NOT NULL,
		maturity_date TEXT NOT NULL,
		grace_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL,
		closed_at TEXT
	);

	-- CRITICAL: a sequence number is taken at most once per ticket
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_ticket_sequence
		ON transactions(ticket_id, sequence);

	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status);

	-- Config parameters (versioned, never deleted)
	CREATE TABLE IF NOT EXISTS config_parameters (
		id TEXT PRIMARY KEY,
		param_key TEXT NOT NULL,
		param_value TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		version INTEGER NOT NULL,
		effective_date TEXT NOT NULL,
		updated_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_config_parameters_key_version
		ON config_parameters(param_key, version);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_config_parameters_active_key
		ON config_parameters(param_key) WHERE active = 1;

	-- Service charge brackets
	CREATE TABLE IF NOT EXISTS service_charge_brackets (
		id TEXT PRIMARY KEY,
		min_amount TEXT NOT NULL,
		max_amount TEXT,
		charge TEXT NOT NULL,
		display_order INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		updated_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_brackets_active
		ON service_charge_brackets(active);

	-- Calculation log (append-only)
	CREATE TABLE IF NOT EXISTS calculation_logs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		ticket_id TEXT,
		transaction_id TEXT,
		actor TEXT,
		inputs_json TEXT NOT NULL,
		result_json TEXT NOT NULL,
		config_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calculation_logs_ticket
		ON calculation_logs(ticket_id) WHERE ticket_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_calculation_logs_created
		ON calculation_logs(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CHAIN READS (pawn.ChainReader interface)
// =============================================================================

func (s *Store) GetTicket(ctx context.Context, id pawn.TicketID) (*pawn.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTicket(ctx, s.db, id)
}

func (s *Store) GetTransaction(ctx context.Context, id pawn.TransactionID) (*pawn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func (s *Store) Head(ctx context.Context, ticketID pawn.TicketID) (*pawn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return head(ctx, s.db, ticketID)
}

func (s *Store) Chain(ctx context.Context, ticketID pawn.TicketID) ([]pawn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chain(ctx, s.db, ticketID)
}

const ticketColumns = `id, ticket_number, pawner_id, branch_id, collateral, status, created_by, created_at, closed_at`

func getTicket(ctx context.Context, q querier, id pawn.TicketID) (*pawn.Ticket, error) {
	row := q.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = ?", id)

	var (
		t                                          pawn.Ticket
		number, pawner, branch, collateral, author sql.NullString
		createdAt                                  string
		closedAt                                   sql.NullString
	)
	err := row.Scan(&t.ID, &number, &pawner, &branch, &collateral, &t.Status, &author, &createdAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	t.Number = number.String
	t.PawnerID = pawner.String
	t.BranchID = branch.String
	t.Collateral = collateral.String
	t.CreatedBy = author.String
	t.CreatedAt = parseTime(createdAt)
	t.ClosedAt = parseNullTime(closedAt)
	return &t, nil
}

const transactionColumns = `id, ticket_id, sequence, tx_type,
	principal_amount, adjustment_amount, new_principal_loan,
	interest_amount, penalty_amount, service_charge, amount_due, net_proceeds,
	status, granted_date, maturity_date, grace_date, expiry_date,
	created_by, created_at, closed_at`

func getTransaction(ctx context.Context, q querier, id pawn.TransactionID) (*pawn.Transaction, error) {
	txs, err := queryTransactions(ctx, q, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func head(ctx context.Context, q querier, ticketID pawn.TicketID) (*pawn.Transaction, error) {
	txs, err := queryTransactions(ctx, q,
		"SELECT "+transactionColumns+" FROM transactions WHERE ticket_id = ? ORDER BY sequence DESC LIMIT 1",
		ticketID)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func chain(ctx context.Context, q querier, ticketID pawn.TicketID) ([]pawn.Transaction, error) {
	return queryTransactions(ctx, q,
		"SELECT "+transactionColumns+" FROM transactions WHERE ticket_id = ? ORDER BY sequence DESC",
		ticketID)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]pawn.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []pawn.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (pawn.Transaction, error) {
	var (
		tx        pawn.Transaction
		author    sql.NullString
		createdAt string
		closedAt  sql.NullString
	)

	err := rows.Scan(
		&tx.ID, &tx.TicketID, &tx.Sequence, &tx.Type,
		&tx.PrincipalAmount, &tx.AdjustmentAmount, &tx.NewPrincipalLoan,
		&tx.InterestAmount, &tx.PenaltyAmount, &tx.ServiceCharge, &tx.AmountDue, &tx.NetProceeds,
		&tx.Status, &tx.GrantedDate, &tx.MaturityDate, &tx.GraceDate, &tx.ExpiryDate,
		&author, &createdAt, &closedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.CreatedBy = author.String
	tx.CreatedAt = parseTime(createdAt)
	tx.ClosedAt = parseNullTime(closedAt)
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (pawn.ChainStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx pawn.ChainTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the view handed to WithTx callbacks. Everything goes through
// the open *sql.Tx; the parent's lock is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetTicket(ctx context.Context, id pawn.TicketID) (*pawn.Ticket, error) {
	return getTicket(ctx, ts.tx, id)
}

func (ts *txStore) GetTransaction(ctx context.Context, id pawn.TransactionID) (*pawn.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) Head(ctx context.Context, ticketID pawn.TicketID) (*pawn.Transaction, error) {
	return head(ctx, ts.tx, ticketID)
}

func (ts *txStore) Chain(ctx context.Context, ticketID pawn.TicketID) ([]pawn.Transaction, error) {
	return chain(ctx, ts.tx, ticketID)
}

func (ts *txStore) CreateTicket(ctx context.Context, t pawn.Ticket) error {
	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		t.ID, nullString(t.Number), nullString(t.PawnerID), nullString(t.BranchID),
		nullString(t.Collateral), t.Status, nullString(t.CreatedBy),
		formatTime(t.CreatedAt), formatNullTime(t.ClosedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pawn.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

func (ts *txStore) AppendTransaction(ctx context.Context, t pawn.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ts.tx.ExecContext(ctx, query,
		t.ID, t.TicketID, t.Sequence, t.Type,
		t.PrincipalAmount.String(), t.AdjustmentAmount.String(), t.NewPrincipalLoan.String(),
		t.InterestAmount.String(), t.PenaltyAmount.String(), t.ServiceCharge.String(),
		t.AmountDue.String(), t.NetProceeds.String(),
		t.Status, t.GrantedDate, t.MaturityDate, t.GraceDate, t.ExpiryDate,
		nullString(t.CreatedBy), formatTime(t.CreatedAt), formatNullTime(t.ClosedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pawn.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (ts *txStore) CloseTransaction(ctx context.Context, id pawn.TransactionID, from, to pawn.Status, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE transactions SET status = ?, closed_at = ? WHERE id = ? AND status = ?",
		to, formatTime(at), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to close transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	existing, err := getTransaction(ctx, ts.tx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &pawn.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return pawn.ErrConcurrentModification
}

func (ts *txStore) SetTicketStatus(ctx context.Context, id pawn.TicketID, status pawn.Status, at time.Time) error {
	var closedAt sql.NullString
	if status.IsTerminal() {
		closedAt = sql.NullString{String: formatTime(at), Valid: true}
	}
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?",
		status, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &pawn.NotFoundError{Kind: "ticket", ID: string(id)}
	}
	return nil
}

// =============================================================================
// CONFIG REPOSITORY (pawn.ConfigRepository interface)
// =============================================================================

const parameterColumns = `id, param_key, param_value, active, version, effective_date, updated_by, created_at`

func (s *Store) ActiveParameters(ctx context.Context) ([]pawn.ConfigParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryParameters(ctx, s.db,
		"SELECT "+parameterColumns+" FROM config_parameters WHERE active = 1 ORDER BY param_key")
}

func (s *Store) ParameterHistory(ctx context.Context, key string) ([]pawn.ConfigParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryParameters(ctx, s.db,
		"SELECT "+parameterColumns+" FROM config_parameters WHERE param_key = ? ORDER BY version DESC", key)
}

func queryParameters(ctx context.Context, q querier, query string, args ...any) ([]pawn.ConfigParameter, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query config parameters: %w", err)
	}
	defer rows.Close()

	var params []pawn.ConfigParameter
	for rows.Next() {
		var (
			p         pawn.ConfigParameter
			updatedBy sql.NullString
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Key, &p.Value, &p.Active, &p.Version, &p.EffectiveDate, &updatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan config parameter: %w", err)
		}
		p.UpdatedBy = updatedBy.String
		p.CreatedAt = parseTime(createdAt)
		params = append(params, p)
	}
	return params, rows.Err()
}

func (s *Store) UpdateParameter(ctx context.Context, key, value, actor string, at time.Time) (pawn.ConfigParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pawn.ConfigParameter{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var version int
	err = sqlTx.QueryRowContext(ctx,
		"SELECT version FROM config_parameters WHERE param_key = ? AND active = 1", key,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return pawn.ConfigParameter{}, &pawn.NotFoundError{Kind: "config key", ID: key}
	}
	if err != nil {
		return pawn.ConfigParameter{}, fmt.Errorf("failed to read config parameter: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx,
		"UPDATE config_parameters SET active = 0 WHERE param_key = ? AND active = 1", key,
	); err != nil {
		return pawn.ConfigParameter{}, fmt.Errorf("failed to deactivate config parameter: %w", err)
	}

	p := pawn.ConfigParameter{
		ID:            uuid.NewString(),
		Key:           key,
		Value:         value,
		Active:        true,
		Version:       version + 1,
		EffectiveDate: pawn.DateOf(at),
		UpdatedBy:     actor,
		CreatedAt:     at,
	}
	if err := insertParameter(ctx, sqlTx, p); err != nil {
		return pawn.ConfigParameter{}, err
	}
	return p, sqlTx.Commit()
}

func (s *Store) SeedParameters(ctx context.Context, params []pawn.ConfigParameter, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, p := range params {
		var active, version int
		err := sqlTx.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(active), 0), COALESCE(MAX(version), 0) FROM config_parameters WHERE param_key = ?",
			p.Key,
		).Scan(&active, &version)
		if err != nil {
			return fmt.Errorf("failed to read config parameter: %w", err)
		}
		if active > 0 {
			continue
		}
		row := pawn.ConfigParameter{
			ID:            uuid.NewString(),
			Key:           p.Key,
			Value:         p.Value,
			Active:        true,
			Version:       version + 1,
			EffectiveDate: pawn.DateOf(at),
			UpdatedBy:     actor,
			CreatedAt:     at,
		}
		if err := insertParameter(ctx, sqlTx, row); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

func insertParameter(ctx context.Context, q querier, p pawn.ConfigParameter) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO config_parameters ("+parameterColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Key, p.Value, p.Active, p.Version, p.EffectiveDate, nullString(p.UpdatedBy), formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pawn.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert config parameter: %w", err)
	}
	return nil
}

func (s *Store) ActiveBrackets(ctx context.Context) ([]pawn.ServiceChargeBracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, min_amount, max_amount, charge, display_order, active
		FROM service_charge_brackets
		WHERE active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query brackets: %w", err)
	}
	defer rows.Close()

	var brackets []pawn.ServiceChargeBracket
	for rows.Next() {
		var (
			b         pawn.ServiceChargeBracket
			maxAmount decimal.NullDecimal
		)
		if err := rows.Scan(&b.ID, &b.MinAmount, &maxAmount, &b.Charge, &b.DisplayOrder, &b.Active); err != nil {
			return nil, fmt.Errorf("failed to scan bracket: %w", err)
		}
		if maxAmount.Valid {
			m := maxAmount.Decimal
			b.MaxAmount = &m
		}
		brackets = append(brackets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pawn.ActiveBrackets(brackets), nil
}

func (s *Store) ReplaceBrackets(ctx context.Context, brackets []pawn.ServiceChargeBracket, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "UPDATE service_charge_brackets SET active = 0 WHERE active = 1"); err != nil {
		return fmt.Errorf("failed to deactivate brackets: %w", err)
	}

	query := `
		INSERT INTO service_charge_brackets
		(id, min_amount, max_amount, charge, display_order, active, updated_by, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`
	for _, b := range brackets {
		if !b.Active {
			continue
		}
		var maxAmount sql.NullString
		if b.MaxAmount != nil {
			maxAmount = sql.NullString{String: b.MaxAmount.String(), Valid: true}
		}
		// Rows are never rewritten, so each activation gets a fresh id.
		_, err := sqlTx.ExecContext(ctx, query,
			uuid.NewString(), b.MinAmount.String(), maxAmount, b.Charge.String(), b.DisplayOrder,
			nullString(actor), formatTime(at),
		)
		if err != nil {
			return fmt.Errorf("failed to insert bracket: %w", err)
		}
	}

	return sqlTx.Commit()
}

// =============================================================================
// CALCULATION LOG (pawn.CalculationLogStore interface)
// =============================================================================

func (s *Store) AppendCalculationLog(ctx context.Context, e pawn.CalculationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	result, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	var snapshot sql.NullString
	if e.ConfigSnapshot != nil {
		b, err := json.Marshal(e.ConfigSnapshot)
		if err != nil {
			return fmt.Errorf("failed to encode config snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO calculation_logs
		(id, kind, ticket_id, transaction_id, actor, inputs_json, result_json, config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Kind, nullString(string(e.TicketID)), nullString(string(e.TransactionID)),
		nullString(e.Actor), string(inputs), string(result), snapshot, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append calculation log: %w", err)
	}
	return nil
}

// ListCalculationLogs returns matching entries, newest first.
func (s *Store) ListCalculationLogs(ctx context.Context, filter pawn.CalculationLogFilter) ([]pawn.CalculationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, kind, ticket_id, transaction_id, actor, inputs_json, result_json, config_json, created_at
		FROM calculation_logs
		WHERE 1 = 1
	`
	var args []any
	if filter.TicketID != "" {
		query += " AND ticket_id = ?"
		args = append(args, filter.TicketID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculation logs: %w", err)
	}
	defer rows.Close()

	var entries []pawn.CalculationLogEntry
	for rows.Next() {
		var (
			e                             pawn.CalculationLogEntry
			ticketID, txID, actor, config sql.NullString
			inputs, result, createdAt     string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &ticketID, &txID, &actor, &inputs, &result, &config, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan calculation log: %w", err)
		}
		e.TicketID = pawn.TicketID(ticketID.String)
		e.TransactionID = pawn.TransactionID(txID.String)
		e.Actor = actor.String
		e.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs of %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of %s: %w", e.ID, err)
		}
		if config.Valid && config.String != "" {
			if err := json.Unmarshal([]byte(config.String), &e.ConfigSnapshot); err != nil {
				return nil, fmt.Errorf("failed to decode config snapshot of %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
