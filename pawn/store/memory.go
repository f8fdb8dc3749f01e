// Package store provides an in-memory implementation of the pawn store
// interfaces, for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/pawn-engine/pawn"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	tickets      map[pawn.TicketID]pawn.Ticket
	transactions map[pawn.TransactionID]pawn.Transaction
	chains       map[pawn.TicketID][]pawn.TransactionID // ascending sequence
	params       []pawn.ConfigParameter
	brackets     []pawn.ServiceChargeBracket
	logs         []pawn.CalculationLogEntry

	configErr error
	logErr    error
}

func NewMemory() *Memory {
	return &Memory{
		tickets:      make(map[pawn.TicketID]pawn.Ticket),
		transactions: make(map[pawn.TransactionID]pawn.Transaction),
		chains:       make(map[pawn.TicketID][]pawn.TransactionID),
	}
}

// FailConfigReads makes configuration reads return err until cleared with nil.
func (m *Memory) FailConfigReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configErr = err
}

// FailLogWrites makes calculation log writes return err until cleared with nil.
func (m *Memory) FailLogWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logErr = err
}

// =============================================================================
// CHAIN READS
// =============================================================================

func (m *Memory) GetTicket(_ context.Context, id pawn.TicketID) (*pawn.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTicket(id), nil
}

func (m *Memory) GetTransaction(_ context.Context, id pawn.TransactionID) (*pawn.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id), nil
}

func (m *Memory) Head(_ context.Context, ticketID pawn.TicketID) (*pawn.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head(ticketID), nil
}

func (m *Memory) Chain(_ context.Context, ticketID pawn.TicketID) ([]pawn.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chain(ticketID), nil
}

func (m *Memory) getTicket(id pawn.TicketID) *pawn.Ticket {
	t, ok := m.tickets[id]
	if !ok {
		return nil
	}
	return &t
}

func (m *Memory) getTransaction(id pawn.TransactionID) *pawn.Transaction {
	tx, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

func (m *Memory) head(ticketID pawn.TicketID) *pawn.Transaction {
	ids := m.chains[ticketID]
	if len(ids) == 0 {
		return nil
	}
	return m.getTransaction(ids[len(ids)-1])
}

func (m *Memory) chain(ticketID pawn.TicketID) []pawn.Transaction {
	ids := m.chains[ticketID]
	result := make([]pawn.Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		result = append(result, m.transactions[ids[i]])
	}
	return result
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

// WithTx executes fn under the store lock. On error the state captured
// before fn ran is restored.
func (m *Memory) WithTx(_ context.Context, fn func(pawn.ChainTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memoryTx{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tickets      map[pawn.TicketID]pawn.Ticket
	transactions map[pawn.TransactionID]pawn.Transaction
	chains       map[pawn.TicketID][]pawn.TransactionID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		tickets:      make(map[pawn.TicketID]pawn.Ticket, len(m.tickets)),
		transactions: make(map[pawn.TransactionID]pawn.Transaction, len(m.transactions)),
		chains:       make(map[pawn.TicketID][]pawn.TransactionID, len(m.chains)),
	}
	for k, v := range m.tickets {
		s.tickets[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.chains {
		s.chains[k] = append([]pawn.TransactionID{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.tickets = s.tickets
	m.transactions = s.transactions
	m.chains = s.chains
}

type memoryTx struct {
	parent *Memory
}

func (tx *memoryTx) GetTicket(_ context.Context, id pawn.TicketID) (*pawn.Ticket, error) {
	return tx.parent.getTicket(id), nil
}

func (tx *memoryTx) GetTransaction(_ context.Context, id pawn.TransactionID) (*pawn.Transaction, error) {
	return tx.parent.getTransaction(id), nil
}

func (tx *memoryTx) Head(_ context.Context, ticketID pawn.TicketID) (*pawn.Transaction, error) {
	return tx.parent.head(ticketID), nil
}

func (tx *memoryTx) Chain(_ context.Context, ticketID pawn.TicketID) ([]pawn.Transaction, error) {
	return tx.parent.chain(ticketID), nil
}

func (tx *memoryTx) CreateTicket(_ context.Context, ticket pawn.Ticket) error {
	if _, exists := tx.parent.tickets[ticket.ID]; exists {
		return pawn.ErrConcurrentModification
	}
	tx.parent.tickets[ticket.ID] = ticket
	return nil
}

func (tx *memoryTx) AppendTransaction(_ context.Context, t pawn.Transaction) error {
	m := tx.parent
	for _, id := range m.chains[t.TicketID] {
		if m.transactions[id].Sequence == t.Sequence {
			return pawn.ErrConcurrentModification
		}
	}
	m.transactions[t.ID] = t
	ids := append(m.chains[t.TicketID], t.ID)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.transactions[ids[i]].Sequence < m.transactions[ids[j]].Sequence
	})
	m.chains[t.TicketID] = ids
	return nil
}

func (tx *memoryTx) CloseTransaction(_ context.Context, id pawn.TransactionID, from, to pawn.Status, at time.Time) error {
	t, ok := tx.parent.transactions[id]
	if !ok {
		return &pawn.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if t.Status != from {
		return pawn.ErrConcurrentModification
	}
	t.Status = to
	t.ClosedAt = &at
	tx.parent.transactions[id] = t
	return nil
}

func (tx *memoryTx) SetTicketStatus(_ context.Context, id pawn.TicketID, status pawn.Status, at time.Time) error {
	t, ok := tx.parent.tickets[id]
	if !ok {
		return &pawn.NotFoundError{Kind: "ticket", ID: string(id)}
	}
	t.Status = status
	if status.IsTerminal() {
		t.ClosedAt = &at
	}
	tx.parent.tickets[id] = t
	return nil
}

// =============================================================================
// CONFIG REPOSITORY
// =============================================================================

func (m *Memory) ActiveParameters(_ context.Context) ([]pawn.ConfigParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.configErr != nil {
		return nil, m.configErr
	}
	var active []pawn.ConfigParameter
	for _, p := range m.params {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

func (m *Memory) ActiveBrackets(_ context.Context) ([]pawn.ServiceChargeBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.configErr != nil {
		return nil, m.configErr
	}
	return pawn.ActiveBrackets(m.brackets), nil
}

func (m *Memory) ParameterHistory(_ context.Context, key string) ([]pawn.ConfigParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var history []pawn.ConfigParameter
	for i := len(m.params) - 1; i >= 0; i-- {
		if m.params[i].Key == key {
			history = append(history, m.params[i])
		}
	}
	return history, nil
}

func (m *Memory) UpdateParameter(_ context.Context, key, value, actor string, at time.Time) (pawn.ConfigParameter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, p := range m.params {
		if p.Key == key && p.Active {
			idx = i
			break
		}
	}
	if idx < 0 {
		return pawn.ConfigParameter{}, &pawn.NotFoundError{Kind: "config key", ID: key}
	}
	m.params[idx].Active = false
	next := pawn.ConfigParameter{
		ID:            uuid.NewString(),
		Key:           key,
		Value:         value,
		Active:        true,
		Version:       m.params[idx].Version + 1,
		EffectiveDate: pawn.DateOf(at),
		UpdatedBy:     actor,
		CreatedAt:     at,
	}
	m.params = append(m.params, next)
	return next, nil
}

func (m *Memory) SeedParameters(_ context.Context, params []pawn.ConfigParameter, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range params {
		version := 0
		active := false
		for _, existing := range m.params {
			if existing.Key != p.Key {
				continue
			}
			if existing.Active {
				active = true
			}
			if existing.Version > version {
				version = existing.Version
			}
		}
		if active {
			continue
		}
		m.params = append(m.params, pawn.ConfigParameter{
			ID:            uuid.NewString(),
			Key:           p.Key,
			Value:         p.Value,
			Active:        true,
			Version:       version + 1,
			EffectiveDate: pawn.DateOf(at),
			UpdatedBy:     actor,
			CreatedAt:     at,
		})
	}
	return nil
}

func (m *Memory) ReplaceBrackets(_ context.Context, brackets []pawn.ServiceChargeBracket, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.brackets {
		m.brackets[i].Active = false
	}
	for _, b := range brackets {
		if !b.Active {
			continue
		}
		if b.ID == "" || hasBracket(m.brackets, b.ID) {
			b.ID = uuid.NewString()
		}
		m.brackets = append(m.brackets, b)
	}
	return nil
}

func hasBracket(brackets []pawn.ServiceChargeBracket, id string) bool {
	for _, b := range brackets {
		if b.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// CALCULATION LOG
// =============================================================================

func (m *Memory) AppendCalculationLog(_ context.Context, entry pawn.CalculationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	m.logs = append(m.logs, entry)
	return nil
}

// ListCalculationLogs returns matching entries, newest first.
func (m *Memory) ListCalculationLogs(_ context.Context, filter pawn.CalculationLogFilter) ([]pawn.CalculationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []pawn.CalculationLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		e := m.logs[i]
		if filter.TicketID != "" && e.TicketID != filter.TicketID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}
