package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
)

var ctx = context.Background()

func seedTicket(t *testing.T, m *Memory) {
	t.Helper()
	require.NoError(t, m.WithTx(ctx, func(tx pawn.ChainTx) error {
		if err := tx.CreateTicket(ctx, pawn.Ticket{ID: "tk-1", Status: pawn.StatusActive}); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, pawn.Transaction{ID: "tx-1", TicketID: "tk-1", Sequence: 1, Status: pawn.StatusActive})
	}))
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A ticket with one transaction
	// WHEN: A transaction closes the head, appends a successor, then fails
	// THEN: Nothing it did is visible afterwards

	m := NewMemory()
	seedTicket(t, m)
	boom := errors.New("boom")
	now := time.Now()

	err := m.WithTx(ctx, func(tx pawn.ChainTx) error {
		require.NoError(t, tx.CloseTransaction(ctx, "tx-1", pawn.StatusActive, pawn.StatusSuperseded, now))
		require.NoError(t, tx.AppendTransaction(ctx, pawn.Transaction{ID: "tx-2", TicketID: "tk-1", Sequence: 2, Status: pawn.StatusActive}))
		require.NoError(t, tx.SetTicketStatus(ctx, "tk-1", pawn.StatusRedeemed, now))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	head, err := m.Head(ctx, "tk-1")
	require.NoError(t, err)
	assert.Equal(t, pawn.TransactionID("tx-1"), head.ID)
	assert.Equal(t, pawn.StatusActive, head.Status)

	ticket, err := m.GetTicket(ctx, "tk-1")
	require.NoError(t, err)
	assert.Equal(t, pawn.StatusActive, ticket.Status)

	missing, err := m.GetTransaction(ctx, "tx-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_ChainGuards(t *testing.T) {
	m := NewMemory()
	seedTicket(t, m)
	now := time.Now()

	err := m.WithTx(ctx, func(tx pawn.ChainTx) error {
		return tx.AppendTransaction(ctx, pawn.Transaction{ID: "tx-x", TicketID: "tk-1", Sequence: 1})
	})
	assert.ErrorIs(t, err, pawn.ErrConcurrentModification, "sequence taken")

	err = m.WithTx(ctx, func(tx pawn.ChainTx) error {
		return tx.CloseTransaction(ctx, "tx-1", pawn.StatusSuperseded, pawn.StatusRedeemed, now)
	})
	assert.ErrorIs(t, err, pawn.ErrConcurrentModification, "status moved on")

	err = m.WithTx(ctx, func(tx pawn.ChainTx) error {
		return tx.CloseTransaction(ctx, "tx-404", pawn.StatusActive, pawn.StatusRedeemed, now)
	})
	assert.True(t, pawn.IsNotFound(err))
}

func TestMemory_ParametersAreVersioned(t *testing.T) {
	m := NewMemory()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SeedParameters(ctx, pawn.DefaultParameters(), "system", at))

	p, err := m.UpdateParameter(ctx, pawn.KeyLoanMaturityDays, "45", "admin", at)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, "2024-03-01", p.EffectiveDate.String())

	require.NoError(t, m.SeedParameters(ctx, pawn.DefaultParameters(), "system", at))
	active, err := m.ActiveParameters(ctx)
	require.NoError(t, err)
	assert.Len(t, active, len(pawn.ParameterKeys()), "reseeding adds nothing")

	history, err := m.ParameterHistory(ctx, pawn.KeyLoanMaturityDays)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "45", history[0].Value)
	assert.False(t, history[1].Active)
}

func TestMemory_ReplaceBrackets(t *testing.T) {
	m := NewMemory()
	at := time.Now()
	require.NoError(t, m.ReplaceBrackets(ctx, pawn.DefaultBrackets(), "system", at))

	next := []pawn.ServiceChargeBracket{
		{ID: "default-1", MinAmount: decimal.Zero, Charge: decimal.NewFromInt(3), DisplayOrder: 1, Active: true},
		{ID: "retired", MinAmount: decimal.NewFromInt(10), Charge: decimal.NewFromInt(9), Active: false},
	}
	require.NoError(t, m.ReplaceBrackets(ctx, next, "admin", at))

	active, err := m.ActiveBrackets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, "default-1", active[0].ID, "reused id is regenerated")
	assert.True(t, active[0].Charge.Equal(decimal.NewFromInt(3)))
}
