package pawn_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
)

// originate opens a 1,000 loan granted 2024-01-01:
// interest 20.00, service charge 5.00, net proceeds 975.00,
// maturity 2024-01-31, grace 2024-02-03, expiry 2024-05-01.
func originate(t *testing.T, e *testEngine) *pawn.ChainResult {
	t.Helper()
	res, err := e.ProcessNewLoan(ctxBG, pawn.NewLoan{
		Ticket:      pawn.Ticket{Number: "PT-0001", PawnerID: "pawner-1", Collateral: "gold necklace"},
		Principal:   money("1000"),
		GrantedDate: date("2024-01-01"),
		Actor:       "teller-1",
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// NEW LOAN
// =============================================================================

func TestChain_NewLoan(t *testing.T) {
	e := newTestEngine(t)

	res := originate(t, e)

	tx := res.Transaction
	assert.Equal(t, int64(1), tx.Sequence)
	assert.Equal(t, pawn.TxNewLoan, tx.Type)
	assert.Equal(t, pawn.StatusActive, tx.Status)
	assertMoney(t, "1000.00", tx.NewPrincipalLoan)
	assertMoney(t, "20.00", tx.InterestAmount)
	assertMoney(t, "5.00", tx.ServiceCharge)
	assertMoney(t, "975.00", tx.NetProceeds)
	assert.Equal(t, "2024-01-31", tx.MaturityDate.String())
	assert.Equal(t, "2024-02-03", tx.GraceDate.String())
	assert.Equal(t, "2024-05-01", tx.ExpiryDate.String())

	assert.NotEmpty(t, res.Ticket.ID)
	assert.Equal(t, pawn.StatusActive, res.Ticket.Status)
	assert.Equal(t, "teller-1", res.Ticket.CreatedBy)
}

func TestChain_NewLoan_Rejections(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ProcessNewLoan(ctxBG, pawn.NewLoan{Principal: money("0"), GrantedDate: date("2024-01-01")})
	assert.ErrorIs(t, err, pawn.ErrValidation, "zero principal")

	_, err = e.ProcessNewLoan(ctxBG, pawn.NewLoan{Principal: money("100")})
	assert.ErrorIs(t, err, pawn.ErrValidation, "missing granted date")

	first := originate(t, e)
	_, err = e.ProcessNewLoan(ctxBG, pawn.NewLoan{
		Ticket:      pawn.Ticket{ID: first.Ticket.ID},
		Principal:   money("100"),
		GrantedDate: date("2024-01-01"),
	})
	assert.ErrorIs(t, err, pawn.ErrValidation, "duplicate ticket id")
}

// =============================================================================
// ELIGIBILITY GUARD
// =============================================================================

func TestChain_OnlyHeadIsActionable(t *testing.T) {
	// GIVEN: T1 -> T2 (partial payment on T1)
	// WHEN: Another partial payment references T1
	// THEN: ConflictError naming T2 as head; T2 stays actionable -> T3

	e := newTestEngine(t)
	t1 := originate(t, e)
	ticketID := t1.Ticket.ID

	t2, err := e.ProcessPartialPayment(ctxBG, ticketID, t1.Transaction.ID, money("200"), date("2024-01-15"), "teller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), t2.Transaction.Sequence)
	assert.Equal(t, pawn.StatusSuperseded, t2.Previous.Status)

	_, err = e.ProcessPartialPayment(ctxBG, ticketID, t1.Transaction.ID, money("200"), date("2024-01-15"), "teller-1")
	var conflict *pawn.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, t2.Transaction.ID, conflict.HeadID)
	assert.Equal(t, pawn.StatusSuperseded, conflict.Status)
	assert.ErrorIs(t, err, pawn.ErrConflict)

	t3, err := e.ProcessRenewal(ctxBG, ticketID, t2.Transaction.ID, money("0"), date("2024-01-20"), "teller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), t3.Transaction.Sequence)

	_, err = e.ProcessRenewal(ctxBG, ticketID, t2.Transaction.ID, money("0"), date("2024-01-20"), "teller-1")
	assert.True(t, pawn.IsConflict(err))

	_, history, err := e.GetTicket(ctxBG, ticketID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, t3.Transaction.ID, history[0].ID, "newest first")
	active := 0
	for _, tx := range history {
		if tx.Status == pawn.StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active, "exactly one active transaction per chain")

	assert.Equal(t, 1, e.observer.operations["partial_payment/conflict"])
}

func TestChain_NotFound(t *testing.T) {
	e := newTestEngine(t)
	a := originate(t, e)
	b := originate(t, e)

	_, err := e.ProcessRenewal(ctxBG, "no-such-ticket", a.Transaction.ID, money("0"), date("2024-01-10"), "teller-1")
	var nf *pawn.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ticket", nf.Kind)

	_, err = e.ProcessRenewal(ctxBG, a.Ticket.ID, b.Transaction.ID, money("0"), date("2024-01-10"), "teller-1")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "transaction", nf.Kind, "transaction of another ticket")
}

// =============================================================================
// PRINCIPAL PROPAGATION AND CHARGES
// =============================================================================

func TestChain_AdditionalLoan(t *testing.T) {
	// GIVEN: 1,000 loan, still within term
	// WHEN: Borrowing 500 more on 2024-01-20
	// THEN: New principal 1,500; interest 30 + service 5 deducted from the 500

	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessAdditionalLoan(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("500"), date("2024-01-20"), "teller-2")
	require.NoError(t, err)

	tx := res.Transaction
	assertMoney(t, "1000.00", tx.PrincipalAmount)
	assertMoney(t, "500.00", tx.AdjustmentAmount)
	assertMoney(t, "1500.00", tx.NewPrincipalLoan)
	assertMoney(t, "30.00", tx.InterestAmount)
	assertMoney(t, "0.00", tx.PenaltyAmount)
	assertMoney(t, "5.00", tx.ServiceCharge)
	assertMoney(t, "465.00", tx.NetProceeds)
	assertMoney(t, "0.00", tx.AmountDue)
	assert.Equal(t, "2024-02-19", tx.MaturityDate.String(), "new term starts on the transaction date")
	assert.Equal(t, "teller-2", tx.CreatedBy)
}

func TestChain_AdditionalLoanSmallerThanFees(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	// 10 more: interest 20.20 + service 5 exceed it, the pawner pays the rest
	res, err := e.ProcessAdditionalLoan(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("10"), date("2024-01-20"), "teller-2")
	require.NoError(t, err)

	assertMoney(t, "0.00", res.Transaction.NetProceeds)
	assertMoney(t, "15.20", res.Transaction.AmountDue)
}

func TestChain_PartialPayment(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessPartialPayment(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("400"), date("2024-01-25"), "teller-1")
	require.NoError(t, err)

	tx := res.Transaction
	assertMoney(t, "-400.00", tx.AdjustmentAmount)
	assertMoney(t, "600.00", tx.NewPrincipalLoan)
	assertMoney(t, "12.00", tx.InterestAmount)
	assertMoney(t, "5.00", tx.ServiceCharge)
	assertMoney(t, "417.00", tx.AmountDue)
}

func TestChain_PartialPaymentClampedAtPrincipal(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessPartialPayment(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("1500"), date("2024-01-25"), "teller-1")
	require.NoError(t, err)

	tx := res.Transaction
	assertMoney(t, "-1000.00", tx.AdjustmentAmount)
	assertMoney(t, "0.00", tx.NewPrincipalLoan)
	assertMoney(t, "0.00", tx.InterestAmount)
	assertMoney(t, "0.00", tx.ServiceCharge)
	assertMoney(t, "1000.00", tx.AmountDue)
}

func TestChain_RenewalAfterGrace(t *testing.T) {
	// GIVEN: 1,000 loan matured 2024-01-31, grace until 02-03
	// WHEN: Renewed on 2024-02-10 (7 effective days overdue)
	// THEN: Monthly penalty 20 + interest 20 + service 5 = 45 due;
	//       new term from 02-10 (leap year: maturity 03-11)

	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessRenewal(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-02-10"), "teller-1")
	require.NoError(t, err)

	tx := res.Transaction
	assertMoney(t, "1000.00", tx.NewPrincipalLoan)
	assertMoney(t, "20.00", tx.PenaltyAmount)
	assertMoney(t, "45.00", tx.AmountDue)
	assert.Equal(t, pawn.PenaltyMonthly, res.Charges.Penalty.Method)
	assert.Equal(t, 10, res.Charges.Penalty.DaysOverdue)
	assert.Equal(t, "2024-03-11", tx.MaturityDate.String())
	assert.Equal(t, "2024-03-14", tx.GraceDate.String())
	assert.Equal(t, "2024-06-11", tx.ExpiryDate.String())
}

func TestChain_AsOfBeforeGrantedDate(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	_, err := e.ProcessRenewal(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2023-12-31"), "teller-1")
	assert.ErrorIs(t, err, pawn.ErrValidation)
}

func TestChain_AmountValidation(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	_, err := e.ProcessAdditionalLoan(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-01-10"), "teller-1")
	assert.ErrorIs(t, err, pawn.ErrValidation)

	_, err = e.ProcessPartialPayment(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("-5"), date("2024-01-10"), "teller-1")
	assert.ErrorIs(t, err, pawn.ErrValidation)

	_, err = e.Process(ctxBG, pawn.Operation{
		TicketID: t1.Ticket.ID, TransactionID: t1.Transaction.ID, Type: pawn.TxNewLoan,
		Amount: money("1"), AsOf: date("2024-01-10"),
	})
	assert.ErrorIs(t, err, pawn.ErrValidation, "new_loan is not a chain operation")
}

// =============================================================================
// REDEMPTION AND DEFAULT
// =============================================================================

func TestChain_Redemption(t *testing.T) {
	// GIVEN: A 1,000 loan past its grace period
	// WHEN: Redeemed on 2024-02-10
	// THEN: 1,000 + penalty 20 + service 5 = 1,025; ticket closed, no successor

	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessRedemption(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("1025"), date("2024-02-10"), "teller-1")
	require.NoError(t, err)

	assertMoney(t, "1025.00", res.Charges.AmountDue)
	assertMoney(t, "20.00", res.Charges.Penalty.Amount)
	assert.Equal(t, pawn.StatusRedeemed, res.Transaction.Status)
	assert.Equal(t, pawn.StatusRedeemed, res.Ticket.Status)
	require.NotNil(t, res.Ticket.ClosedAt)

	ticket, history, err := e.GetTicket(ctxBG, t1.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, pawn.StatusRedeemed, ticket.Status)
	assert.Len(t, history, 1)

	_, err = e.ProcessRenewal(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-02-11"), "teller-1")
	var conflict *pawn.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, pawn.StatusRedeemed, conflict.Status)
}

func TestChain_ExpiredTicket(t *testing.T) {
	// GIVEN: A loan that expired on 2024-05-01
	// WHEN: Renewing on 2024-05-02, then defaulting
	// THEN: Renewal is rejected; default succeeds only after expiry

	e := newTestEngine(t)
	t1 := originate(t, e)

	_, err := e.ProcessRenewal(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-05-02"), "teller-1")
	assert.ErrorIs(t, err, pawn.ErrValidation)

	_, err = e.ProcessDefault(ctxBG, t1.Ticket.ID, t1.Transaction.ID, date("2024-05-01"), "manager")
	assert.ErrorIs(t, err, pawn.ErrValidation, "not yet expired")

	res, err := e.ProcessDefault(ctxBG, t1.Ticket.ID, t1.Transaction.ID, date("2024-05-02"), "manager")
	require.NoError(t, err)
	assert.Equal(t, pawn.StatusDefaulted, res.Ticket.Status)
	assert.Equal(t, pawn.StatusDefaulted, res.Transaction.Status)

	_, err = e.ProcessRedemption(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-05-03"), "teller-1")
	assert.True(t, pawn.IsConflict(err))
}

func TestChain_RedemptionAfterExpiryAllowed(t *testing.T) {
	e := newTestEngine(t)
	t1 := originate(t, e)

	res, err := e.ProcessRedemption(ctxBG, t1.Ticket.ID, t1.Transaction.ID, money("0"), date("2024-05-10"), "teller-1")
	require.NoError(t, err)
	assertMoney(t, "20.00", res.Charges.Penalty.Amount, "flat monthly penalty")
	assertMoney(t, "1025.00", res.Charges.AmountDue)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestChain_ConcurrentOperations_OneWins(t *testing.T) {
	// GIVEN: An active ticket
	// WHEN: Many requests act on the same head at once
	// THEN: Exactly one succeeds; every loser gets a ConflictError

	e := newTestEngine(t)
	t1 := originate(t, e)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := pawn.TxPartialPayment
			if i%2 == 0 {
				op = pawn.TxRedemption
			}
			_, err := e.Process(ctxBG, pawn.Operation{
				TicketID:      t1.Ticket.ID,
				TransactionID: t1.Transaction.ID,
				Type:          op,
				Amount:        money("100"),
				AsOf:          date("2024-01-15"),
				Actor:         "teller",
			})

			mu.Lock()
			defer mu.Unlock()
			var conflict *pawn.ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
}

// =============================================================================
// PURE HELPERS
// =============================================================================

func TestPropagatePrincipal(t *testing.T) {
	p, adj := pawn.PropagatePrincipal(pawn.TxAdditionalLoan, money("1000"), money("250"))
	assertMoney(t, "1250.00", p)
	assertMoney(t, "250.00", adj)

	p, adj = pawn.PropagatePrincipal(pawn.TxPartialPayment, money("1000"), money("250"))
	assertMoney(t, "750.00", p)
	assertMoney(t, "-250.00", adj)

	p, adj = pawn.PropagatePrincipal(pawn.TxRenewal, money("1000"), money("250"))
	assertMoney(t, "1000.00", p)
	assertMoney(t, "0.00", adj)
}

func TestCheckEligible(t *testing.T) {
	ticket := pawn.Ticket{ID: "T", Status: pawn.StatusActive}
	head := pawn.Transaction{ID: "B", TicketID: "T", Status: pawn.StatusActive}
	stale := pawn.Transaction{ID: "A", TicketID: "T", Status: pawn.StatusSuperseded}

	assert.NoError(t, pawn.CheckEligible(ticket, head, head))
	assert.True(t, pawn.IsConflict(pawn.CheckEligible(ticket, stale, head)))

	closed := ticket
	closed.Status = pawn.StatusRedeemed
	assert.True(t, pawn.IsConflict(pawn.CheckEligible(closed, head, head)))
}
