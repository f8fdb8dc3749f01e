package pawn_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
	"github.com/warp/pawn-engine/pawn/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingObserver counts events.
type recordingObserver struct {
	mu           sync.Mutex
	calculations map[pawn.CalculationKind]int
	operations   map[string]int // "op/outcome"
	fallbacks    int
	dropped      int
	failed       int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		calculations: make(map[pawn.CalculationKind]int),
		operations:   make(map[string]int),
	}
}

func (o *recordingObserver) CalculationCompleted(kind pawn.CalculationKind, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calculations[kind]++
}

func (o *recordingObserver) ChainOperation(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.operations[op+"/"+outcome]++
}

func (o *recordingObserver) ConfigFallback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

func (o *recordingObserver) AuditLogDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *recordingObserver) AuditLogFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) counts() (fallbacks, dropped, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallbacks, o.dropped, o.failed
}

type testEngine struct {
	*pawn.Engine
	store    *store.Memory
	clock    *fakeClock
	observer *recordingObserver
	logger   *pawn.CalculationLogger
}

// newTestEngine wires an engine over a seeded in-memory store.
func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	mem := store.NewMemory()
	clock := newFakeClock()
	observer := newRecordingObserver()

	configs := pawn.NewConfigStore(mem, pawn.NewCache[pawn.Config](pawn.DefaultCacheTTL, clock), observer)
	require.NoError(t, configs.Seed(ctxBG, pawn.DefaultParameters(), pawn.DefaultBrackets(), "system"))

	chain := pawn.NewChain(mem, clock)
	logger := pawn.NewCalculationLogger(mem, 64, observer)
	t.Cleanup(logger.Close)

	return &testEngine{
		Engine:   pawn.NewEngine(configs, chain, logger, observer),
		store:    mem,
		clock:    clock,
		observer: observer,
		logger:   logger,
	}
}

func date(s string) pawn.Date {
	d, err := pawn.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func money(s string) decimal.Decimal { return pawn.MustParseDecimal(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(pawn.MoneyPlaces), msgAndArgs...)
}
