/*
calclog.go - Best-effort audit log of computed charges

PURPOSE:
  Every successful penalty / service-charge computation and chain operation
  is recorded with its inputs, outputs and the configuration it used.

DESIGN:
  - Log never blocks: entries go onto a bounded queue drained by one
    background goroutine
  - A full queue drops the entry; a failing sink is logged and counted
  - Neither case is ever reported to the caller of the calculation
  - Close drains what is queued, then stops the worker

USAGE:
  logger := NewCalculationLogger(store, 256, observer)
  defer logger.Close()
  logger.Log(CalculationLogEntry{Kind: KindPenalty, ...})
*/
package pawn

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type CalculationKind string

const (
	KindPenalty       CalculationKind = "penalty"
	KindServiceCharge CalculationKind = "service_charge"
	KindQuote         CalculationKind = "calculate_all"
	KindDefault       CalculationKind = "default"
)

// KindOf maps a chain transaction type to its log kind.
func KindOf(t TransactionType) CalculationKind { return CalculationKind(t) }

// CalculationLogEntry is immutable once written.
type CalculationLogEntry struct {
	ID             string
	Kind           CalculationKind
	TicketID       TicketID
	TransactionID  TransactionID
	Actor          string
	Inputs         map[string]string
	Result         map[string]string
	ConfigSnapshot map[string]string
	CreatedAt      time.Time
}

// DefaultLogQueueSize bounds the number of entries waiting to be written.
const DefaultLogQueueSize = 256

const sinkTimeout = 5 * time.Second

type CalculationLogger struct {
	sink     CalculationLogStore
	observer Observer
	clock    Clock

	queue chan CalculationLogEntry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewCalculationLogger starts the writer goroutine.
func NewCalculationLogger(sink CalculationLogStore, queueSize int, observer Observer) *CalculationLogger {
	if queueSize <= 0 {
		queueSize = DefaultLogQueueSize
	}
	if observer == nil {
		observer = NopObserver{}
	}
	l := &CalculationLogger{
		sink:     sink,
		observer: observer,
		clock:    SystemClock{},
		queue:    make(chan CalculationLogEntry, queueSize),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Log queues entry for writing. It returns immediately.
func (l *CalculationLogger) Log(entry CalculationLogEntry) {
	if l == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		log.Printf("[CalcLog] Logger closed, dropping %s entry %s", entry.Kind, entry.ID)
		l.observer.AuditLogDropped()
		return
	}
	select {
	case l.queue <- entry:
	default:
		log.Printf("[CalcLog] Queue full, dropping %s entry %s", entry.Kind, entry.ID)
		l.observer.AuditLogDropped()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (l *CalculationLogger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *CalculationLogger) run() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *CalculationLogger) write(entry CalculationLogEntry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[CalcLog] Sink panicked writing %s: %v", entry.ID, r)
			l.observer.AuditLogFailed()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := l.sink.AppendCalculationLog(ctx, entry); err != nil {
		log.Printf("[CalcLog] Failed to write %s entry %s: %v", entry.Kind, entry.ID, err)
		l.observer.AuditLogFailed()
	}
}
