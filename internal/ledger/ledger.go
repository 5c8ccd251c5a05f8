package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"solana-copy-bot/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger is the single owner of all open positions and of the set of
// already-processed source signatures. The watcher and the exit evaluator
// only ever read snapshots or commit results through its methods; no caller
// holds a reference into the ledger across a network call.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*models.Position

	sigSet   map[string]struct{}
	sigOrder []string // processing order, oldest first, for FIFO eviction
	sigLimit int

	processedCount uint64
	executedTrades uint64

	changed chan struct{} // coalesced dirty signal for the persistence loop
}

// NewLedger creates an empty ledger. sigLimit bounds the processed-signature
// set: the oldest entries are evicted once the limit is exceeded. The limit
// must dwarf the per-cycle fetch window or idempotence breaks.
func NewLedger(sigLimit int) *Ledger {
	return &Ledger{
		positions: make(map[string]*models.Position),
		sigSet:    make(map[string]struct{}),
		sigLimit:  sigLimit,
		changed:   make(chan struct{}, 1),
	}
}

// Changed returns a channel that receives a signal after any mutation.
// Signals are coalesced; the consumer should snapshot on each receive.
func (l *Ledger) Changed() <-chan struct{} {
	return l.changed
}

func (l *Ledger) markDirty() {
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

// Restore loads previously persisted state. It replaces all current content
// and is only meant to be called once, before the loops start.
func (l *Ledger) Restore(state *models.BotState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*models.Position, len(state.Positions))
	for i := range state.Positions {
		p := state.Positions[i]
		if p.Quantity > 0 {
			l.positions[p.Mint] = &p
		}
	}
	l.sigSet = make(map[string]struct{}, len(state.ProcessedSignatures))
	l.sigOrder = append([]string(nil), state.ProcessedSignatures...)
	for _, sig := range l.sigOrder {
		l.sigSet[sig] = struct{}{}
	}
	l.processedCount = state.ProcessedCount
	l.executedTrades = state.ExecutedTrades
}

// Snapshot returns a deep copy of the ledger as persistable state.
func (l *Ledger) Snapshot() *models.BotState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := &models.BotState{
		Version:             models.StateVersion,
		Positions:           make([]models.Position, 0, len(l.positions)),
		ProcessedSignatures: append([]string(nil), l.sigOrder...),
		ProcessedCount:      l.processedCount,
		ExecutedTrades:      l.executedTrades,
		LastUpdateTime:      time.Now(),
	}
	for _, p := range l.positions {
		state.Positions = append(state.Positions, *p)
	}
	sort.Slice(state.Positions, func(i, j int) bool {
		return state.Positions[i].OpenedAt.Before(state.Positions[j].OpenedAt)
	})
	return state
}

// Positions returns copies of all open positions, oldest first.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// HasPosition reports whether a position is currently held for the mint.
func (l *Ledger) HasPosition(mint string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[mint]
	return ok
}

// OpenPosition records a freshly acquired position. The entry price is fixed
// here and never revised afterwards. Opening a mint that is already held is
// rejected: position quantity must never grow after the open.
func (l *Ledger) OpenPosition(pos models.Position) error {
	if pos.Quantity == 0 {
		return fmt.Errorf("refusing to open empty position for %s", pos.Mint)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[pos.Mint]; exists {
		return fmt.Errorf("position for %s already open", pos.Mint)
	}
	p := pos
	l.positions[pos.Mint] = &p
	l.markDirty()
	return nil
}

// Reduce decrements a position after a successful partial or full exit.
// BaseSpentLamports shrinks proportionally so the remainder still reflects
// what is at stake. Returns the remaining quantity; zero means closed.
func (l *Ledger) Reduce(mint string, sold uint64) (remaining uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[mint]
	if !ok {
		return 0, fmt.Errorf("no open position for %s", mint)
	}
	if sold > p.Quantity {
		return 0, fmt.Errorf("cannot sell %d of %s, only %d held", sold, mint, p.Quantity)
	}

	// proportional reduction keeps realized-loss accounting honest;
	// base*sold can exceed uint64, so the intermediate math uses decimal
	reduced := decimal.NewFromUint64(p.BaseSpentLamports).
		Mul(decimal.NewFromUint64(sold)).
		Div(decimal.NewFromUint64(p.Quantity)).
		Truncate(0)
	p.BaseSpentLamports -= reduced.BigInt().Uint64()
	p.Quantity -= sold

	if p.Quantity == 0 {
		delete(l.positions, mint)
	}
	l.markDirty()
	return p.Quantity, nil
}

// Close removes a position unconditionally (full stop-loss exit, or a
// remainder below the dust threshold).
func (l *Ledger) Close(mint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, mint)
	l.markDirty()
}

// UpdateLastPrice stores the most recent observed price for display only.
func (l *Ledger) UpdateLastPrice(mint string, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[mint]; ok {
		p.LastPrice = price
	}
}

// MarkProcessed inserts a signature into the processed set. It returns false
// when the signature was already present, which is what makes reprocessing
// idempotent. Insertion evicts the oldest entries beyond the configured bound.
func (l *Ledger) MarkProcessed(sig string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sigSet[sig]; ok {
		return false
	}
	l.sigSet[sig] = struct{}{}
	l.sigOrder = append(l.sigOrder, sig)
	l.processedCount++

	for l.sigLimit > 0 && len(l.sigOrder) > l.sigLimit {
		oldest := l.sigOrder[0]
		l.sigOrder = l.sigOrder[1:]
		delete(l.sigSet, oldest)
	}
	l.markDirty()
	return true
}

// IsProcessed reports whether the signature has already been handled.
func (l *Ledger) IsProcessed(sig string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sigSet[sig]
	return ok
}

// RecordTrade bumps the executed-trade counter.
func (l *Ledger) RecordTrade() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executedTrades++
	l.markDirty()
}

// Counters returns the cumulative processed-signature and executed-trade counts.
func (l *Ledger) Counters() (processed, executed uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.processedCount, l.executedTrades
}
