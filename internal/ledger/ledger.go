// Package ledger tracks net positions per (account, instrument) and is
// the single source of truth for smart-order reconciliation.
package ledger

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Key identifies one position entry.
type Key struct {
	Account    string
	Instrument models.Instrument
}

const lockStripes = 64

// Ledger holds net positions. Positive = net long, negative = net
// short, zero = flat. Entries are zeroed on flatten, never deleted, so
// historical lookups stay valid.
//
// Apply is the only mutator. Reads and writes for a given key are
// serialized via striped key locks; callers running a read-reconcile-
// apply sequence hold the same lock through WithKeyLock so two
// concurrent smart orders cannot both compute against a stale current
// position.
type Ledger struct {
	mu        sync.RWMutex
	positions map[Key]int

	keyLocks [lockStripes]sync.Mutex

	store  *Store // optional persistence, may be nil
	logger zerolog.Logger
}

// New creates a ledger. If a store is provided, persisted positions are
// loaded so the ledger survives restarts.
func New(store *Store, logger zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		positions: make(map[Key]int),
		store:     store,
		logger:    logger,
	}

	if store != nil {
		positions, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		l.positions = positions
	}

	return l, nil
}

// Get returns the net quantity for the key, 0 for an instrument never
// seen.
func (l *Ledger) Get(account string, instrument models.Instrument) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[Key{Account: account, Instrument: instrument}]
}

// Apply adjusts the net quantity by the fill's signed quantity and
// returns the new net position.
func (l *Ledger) Apply(ctx context.Context, fill models.Fill) (int, error) {
	key := Key{Account: fill.Account, Instrument: fill.Instrument}

	l.mu.Lock()
	net := l.positions[key] + fill.SignedQuantity()
	l.positions[key] = net
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Upsert(ctx, key, net); err != nil {
			return net, err
		}
	}

	l.logger.Debug().
		Str("account", fill.Account).
		Str("symbol", fill.Instrument.Key()).
		Int("delta", fill.SignedQuantity()).
		Int("net", net).
		Msg("Position updated")

	return net, nil
}

// WithKeyLock serializes fn against every other caller for the same
// (account, instrument) key. The smart-order path runs its whole
// read-reconcile-place-apply sequence under this lock.
func (l *Ledger) WithKeyLock(account string, instrument models.Instrument, fn func() error) error {
	lock := &l.keyLocks[stripe(account, instrument)]
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Positions returns a snapshot of all non-historical entries for an
// account, including zeroed ones.
func (l *Ledger) Positions(account string) map[models.Instrument]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[models.Instrument]int)
	for key, net := range l.positions {
		if key.Account == account {
			out[key.Instrument] = net
		}
	}
	return out
}

func stripe(account string, instrument models.Instrument) uint32 {
	h := fnv.New32a()
	h.Write([]byte(account))
	h.Write([]byte{0})
	h.Write([]byte(instrument.Key()))
	return h.Sum32() % lockStripes
}
