// Package symbols provides canonical-to-broker symbol resolution backed
// by periodically refreshed broker master contracts.
package symbols

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Record maps a canonical instrument to a broker's symbol/token pair.
// One record per (broker, instrument); records are replaced wholesale on
// each master contract refresh.
type Record struct {
	Instrument   models.Instrument
	BrokerSymbol string
	BrokerToken  string
	LotSize      int
	TickSize     float64
	Expiry       time.Time
	Strike       float64
	Segment      string
}

// Source downloads a broker's master contract, already parsed into
// records. Each broker transport implements this for its own format.
type Source interface {
	DownloadMasterContract(ctx context.Context) ([]Record, error)
}

// table is an immutable snapshot of a broker's symbol mappings. Lookups
// hold a reference to one snapshot, so a concurrent refresh can never
// expose a mix of old and new records.
type table struct {
	bySymbol    map[models.Instrument]Record
	byToken     map[string]models.Instrument
	refreshedAt time.Time
}

func buildTable(records []Record) *table {
	t := &table{
		bySymbol:    make(map[models.Instrument]Record, len(records)),
		byToken:     make(map[string]models.Instrument, len(records)),
		refreshedAt: time.Now(),
	}
	for _, rec := range records {
		t.bySymbol[rec.Instrument] = rec
		t.byToken[rec.BrokerToken] = rec.Instrument
	}
	return t
}

// Directory resolves canonical instruments to broker symbol records for
// a single broker. Refresh atomically swaps the whole table; a failed
// refresh keeps the previous table in service.
type Directory struct {
	broker string
	source Source
	cache  *Cache // optional warm cache, may be nil
	logger zerolog.Logger

	mu    sync.RWMutex
	table *table
}

// NewDirectory creates a directory for the given broker. If a warm
// cache is provided, the last persisted table is loaded so lookups work
// before the first refresh of the day.
func NewDirectory(broker string, source Source, cache *Cache, logger zerolog.Logger) *Directory {
	d := &Directory{
		broker: broker,
		source: source,
		cache:  cache,
		logger: logger.With().Str("broker", broker).Logger(),
		table:  buildTable(nil),
	}

	if cache != nil {
		if records, err := cache.Load(broker); err == nil && len(records) > 0 {
			d.table = buildTable(records)
			d.logger.Debug().Int("records", len(records)).Msg("Symbol table warmed from cache")
		}
	}

	return d
}

// Broker returns the broker identity this directory serves.
func (d *Directory) Broker() string {
	return d.broker
}

// Resolve returns the broker symbol record for a canonical instrument.
func (d *Directory) Resolve(instrument models.Instrument) (Record, error) {
	d.mu.RLock()
	t := d.table
	d.mu.RUnlock()

	rec, ok := t.bySymbol[instrument]
	if !ok {
		return Record{}, errors.NewSymbolError(d.broker, instrument.Key())
	}
	return rec, nil
}

// ResolveToken reverse-maps a broker token to its canonical instrument.
// Used by the streaming layer to normalize inbound ticks.
func (d *Directory) ResolveToken(token string) (models.Instrument, bool) {
	d.mu.RLock()
	t := d.table
	d.mu.RUnlock()

	instrument, ok := t.byToken[token]
	return instrument, ok
}

// Refresh downloads the broker's master contract and atomically swaps
// the in-memory table. On failure the previous table stays in effect
// and a RefreshError is returned; a partial table is never served.
func (d *Directory) Refresh(ctx context.Context) error {
	started := time.Now()

	records, err := d.source.DownloadMasterContract(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Master contract download failed, keeping previous table")
		return errors.NewRefreshError(d.broker, err)
	}

	newTable := buildTable(records)

	d.mu.Lock()
	d.table = newTable
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.Save(d.broker, records); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to persist symbol table to cache")
		}
	}

	d.logger.Info().
		Int("records", len(records)).
		Dur("duration", time.Since(started)).
		Msg("Symbol table refreshed")
	return nil
}

// Records returns every record in the current table. The slice is
// built from a single snapshot, so the records are always one complete
// generation even while a refresh swaps the table.
func (d *Directory) Records() []Record {
	d.mu.RLock()
	t := d.table
	d.mu.RUnlock()

	records := make([]Record, 0, len(t.bySymbol))
	for _, rec := range t.bySymbol {
		records = append(records, rec)
	}
	return records
}

// Size returns the number of records in the current table.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.table.bySymbol)
}

// LastRefresh returns when the current table was built.
func (d *Directory) LastRefresh() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table.refreshedAt
}
