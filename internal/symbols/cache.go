package symbols

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Cache persists the last good symbol table per broker so a restart can
// serve lookups before the first refresh of the day.
type Cache struct {
	db *sql.DB
}

// NewCache opens (or creates) the symbol cache at dbPath.
func NewCache(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol cache: %w", err)
	}

	cache := &Cache{db: db}
	if err := cache.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize symbol cache schema: %w", err)
	}

	return cache, nil
}

func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS symbols (
		broker TEXT NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		broker_symbol TEXT NOT NULL,
		broker_token TEXT NOT NULL,
		lot_size INTEGER NOT NULL DEFAULT 1,
		tick_size REAL NOT NULL DEFAULT 0.05,
		expiry DATETIME,
		strike REAL,
		segment TEXT,
		refreshed_at DATETIME NOT NULL,
		PRIMARY KEY (broker, exchange, symbol)
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_broker_token ON symbols(broker, broker_token);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Save replaces the persisted table for a broker in a single
// transaction. Readers of the cache never see a partial table.
func (c *Cache) Save(broker string, records []Record) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM symbols WHERE broker = ?`, broker); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO symbols (broker, exchange, symbol, broker_symbol, broker_token,
			lot_size, tick_size, expiry, strike, segment, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		var expiry interface{}
		if !rec.Expiry.IsZero() {
			expiry = rec.Expiry
		}
		if _, err := stmt.Exec(
			broker,
			string(rec.Instrument.Exchange),
			rec.Instrument.Symbol,
			rec.BrokerSymbol,
			rec.BrokerToken,
			rec.LotSize,
			rec.TickSize,
			expiry,
			rec.Strike,
			rec.Segment,
			now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Load returns the persisted table for a broker, if any.
func (c *Cache) Load(broker string) ([]Record, error) {
	rows, err := c.db.Query(`
		SELECT exchange, symbol, broker_symbol, broker_token,
			lot_size, tick_size, expiry, strike, segment
		FROM symbols WHERE broker = ?`, broker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var exchange, symbol string
		var expiry sql.NullTime
		var strike sql.NullFloat64
		var segment sql.NullString
		if err := rows.Scan(&exchange, &symbol, &rec.BrokerSymbol, &rec.BrokerToken,
			&rec.LotSize, &rec.TickSize, &expiry, &strike, &segment); err != nil {
			return nil, err
		}
		rec.Instrument = models.Instrument{Symbol: symbol, Exchange: models.Exchange(exchange)}
		if expiry.Valid {
			rec.Expiry = expiry.Time
		}
		if strike.Valid {
			rec.Strike = strike.Float64
		}
		if segment.Valid {
			rec.Segment = segment.String
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
