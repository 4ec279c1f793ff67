package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Store persists position entries to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the position store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open position store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize position schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		account TEXT NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		net_quantity INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account, exchange, symbol)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert writes the current net quantity for a key. Zeroed positions
// are kept, matching the ledger's never-delete lifecycle.
func (s *Store) Upsert(ctx context.Context, key Key, net int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (account, exchange, symbol, net_quantity, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account, exchange, symbol)
		DO UPDATE SET net_quantity = excluded.net_quantity, updated_at = CURRENT_TIMESTAMP`,
		key.Account, string(key.Instrument.Exchange), key.Instrument.Symbol, net)
	return err
}

// LoadAll returns every persisted position entry.
func (s *Store) LoadAll() (map[Key]int, error) {
	rows, err := s.db.Query(`SELECT account, exchange, symbol, net_quantity FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make(map[Key]int)
	for rows.Next() {
		var account, exchange, symbol string
		var net int
		if err := rows.Scan(&account, &exchange, &symbol, &net); err != nil {
			return nil, err
		}
		positions[Key{
			Account:    account,
			Instrument: models.Instrument{Symbol: symbol, Exchange: models.Exchange(exchange)},
		}] = net
	}

	return positions, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
