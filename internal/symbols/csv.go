package symbols

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// masterRow is one line of a kite-format master contract dump. Most
// Indian brokers publish this CSV layout (or a close variant of it).
type masterRow struct {
	InstrumentToken string  `csv:"instrument_token"`
	ExchangeToken   string  `csv:"exchange_token"`
	TradingSymbol   string  `csv:"tradingsymbol"`
	Name            string  `csv:"name"`
	Expiry          string  `csv:"expiry"`
	Strike          float64 `csv:"strike"`
	TickSize        float64 `csv:"tick_size"`
	LotSize         int     `csv:"lot_size"`
	InstrumentType  string  `csv:"instrument_type"`
	Segment         string  `csv:"segment"`
	Exchange        string  `csv:"exchange"`
}

// ParseMasterCSV parses a kite-format master contract CSV stream into
// symbol records. Rows on exchanges the gateway does not trade are
// skipped, not errors.
func ParseMasterCSV(r io.Reader) ([]Record, error) {
	var rows []masterRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing master contract csv: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		exchange := models.Exchange(row.Exchange)
		if !knownExchange(exchange) {
			continue
		}

		rec := Record{
			Instrument: models.Instrument{
				Symbol:   row.TradingSymbol,
				Exchange: exchange,
			},
			BrokerSymbol: row.TradingSymbol,
			BrokerToken:  row.InstrumentToken,
			LotSize:      row.LotSize,
			TickSize:     row.TickSize,
			Strike:       row.Strike,
			Segment:      row.Segment,
		}
		if row.Expiry != "" {
			if expiry, err := time.Parse("2006-01-02", row.Expiry); err == nil {
				rec.Expiry = expiry
			}
		}
		records = append(records, rec)
	}

	return records, nil
}

func knownExchange(exchange models.Exchange) bool {
	for _, e := range models.ValidExchanges {
		if e == exchange {
			return true
		}
	}
	return false
}
