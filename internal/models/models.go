// Package models provides the canonical, broker-agnostic domain model.
package models

import (
	"fmt"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

// ValidExchanges lists every exchange the gateway understands.
var ValidExchanges = []Exchange{NSE, BSE, NFO, BFO, CDS, MCX}

// Action represents the side of an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// PriceType represents the pricing mode of an order.
type PriceType string

const (
	PriceTypeMarket    PriceType = "MARKET"
	PriceTypeLimit     PriceType = "LIMIT"
	PriceTypeStopLoss  PriceType = "SL"
	PriceTypeStopLossM PriceType = "SL-M"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductCNC  ProductType = "CNC"  // Delivery
	ProductNRML ProductType = "NRML" // F&O Normal
)

// Instrument is the canonical instrument identity used everywhere
// outside broker boundaries. It is immutable and usable as a map key.
type Instrument struct {
	Symbol   string
	Exchange Exchange
}

// Key returns the canonical "EXCHANGE:SYMBOL" form of the instrument.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.Symbol)
}

func (i Instrument) String() string {
	return i.Key()
}

// Tick represents a single real-time market data update, already
// resolved back to canonical instrument identity.
type Tick struct {
	Instrument   Instrument
	LTP          float64
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	BuyQuantity  int64
	SellQuantity int64
	BidPrice     float64
	AskPrice     float64
	Timestamp    time.Time
}
