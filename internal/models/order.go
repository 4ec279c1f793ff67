package models

import (
	"fmt"
	"time"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
)

// OrderStatus is the normalized outcome of an order placement.
type OrderStatus string

const (
	StatusAccepted OrderStatus = "ACCEPTED"
	StatusRejected OrderStatus = "REJECTED"
)

// Order is the canonical order request. Price is required for LIMIT and
// SL orders; TriggerPrice is required for SL and SL-M orders.
type Order struct {
	Instrument   Instrument
	Action       Action
	Quantity     int
	Product      ProductType
	PriceType    PriceType
	Price        float64
	TriggerPrice float64
	Validity     string // DAY, IOC
	Tag          string
}

// OrderResult is the canonical result of an order placement, normalized
// from whatever the broker returned.
type OrderResult struct {
	OrderID       string
	Status        OrderStatus
	BrokerMessage string
}

// Accepted reports whether the broker took the order.
func (r *OrderResult) Accepted() bool {
	return r.Status == StatusAccepted
}

// Err converts a rejection into an error callers can propagate. An
// accepted result returns nil; a rejection matches ErrBrokerRejected
// and carries the broker's message.
func (r *OrderResult) Err() error {
	if r.Accepted() {
		return nil
	}
	if r.BrokerMessage != "" {
		return fmt.Errorf("%w: %s", errors.ErrBrokerRejected, r.BrokerMessage)
	}
	return errors.ErrBrokerRejected
}

// SmartOrder expresses a desired net position rather than a trade delta.
// TargetPosition is the target net quantity: positive = long, negative =
// short, zero = flat.
type SmartOrder struct {
	Instrument     Instrument
	TargetPosition int
	Product        ProductType
	PriceType      PriceType
	Price          float64
	TriggerPrice   float64
	Tag            string
}

// Fill is a confirmed execution applied to the position ledger.
// BUY adds to the net quantity, SELL subtracts.
type Fill struct {
	Account    string
	Instrument Instrument
	Action     Action
	Quantity   int
	Price      float64
	OrderID    string
	FilledAt   time.Time
}

// SignedQuantity returns the ledger delta for the fill.
func (f Fill) SignedQuantity() int {
	if f.Action == ActionSell {
		return -f.Quantity
	}
	return f.Quantity
}
