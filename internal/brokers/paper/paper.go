// Package paper provides an in-memory broker transport for paper
// trading and tests. It accepts every well-formed order immediately
// and serves a small static master contract.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
	"github.com/marketcalls/openalgo-sub020/internal/translate"
)

// Transport implements the registry transport boundary in memory.
type Transport struct {
	mu           sync.Mutex
	orderCounter int
	orders       map[string]*translate.BrokerOrder
	cancelled    map[string]bool

	// RejectNext, when set, rejects the next order with the given
	// message. Used to exercise the rejection path.
	rejectNext string

	feed *Feed
}

// NewTransport creates a paper transport.
func NewTransport() *Transport {
	return &Transport{
		orders:    make(map[string]*translate.BrokerOrder),
		cancelled: make(map[string]bool),
		feed:      NewFeed(),
	}
}

// RejectNext makes the next submitted order fail with reason.
func (t *Transport) RejectNext(reason string) {
	t.mu.Lock()
	t.rejectNext = reason
	t.mu.Unlock()
}

// Orders returns a snapshot of all accepted orders, for inspection.
func (t *Transport) Orders() map[string]*translate.BrokerOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]*translate.BrokerOrder, len(t.orders))
	for id, ord := range t.orders {
		out[id] = ord
	}
	return out
}

// Authenticate always succeeds for paper trading.
func (t *Transport) Authenticate(ctx context.Context, creds config.BrokerCredentials) (string, error) {
	return "paper-session", nil
}

// SubmitOrder records the order and acknowledges it in the same
// response dialect a JSON REST broker would use.
func (t *Transport) SubmitOrder(ctx context.Context, order *translate.BrokerOrder, token string) (translate.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return translate.RawResponse{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rejectNext != "" {
		reason := t.rejectNext
		t.rejectNext = ""
		body, _ := json.Marshal(map[string]string{
			"status":  "error",
			"message": reason,
		})
		return translate.RawResponse{HTTPStatus: 200, Body: body}, nil
	}

	t.orderCounter++
	orderID := fmt.Sprintf("PAPER-%06d", t.orderCounter)
	t.orders[orderID] = order

	body, _ := json.Marshal(map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"order_id": orderID},
	})
	return translate.RawResponse{HTTPStatus: 200, Body: body}, nil
}

// CancelOrder marks a previously accepted order cancelled.
func (t *Transport) CancelOrder(ctx context.Context, orderID, token string) (translate.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return translate.RawResponse{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[orderID]; !ok {
		body, _ := json.Marshal(map[string]string{
			"status":  "error",
			"message": "order not found: " + orderID,
		})
		return translate.RawResponse{HTTPStatus: 200, Body: body}, nil
	}

	t.cancelled[orderID] = true
	body, _ := json.Marshal(map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"order_id": orderID},
	})
	return translate.RawResponse{HTTPStatus: 200, Body: body}, nil
}

// DownloadMasterContract serves a static instrument catalog.
func (t *Transport) DownloadMasterContract(ctx context.Context) ([]symbols.Record, error) {
	specs := []struct {
		symbol  string
		token   string
		lotSize int
	}{
		{"RELIANCE", "738561", 1},
		{"TCS", "2953217", 1},
		{"INFY", "408065", 1},
		{"SBIN", "779521", 1},
		{"HDFCBANK", "341249", 1},
		{"ICICIBANK", "1270529", 1},
	}

	records := make([]symbols.Record, 0, len(specs))
	for _, s := range specs {
		records = append(records, symbols.Record{
			Instrument:   models.Instrument{Symbol: s.symbol, Exchange: models.NSE},
			BrokerSymbol: s.symbol,
			BrokerToken:  s.token,
			LotSize:      s.lotSize,
			TickSize:     0.05,
			Segment:      "NSE",
		})
	}
	return records, nil
}

// OpenFeed returns the in-memory tick feed.
func (t *Transport) OpenFeed(ctx context.Context, token string) (stream.Feed, error) {
	return t.feed, nil
}

// Feed returns the transport's feed for direct tick injection.
func (t *Transport) Feed() *Feed {
	return t.feed
}

// Feed is an in-memory tick feed. Ticks are injected with Push; tests
// and the paper simulator drive it directly.
type Feed struct {
	mu         sync.Mutex
	connected  bool
	subscribed map[string]bool

	onTick       func(token string, tick models.Tick)
	onDisconnect func(err error)
}

// NewFeed creates an in-memory feed.
func NewFeed() *Feed {
	return &Feed{subscribed: make(map[string]bool)}
}

// Connect marks the feed connected.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

// Close marks the feed disconnected without firing OnDisconnect.
func (f *Feed) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// Subscribe records interest in tokens.
func (f *Feed) Subscribe(tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, tok := range tokens {
		f.subscribed[tok] = true
	}
	return nil
}

// Unsubscribe drops interest in tokens.
func (f *Feed) Unsubscribe(tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range tokens {
		delete(f.subscribed, tok)
	}
	return nil
}

// OnTick registers the tick handler.
func (f *Feed) OnTick(handler func(token string, tick models.Tick)) {
	f.mu.Lock()
	f.onTick = handler
	f.mu.Unlock()
}

// OnDisconnect registers the disconnect handler.
func (f *Feed) OnDisconnect(handler func(err error)) {
	f.mu.Lock()
	f.onDisconnect = handler
	f.mu.Unlock()
}

// Push injects a tick for a subscribed token.
func (f *Feed) Push(token string, ltp float64) {
	f.mu.Lock()
	handler := f.onTick
	subscribed := f.connected && f.subscribed[token]
	f.mu.Unlock()

	if handler == nil || !subscribed {
		return
	}
	handler(token, models.Tick{LTP: ltp, Timestamp: time.Now()})
}

// Drop simulates a transport failure.
func (f *Feed) Drop(err error) {
	f.mu.Lock()
	f.connected = false
	handler := f.onDisconnect
	f.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
