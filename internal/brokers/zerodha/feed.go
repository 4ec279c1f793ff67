package zerodha

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// feed adapts the Kite websocket ticker to the stream feed boundary.
// Reconnect policy lives upstream in the normalizer, so the ticker's
// own auto-reconnect is disabled and every drop is surfaced exactly
// once through OnDisconnect.
type feed struct {
	apiKey      string
	accessToken string

	mu      sync.RWMutex
	writeMu sync.Mutex // serializes websocket writes (Subscribe, SetMode)

	ticker    *kiteticker.Ticker
	connected bool
	closed    bool

	onTick       func(token string, tick models.Tick)
	onDisconnect func(err error)
}

func newFeed(apiKey, accessToken string) *feed {
	return &feed{
		apiKey:      apiKey,
		accessToken: accessToken,
	}
}

// Connect dials the Kite websocket and blocks until the server
// acknowledges the connection. A fresh ticker is created on every call
// so the feed can be reconnected after a drop.
func (f *feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.closed = false

	ticker := kiteticker.New(f.apiKey, f.accessToken)
	ticker.SetAutoReconnect(false)
	f.ticker = ticker

	connectedCh := make(chan struct{})

	ticker.OnConnect(func() {
		f.mu.Lock()
		f.connected = true
		f.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}
	})

	ticker.OnClose(func(code int, reason string) {
		f.mu.Lock()
		wasConnected := f.connected
		f.connected = false
		closed := f.closed
		handler := f.onDisconnect
		f.mu.Unlock()

		if wasConnected && !closed && handler != nil {
			go handler(fmt.Errorf("kite ticker closed: code=%d reason=%s", code, reason))
		}
	})

	ticker.OnError(func(err error) {
		// Connection-fatal errors are followed by OnClose; transient
		// parse errors are not actionable here.
	})

	ticker.OnTick(func(tick kitemodels.Tick) {
		f.mu.RLock()
		handler := f.onTick
		f.mu.RUnlock()
		if handler == nil {
			return
		}
		token := strconv.FormatUint(uint64(tick.InstrumentToken), 10)
		handler(token, convertTick(tick))
	})

	f.mu.Unlock()

	go ticker.Serve()

	select {
	case <-ctx.Done():
		ticker.Close()
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		ticker.Close()
		return fmt.Errorf("kite ticker connection timeout")
	}
}

// Close tears down the websocket without firing OnDisconnect.
func (f *feed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	ticker := f.ticker
	f.mu.Unlock()

	if ticker != nil {
		ticker.Close()
	}
	return nil
}

// Subscribe adds instrument tokens to the live stream in quote mode.
func (f *feed) Subscribe(tokens []string) error {
	f.mu.RLock()
	connected := f.connected
	ticker := f.ticker
	f.mu.RUnlock()

	if !connected || ticker == nil {
		return fmt.Errorf("kite ticker not connected")
	}

	ids, err := parseTokens(tokens)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := ticker.Subscribe(ids); err != nil {
		return fmt.Errorf("subscribing kite tokens: %w", err)
	}
	if err := ticker.SetMode(kiteticker.ModeQuote, ids); err != nil {
		return fmt.Errorf("setting kite tick mode: %w", err)
	}
	return nil
}

// Unsubscribe removes instrument tokens from the live stream.
func (f *feed) Unsubscribe(tokens []string) error {
	f.mu.RLock()
	connected := f.connected
	ticker := f.ticker
	f.mu.RUnlock()

	if !connected || ticker == nil {
		return fmt.Errorf("kite ticker not connected")
	}

	ids, err := parseTokens(tokens)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := ticker.Unsubscribe(ids); err != nil {
		return fmt.Errorf("unsubscribing kite tokens: %w", err)
	}
	return nil
}

// OnTick registers the tick handler.
func (f *feed) OnTick(handler func(token string, tick models.Tick)) {
	f.mu.Lock()
	f.onTick = handler
	f.mu.Unlock()
}

// OnDisconnect registers the disconnect handler.
func (f *feed) OnDisconnect(handler func(err error)) {
	f.mu.Lock()
	f.onDisconnect = handler
	f.mu.Unlock()
}

func parseTokens(tokens []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		id, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid instrument token %q: %w", tok, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

func convertTick(tick kitemodels.Tick) models.Tick {
	out := models.Tick{
		LTP:          tick.LastPrice,
		Open:         tick.OHLC.Open,
		High:         tick.OHLC.High,
		Low:          tick.OHLC.Low,
		Close:        tick.OHLC.Close,
		Volume:       int64(tick.VolumeTraded),
		BuyQuantity:  int64(tick.TotalBuyQuantity),
		SellQuantity: int64(tick.TotalSellQuantity),
		Timestamp:    tick.Timestamp.Time,
	}
	if len(tick.Depth.Buy) > 0 {
		out.BidPrice = tick.Depth.Buy[0].Price
	}
	if len(tick.Depth.Sell) > 0 {
		out.AskPrice = tick.Depth.Sell[0].Price
	}
	return out
}
