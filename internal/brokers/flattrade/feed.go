package flattrade

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// feed adapts the Noren websocket to the stream feed boundary. The
// wire protocol is JSON text frames: a connect frame carrying the
// session token, touchline subscribe frames keyed "EXCHANGE|TOKEN",
// and tick frames typed "tk" (snapshot) or "tf" (update).
type feed struct {
	wsURL     string
	userID    string
	accountID string
	token     string

	mu      sync.RWMutex
	writeMu sync.Mutex

	conn      *websocket.Conn
	connected bool
	closed    bool

	onTick       func(token string, tick models.Tick)
	onDisconnect func(err error)
}

func newFeed(wsURL, userID, accountID, token string) *feed {
	return &feed{
		wsURL:     wsURL,
		userID:    userID,
		accountID: accountID,
		token:     token,
	}
}

type connectFrame struct {
	T          string `json:"t"`
	UID        string `json:"uid"`
	ActID      string `json:"actid"`
	SUserToken string `json:"susertoken"`
	Source     string `json:"source"`
}

type subscribeFrame struct {
	T string `json:"t"`
	K string `json:"k"`
}

// tickFrame covers every frame the server sends. Noren encodes all
// numeric fields as strings.
type tickFrame struct {
	T            string `json:"t"`
	Status       string `json:"s"`
	Exchange     string `json:"e"`
	Token        string `json:"tk"`
	LTP          string `json:"lp"`
	Open         string `json:"o"`
	High         string `json:"h"`
	Low          string `json:"l"`
	Close        string `json:"c"`
	Volume       string `json:"v"`
	TotalBuyQty  string `json:"tbq"`
	TotalSellQty string `json:"tsq"`
	BidPrice     string `json:"bp1"`
	AskPrice     string `json:"sp1"`
	FeedTime     string `json:"ft"`
}

// Connect dials the websocket, sends the connect frame, and waits for
// the server acknowledgement before starting the read loop.
func (f *feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.closed = false
	f.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing flattrade websocket: %w", err)
	}

	frame := connectFrame{
		T:          "c",
		UID:        f.userID,
		ActID:      f.accountID,
		SUserToken: f.token,
		Source:     "API",
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return fmt.Errorf("sending flattrade connect frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack tickFrame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("reading flattrade connect ack: %w", err)
	}
	if ack.T != "ck" || !strings.EqualFold(ack.Status, "OK") {
		conn.Close()
		return fmt.Errorf("flattrade websocket rejected session: %s", ack.Status)
	}
	conn.SetReadDeadline(time.Time{})

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	go f.readLoop(conn)
	return nil
}

// Close tears down the websocket without firing OnDisconnect.
func (f *feed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe sends a touchline subscribe frame for the given
// "EXCHANGE|TOKEN" keys.
func (f *feed) Subscribe(tokens []string) error {
	return f.sendKeys("t", tokens)
}

// Unsubscribe sends a touchline unsubscribe frame.
func (f *feed) Unsubscribe(tokens []string) error {
	return f.sendKeys("u", tokens)
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

func (f *feed) sendKeys(frameType string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	f.mu.RLock()
	connected := f.connected
	conn := f.conn
	f.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("flattrade websocket not connected")
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	frame := subscribeFrame{T: frameType, K: strings.Join(tokens, "#")}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("sending flattrade %s frame: %w", frameType, err)
	}
	return nil
}

func (f *feed) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			wasConnected := f.connected && f.conn == conn
			if wasConnected {
				f.connected = false
				f.conn = nil
			}
			closed := f.closed
			handler := f.onDisconnect
			f.mu.Unlock()

			if wasConnected && !closed && handler != nil {
				handler(fmt.Errorf("flattrade websocket read: %w", err))
			}
			return
		}

		var frame tickFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.T != "tk" && frame.T != "tf" {
			continue
		}

		f.mu.RLock()
		handler := f.onTick
		f.mu.RUnlock()
		if handler == nil {
			continue
		}

		handler(frame.Exchange+"|"+frame.Token, convertFrame(frame))
	}
}

func convertFrame(frame tickFrame) models.Tick {
	tick := models.Tick{
		LTP:          parseFloat(frame.LTP),
		Open:         parseFloat(frame.Open),
		High:         parseFloat(frame.High),
		Low:          parseFloat(frame.Low),
		Close:        parseFloat(frame.Close),
		Volume:       parseInt(frame.Volume),
		BuyQuantity:  parseInt(frame.TotalBuyQty),
		SellQuantity: parseInt(frame.TotalSellQty),
		BidPrice:     parseFloat(frame.BidPrice),
		AskPrice:     parseFloat(frame.AskPrice),
		Timestamp:    time.Now(),
	}
	if epoch := parseInt(frame.FeedTime); epoch > 0 {
		tick.Timestamp = time.Unix(epoch, 0)
	}
	return tick
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
