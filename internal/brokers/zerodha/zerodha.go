// Package zerodha provides the Zerodha Kite Connect transport: order
// placement over the Kite SDK and tick streaming over the Kite
// websocket ticker.
package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
	"github.com/marketcalls/openalgo-sub020/internal/translate"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Transport implements the registry transport boundary for Zerodha.
type Transport struct {
	client    *kiteconnect.Client
	apiKey    string
	apiSecret string

	mu          sync.Mutex
	accessToken string
}

// NewTransport creates a Zerodha transport from credentials.
func NewTransport(creds config.BrokerCredentials) *Transport {
	return &Transport{
		client:    kiteconnect.New(creds.APIKey),
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
	}
}

// Authenticate establishes a Kite session. Kite access tokens are
// issued by the interactive login flow and expire early next morning;
// a previously issued token in the credentials is accepted as-is.
func (t *Transport) Authenticate(ctx context.Context, creds config.BrokerCredentials) (string, error) {
	if creds.AccessToken != "" {
		t.setToken(creds.AccessToken)
		return creds.AccessToken, nil
	}

	hint := ""
	if creds.TOTPSecret != "" {
		if code, err := t.TOTPCode(creds.TOTPSecret); err == nil {
			hint = fmt.Sprintf(" (current TOTP: %s)", code)
		}
	}
	return "", fmt.Errorf("%w: visit %s and complete login%s, then run auth with the request token",
		errors.ErrNotAuthenticated, t.client.GetLoginURL(), hint)
}

// CompleteLogin exchanges the request token from the Kite login
// redirect for an access token.
func (t *Transport) CompleteLogin(ctx context.Context, requestToken string) (string, error) {
	session, err := t.client.GenerateSession(requestToken, t.apiSecret)
	if err != nil {
		return "", fmt.Errorf("generating kite session: %w", err)
	}
	t.setToken(session.AccessToken)
	return session.AccessToken, nil
}

// TOTPCode returns the current 2FA code for the login flow.
func (t *Transport) TOTPCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

func (t *Transport) setToken(token string) {
	t.mu.Lock()
	t.accessToken = token
	t.client.SetAccessToken(token)
	t.mu.Unlock()
}

// SubmitOrder places an order through the Kite SDK. The SDK result is
// re-encoded into Kite's wire response shape so the translator
// normalizes all brokers through one path.
func (t *Transport) SubmitOrder(ctx context.Context, order *translate.BrokerOrder, token string) (translate.RawResponse, error) {
	params := kiteconnect.OrderParams{
		Exchange:        order.Exchange,
		Tradingsymbol:   order.Symbol,
		TransactionType: order.TransactionType,
		OrderType:       order.OrderType,
		Product:         order.Product,
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        order.Validity,
		Tag:             order.Tag,
	}

	type placeResult struct {
		resp kiteconnect.OrderResponse
		err  error
	}
	done := make(chan placeResult, 1)
	go func() {
		resp, err := t.client.PlaceOrder(kiteconnect.VarietyRegular, params)
		done <- placeResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return translate.RawResponse{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return encodeError(res.err), nil
		}
		return encodeOrderID(res.resp.OrderID), nil
	}
}

// CancelOrder cancels an already-dispatched order.
func (t *Transport) CancelOrder(ctx context.Context, orderID, token string) (translate.RawResponse, error) {
	type cancelResult struct {
		resp kiteconnect.OrderResponse
		err  error
	}
	done := make(chan cancelResult, 1)
	go func() {
		resp, err := t.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
		done <- cancelResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return translate.RawResponse{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return encodeError(res.err), nil
		}
		return encodeOrderID(res.resp.OrderID), nil
	}
}

// DownloadMasterContract fetches the full Kite instrument dump.
func (t *Transport) DownloadMasterContract(ctx context.Context) ([]symbols.Record, error) {
	instruments, err := t.client.GetInstruments()
	if err != nil {
		return nil, fmt.Errorf("downloading kite instruments: %w", err)
	}

	records := make([]symbols.Record, 0, len(instruments))
	for _, inst := range instruments {
		records = append(records, symbols.Record{
			Instrument: models.Instrument{
				Symbol:   inst.Tradingsymbol,
				Exchange: models.Exchange(inst.Exchange),
			},
			BrokerSymbol: inst.Tradingsymbol,
			BrokerToken:  strconv.Itoa(inst.InstrumentToken),
			LotSize:      int(inst.LotSize),
			TickSize:     inst.TickSize,
			Expiry:       inst.Expiry.Time,
			Strike:       inst.StrikePrice,
			Segment:      inst.Segment,
		})
	}
	return records, nil
}

// OpenFeed opens the Kite websocket ticker.
func (t *Transport) OpenFeed(ctx context.Context, token string) (stream.Feed, error) {
	t.mu.Lock()
	accessToken := t.accessToken
	t.mu.Unlock()
	if accessToken == "" {
		accessToken = token
	}
	return newFeed(t.apiKey, accessToken), nil
}

func encodeOrderID(orderID string) translate.RawResponse {
	body, _ := json.Marshal(map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"order_id": orderID},
	})
	return translate.RawResponse{Body: body}
}

func encodeError(err error) translate.RawResponse {
	body, _ := json.Marshal(map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
	return translate.RawResponse{Body: body}
}
