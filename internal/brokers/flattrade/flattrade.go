// Package flattrade provides the Flattrade transport. Flattrade speaks
// the Noren REST dialect: JSON payloads posted as jData form fields
// with the session token in jKey, and "stat":"Ok"/"Not_Ok" responses.
package flattrade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/pquerna/otp/totp"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
	"github.com/marketcalls/openalgo-sub020/internal/translate"
)

// Options carries the endpoint set from the broker descriptor.
type Options struct {
	BaseURL           string
	WebsocketURL      string
	MasterContractURL string
}

// Transport implements the registry transport boundary for Flattrade.
type Transport struct {
	httpClient *http.Client
	opts       Options
	userID     string
	accountID  string
}

// NewTransport creates a Flattrade transport.
func NewTransport(creds config.BrokerCredentials, opts Options) *Transport {
	return &Transport{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		opts:       opts,
		userID:     creds.UserID,
		accountID:  creds.UserID,
	}
}

// norenForm is the envelope every Noren endpoint accepts: a JSON
// payload in jData and the session token in jKey.
type norenForm struct {
	JData string `url:"jData"`
	JKey  string `url:"jKey,omitempty"`
}

type loginRequest struct {
	UID        string `json:"uid"`
	Pwd        string `json:"pwd"`
	Factor2    string `json:"factor2"`
	APKVersion string `json:"apkversion"`
	AppKey     string `json:"appkey"`
	IMEI       string `json:"imei"`
	Source     string `json:"source"`
}

type loginResponse struct {
	Stat       string `json:"stat"`
	SUserToken string `json:"susertoken"`
	EMsg       string `json:"emsg"`
}

// Authenticate performs the Noren QuickAuth login: SHA-256 hashed
// password, current TOTP as the second factor, and an app key derived
// from the user ID and API key.
func (t *Transport) Authenticate(ctx context.Context, creds config.BrokerCredentials) (string, error) {
	if creds.AccessToken != "" {
		return creds.AccessToken, nil
	}

	factor2 := ""
	if creds.TOTPSecret != "" {
		code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("generating flattrade TOTP: %w", err)
		}
		factor2 = code
	}

	req := loginRequest{
		UID:        creds.UserID,
		Pwd:        sha256Hex(creds.Password),
		Factor2:    factor2,
		APKVersion: "1.0.0",
		AppKey:     sha256Hex(creds.UserID + "|" + creds.APIKey),
		IMEI:       "api",
		Source:     "API",
	}

	body, err := t.post(ctx, "/QuickAuth", req, "")
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding flattrade login response: %w", err)
	}
	if resp.Stat != "Ok" || resp.SUserToken == "" {
		return "", fmt.Errorf("%w: flattrade login failed: %s", errors.ErrNotAuthenticated, resp.EMsg)
	}
	return resp.SUserToken, nil
}

type orderRequest struct {
	UID       string `json:"uid"`
	ActID     string `json:"actid"`
	Exchange  string `json:"exch"`
	Symbol    string `json:"tsym"`
	Quantity  string `json:"qty"`
	Price     string `json:"prc"`
	Trigger   string `json:"trgprc,omitempty"`
	Product   string `json:"prd"`
	TranType  string `json:"trantype"`
	PriceType string `json:"prctyp"`
	Retention string `json:"ret"`
	Remarks   string `json:"remarks,omitempty"`
}

// SubmitOrder posts the order to the Noren PlaceOrder endpoint. The raw
// body is returned unparsed; the translator understands the stat and
// norenordno fields.
func (t *Transport) SubmitOrder(ctx context.Context, order *translate.BrokerOrder, token string) (translate.RawResponse, error) {
	req := orderRequest{
		UID:       t.userID,
		ActID:     t.accountID,
		Exchange:  order.Exchange,
		Symbol:    order.Symbol,
		Quantity:  strconv.Itoa(order.Quantity),
		Price:     formatPrice(order.Price),
		Product:   order.Product,
		TranType:  order.TransactionType,
		PriceType: order.OrderType,
		Retention: order.Validity,
		Remarks:   order.Tag,
	}
	if order.TriggerPrice > 0 {
		req.Trigger = formatPrice(order.TriggerPrice)
	}

	return t.postRaw(ctx, "/PlaceOrder", req, token)
}

type cancelRequest struct {
	UID     string `json:"uid"`
	OrderNo string `json:"norenordno"`
}

// CancelOrder posts a cancellation for an already-dispatched order.
func (t *Transport) CancelOrder(ctx context.Context, orderID, token string) (translate.RawResponse, error) {
	return t.postRaw(ctx, "/CancelOrder", cancelRequest{UID: t.userID, OrderNo: orderID}, token)
}

// DownloadMasterContract fetches the published scrip master CSV.
// Flattrade tokens are only unique per exchange, so the stored broker
// token is qualified as "EXCHANGE|TOKEN" to match the websocket's
// subscription key format.
func (t *Transport) DownloadMasterContract(ctx context.Context) ([]symbols.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.MasterContractURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building master contract request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading flattrade master contract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flattrade master contract returned HTTP %d", resp.StatusCode)
	}

	records, err := symbols.ParseMasterCSV(resp.Body)
	if err != nil {
		return nil, err
	}

	for i := range records {
		records[i].BrokerToken = string(records[i].Instrument.Exchange) + "|" + records[i].BrokerToken
	}
	return records, nil
}

// OpenFeed opens the Noren websocket feed.
func (t *Transport) OpenFeed(ctx context.Context, token string) (stream.Feed, error) {
	return newFeed(t.opts.WebsocketURL, t.userID, t.accountID, token), nil
}

func (t *Transport) post(ctx context.Context, path string, payload interface{}, token string) ([]byte, error) {
	raw, err := t.postRaw(ctx, path, payload, token)
	if err != nil {
		return nil, err
	}
	return raw.Body, nil
}

func (t *Transport) postRaw(ctx context.Context, path string, payload interface{}, token string) (translate.RawResponse, error) {
	jData, err := json.Marshal(payload)
	if err != nil {
		return translate.RawResponse{}, fmt.Errorf("encoding flattrade payload: %w", err)
	}

	form, err := query.Values(norenForm{JData: string(jData), JKey: token})
	if err != nil {
		return translate.RawResponse{}, fmt.Errorf("encoding flattrade form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.opts.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return translate.RawResponse{}, fmt.Errorf("building flattrade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return translate.RawResponse{}, fmt.Errorf("posting to flattrade %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return translate.RawResponse{}, fmt.Errorf("reading flattrade response: %w", err)
	}

	return translate.RawResponse{HTTPStatus: resp.StatusCode, Body: body}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
