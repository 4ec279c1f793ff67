package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
)

// BrokerOrder is a broker-vocabulary order payload, ready for the
// transport to serialize onto the wire.
type BrokerOrder struct {
	Symbol          string  `json:"symbol" url:"symbol"`
	Token           string  `json:"token" url:"token"`
	Exchange        string  `json:"exchange" url:"exchange"`
	TransactionType string  `json:"transaction_type" url:"transaction_type"`
	OrderType       string  `json:"order_type" url:"order_type"`
	Product         string  `json:"product" url:"product"`
	Quantity        int     `json:"quantity" url:"quantity"`
	Price           float64 `json:"price,omitempty" url:"price,omitempty"`
	TriggerPrice    float64 `json:"trigger_price,omitempty" url:"trigger_price,omitempty"`
	Validity        string  `json:"validity" url:"validity"`
	Tag             string  `json:"tag,omitempty" url:"tag,omitempty"`
}

// RawResponse is the unparsed outcome of a broker call: the HTTP status
// (zero for SDK transports) and the raw body.
type RawResponse struct {
	HTTPStatus int
	Body       []byte
}

// Translator converts canonical orders to one broker's payload
// vocabulary and normalizes that broker's responses. Symbol/token
// substitution happens here, via the symbol directory; this is the only
// point where the canonical and broker models intersect.
type Translator struct {
	broker    string
	table     Table
	directory *symbols.Directory
}

// NewTranslator creates a translator for a broker.
func NewTranslator(broker string, table Table, directory *symbols.Directory) *Translator {
	return &Translator{
		broker:    broker,
		table:     table,
		directory: directory,
	}
}

// Table returns the broker's mapping table.
func (tr *Translator) Table() *Table {
	return &tr.table
}

// ToBrokerOrder maps a validated canonical order into the broker's
// vocabulary. Returns UnsupportedMapping if the broker has no entry for
// the order's price type, product, or exchange, and UnknownSymbol if
// the instrument is absent from the broker's master contract.
func (tr *Translator) ToBrokerOrder(ord *models.Order) (*BrokerOrder, error) {
	priceType, ok := tr.table.PriceTypes[ord.PriceType]
	if !ok {
		return nil, errors.NewMappingError(tr.broker, "priceType", string(ord.PriceType))
	}
	product, ok := tr.table.Products[ord.Product]
	if !ok {
		return nil, errors.NewMappingError(tr.broker, "product", string(ord.Product))
	}
	exchange, ok := tr.table.Exchanges[ord.Instrument.Exchange]
	if !ok {
		return nil, errors.NewMappingError(tr.broker, "exchange", string(ord.Instrument.Exchange))
	}
	action, ok := tr.table.Actions[ord.Action]
	if !ok {
		return nil, errors.NewMappingError(tr.broker, "action", string(ord.Action))
	}

	rec, err := tr.directory.Resolve(ord.Instrument)
	if err != nil {
		return nil, err
	}

	validity := ord.Validity
	if validity == "" {
		validity = "DAY"
	}

	return &BrokerOrder{
		Symbol:          rec.BrokerSymbol,
		Token:           rec.BrokerToken,
		Exchange:        exchange,
		TransactionType: action,
		OrderType:       priceType,
		Product:         product,
		Quantity:        ord.Quantity,
		Price:           ord.Price,
		TriggerPrice:    ord.TriggerPrice,
		Validity:        validity,
		Tag:             ord.Tag,
	}, nil
}

// FromBrokerResponse normalizes a broker response to a canonical
// result. It tolerates the encodings seen across brokers (top-level
// status strings, nested data/error objects, bare order ids, plain HTTP
// codes); anything unmappable degrades to REJECTED with the raw body
// preserved in BrokerMessage rather than an error, so callers always
// get a structured result.
func (tr *Translator) FromBrokerResponse(raw RawResponse) *models.OrderResult {
	result := &models.OrderResult{Status: models.StatusRejected}

	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		if raw.HTTPStatus != 0 && raw.HTTPStatus < http.StatusBadRequest {
			result.Status = models.StatusAccepted
			result.BrokerMessage = http.StatusText(raw.HTTPStatus)
		} else {
			result.BrokerMessage = fmt.Sprintf("empty response (http %d)", raw.HTTPStatus)
		}
		return result
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Not JSON: fall back to the HTTP status, raw body preserved.
		if raw.HTTPStatus != 0 && raw.HTTPStatus < http.StatusBadRequest {
			result.Status = models.StatusAccepted
		}
		result.BrokerMessage = string(body)
		return result
	}

	orderID := extractOrderID(payload)
	message := extractMessage(payload)
	status, hasStatus := extractStatus(payload)

	switch {
	case hasStatus:
		if status {
			result.Status = models.StatusAccepted
		}
	case raw.HTTPStatus != 0:
		if raw.HTTPStatus < http.StatusBadRequest {
			result.Status = models.StatusAccepted
		}
	case orderID != "":
		// No status flag anywhere, but the broker echoed an order id.
		result.Status = models.StatusAccepted
	}

	// A rejection without an explanation keeps the raw payload so
	// nothing the broker said is lost.
	if result.Status == models.StatusRejected && message == "" {
		message = string(body)
	}

	result.OrderID = orderID
	result.BrokerMessage = message
	return result
}

// statusKeys and their accepted values across broker response dialects.
var acceptedStatusValues = map[string]bool{
	"success": true, "ok": true, "complete": true, "accepted": true,
	"error": false, "failure": false, "failed": false, "rejected": false,
}

func extractStatus(payload map[string]interface{}) (accepted bool, found bool) {
	for _, key := range []string{"status", "s", "stat"} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if accepted, known := acceptedStatusValues[strings.ToLower(s)]; known {
			return accepted, true
		}
		// Flattrade-style "Ok"/"Not_Ok".
		if strings.EqualFold(s, "not_ok") {
			return false, true
		}
	}
	return false, false
}

func extractOrderID(payload map[string]interface{}) string {
	for _, key := range []string{"order_id", "orderid", "norenordno", "id"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		return extractOrderID(data)
	}
	return ""
}

func extractMessage(payload map[string]interface{}) string {
	for _, key := range []string{"message", "emsg", "errmsg", "error_message"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	if errObj, ok := payload["error"].(map[string]interface{}); ok {
		return extractMessage(errObj)
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		return extractMessage(data)
	}
	return ""
}
