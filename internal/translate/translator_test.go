package translate

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
)

type stubSource struct {
	records []symbols.Record
}

func (s *stubSource) DownloadMasterContract(ctx context.Context) ([]symbols.Record, error) {
	return s.records, nil
}

func testDirectory(t *testing.T) *symbols.Directory {
	t.Helper()
	source := &stubSource{records: []symbols.Record{
		{
			Instrument:   models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE},
			BrokerSymbol: "RELIANCE-EQ",
			BrokerToken:  "738561",
			LotSize:      1,
		},
	}}
	d := symbols.NewDirectory("test", source, nil, zerolog.Nop())
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return d
}

// norenTable mirrors a Noren-dialect broker: abbreviated price types
// and products, no SL-M support.
func norenTable() Table {
	return NewTable(
		map[string]string{"MARKET": "MKT", "LIMIT": "LMT", "SL": "SL-LMT"},
		map[string]string{"MIS": "I", "CNC": "C", "NRML": "M"},
		map[string]string{"NSE": "NSE", "BSE": "BSE", "NFO": "NFO"},
		map[string]string{"BUY": "B", "SELL": "S"},
	)
}

func canonicalOrder() *models.Order {
	return &models.Order{
		Instrument: models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE},
		Action:     models.ActionBuy,
		Quantity:   10,
		Product:    models.ProductMIS,
		PriceType:  models.PriceTypeLimit,
		Price:      2850.50,
	}
}

func TestToBrokerOrderMapsEveryField(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	payload, err := tr.ToBrokerOrder(canonicalOrder())
	if err != nil {
		t.Fatalf("ToBrokerOrder: %v", err)
	}

	if payload.Symbol != "RELIANCE-EQ" {
		t.Errorf("symbol = %s, want RELIANCE-EQ", payload.Symbol)
	}
	if payload.Token != "738561" {
		t.Errorf("token = %s, want 738561", payload.Token)
	}
	if payload.OrderType != "LMT" {
		t.Errorf("order type = %s, want LMT", payload.OrderType)
	}
	if payload.Product != "I" {
		t.Errorf("product = %s, want I", payload.Product)
	}
	if payload.TransactionType != "B" {
		t.Errorf("transaction type = %s, want B", payload.TransactionType)
	}
	if payload.Validity != "DAY" {
		t.Errorf("validity = %s, want DAY default", payload.Validity)
	}
}

func TestToBrokerOrderUnsupportedMapping(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	ord := canonicalOrder()
	ord.PriceType = models.PriceTypeStopLossM
	ord.Price = 0
	ord.TriggerPrice = 2840

	_, err := tr.ToBrokerOrder(ord)
	if !stderrors.Is(err, errors.ErrUnsupportedMapping) {
		t.Fatalf("error = %v, want ErrUnsupportedMapping", err)
	}

	var mapErr *errors.MappingError
	if !stderrors.As(err, &mapErr) {
		t.Fatal("expected a MappingError")
	}
	if mapErr.Field != "priceType" {
		t.Errorf("field = %s, want priceType", mapErr.Field)
	}
}

func TestToBrokerOrderUnknownSymbol(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	ord := canonicalOrder()
	ord.Instrument.Symbol = "NOSUCH"

	_, err := tr.ToBrokerOrder(ord)
	if !stderrors.Is(err, errors.ErrUnknownSymbol) {
		t.Errorf("error = %v, want ErrUnknownSymbol", err)
	}
}

func TestFromBrokerResponseDialects(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	tests := []struct {
		name    string
		raw     RawResponse
		status  models.OrderStatus
		orderID string
	}{
		{
			name:    "kite success with nested data",
			raw:     RawResponse{Body: []byte(`{"status":"success","data":{"order_id":"240800000123"}}`)},
			status:  models.StatusAccepted,
			orderID: "240800000123",
		},
		{
			name:    "noren ok",
			raw:     RawResponse{HTTPStatus: 200, Body: []byte(`{"stat":"Ok","norenordno":"24080800000042"}`)},
			status:  models.StatusAccepted,
			orderID: "24080800000042",
		},
		{
			name:   "noren not ok",
			raw:    RawResponse{HTTPStatus: 200, Body: []byte(`{"stat":"Not_Ok","emsg":"insufficient margin"}`)},
			status: models.StatusRejected,
		},
		{
			name:   "error with message",
			raw:    RawResponse{Body: []byte(`{"status":"error","message":"market closed"}`)},
			status: models.StatusRejected,
		},
		{
			name:    "bare order id",
			raw:     RawResponse{Body: []byte(`{"id":"XYZ-1"}`)},
			status:  models.StatusAccepted,
			orderID: "XYZ-1",
		},
		{
			name:    "http status only",
			raw:     RawResponse{HTTPStatus: 200, Body: []byte(`{"orderid":"77"}`)},
			status:  models.StatusAccepted,
			orderID: "77",
		},
		{
			name:   "http rejection",
			raw:    RawResponse{HTTPStatus: 400, Body: []byte(`{"orderid":""}`)},
			status: models.StatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tr.FromBrokerResponse(tt.raw)
			if result.Status != tt.status {
				t.Errorf("status = %s, want %s", result.Status, tt.status)
			}
			if result.OrderID != tt.orderID {
				t.Errorf("orderID = %q, want %q", result.OrderID, tt.orderID)
			}
		})
	}
}

func TestFromBrokerResponseRejectionKeepsMessage(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	result := tr.FromBrokerResponse(RawResponse{
		HTTPStatus: 200,
		Body:       []byte(`{"stat":"Not_Ok","emsg":"RED:Blocked for trading"}`),
	})
	if result.Status != models.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", result.Status)
	}
	if result.BrokerMessage != "RED:Blocked for trading" {
		t.Errorf("message = %q", result.BrokerMessage)
	}
}

func TestFromBrokerResponseUnmappableDegradesWithRawBody(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	raw := `{"weird":"shape","nobody":"expects"}`
	result := tr.FromBrokerResponse(RawResponse{Body: []byte(raw)})
	if result.Status != models.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", result.Status)
	}
	if result.BrokerMessage != raw {
		t.Errorf("raw body not preserved: %q", result.BrokerMessage)
	}
}

func TestFromBrokerResponseNonJSON(t *testing.T) {
	tr := NewTranslator("test", norenTable(), testDirectory(t))

	result := tr.FromBrokerResponse(RawResponse{HTTPStatus: 502, Body: []byte("Bad Gateway")})
	if result.Status != models.StatusRejected {
		t.Errorf("status = %s, want REJECTED", result.Status)
	}
	if result.BrokerMessage != "Bad Gateway" {
		t.Errorf("message = %q, want raw body", result.BrokerMessage)
	}
}
