package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestMappingErrorMatchesSentinel(t *testing.T) {
	err := NewMappingError("flattrade", "priceType", "SL-M")
	if !stderrors.Is(err, ErrUnsupportedMapping) {
		t.Error("MappingError does not match ErrUnsupportedMapping")
	}

	var mapErr *MappingError
	if !stderrors.As(err, &mapErr) || mapErr.Broker != "flattrade" {
		t.Errorf("As failed: %v", err)
	}
}

func TestRefreshErrorMatchesSentinelAndCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewRefreshError("zerodha", cause)

	if !stderrors.Is(err, ErrRefreshFailed) {
		t.Error("RefreshError does not match ErrRefreshFailed")
	}
	if !stderrors.Is(err, cause) {
		t.Error("RefreshError hides its cause")
	}
}

func TestSymbolErrorMatchesSentinel(t *testing.T) {
	err := NewSymbolError("paper", "NSE:NOSUCH")
	if !stderrors.Is(err, ErrUnknownSymbol) {
		t.Error("SymbolError does not match ErrUnknownSymbol")
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := NewValidationError("quantity", -1, "must be positive")
	if !stderrors.Is(err, ErrInvalidOrder) {
		t.Error("ValidationError does not match ErrInvalidOrder")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrapf(ErrBrokerTimeout, "BUY order on %s", "zerodha")
	if !stderrors.Is(err, ErrBrokerTimeout) {
		t.Error("Wrapf broke the chain")
	}

	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestBrokerErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("http 503")
	err := NewBrokerError("flattrade", "NET", "gateway unavailable", cause)
	if !stderrors.Is(err, cause) {
		t.Error("BrokerError hides its cause")
	}
}
