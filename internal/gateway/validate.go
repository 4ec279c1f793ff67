package gateway

import (
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// ValidateOrder rejects a canonical order before translation when its
// invariants do not hold: quantity must be positive, and price and
// trigger price presence must match the price type.
func ValidateOrder(ord *models.Order) error {
	if ord.Instrument.Symbol == "" {
		return errors.NewValidationError("symbol", ord.Instrument.Symbol, "symbol is required")
	}
	if !validExchange(ord.Instrument.Exchange) {
		return errors.NewValidationError("exchange", ord.Instrument.Exchange, "unknown exchange")
	}
	if ord.Action != models.ActionBuy && ord.Action != models.ActionSell {
		return errors.NewValidationError("action", ord.Action, "must be BUY or SELL")
	}
	if ord.Quantity <= 0 {
		return errors.NewValidationError("quantity", ord.Quantity, "must be positive")
	}

	switch ord.PriceType {
	case models.PriceTypeMarket:
		if ord.Price != 0 {
			return errors.NewValidationError("price", ord.Price, "must not be set for MARKET orders")
		}
		if ord.TriggerPrice != 0 {
			return errors.NewValidationError("triggerPrice", ord.TriggerPrice, "must not be set for MARKET orders")
		}
	case models.PriceTypeLimit:
		if ord.Price <= 0 {
			return errors.NewValidationError("price", ord.Price, "required for LIMIT orders")
		}
		if ord.TriggerPrice != 0 {
			return errors.NewValidationError("triggerPrice", ord.TriggerPrice, "must not be set for LIMIT orders")
		}
	case models.PriceTypeStopLoss:
		if ord.Price <= 0 {
			return errors.NewValidationError("price", ord.Price, "required for SL orders")
		}
		if ord.TriggerPrice <= 0 {
			return errors.NewValidationError("triggerPrice", ord.TriggerPrice, "required for SL orders")
		}
	case models.PriceTypeStopLossM:
		if ord.Price != 0 {
			return errors.NewValidationError("price", ord.Price, "must not be set for SL-M orders")
		}
		if ord.TriggerPrice <= 0 {
			return errors.NewValidationError("triggerPrice", ord.TriggerPrice, "required for SL-M orders")
		}
	default:
		return errors.NewValidationError("priceType", ord.PriceType, "unknown price type")
	}

	switch ord.Product {
	case models.ProductMIS, models.ProductCNC, models.ProductNRML:
	default:
		return errors.NewValidationError("product", ord.Product, "unknown product type")
	}

	return nil
}

func validExchange(exchange models.Exchange) bool {
	for _, e := range models.ValidExchanges {
		if e == exchange {
			return true
		}
	}
	return false
}
