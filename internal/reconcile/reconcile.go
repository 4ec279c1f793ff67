// Package reconcile computes the concrete order needed to move a
// current net position to a desired target in a single leg.
package reconcile

import (
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Reconcile derives the order that moves current to the smart order's
// target position. The signed quantity of the result always equals
// target - current, so opening, closing, and reversals are all one
// order. Returns ok=false (no order) when the position is already at
// target.
//
// Reconcile never touches the ledger; the ledger is updated only once
// the resulting order is confirmed, so a rejected order cannot be
// double-counted.
func Reconcile(req *models.SmartOrder, current int) (*models.Order, bool) {
	delta := req.TargetPosition - current
	if delta == 0 {
		return nil, false
	}

	action := models.ActionBuy
	quantity := delta
	if delta < 0 {
		action = models.ActionSell
		quantity = -delta
	}

	return &models.Order{
		Instrument:   req.Instrument,
		Action:       action,
		Quantity:     quantity,
		Product:      req.Product,
		PriceType:    req.PriceType,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Tag:          req.Tag,
	}, true
}
