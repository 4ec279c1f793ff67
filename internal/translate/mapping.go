// Package translate maps canonical orders to broker payloads and broker
// responses back to canonical results.
package translate

import (
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Table holds one broker's field-mapping vocabulary. A canonical value
// missing from a map is an unsupported mapping for that broker, not a
// silent pass-through.
type Table struct {
	PriceTypes map[models.PriceType]string
	Products   map[models.ProductType]string
	Exchanges  map[models.Exchange]string
	Actions    map[models.Action]string

	reversePriceTypes map[string]models.PriceType
	reverseProducts   map[string]models.ProductType
	reverseActions    map[string]models.Action
}

// NewTable builds a mapping table from raw string maps, as loaded from
// a broker descriptor.
func NewTable(priceTypes, products, exchanges, actions map[string]string) Table {
	t := Table{
		PriceTypes: make(map[models.PriceType]string, len(priceTypes)),
		Products:   make(map[models.ProductType]string, len(products)),
		Exchanges:  make(map[models.Exchange]string, len(exchanges)),
		Actions:    make(map[models.Action]string, len(actions)),
	}
	for k, v := range priceTypes {
		t.PriceTypes[models.PriceType(k)] = v
	}
	for k, v := range products {
		t.Products[models.ProductType(k)] = v
	}
	for k, v := range exchanges {
		t.Exchanges[models.Exchange(k)] = v
	}
	for k, v := range actions {
		t.Actions[models.Action(k)] = v
	}
	if len(t.Actions) == 0 {
		// Nearly every broker uses BUY/SELL verbatim.
		t.Actions[models.ActionBuy] = string(models.ActionBuy)
		t.Actions[models.ActionSell] = string(models.ActionSell)
	}
	t.buildReverse()
	return t
}

func (t *Table) buildReverse() {
	t.reversePriceTypes = make(map[string]models.PriceType, len(t.PriceTypes))
	for k, v := range t.PriceTypes {
		t.reversePriceTypes[v] = k
	}
	t.reverseProducts = make(map[string]models.ProductType, len(t.Products))
	for k, v := range t.Products {
		t.reverseProducts[v] = k
	}
	t.reverseActions = make(map[string]models.Action, len(t.Actions))
	for k, v := range t.Actions {
		t.reverseActions[v] = k
	}
}

// PriceTypeOf reverse-maps a broker price type string.
func (t *Table) PriceTypeOf(brokerValue string) (models.PriceType, bool) {
	v, ok := t.reversePriceTypes[brokerValue]
	return v, ok
}

// ProductOf reverse-maps a broker product string.
func (t *Table) ProductOf(brokerValue string) (models.ProductType, bool) {
	v, ok := t.reverseProducts[brokerValue]
	return v, ok
}

// ActionOf reverse-maps a broker transaction type string.
func (t *Table) ActionOf(brokerValue string) (models.Action, bool) {
	v, ok := t.reverseActions[brokerValue]
	return v, ok
}

// SupportsPriceType reports whether the broker maps the canonical
// price type at all. Used as a registry capability flag.
func (t *Table) SupportsPriceType(pt models.PriceType) bool {
	_, ok := t.PriceTypes[pt]
	return ok
}
