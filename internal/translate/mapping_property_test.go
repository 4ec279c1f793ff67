package translate

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Property: every canonical value a table maps forward must reverse-map
// back to itself, so response normalization can undo order translation.
func TestProperty_MappingTableRoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	tables := []Table{
		norenTable(),
		NewTable(
			map[string]string{"MARKET": "MARKET", "LIMIT": "LIMIT", "SL": "SL", "SL-M": "SL-M"},
			map[string]string{"MIS": "MIS", "CNC": "CNC", "NRML": "NRML"},
			map[string]string{"NSE": "NSE", "BSE": "BSE"},
			nil,
		),
	}

	priceTypes := []models.PriceType{
		models.PriceTypeMarket, models.PriceTypeLimit,
		models.PriceTypeStopLoss, models.PriceTypeStopLossM,
	}
	products := []models.ProductType{models.ProductMIS, models.ProductCNC, models.ProductNRML}
	actions := []models.Action{models.ActionBuy, models.ActionSell}

	properties.Property("price types round-trip", prop.ForAll(
		func(tableIdx, ptIdx int) bool {
			table := tables[tableIdx]
			pt := priceTypes[ptIdx]
			brokerValue, ok := table.PriceTypes[pt]
			if !ok {
				return true // unsupported values have no round trip
			}
			back, ok := table.PriceTypeOf(brokerValue)
			return ok && back == pt
		},
		gen.IntRange(0, len(tables)-1),
		gen.IntRange(0, len(priceTypes)-1),
	))

	properties.Property("products round-trip", prop.ForAll(
		func(tableIdx, pIdx int) bool {
			table := tables[tableIdx]
			p := products[pIdx]
			brokerValue, ok := table.Products[p]
			if !ok {
				return true
			}
			back, ok := table.ProductOf(brokerValue)
			return ok && back == p
		},
		gen.IntRange(0, len(tables)-1),
		gen.IntRange(0, len(products)-1),
	))

	properties.Property("actions round-trip", prop.ForAll(
		func(tableIdx, aIdx int) bool {
			table := tables[tableIdx]
			a := actions[aIdx]
			brokerValue, ok := table.Actions[a]
			if !ok {
				return false // BUY/SELL must always be mapped
			}
			back, ok := table.ActionOf(brokerValue)
			return ok && back == a
		},
		gen.IntRange(0, len(tables)-1),
		gen.IntRange(0, len(actions)-1),
	))

	properties.TestingRun(t)
}
