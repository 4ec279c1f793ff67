package reconcile

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Property: applying the reconciled order's signed quantity to the
// current position always lands exactly on the target, for any pair of
// current and target positions.
func TestProperty_ReconcileConvergesToTarget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("position converges to target in one order", prop.ForAll(
		func(current, target int) bool {
			ord, ok := Reconcile(smartOrder(target), current)

			if current == target {
				return !ok
			}
			if !ok {
				return false
			}
			if ord.Quantity <= 0 {
				return false
			}

			signed := ord.Quantity
			if ord.Action == models.ActionSell {
				signed = -signed
			}
			return current+signed == target
		},
		gen.IntRange(-10000, 10000),
		gen.IntRange(-10000, 10000),
	))

	properties.Property("reconciling twice is idempotent once applied", prop.ForAll(
		func(current, target int) bool {
			ord, ok := Reconcile(smartOrder(target), current)
			if !ok {
				_, again := Reconcile(smartOrder(target), current)
				return !again
			}

			signed := ord.Quantity
			if ord.Action == models.ActionSell {
				signed = -signed
			}
			_, again := Reconcile(smartOrder(target), current+signed)
			return !again
		},
		gen.IntRange(-10000, 10000),
		gen.IntRange(-10000, 10000),
	))

	properties.TestingRun(t)
}
