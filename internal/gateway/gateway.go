// Package gateway exposes the inbound canonical order API and routes
// each request to exactly one broker via the registry.
package gateway

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/ledger"
	"github.com/marketcalls/openalgo-sub020/internal/logging"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/reconcile"
	"github.com/marketcalls/openalgo-sub020/internal/registry"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
)

// Gateway is the canonical order API consumed by the HTTP layer and
// the CLI.
type Gateway struct {
	cfg      *config.Config
	registry *registry.Registry
	ledger   *ledger.Ledger
	logger   zerolog.Logger
}

// New creates a gateway over the registry and ledger.
func New(cfg *config.Config, reg *registry.Registry, led *ledger.Ledger, logger zerolog.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: reg,
		ledger:   led,
		logger:   logger,
	}
}

// Registry exposes the broker registry (read-only use by callers).
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// PlaceOrder validates, translates, and submits a canonical order to
// one broker, returning the normalized result. An accepted order's
// fill is applied to the position ledger; a rejected or timed-out one
// is not.
//
// A placement that outlives the configured order timeout is reported
// as BrokerTimeout and never retried here: a possibly-executed order
// retried blindly risks duplicate fills.
func (g *Gateway) PlaceOrder(ctx context.Context, brokerID, account string, ord *models.Order) (*models.OrderResult, error) {
	broker, err := g.registry.Get(brokerID)
	if err != nil {
		return nil, err
	}

	if err := ValidateOrder(ord); err != nil {
		return nil, err
	}

	result, err := g.submit(ctx, broker, ord)
	if err != nil {
		return nil, err
	}

	if result.Accepted() {
		g.applyFill(ctx, account, ord, result)
	}

	logging.LogOrder(g.logger, brokerID, result.OrderID, ord.Instrument.Key(),
		string(ord.Action), string(result.Status), ord.Quantity)
	return result, nil
}

// PlaceSmartOrder reconciles the desired net position against the
// ledger and places the single order that crosses from current to
// target. The whole read-reconcile-place-apply sequence holds the
// (account, instrument) key lock so two concurrent smart orders cannot
// both compute against a stale current position and overshoot.
func (g *Gateway) PlaceSmartOrder(ctx context.Context, brokerID, account string, req *models.SmartOrder) (*models.OrderResult, error) {
	broker, err := g.registry.Get(brokerID)
	if err != nil {
		return nil, err
	}

	var result *models.OrderResult
	err = g.ledger.WithKeyLock(account, req.Instrument, func() error {
		current := g.ledger.Get(account, req.Instrument)

		ord, ok := reconcile.Reconcile(req, current)
		if !ok {
			result = &models.OrderResult{
				Status:        models.StatusAccepted,
				BrokerMessage: "position already at target, no order placed",
			}
			g.logger.Info().
				Str("broker", brokerID).
				Str("symbol", req.Instrument.Key()).
				Int("position", current).
				Msg("Smart order is a no-op")
			return nil
		}

		if err := ValidateOrder(ord); err != nil {
			return err
		}

		res, err := g.submit(ctx, broker, ord)
		if err != nil {
			return err
		}
		result = res

		if res.Accepted() {
			g.applyFill(ctx, account, ord, res)
		}

		logging.LogOrder(g.logger, brokerID, res.OrderID, ord.Instrument.Key(),
			string(ord.Action), string(res.Status), ord.Quantity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelOrder routes a cancellation for an already-dispatched order
// through the broker's transport. In-flight placements cannot be
// aborted locally once dispatched.
func (g *Gateway) CancelOrder(ctx context.Context, brokerID, orderID string) (*models.OrderResult, error) {
	broker, err := g.registry.Get(brokerID)
	if err != nil {
		return nil, err
	}

	token, err := broker.Session(ctx, g.cfg.Credentials[brokerID])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Trading.OrderTimeout)
	defer cancel()

	raw, err := broker.Transport.CancelOrder(ctx, orderID, token)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrBrokerTimeout, "cancel order %s on %s", orderID, brokerID)
		}
		return nil, errors.Wrapf(err, "cancelling order %s on %s", orderID, brokerID)
	}

	return broker.Translator.FromBrokerResponse(raw), nil
}

// GetPosition returns the current net quantity for the key, 0 for an
// instrument never traded.
func (g *Gateway) GetPosition(brokerID, account string, instrument models.Instrument) (int, error) {
	if _, err := g.registry.Get(brokerID); err != nil {
		return 0, err
	}
	return g.ledger.Get(account, instrument), nil
}

// Positions returns the account's ledger snapshot.
func (g *Gateway) Positions(brokerID, account string) (map[models.Instrument]int, error) {
	if _, err := g.registry.Get(brokerID); err != nil {
		return nil, err
	}
	return g.ledger.Positions(account), nil
}

// SubscribeTicks resolves the instrument and registers the callback on
// the broker's streaming normalizer, starting the stream on first use.
func (g *Gateway) SubscribeTicks(ctx context.Context, brokerID string, instrument models.Instrument, callback func(models.Tick)) (*stream.Subscription, error) {
	broker, err := g.registry.Get(brokerID)
	if err != nil {
		return nil, err
	}

	if err := broker.Normalizer.Start(ctx); err != nil {
		return nil, err
	}

	return broker.Normalizer.SubscribeFunc(instrument, callback)
}

// Unsubscribe releases a subscription handle.
func (g *Gateway) Unsubscribe(sub *stream.Subscription) error {
	broker, err := g.registry.Get(sub.Broker())
	if err != nil {
		return err
	}
	return broker.Normalizer.Unsubscribe(sub)
}

// RefreshSymbols refreshes one broker's master contract on demand.
func (g *Gateway) RefreshSymbols(ctx context.Context, brokerID string) error {
	broker, err := g.registry.Get(brokerID)
	if err != nil {
		return err
	}
	return broker.Directory.Refresh(ctx)
}

// submit translates and dispatches an order under the placement
// timeout, normalizing the broker's raw response.
func (g *Gateway) submit(ctx context.Context, broker *registry.Broker, ord *models.Order) (*models.OrderResult, error) {
	payload, err := broker.Translator.ToBrokerOrder(ord)
	if err != nil {
		return nil, err
	}

	token, err := broker.Session(ctx, g.cfg.Credentials[broker.ID])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Trading.OrderTimeout)
	defer cancel()

	raw, err := broker.Transport.SubmitOrder(ctx, payload, token)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrBrokerTimeout, "%s order on %s %s", ord.Action, broker.ID, ord.Instrument.Key())
		}
		return nil, errors.Wrapf(err, "submitting order to %s", broker.ID)
	}

	return broker.Translator.FromBrokerResponse(raw), nil
}

// applyFill records an accepted order in the ledger. The fill is
// applied at the requested quantity once the broker acknowledges the
// order; rejected and timed-out placements apply nothing.
func (g *Gateway) applyFill(ctx context.Context, account string, ord *models.Order, result *models.OrderResult) {
	fill := models.Fill{
		Account:    account,
		Instrument: ord.Instrument,
		Action:     ord.Action,
		Quantity:   ord.Quantity,
		Price:      ord.Price,
		OrderID:    result.OrderID,
		FilledAt:   time.Now(),
	}
	if _, err := g.ledger.Apply(ctx, fill); err != nil {
		g.logger.Error().
			Err(err).
			Str("order_id", result.OrderID).
			Str("symbol", ord.Instrument.Key()).
			Msg("Failed to persist position update")
	}
}
