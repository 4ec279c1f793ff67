// Package stream normalizes real-time tick streaming across brokers
// behind one subscribe/unsubscribe/callback contract.
package stream

import (
	"context"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Feed is the wire-level transport boundary for one broker's tick
// stream. Implementations are opaque to the normalizer: a persistent
// websocket, a binary frame protocol, or an SDK ticker all look the
// same from here.
//
// Connect blocks until the transport is established or fails. After a
// successful Connect the feed delivers ticks via the OnTick handler
// until it disconnects, at which point OnDisconnect fires exactly once;
// the normalizer owns all reconnect policy.
type Feed interface {
	Connect(ctx context.Context) error
	Close() error

	// Subscribe and Unsubscribe take broker tokens, not canonical
	// instruments; the normalizer resolves identity before calling.
	Subscribe(tokens []string) error
	Unsubscribe(tokens []string) error

	OnTick(handler func(token string, tick models.Tick))
	OnDisconnect(handler func(err error))
}

// FeedFactory opens a broker's feed, typically after authenticating.
type FeedFactory func(ctx context.Context) (Feed, error)
