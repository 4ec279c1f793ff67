package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
	"github.com/marketcalls/openalgo-sub020/pkg/utils"
)

// State is the connection state of a broker feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// entry tracks all subscribers of one (broker, instrument) pair. The
// wire-level subscription is reference counted: it is issued once when
// the first subscriber arrives and torn down when the last one leaves.
type entry struct {
	token string
	subs  map[int64]*Subscription
}

// Config holds normalizer tuning.
type Config struct {
	TickBuffer        int
	ReconnectMax      int
	ReconnectBaseWait time.Duration
}

// DefaultConfig returns the default normalizer configuration.
func DefaultConfig() Config {
	return Config{
		TickBuffer:        64,
		ReconnectMax:      5,
		ReconnectBaseWait: time.Second,
	}
}

// Normalizer presents one subscribe/unsubscribe/callback interface over
// a broker's tick feed regardless of its underlying transport. It owns
// the connection state machine (DISCONNECTED -> CONNECTING -> CONNECTED)
// with reconnect-with-backoff, preserves the subscription table across
// reconnects, and fans ticks out to per-subscriber channels.
type Normalizer struct {
	broker    string
	open      FeedFactory
	directory *symbols.Directory
	cfg       Config
	logger    zerolog.Logger

	mu           sync.Mutex
	state        State
	feed         Feed
	entries      map[models.Instrument]*entry
	pending      []string // tokens awaiting wire subscribe while not CONNECTED
	nextID       int64
	reconnecting bool
	closed       bool
	lastDrop     error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNormalizer creates a normalizer for one broker.
func NewNormalizer(broker string, open FeedFactory, directory *symbols.Directory, cfg Config, logger zerolog.Logger) *Normalizer {
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = DefaultConfig().TickBuffer
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultConfig().ReconnectMax
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = DefaultConfig().ReconnectBaseWait
	}
	return &Normalizer{
		broker:    broker,
		open:      open,
		directory: directory,
		cfg:       cfg,
		logger:    logger.With().Str("broker", broker).Logger(),
		entries:   make(map[models.Instrument]*entry),
	}
}

// Start opens the feed and connects. Safe to call once; subscriptions
// made before Start are queued and flushed on connect.
func (n *Normalizer) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errors.ErrStreamUnavailable
	}
	if n.feed != nil {
		n.mu.Unlock()
		return nil
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.state = StateConnecting
	n.mu.Unlock()

	feed, err := n.open(ctx)
	if err != nil {
		n.setState(StateDisconnected)
		return errors.Wrapf(err, "opening %s feed", n.broker)
	}

	feed.OnTick(n.dispatch)
	feed.OnDisconnect(n.handleDisconnect)

	if err := feed.Connect(ctx); err != nil {
		n.setState(StateDisconnected)
		return errors.Wrapf(err, "connecting %s feed", n.broker)
	}

	n.mu.Lock()
	n.feed = feed
	n.state = StateConnected
	n.mu.Unlock()

	n.flushPending()
	n.logger.Info().Msg("Tick stream connected")
	return nil
}

// Close tears the stream down permanently. Active subscriptions are
// released.
func (n *Normalizer) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	feed := n.feed
	var subs []*Subscription
	for _, e := range n.entries {
		for _, sub := range e.subs {
			subs = append(subs, sub)
		}
	}
	n.entries = make(map[models.Instrument]*entry)
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.release()
	}
	if feed != nil {
		return feed.Close()
	}
	return nil
}

// State returns the current connection state.
func (n *Normalizer) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Subscribe registers a consumer for an instrument's ticks. The
// instrument is resolved to the broker token via the symbol directory;
// the first subscriber for a pair triggers the wire-level subscribe
// (queued if the connection is still being established).
func (n *Normalizer) Subscribe(instrument models.Instrument) (*Subscription, error) {
	rec, err := n.directory.Resolve(instrument)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, errors.ErrStreamUnavailable
	}

	n.nextID++
	sub := newSubscription(n.nextID, n.broker, instrument, rec.BrokerToken, n.cfg.TickBuffer)

	e, exists := n.entries[instrument]
	if !exists {
		e = &entry{token: rec.BrokerToken, subs: make(map[int64]*Subscription)}
		n.entries[instrument] = e
	}
	e.subs[sub.id] = sub

	first := !exists
	connected := n.state == StateConnected
	feed := n.feed
	if first && !connected {
		n.pending = append(n.pending, rec.BrokerToken)
	}
	n.mu.Unlock()

	if first && connected {
		if err := feed.Subscribe([]string{rec.BrokerToken}); err != nil {
			n.logger.Error().Err(err).Str("symbol", instrument.Key()).Msg("Wire subscribe failed")
			// The handle would otherwise wait forever for ticks.
			sub.fail(errors.Wrapf(err, "subscribing %s", instrument.Key()))
		}
	}

	return sub, nil
}

// SubscribeFunc registers a callback consumer. The callback runs on a
// dedicated dispatch goroutine; a panicking callback is isolated and
// logged, never crashing the feed loop or starving other subscribers.
func (n *Normalizer) SubscribeFunc(instrument models.Instrument, callback func(models.Tick)) (*Subscription, error) {
	sub, err := n.Subscribe(instrument)
	if err != nil {
		return nil, err
	}

	go func() {
		for tick := range sub.ticks {
			n.invoke(callback, tick)
		}
	}()

	return sub, nil
}

func (n *Normalizer) invoke(callback func(models.Tick), tick models.Tick) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().
				Str("symbol", tick.Instrument.Key()).
				Interface("panic", r).
				Msg("Tick callback panicked")
		}
	}()
	callback(tick)
}

// Unsubscribe removes a consumer; when the last consumer for the pair
// leaves, the wire-level unsubscribe is issued and the handle released.
func (n *Normalizer) Unsubscribe(sub *Subscription) error {
	if sub == nil || !sub.Active() {
		return nil
	}

	n.mu.Lock()
	e, ok := n.entries[sub.instrument]
	if ok {
		delete(e.subs, sub.id)
	}
	last := ok && len(e.subs) == 0
	if last {
		delete(n.entries, sub.instrument)
	}
	connected := n.state == StateConnected
	feed := n.feed
	n.mu.Unlock()

	sub.release()

	if last && connected && feed != nil {
		if err := feed.Unsubscribe([]string{sub.token}); err != nil {
			return errors.Wrapf(err, "unsubscribing %s", sub.instrument.Key())
		}
	}
	return nil
}

// SubscriberCount returns the number of consumers for an instrument.
func (n *Normalizer) SubscriberCount(instrument models.Instrument) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.entries[instrument]; ok {
		return len(e.subs)
	}
	return 0
}

// dispatch resolves an inbound tick back to canonical identity and
// fans it out to every subscriber of the pair. Delivery is
// non-blocking per subscriber; a full buffer drops the tick for that
// subscriber only.
func (n *Normalizer) dispatch(token string, tick models.Tick) {
	instrument, ok := n.directory.ResolveToken(token)
	if !ok {
		n.logger.Debug().Str("token", token).Msg("Tick for unknown token dropped")
		return
	}
	tick.Instrument = instrument

	n.mu.Lock()
	e, ok := n.entries[instrument]
	if !ok {
		n.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		if !sub.push(tick) {
			n.logger.Debug().
				Str("symbol", instrument.Key()).
				Msg("Slow subscriber, tick dropped")
		}
	}
}

// handleDisconnect runs the reconnect-with-backoff policy. The
// subscription table is preserved; once the transport returns, all
// active pairs are resubscribed without caller involvement. Past the
// retry ceiling every subscriber gets an explicit StreamUnavailable
// instead of silent tick loss.
func (n *Normalizer) handleDisconnect(cause error) {
	n.mu.Lock()
	if n.closed || n.reconnecting {
		n.mu.Unlock()
		return
	}
	n.reconnecting = true
	n.state = StateDisconnected
	n.lastDrop = fmt.Errorf("%w: %v", errors.ErrTransportDisconnected, cause)
	ctx := n.ctx
	n.mu.Unlock()

	n.logger.Warn().Err(cause).Msg("Tick stream disconnected, reconnecting")

	go n.reconnect(ctx)
}

func (n *Normalizer) reconnect(ctx context.Context) {
	defer func() {
		n.mu.Lock()
		n.reconnecting = false
		n.mu.Unlock()
	}()

	for attempt := 0; attempt < n.cfg.ReconnectMax; attempt++ {
		delay := utils.CalculateBackoff(attempt, n.cfg.ReconnectBaseWait, 30*time.Second, 2.0)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		n.setState(StateConnecting)

		n.mu.Lock()
		feed := n.feed
		closed := n.closed
		n.mu.Unlock()
		if closed || feed == nil {
			return
		}

		if err := feed.Connect(ctx); err != nil {
			n.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Reconnect attempt failed")
			n.setState(StateDisconnected)
			continue
		}

		n.setState(StateConnected)
		n.resubscribeAll(feed)
		n.logger.Info().Int("attempt", attempt+1).Msg("Tick stream reconnected")
		return
	}

	n.logger.Error().Int("attempts", n.cfg.ReconnectMax).Msg("Reconnect ceiling reached, stream unavailable")
	n.notifyUnavailable()
}

func (n *Normalizer) resubscribeAll(feed Feed) {
	n.mu.Lock()
	tokens := make([]string, 0, len(n.entries))
	for _, e := range n.entries {
		tokens = append(tokens, e.token)
	}
	n.pending = nil
	n.mu.Unlock()

	if len(tokens) == 0 {
		return
	}
	if err := feed.Subscribe(tokens); err != nil {
		n.logger.Error().Err(err).Msg("Resubscribe after reconnect failed")
	}
}

func (n *Normalizer) flushPending() {
	n.mu.Lock()
	tokens := n.pending
	n.pending = nil
	feed := n.feed
	n.mu.Unlock()

	if len(tokens) == 0 || feed == nil {
		return
	}
	if err := feed.Subscribe(tokens); err != nil {
		n.logger.Error().Err(err).Msg("Queued subscribe failed")
	}
}

func (n *Normalizer) notifyUnavailable() {
	n.mu.Lock()
	var subs []*Subscription
	for _, e := range n.entries {
		for _, sub := range e.subs {
			subs = append(subs, sub)
		}
	}
	drop := n.lastDrop
	n.mu.Unlock()

	err := fmt.Errorf("%w: %s reconnect attempts exhausted", errors.ErrStreamUnavailable, n.broker)
	if drop != nil {
		err = fmt.Errorf("%w: %s reconnect attempts exhausted: %w", errors.ErrStreamUnavailable, n.broker, drop)
	}
	for _, sub := range subs {
		sub.fail(err)
	}
}

func (n *Normalizer) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}
