package stream

import (
	"sync"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// Subscription is one consumer's handle on a (broker, instrument) tick
// stream. Each subscription owns its receive channel; the feed loop
// never calls into subscriber code synchronously, so one slow consumer
// cannot stall the others.
type Subscription struct {
	id         int64
	broker     string
	instrument models.Instrument
	token      string

	ticks chan models.Tick
	errs  chan error
	done  chan struct{}

	// mu orders push against release: once closed is set no further
	// send on ticks can start, so closing the channel is safe.
	mu     sync.Mutex
	closed bool
}

func newSubscription(id int64, broker string, instrument models.Instrument, token string, buffer int) *Subscription {
	return &Subscription{
		id:         id,
		broker:     broker,
		instrument: instrument,
		token:      token,
		ticks:      make(chan models.Tick, buffer),
		errs:       make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// Broker returns the broker identity of the subscription.
func (s *Subscription) Broker() string {
	return s.broker
}

// Instrument returns the canonical instrument subscribed to.
func (s *Subscription) Instrument() models.Instrument {
	return s.instrument
}

// Ticks returns the receive channel. It is closed when the
// subscription is released.
func (s *Subscription) Ticks() <-chan models.Tick {
	return s.ticks
}

// Errs delivers stream-level failures, such as StreamUnavailable after
// the reconnect ceiling is exhausted.
func (s *Subscription) Errs() <-chan error {
	return s.errs
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// push delivers a tick without blocking; a full buffer drops the tick
// for this subscriber only. Ticks racing a release are dropped.
func (s *Subscription) push(tick models.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ticks <- tick:
		return true
	default:
		return false
	}
}

// fail delivers a stream failure without blocking.
func (s *Subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Subscription) release() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	close(s.ticks)
}
