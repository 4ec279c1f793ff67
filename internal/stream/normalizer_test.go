package stream

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
)

var (
	reliance = models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE}
	infy     = models.Instrument{Symbol: "INFY", Exchange: models.NSE}
)

type stubSource struct{}

func (s *stubSource) DownloadMasterContract(ctx context.Context) ([]symbols.Record, error) {
	return []symbols.Record{
		{Instrument: reliance, BrokerSymbol: "RELIANCE", BrokerToken: "738561"},
		{Instrument: infy, BrokerSymbol: "INFY", BrokerToken: "408065"},
	}, nil
}

// fakeFeed is a scriptable in-memory feed.
type fakeFeed struct {
	mu               sync.Mutex
	connectCalls     int
	connectErrs      []error // consumed per Connect call, nil = success
	subscribeErrs    []error // consumed per Subscribe call, nil = success
	subscribeCalls   [][]string
	unsubscribeCalls [][]string

	onTick       func(token string, tick models.Tick)
	onDisconnect func(err error)
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) Subscribe(tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls = append(f.subscribeCalls, tokens)
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		return err
	}
	return nil
}

func (f *fakeFeed) Unsubscribe(tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribeCalls = append(f.unsubscribeCalls, tokens)
	return nil
}

func (f *fakeFeed) OnTick(handler func(token string, tick models.Tick)) {
	f.mu.Lock()
	f.onTick = handler
	f.mu.Unlock()
}

func (f *fakeFeed) OnDisconnect(handler func(err error)) {
	f.mu.Lock()
	f.onDisconnect = handler
	f.mu.Unlock()
}

func (f *fakeFeed) pushTick(token string, ltp float64) {
	f.mu.Lock()
	handler := f.onTick
	f.mu.Unlock()
	if handler != nil {
		handler(token, models.Tick{LTP: ltp, Timestamp: time.Now()})
	}
}

func (f *fakeFeed) drop(err error) {
	f.mu.Lock()
	handler := f.onDisconnect
	f.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (f *fakeFeed) counts() (connects, subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, len(f.subscribeCalls), len(f.unsubscribeCalls)
}

func testDirectory(t *testing.T) *symbols.Directory {
	t.Helper()
	d := symbols.NewDirectory("test", &stubSource{}, nil, zerolog.Nop())
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return d
}

func newTestNormalizer(t *testing.T, feed *fakeFeed, cfg Config) *Normalizer {
	t.Helper()
	factory := func(ctx context.Context) (Feed, error) { return feed, nil }
	n := NewNormalizer("test", factory, testDirectory(t), cfg, zerolog.Nop())
	t.Cleanup(func() { n.Close() })
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWireSubscriptionIsRefcounted(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub1, err := n.Subscribe(reliance)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub2, err := n.Subscribe(reliance)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, subs, _ := feed.counts(); subs != 1 {
		t.Errorf("wire subscribes = %d, want 1 for two consumers", subs)
	}
	if got := n.SubscriberCount(reliance); got != 2 {
		t.Errorf("subscriber count = %d, want 2", got)
	}

	if err := n.Unsubscribe(sub1); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, _, unsubs := feed.counts(); unsubs != 0 {
		t.Error("wire unsubscribe issued while a consumer remains")
	}

	if err := n.Unsubscribe(sub2); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, _, unsubs := feed.counts(); unsubs != 1 {
		t.Errorf("wire unsubscribes = %d, want 1 after last consumer left", unsubs)
	}
}

func TestTicksFanOutToAllSubscribers(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub1, _ := n.Subscribe(reliance)
	sub2, _ := n.Subscribe(reliance)

	feed.pushTick("738561", 2850.5)

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case tick := <-sub.Ticks():
			if tick.Instrument != reliance {
				t.Errorf("sub%d instrument = %v, want %v", i+1, tick.Instrument, reliance)
			}
			if tick.LTP != 2850.5 {
				t.Errorf("sub%d ltp = %v", i+1, tick.LTP)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d received no tick", i+1)
		}
	}
}

func TestTickForUnsubscribedTokenIgnored(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub, _ := n.Subscribe(reliance)
	feed.pushTick("408065", 1500) // INFY, nobody subscribed
	feed.pushTick("999999", 1)    // unknown token

	select {
	case tick := <-sub.Ticks():
		t.Fatalf("unexpected tick: %+v", tick)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeBeforeStartIsQueued(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())

	if _, err := n.Subscribe(reliance); err != nil {
		t.Fatalf("Subscribe before Start: %v", err)
	}
	if _, subs, _ := feed.counts(); subs != 0 {
		t.Fatal("wire subscribe issued before connect")
	}

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, subs, _ := feed.counts()
		return subs == 1
	})
}

func TestReconnectResubscribesWithoutCallerAction(t *testing.T) {
	feed := &fakeFeed{}
	cfg := Config{TickBuffer: 8, ReconnectMax: 5, ReconnectBaseWait: time.Millisecond}
	n := newTestNormalizer(t, feed, cfg)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub, _ := n.Subscribe(reliance)

	feed.drop(stderrors.New("transport reset"))

	waitFor(t, 2*time.Second, func() bool {
		connects, subs, _ := feed.counts()
		return connects >= 2 && subs >= 2 && n.State() == StateConnected
	})

	// The pair must have been resubscribed on the wire.
	feed.mu.Lock()
	last := feed.subscribeCalls[len(feed.subscribeCalls)-1]
	feed.mu.Unlock()
	if len(last) != 1 || last[0] != "738561" {
		t.Errorf("resubscribed tokens = %v, want [738561]", last)
	}

	// And ticks flow to the same handle, no caller re-subscribe.
	feed.pushTick("738561", 2900)
	select {
	case tick := <-sub.Ticks():
		if tick.LTP != 2900 {
			t.Errorf("ltp = %v, want 2900", tick.LTP)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick after reconnect")
	}
}

// Ticks racing subscribe/unsubscribe churn must never send on a
// released handle's channel; a panic here would take down the feed
// callback path.
func TestTickRacingUnsubscribeDoesNotPanic(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	var pushers sync.WaitGroup
	for i := 0; i < 4; i++ {
		pushers.Add(1)
		go func() {
			defer pushers.Done()
			for {
				select {
				case <-done:
					return
				default:
					feed.pushTick("738561", 100)
				}
			}
		}()
	}

	var churners sync.WaitGroup
	for i := 0; i < 4; i++ {
		churners.Add(1)
		go func() {
			defer churners.Done()
			for j := 0; j < 200; j++ {
				sub, err := n.Subscribe(reliance)
				if err != nil {
					t.Errorf("Subscribe: %v", err)
					return
				}
				if err := n.Unsubscribe(sub); err != nil {
					t.Errorf("Unsubscribe: %v", err)
					return
				}
			}
		}()
	}

	churners.Wait()
	close(done)
	pushers.Wait()
}

// A failed wire-level subscribe must reach the subscriber instead of
// leaving a handle that silently never ticks.
func TestWireSubscribeFailureSurfacesToSubscriber(t *testing.T) {
	wireErr := stderrors.New("subscribe refused")
	feed := &fakeFeed{subscribeErrs: []error{wireErr}}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub, err := n.Subscribe(reliance)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case err := <-sub.Errs():
		if !stderrors.Is(err, wireErr) {
			t.Errorf("error = %v, want the wire subscribe failure", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wire subscribe failure not delivered")
	}
}

func TestReconnectCeilingFailsSubscribers(t *testing.T) {
	retryErr := stderrors.New("still down")
	feed := &fakeFeed{connectErrs: []error{nil, retryErr, retryErr}}
	cfg := Config{TickBuffer: 8, ReconnectMax: 2, ReconnectBaseWait: time.Millisecond}
	n := newTestNormalizer(t, feed, cfg)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub, _ := n.Subscribe(reliance)

	feed.drop(stderrors.New("transport reset"))

	select {
	case err := <-sub.Errs():
		if !stderrors.Is(err, errors.ErrStreamUnavailable) {
			t.Errorf("error = %v, want ErrStreamUnavailable", err)
		}
		if !stderrors.Is(err, errors.ErrTransportDisconnected) {
			t.Errorf("error = %v, want the transport drop in the chain", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no StreamUnavailable after retry ceiling")
	}
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var panicking, healthy atomic.Int32
	_, err := n.SubscribeFunc(reliance, func(tick models.Tick) {
		panicking.Add(1)
		panic("subscriber bug")
	})
	if err != nil {
		t.Fatalf("SubscribeFunc: %v", err)
	}
	_, err = n.SubscribeFunc(reliance, func(tick models.Tick) {
		healthy.Add(1)
	})
	if err != nil {
		t.Fatalf("SubscribeFunc: %v", err)
	}

	feed.pushTick("738561", 1)
	feed.pushTick("738561", 2)

	waitFor(t, time.Second, func() bool {
		return healthy.Load() == 2 && panicking.Load() == 2
	})
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	feed := &fakeFeed{}
	n := newTestNormalizer(t, feed, DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n.Close()

	if _, err := n.Subscribe(reliance); !stderrors.Is(err, errors.ErrStreamUnavailable) {
		t.Errorf("error = %v, want ErrStreamUnavailable", err)
	}
}
