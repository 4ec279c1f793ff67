package symbols

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// stubSource serves a configurable record set, or fails.
type stubSource struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *stubSource) set(records []Record, err error) {
	s.mu.Lock()
	s.records = records
	s.err = err
	s.mu.Unlock()
}

func (s *stubSource) DownloadMasterContract(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func record(symbol, token string) Record {
	return Record{
		Instrument:   models.Instrument{Symbol: symbol, Exchange: models.NSE},
		BrokerSymbol: symbol,
		BrokerToken:  token,
		LotSize:      1,
		TickSize:     0.05,
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	source := &stubSource{}
	d := NewDirectory("paper", source, nil, zerolog.Nop())

	_, err := d.Resolve(models.Instrument{Symbol: "NOSUCH", Exchange: models.NSE})
	if !stderrors.Is(err, errors.ErrUnknownSymbol) {
		t.Errorf("error = %v, want ErrUnknownSymbol", err)
	}
}

func TestRefreshSwapsTable(t *testing.T) {
	source := &stubSource{records: []Record{record("RELIANCE", "738561")}}
	d := NewDirectory("paper", source, nil, zerolog.Nop())

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec, err := d.Resolve(models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.BrokerToken != "738561" {
		t.Errorf("token = %s, want 738561", rec.BrokerToken)
	}

	// Second generation replaces the first wholesale.
	source.set([]Record{record("INFY", "408065")}, nil)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := d.Resolve(models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE}); !stderrors.Is(err, errors.ErrUnknownSymbol) {
		t.Errorf("stale symbol still resolves after swap: %v", err)
	}
	if d.Size() != 1 {
		t.Errorf("size = %d, want 1", d.Size())
	}
}

func TestFailedRefreshKeepsPreviousTable(t *testing.T) {
	source := &stubSource{records: []Record{record("RELIANCE", "738561")}}
	d := NewDirectory("paper", source, nil, zerolog.Nop())

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	source.set(nil, fmt.Errorf("download interrupted"))
	err := d.Refresh(context.Background())
	if !stderrors.Is(err, errors.ErrRefreshFailed) {
		t.Fatalf("error = %v, want ErrRefreshFailed", err)
	}

	// Cause must stay visible through the wrapper.
	var refreshErr *errors.RefreshError
	if !stderrors.As(err, &refreshErr) {
		t.Fatal("expected a RefreshError")
	}

	rec, err := d.Resolve(models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE})
	if err != nil {
		t.Fatalf("previous table lost after failed refresh: %v", err)
	}
	if rec.BrokerToken != "738561" {
		t.Errorf("token = %s, want 738561", rec.BrokerToken)
	}
}

func TestResolveToken(t *testing.T) {
	source := &stubSource{records: []Record{record("TCS", "2953217")}}
	d := NewDirectory("paper", source, nil, zerolog.Nop())
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	instrument, ok := d.ResolveToken("2953217")
	if !ok {
		t.Fatal("token not found")
	}
	if instrument.Symbol != "TCS" {
		t.Errorf("symbol = %s, want TCS", instrument.Symbol)
	}

	if _, ok := d.ResolveToken("999999"); ok {
		t.Error("unknown token resolved")
	}
}

// Concurrent readers must always see one complete generation. A single
// snapshot read can never contain a mix of old and new records, even
// while refreshes swap the table underneath.
func TestRefreshIsAtomicUnderConcurrentReads(t *testing.T) {
	genA := []Record{record("RELIANCE", "A1"), record("INFY", "A2")}
	genB := []Record{record("RELIANCE", "B1"), record("INFY", "B2")}

	source := &stubSource{records: genA}
	d := NewDirectory("paper", source, nil, zerolog.Nop())
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				snapshot := d.Records()
				if len(snapshot) != 2 {
					t.Errorf("snapshot size = %d, want 2", len(snapshot))
					return
				}
				tokens := make(map[string]string, 2)
				for _, rec := range snapshot {
					tokens[rec.Instrument.Symbol] = rec.BrokerToken
				}
				sameGen := (tokens["RELIANCE"] == "A1" && tokens["INFY"] == "A2") ||
					(tokens["RELIANCE"] == "B1" && tokens["INFY"] == "B2")
				if !sameGen {
					t.Errorf("mixed generations observed: %s / %s", tokens["RELIANCE"], tokens["INFY"])
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			source.set(genB, nil)
		} else {
			source.set(genA, nil)
		}
		if err := d.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	close(done)
	wg.Wait()
}

func TestWarmCacheAcrossRestart(t *testing.T) {
	cachePath := t.TempDir() + "/symbols.db"

	cache, err := NewCache(cachePath)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	source := &stubSource{records: []Record{record("SBIN", "779521")}}
	d := NewDirectory("paper", source, cache, zerolog.Nop())
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	cache.Close()

	cache2, err := NewCache(cachePath)
	if err != nil {
		t.Fatalf("NewCache reopen: %v", err)
	}
	defer cache2.Close()

	// A fresh directory with no refresh resolves from the warm cache.
	d2 := NewDirectory("paper", &stubSource{}, cache2, zerolog.Nop())
	rec, err := d2.Resolve(models.Instrument{Symbol: "SBIN", Exchange: models.NSE})
	if err != nil {
		t.Fatalf("Resolve from warm cache: %v", err)
	}
	if rec.BrokerToken != "779521" {
		t.Errorf("token = %s, want 779521", rec.BrokerToken)
	}
}
