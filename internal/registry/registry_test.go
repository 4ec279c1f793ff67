package registry

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/brokers/paper"
	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/models"
)

func testConfig(enabled ...string) *config.Config {
	return &config.Config{
		Brokers:     config.BrokersConfig{Enabled: enabled},
		Credentials: map[string]config.BrokerCredentials{},
	}
}

func TestRegistryAllowList(t *testing.T) {
	transports := map[string]Transport{"paper": paper.NewTransport()}
	reg, err := New(testConfig("paper"), BuiltinDescriptors(), transports, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := reg.Get("paper"); err != nil {
		t.Errorf("enabled broker rejected: %v", err)
	}

	// Known descriptor, but not on the allow-list.
	if _, err := reg.Get("zerodha"); !stderrors.Is(err, errors.ErrUnknownBroker) {
		t.Errorf("error = %v, want ErrUnknownBroker", err)
	}

	if _, err := reg.Get("upstox"); !stderrors.Is(err, errors.ErrUnknownBroker) {
		t.Errorf("error = %v, want ErrUnknownBroker", err)
	}
}

func TestRegistryRejectsEnabledBrokerWithoutTransport(t *testing.T) {
	_, err := New(testConfig("paper", "zerodha"), BuiltinDescriptors(),
		map[string]Transport{"paper": paper.NewTransport()}, nil, zerolog.Nop())
	if !stderrors.Is(err, errors.ErrUnknownBroker) {
		t.Errorf("error = %v, want ErrUnknownBroker at startup", err)
	}
}

func TestRegistryRejectsEnabledBrokerWithoutDescriptor(t *testing.T) {
	descriptors := BuiltinDescriptors()
	delete(descriptors, "paper")

	_, err := New(testConfig("paper"), descriptors,
		map[string]Transport{"paper": paper.NewTransport()}, nil, zerolog.Nop())
	if !stderrors.Is(err, errors.ErrUnknownBroker) {
		t.Errorf("error = %v, want ErrUnknownBroker at startup", err)
	}
}

func TestBrokerBundleWiring(t *testing.T) {
	transports := map[string]Transport{"paper": paper.NewTransport()}
	reg, err := New(testConfig("paper"), BuiltinDescriptors(), transports, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	broker, err := reg.Get("paper")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if broker.Directory == nil || broker.Translator == nil || broker.Normalizer == nil || broker.Transport == nil {
		t.Fatal("broker bundle incomplete")
	}

	// The paper descriptor deliberately omits SL-M.
	if broker.Translator.Table().SupportsPriceType(models.PriceTypeStopLossM) {
		t.Error("paper broker should not support SL-M")
	}
	if !broker.Translator.Table().SupportsPriceType(models.PriceTypeMarket) {
		t.Error("paper broker should support MARKET")
	}
}

func TestBuiltinDescriptorsValidate(t *testing.T) {
	for id, d := range BuiltinDescriptors() {
		if err := d.Validate(); err != nil {
			t.Errorf("builtin %s invalid: %v", id, err)
		}
	}
}

func TestLoadDescriptorsFromDir(t *testing.T) {
	dir := t.TempDir()
	descriptor := `
id = "upstox"
name = "Upstox"
api_base_url = "https://api.upstox.example"

[price_types]
MARKET = "MARKET"
LIMIT = "LIMIT"

[products]
MIS = "I"
CNC = "D"

[exchanges]
NSE = "NSE_EQ"
BSE = "BSE_EQ"
`
	if err := os.WriteFile(filepath.Join(dir, "upstox.toml"), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}

	descriptors, err := LoadDescriptors(dir)
	if err != nil {
		t.Fatalf("LoadDescriptors: %v", err)
	}

	d, ok := descriptors["upstox"]
	if !ok {
		t.Fatal("file descriptor not loaded")
	}
	// TOML decoding lowercases map keys; loaded tables must still be
	// keyed by the canonical uppercase vocabulary.
	if d.Exchanges["NSE"] != "NSE_EQ" {
		t.Errorf("exchange mapping = %q, want NSE_EQ", d.Exchanges["NSE"])
	}
	if d.PriceTypes["MARKET"] != "MARKET" || d.PriceTypes["LIMIT"] != "LIMIT" {
		t.Errorf("price type mapping not canonical: %v", d.PriceTypes)
	}
	if d.Products["MIS"] != "I" || d.Products["CNC"] != "D" {
		t.Errorf("product mapping not canonical: %v", d.Products)
	}
	for key := range d.Exchanges {
		if key != strings.ToUpper(key) {
			t.Errorf("non-canonical exchange key %q survived load", key)
		}
	}

	// Built-ins remain alongside file descriptors.
	if _, ok := descriptors["paper"]; !ok {
		t.Error("builtin descriptors lost when loading from dir")
	}
}

func TestLoadDescriptorsRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"), []byte(`id = "broken"`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadDescriptors(dir); err == nil {
		t.Error("expected error for descriptor with empty tables")
	}
}

func TestSessionIsCachedUntilReset(t *testing.T) {
	transport := paper.NewTransport()
	reg, err := New(testConfig("paper"), BuiltinDescriptors(),
		map[string]Transport{"paper": transport}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	broker, _ := reg.Get("paper")

	token1, err := broker.Session(context.Background(), config.BrokerCredentials{})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	token2, err := broker.Session(context.Background(), config.BrokerCredentials{})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if token1 != token2 {
		t.Error("session token not cached")
	}

	broker.ResetSession()
	if _, err := broker.Session(context.Background(), config.BrokerCredentials{}); err != nil {
		t.Fatalf("Session after reset: %v", err)
	}
}
