package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Descriptor declares one broker's identity and capabilities. All
// broker-specific behavior the core needs is data: mapping tables for
// price types, products, and exchanges, plus endpoint locations. No
// descriptor carries executable logic.
type Descriptor struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`

	// Canonical value -> broker value. A canonical value missing from
	// a table is unsupported on this broker.
	PriceTypes map[string]string `mapstructure:"price_types"`
	Products   map[string]string `mapstructure:"products"`
	Exchanges  map[string]string `mapstructure:"exchanges"`
	Actions    map[string]string `mapstructure:"actions"`

	APIBaseURL        string `mapstructure:"api_base_url"`
	WebsocketURL      string `mapstructure:"websocket_url"`
	MasterContractURL string `mapstructure:"master_contract_url"`
}

// normalizeKeys uppercases the canonical side of the mapping tables.
// viper lowercases TOML keys on decode, but the canonical vocabulary is
// uppercase; broker-side values are kept verbatim.
func (d *Descriptor) normalizeKeys() {
	d.PriceTypes = upperKeys(d.PriceTypes)
	d.Products = upperKeys(d.Products)
	d.Exchanges = upperKeys(d.Exchanges)
	d.Actions = upperKeys(d.Actions)
}

func upperKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate checks a descriptor for structural problems.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor missing id")
	}
	if len(d.PriceTypes) == 0 {
		return fmt.Errorf("descriptor %s: empty price_types table", d.ID)
	}
	if len(d.Products) == 0 {
		return fmt.Errorf("descriptor %s: empty products table", d.ID)
	}
	if len(d.Exchanges) == 0 {
		return fmt.Errorf("descriptor %s: empty exchanges table", d.ID)
	}
	return nil
}

// LoadDescriptors reads every *.toml broker descriptor in dir. When dir
// is empty or has no descriptors, the built-in set is returned.
func LoadDescriptors(dir string) (map[string]Descriptor, error) {
	descriptors := BuiltinDescriptors()

	if dir == "" {
		return descriptors, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return descriptors, nil
		}
		return nil, fmt.Errorf("reading descriptor dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		v := viper.New()
		v.SetConfigFile(filepath.Join(dir, entry.Name()))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading descriptor %s: %w", entry.Name(), err)
		}

		var d Descriptor
		if err := v.Unmarshal(&d); err != nil {
			return nil, fmt.Errorf("parsing descriptor %s: %w", entry.Name(), err)
		}
		d.normalizeKeys()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		// File descriptors override built-ins of the same id.
		descriptors[d.ID] = d
	}

	return descriptors, nil
}

// BuiltinDescriptors returns the descriptors shipped with the gateway.
func BuiltinDescriptors() map[string]Descriptor {
	identity := func(values ...string) map[string]string {
		m := make(map[string]string, len(values))
		for _, v := range values {
			m[v] = v
		}
		return m
	}

	zerodha := Descriptor{
		ID:         "zerodha",
		Name:       "Zerodha Kite",
		PriceTypes: identity("MARKET", "LIMIT", "SL", "SL-M"),
		Products:   identity("MIS", "CNC", "NRML"),
		Exchanges:  identity("NSE", "BSE", "NFO", "BFO", "CDS", "MCX"),
	}

	flattrade := Descriptor{
		ID:   "flattrade",
		Name: "Flattrade",
		PriceTypes: map[string]string{
			"MARKET": "MKT",
			"LIMIT":  "LMT",
			"SL":     "SL-LMT",
			"SL-M":   "SL-MKT",
		},
		Products: map[string]string{
			"MIS":  "I",
			"CNC":  "C",
			"NRML": "M",
		},
		Exchanges: map[string]string{
			"NSE": "NSE",
			"BSE": "BSE",
			"NFO": "NFO",
			"BFO": "BFO",
			"MCX": "MCX",
		},
		Actions: map[string]string{
			"BUY":  "B",
			"SELL": "S",
		},
		APIBaseURL:        "https://piconnect.flattrade.in/PiConnectTP",
		WebsocketURL:      "wss://piconnect.flattrade.in/PiConnectWSTp/",
		MasterContractURL: "https://api.flattrade.in/master/csv",
	}

	// Paper broker: canonical vocabulary verbatim, minus SL-M so the
	// unsupported-mapping path stays exercised end to end.
	paper := Descriptor{
		ID:         "paper",
		Name:       "Paper Trading",
		PriceTypes: identity("MARKET", "LIMIT", "SL"),
		Products:   identity("MIS", "CNC", "NRML"),
		Exchanges:  identity("NSE", "BSE", "NFO", "BFO", "CDS", "MCX"),
	}

	return map[string]Descriptor{
		zerodha.ID:   zerodha,
		flattrade.ID: flattrade,
		paper.ID:     paper,
	}
}
