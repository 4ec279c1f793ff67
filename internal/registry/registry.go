// Package registry selects per-broker capabilities at runtime from a
// declarative descriptor set filtered by the configured allow-list.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/errors"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
	"github.com/marketcalls/openalgo-sub020/internal/translate"
)

// Transport is the outbound per-broker boundary. Each broker supplies
// one implementation; the core treats it as opaque.
type Transport interface {
	// Authenticate exchanges credentials for a session token.
	Authenticate(ctx context.Context, creds config.BrokerCredentials) (string, error)

	// SubmitOrder sends a broker-vocabulary order and returns the raw
	// response for the translator to normalize.
	SubmitOrder(ctx context.Context, order *translate.BrokerOrder, token string) (translate.RawResponse, error)

	// CancelOrder requests cancellation of an already-dispatched order.
	CancelOrder(ctx context.Context, orderID, token string) (translate.RawResponse, error)

	// DownloadMasterContract fetches and parses the broker's
	// instrument catalog.
	DownloadMasterContract(ctx context.Context) ([]symbols.Record, error)

	// OpenFeed opens the broker's tick stream transport.
	OpenFeed(ctx context.Context, token string) (stream.Feed, error)
}

// Broker bundles the per-broker capability set the core dispatches
// through: symbol directory, order translator, streaming normalizer,
// and the opaque transport underneath them.
type Broker struct {
	ID         string
	Descriptor Descriptor
	Directory  *symbols.Directory
	Translator *translate.Translator
	Normalizer *stream.Normalizer
	Transport  Transport

	mu    sync.Mutex
	token string
}

// Session returns the cached session token, authenticating through the
// transport on first use.
func (b *Broker) Session(ctx context.Context, creds config.BrokerCredentials) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" {
		return b.token, nil
	}

	token, err := b.Transport.Authenticate(ctx, creds)
	if err != nil {
		return "", errors.Wrapf(err, "authenticating with %s", b.ID)
	}
	b.token = token
	return token, nil
}

// ResetSession drops the cached token, forcing re-authentication.
func (b *Broker) ResetSession() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

// Registry holds the configured brokers. Registration is static at
// process start; there is no dynamic loading.
type Registry struct {
	brokers map[string]*Broker
}

// New builds the registry from descriptors, transports, and the
// allow-list in cfg. Brokers without a transport implementation or a
// descriptor are rejected at startup rather than at first use.
func New(cfg *config.Config, descriptors map[string]Descriptor, transports map[string]Transport, cache *symbols.Cache, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{brokers: make(map[string]*Broker)}

	streamCfg := stream.Config{
		TickBuffer:        cfg.Stream.TickBuffer,
		ReconnectMax:      cfg.Stream.ReconnectMaxRetries,
		ReconnectBaseWait: cfg.Stream.ReconnectBaseDelay,
	}

	for _, id := range cfg.Brokers.Enabled {
		descriptor, ok := descriptors[id]
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownBroker, "no descriptor for enabled broker %q", id)
		}
		transport, ok := transports[id]
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownBroker, "no transport for enabled broker %q", id)
		}

		directory := symbols.NewDirectory(id, transport, cache, logger)
		table := translate.NewTable(descriptor.PriceTypes, descriptor.Products, descriptor.Exchanges, descriptor.Actions)
		translator := translate.NewTranslator(id, table, directory)

		broker := &Broker{
			ID:         id,
			Descriptor: descriptor,
			Directory:  directory,
			Translator: translator,
			Transport:  transport,
		}

		broker.Normalizer = stream.NewNormalizer(id, func(ctx context.Context) (stream.Feed, error) {
			token, err := broker.Session(ctx, cfg.Credentials[id])
			if err != nil {
				return nil, err
			}
			return transport.OpenFeed(ctx, token)
		}, directory, streamCfg, logger)

		r.brokers[id] = broker
		logger.Debug().Str("broker", id).Str("name", descriptor.Name).Msg("Broker registered")
	}

	return r, nil
}

// Get returns the broker bundle for brokerID, or UnknownBroker if the
// identity is not on the allow-list.
func (r *Registry) Get(brokerID string) (*Broker, error) {
	broker, ok := r.brokers[brokerID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownBroker, "%q is not an enabled broker", brokerID)
	}
	return broker, nil
}

// IDs returns the registered broker identities.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.brokers))
	for id := range r.brokers {
		ids = append(ids, id)
	}
	return ids
}

// Directories returns every broker's symbol directory, for the refresh
// scheduler.
func (r *Registry) Directories() []*symbols.Directory {
	dirs := make([]*symbols.Directory, 0, len(r.brokers))
	for _, b := range r.brokers {
		dirs = append(dirs, b.Directory)
	}
	return dirs
}
