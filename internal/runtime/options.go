package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/willvelida/m365-sdk-proxy/internal/auth"
	"github.com/willvelida/m365-sdk-proxy/internal/config"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
	"github.com/willvelida/m365-sdk-proxy/internal/storage/memory"
	"github.com/willvelida/m365-sdk-proxy/internal/storage/sqlite"
)

// Option is a functional option for configuring a Proxy.
type Option func(*Proxy) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(p *Proxy) error {
		p.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path, environment overrides included.
// An empty path reads config.yaml from the working directory when present.
func WithConfigFile(path string) Option {
	return func(p *Proxy) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		p.cfg = cfg
		return nil
	}
}

// WithSQLite stores conversation state and transcripts in a SQLite database.
func WithSQLite(path string) Option {
	return func(p *Proxy) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		p.store = store
		return nil
	}
}

// WithMemoryStorage keeps conversation state and transcripts in process memory.
func WithMemoryStorage() Option {
	return func(p *Proxy) error {
		p.store = memory.New()
		return nil
	}
}

// WithStore sets a custom storage backend. The proxy closes it on Shutdown.
func WithStore(store storage.Store) Option {
	return func(p *Proxy) error {
		p.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) error {
		p.logger = logger
		return nil
	}
}

// WithBackendAcquirer replaces the client-credentials flow used for the
// Copilot Studio credential.
func WithBackendAcquirer(a auth.Acquirer) Option {
	return func(p *Proxy) error {
		p.backendAcquirer = a
		return nil
	}
}

// WithConnectorAcquirer replaces the client-credentials flow used for the
// channel connector credential.
func WithConnectorAcquirer(a auth.Acquirer) Option {
	return func(p *Proxy) error {
		p.connectorAcquirer = a
		return nil
	}
}

// WithBackendTransport sets the base transport for Copilot Studio calls,
// beneath authentication and tracing.
func WithBackendTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) error {
		p.backendTransport = rt
		return nil
	}
}

// WithConnectorTransport sets the base transport for connector calls. It
// replaces the private-address guard.
func WithConnectorTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) error {
		p.connectorTransport = rt
		return nil
	}
}

// WithResilienceOptions passes options to the resilience registry, such as
// a custom clock or wait function.
func WithResilienceOptions(opts ...resilience.Option) Option {
	return func(p *Proxy) error {
		p.resilienceOpts = append(p.resilienceOpts, opts...)
		return nil
	}
}
