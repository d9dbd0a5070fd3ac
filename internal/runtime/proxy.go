// Package runtime assembles the proxy from configuration and manages its
// HTTP lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/willvelida/m365-sdk-proxy/internal/auth"
	"github.com/willvelida/m365-sdk-proxy/internal/channel"
	"github.com/willvelida/m365-sdk-proxy/internal/config"
	"github.com/willvelida/m365-sdk-proxy/internal/conversation"
	"github.com/willvelida/m365-sdk-proxy/internal/copilot"
	"github.com/willvelida/m365-sdk-proxy/internal/dispatch"
	"github.com/willvelida/m365-sdk-proxy/internal/pkg/safehttp"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
	"github.com/willvelida/m365-sdk-proxy/internal/server"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
	"github.com/willvelida/m365-sdk-proxy/internal/storage/memory"
	"github.com/willvelida/m365-sdk-proxy/internal/storage/sqlite"
)

const tokenRequestTimeout = 30 * time.Second

// Proxy is the assembled relay: inbound HTTP surface, dispatcher, backend
// gateway and their shared resilience registry.
type Proxy struct {
	// Dependencies (injected via options)
	cfg                *config.Config
	store              storage.Store
	logger             *slog.Logger
	backendAcquirer    auth.Acquirer
	connectorAcquirer  auth.Acquirer
	backendTransport   http.RoundTripper
	connectorTransport http.RoundTripper
	resilienceOpts     []resilience.Option

	// Assembled components
	registry *resilience.Registry
	server   *server.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// New validates the configuration and assembles every component.
func New(opts ...Option) (*Proxy, error) {
	p := &Proxy{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if p.cfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfig or WithConfigFile)")
	}
	if err := p.cfg.Validate(); err != nil {
		p.closeStore()
		return nil, err
	}

	if p.store == nil {
		store, err := openStore(p.cfg.Storage)
		if err != nil {
			return nil, err
		}
		p.store = store
	}

	if err := p.build(); err != nil {
		p.closeStore()
		return nil, err
	}
	return p, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.StorageSQLite:
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

func (p *Proxy) build() error {
	cfg := p.cfg
	cloud := cfg.Copilot.CloudSettings()

	baseURL, err := cfg.Copilot.ResolvedBaseURL()
	if err != nil {
		return err
	}

	p.registry = resilience.NewRegistry(append([]resilience.Option{resilience.WithLogger(p.logger)}, p.resilienceOpts...)...)

	tokenClient := &http.Client{
		Timeout:   tokenRequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	backendAcquirer := p.backendAcquirer
	if backendAcquirer == nil {
		backendAcquirer = &auth.ClientCredentials{
			TenantID:      cfg.Copilot.TenantID,
			ClientID:      cfg.Copilot.AppClientID,
			ClientSecret:  cfg.Copilot.AppClientSecret,
			AuthorityHost: cloud.AuthorityHost,
			HTTPClient:    tokenClient,
		}
	}
	backendAuth := auth.NewAuthenticator(backendAcquirer,
		auth.WithPipeline(p.registry.Authentication()),
		auth.WithScopes(func() []string { return []string{cfg.Copilot.ResolvedScope()} }),
		auth.WithTenantID(cfg.Copilot.TenantID),
		auth.WithLogger(p.logger),
	)

	backendHTTP := &http.Client{
		Transport: otelhttp.NewTransport(&auth.Transport{Source: backendAuth, Base: p.backendTransport}),
	}
	client := copilot.NewClient(baseURL,
		copilot.WithHTTPClient(backendHTTP),
		copilot.WithAPIVersion(cfg.Copilot.APIVersion),
	)

	gateway := conversation.NewGateway(conversation.CopilotBackend{Client: client},
		conversation.WithPipeline(p.registry.Backend()),
		conversation.WithConversationStore(p.store),
		conversation.WithLogger(p.logger),
	)
	dispatcher := dispatch.New(gateway,
		dispatch.WithRecorder(conversation.NewRecorder(p.store, p.logger)),
		dispatch.WithLogger(p.logger),
	)

	handlerOpts := []server.HandlerOption{
		server.WithTranscripts(p.store),
		server.WithRegistry(p.registry),
		server.WithHandlerLogger(p.logger),
	}
	if cfg.Channel.Mode == config.ChannelConnector {
		handlerOpts = append(handlerOpts, server.WithConnector(p.connector(tokenClient)))
	}

	p.server = server.New(server.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		Keys:           auth.NewKeyValidator(cfg.Auth.APIKeyHashes),
	}, server.NewHandler(dispatcher, handlerOpts...), p.logger)

	p.logger.Info("proxy assembled",
		slog.String("cloud", cloud.Name),
		slog.String("channel_mode", cfg.Channel.Mode),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("use_s2s_connection", cfg.Copilot.UseS2SConnection),
		slog.Bool("inbound_auth", len(cfg.Auth.APIKeyHashes) > 0),
	)
	return nil
}

func (p *Proxy) connector(tokenClient *http.Client) *channel.Connector {
	cfg := p.cfg
	tenantID := cfg.Channel.TenantID
	if tenantID == "" {
		tenantID = cfg.Copilot.TenantID
	}

	acquirer := p.connectorAcquirer
	if acquirer == nil {
		acquirer = &auth.ClientCredentials{
			TenantID:      tenantID,
			ClientID:      cfg.Copilot.AppClientID,
			ClientSecret:  cfg.Copilot.AppClientSecret,
			AuthorityHost: cfg.Copilot.CloudSettings().AuthorityHost,
			HTTPClient:    tokenClient,
		}
	}
	connectorAuth := auth.NewAuthenticator(acquirer,
		auth.WithPipeline(p.registry.Authentication()),
		auth.WithScopes(func() []string { return []string{channel.BotFrameworkScope} }),
		auth.WithTenantID(tenantID),
		auth.WithLogger(p.logger),
	)

	base := p.connectorTransport
	if base == nil {
		base = safehttp.NewTransport(cfg.Channel.AllowPrivateServiceURLs)
	}
	httpClient := &http.Client{
		Timeout:   tokenRequestTimeout,
		Transport: otelhttp.NewTransport(&auth.Transport{Source: connectorAuth, Base: base}),
	}
	return channel.NewConnector(httpClient, p.registry.Transport(), p.logger)
}

// Handler returns the proxy's HTTP handler, middleware included.
func (p *Proxy) Handler() http.Handler {
	return p.server.Router
}

// Registry exposes the resilience pipelines, mainly for health reporting.
func (p *Proxy) Registry() *resilience.Registry {
	return p.registry
}

// Config returns the validated configuration.
func (p *Proxy) Config() *config.Config {
	return p.cfg
}

// Start binds the configured port and serves in the background. Bind
// failures are returned; later serve failures are reported by Wait.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listener != nil {
		return fmt.Errorf("proxy already started")
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", p.server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.server.Addr(), err)
	}
	p.listener = l
	p.done = make(chan error, 1)

	go func() {
		p.done <- p.server.Serve(l)
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Wait blocks until the server stops and returns its error.
func (p *Proxy) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	err := <-done
	done <- err
	return err
}

// Shutdown gracefully stops the server, then closes storage.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started := p.listener != nil
	p.mu.Unlock()

	var errs []error
	if started {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if err := p.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	p.logger.Info("proxy stopped")
	return errors.Join(errs...)
}

func (p *Proxy) closeStore() error {
	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}
