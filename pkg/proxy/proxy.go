// Package proxy provides the public API for embedding the M365 agent proxy.
// This is the stable API for external consumers.
package proxy

import (
	"github.com/willvelida/m365-sdk-proxy/internal/runtime"
)

// Proxy relays channel activities to a Copilot Studio agent.
// See internal/runtime.Proxy for full documentation.
type Proxy = runtime.Proxy

// Option is a functional option for configuring a Proxy.
type Option = runtime.Option

// New creates a new Proxy with the given options.
// Example:
//
//	p, err := proxy.New(
//	    proxy.WithConfigFile("config.yaml"),
//	    proxy.WithSQLite("./data/m365-proxy.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile

	// Storage
	WithSQLite        = runtime.WithSQLite
	WithMemoryStorage = runtime.WithMemoryStorage

	// Advanced options
	WithLogger             = runtime.WithLogger
	WithStore              = runtime.WithStore
	WithBackendAcquirer    = runtime.WithBackendAcquirer
	WithConnectorAcquirer  = runtime.WithConnectorAcquirer
	WithBackendTransport   = runtime.WithBackendTransport
	WithConnectorTransport = runtime.WithConnectorTransport
	WithResilienceOptions  = runtime.WithResilienceOptions
)
