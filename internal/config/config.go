// Package config loads proxy settings from defaults, an optional YAML file
// and PROXY_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/willvelida/m365-sdk-proxy/internal/copilot"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// levels: PROXY_COPILOT__TENANT_ID sets copilot.tenant_id.
const EnvPrefix = "PROXY_"

// DefaultPath is read when no explicit config file is given.
const DefaultPath = "config.yaml"

// Configuration sections named in validation errors.
const (
	SectionServer  = "Server"
	SectionCopilot = "CopilotStudioClientSettings"
	SectionChannel = "Channel"
	SectionStorage = "Storage"
	SectionLogging = "Logging"
)

// Storage and channel modes.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	ChannelReply     = "reply"
	ChannelConnector = "connector"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Copilot   CopilotConfig   `koanf:"copilot"`
	Channel   ChannelConfig   `koanf:"channel"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// CopilotConfig holds the Copilot Studio client settings.
type CopilotConfig struct {
	EnvironmentID    string `koanf:"environment_id"`
	SchemaName       string `koanf:"schema_name"`
	TenantID         string `koanf:"tenant_id"`
	AppClientID      string `koanf:"app_client_id"`
	AppClientSecret  string `koanf:"app_client_secret"`
	UseS2SConnection bool   `koanf:"use_s2s_connection"`
	Cloud            string `koanf:"cloud"`
	Scope            string `koanf:"scope"`    // Optional: overrides the cloud's scope
	BaseURL          string `koanf:"base_url"` // Optional: overrides the derived agent endpoint
	APIVersion       string `koanf:"api_version"`
}

type ChannelConfig struct {
	Mode string `koanf:"mode"` // reply, connector
	// TenantID is the authority tenant for connector tokens; defaults to copilot.tenant_id.
	TenantID string `koanf:"tenant_id"`
	// AllowPrivateServiceURLs lets the connector reach loopback and private addresses.
	AllowPrivateServiceURLs bool `koanf:"allow_private_service_urls"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// AuthConfig controls inbound request authentication.
type AuthConfig struct {
	APIKeyHashes []string `koanf:"api_key_hashes"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func defaults() map[string]any {
	return map[string]any{
		"server.port":            3978,
		"server.request_timeout": 2 * time.Minute,
		"copilot.cloud":          "Prod",
		"channel.mode":           ChannelReply,
		"storage.type":           StorageMemory,
		"storage.sqlite.path":    "m365-proxy.db",
		"logging.level":          "info",
		"logging.format":         "json",
		"telemetry.service_name": "m365-proxy",
	}
}

// Load reads configuration. An empty path reads config.yaml when present;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.expand()
	return &cfg, nil
}

// expand substitutes ${VAR} references in settings that commonly point at
// secrets or deployment-specific values.
func (c *Config) expand() {
	for _, s := range []*string{
		&c.Copilot.EnvironmentID,
		&c.Copilot.SchemaName,
		&c.Copilot.TenantID,
		&c.Copilot.AppClientID,
		&c.Copilot.AppClientSecret,
		&c.Copilot.Scope,
		&c.Copilot.BaseURL,
		&c.Channel.TenantID,
		&c.Storage.SQLite.Path,
	} {
		*s = substituteEnvVars(*s)
	}
	for i := range c.Auth.APIKeyHashes {
		c.Auth.APIKeyHashes[i] = substituteEnvVars(c.Auth.APIKeyHashes[i])
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

type issue struct {
	section string
	message string
}

// Validate checks the settings the proxy cannot start without. The returned
// error is a Configuration domain error naming the first failing section
// and listing every problem found.
func (c *Config) Validate() error {
	var issues []issue
	add := func(section, format string, args ...any) {
		issues = append(issues, issue{section: section, message: fmt.Sprintf(format, args...)})
	}

	// Port 0 binds any free port.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add(SectionServer, "server.port must be between 0 and 65535")
	}

	cp := c.Copilot
	switch {
	case cp.TenantID == "":
		add(SectionCopilot, "TenantId is required for authentication")
	case !guidPattern.MatchString(cp.TenantID):
		add(SectionCopilot, "TenantId must be a valid GUID format")
	}
	switch {
	case cp.AppClientID == "":
		add(SectionCopilot, "AppClientId is required for authentication")
	case !guidPattern.MatchString(cp.AppClientID):
		add(SectionCopilot, "AppClientId must be a valid GUID format")
	}
	switch {
	case cp.AppClientSecret == "":
		add(SectionCopilot, "AppClientSecret is required for authentication")
	case len(cp.AppClientSecret) < 10:
		add(SectionCopilot, "AppClientSecret must be at least 10 characters long")
	case strings.IndexFunc(cp.AppClientSecret, unicode.IsSpace) >= 0:
		add(SectionCopilot, "AppClientSecret cannot contain whitespace characters")
	}
	if cp.SchemaName == "" && cp.BaseURL == "" {
		add(SectionCopilot, "SchemaName is required")
	}
	if cp.EnvironmentID == "" && cp.BaseURL == "" {
		add(SectionCopilot, "EnvironmentId or BaseUrl is required")
	}
	if _, ok := copilot.LookupCloud(cp.Cloud); !ok {
		add(SectionCopilot, "Cloud must be one of %s", strings.Join(copilot.CloudNames(), ", "))
	}

	switch c.Channel.Mode {
	case ChannelReply, ChannelConnector:
	default:
		add(SectionChannel, "channel.mode must be %q or %q", ChannelReply, ChannelConnector)
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			add(SectionStorage, "storage.sqlite.path is required for sqlite storage")
		}
	default:
		add(SectionStorage, "storage.type must be %q or %q", StorageMemory, StorageSQLite)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add(SectionLogging, "logging.level must be debug, info, warn or error")
	}

	if len(issues) == 0 {
		return nil
	}

	messages := make([]string, len(issues))
	for i, is := range issues {
		messages[i] = is.message
	}
	err := domain.NewConfigurationError("invalid configuration: "+strings.Join(messages, "; "), issues[0].section)
	err.ValidationErrors = messages
	return err
}

// CloudSettings resolves the configured cloud.
func (c CopilotConfig) CloudSettings() copilot.Cloud {
	cloud, ok := copilot.LookupCloud(c.Cloud)
	if !ok {
		cloud, _ = copilot.LookupCloud("")
	}
	return cloud
}

// ResolvedScope returns the explicit scope or the cloud's default.
func (c CopilotConfig) ResolvedScope() string {
	if c.Scope != "" {
		return c.Scope
	}
	return c.CloudSettings().Scope()
}

// ResolvedBaseURL returns the explicit base URL or the one derived from the
// environment id and schema name.
func (c CopilotConfig) ResolvedBaseURL() (string, error) {
	if c.BaseURL != "" {
		return c.BaseURL, nil
	}
	u, err := copilot.BaseURL(c.CloudSettings(), c.EnvironmentID, c.SchemaName)
	if err != nil {
		return "", domain.NewConfigurationError(err.Error(), SectionCopilot).WithCause(err)
	}
	return u, nil
}
