// Package config provides centralized configuration management using Viper.
// It supports loading configuration from files, environment variables, and
// command-line flags with a clear hierarchy: Flags > Env > Config File > Defaults.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"bmpow/pow"
)

// Default client configuration values.
const (
	DefaultClientServerURL        = "http://localhost:8080"
	DefaultClientWorkers          = 0 // 0 = one worker per CPU core
	DefaultClientMaxNonce         = 0 // 0 = engine default (max safe nonce)
	DefaultClientPollInterval     = 2 * time.Second
	DefaultClientRequestTimeout   = 15 * time.Second
	DefaultClientLoggingLevel     = "info"
	DefaultClientLoggingFormat    = "color"
	DefaultClientLoggingQuiet     = false
	DefaultClientLoggingVerbose   = false
)

// Default server configuration values.
const (
	DefaultServerAPIPort              = 8080
	DefaultServerHTTPPort             = 0 // redirect listener, 0 = disabled
	DefaultServerDefaultWorkers       = 0 // 0 = one worker per CPU core
	DefaultServerMaxWorkers           = pow.MaxPoolSize
	DefaultServerMaxConcurrentJobs    = 4
	DefaultServerJobRetention         = 15 * time.Minute
	DefaultServerTLSEnabled           = false
	DefaultServerTLSCertFile          = "certs/server.crt"
	DefaultServerTLSKeyFile           = "certs/server.key"
	DefaultServerAPIReadTimeout       = 15 * time.Second
	DefaultServerAPIWriteTimeout      = 60 * time.Second
	DefaultServerAPIIdleTimeout       = 60 * time.Second
	DefaultServerEventLogInterval     = 30 * time.Second
	DefaultServerEventLogPath         = "pow_events.json"
	DefaultServerLoggingLevel         = "info"
	DefaultServerLoggingFormat        = "color"
	DefaultServerLoggingQuiet         = false
	DefaultServerLoggingVerbose       = false
)

// ClientConfig is the configuration of the bmpow command-line client.
type ClientConfig struct {
	Server  ServerConnection    `mapstructure:"server"`
	Search  SearchConfig        `mapstructure:"search"`
	Network NetworkConfig       `mapstructure:"network"`
	Logging ClientLoggingConfig `mapstructure:"logging"`
}

// ServerConnection points the client at a bmpow service.
type ServerConnection struct {
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SearchConfig carries the default search parameters.
type SearchConfig struct {
	Workers  int    `mapstructure:"workers"`   // 0 = one per CPU core
	MaxNonce uint64 `mapstructure:"max_nonce"` // 0 = engine default
}

// NetworkConfig defines client request timing.
type NetworkConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ClientLoggingConfig struct {
	Level   string `mapstructure:"level"`   // debug, info, warn, error
	Format  string `mapstructure:"format"`  // text, color, json
	Quiet   bool   `mapstructure:"quiet"`   // suppress all but errors
	Verbose bool   `mapstructure:"verbose"` // enable debug logs
}

// ServerConfig is the configuration of the bmpow service.
type ServerConfig struct {
	Network ServerNetwork `mapstructure:"network"`
	Pow     PowConfig     `mapstructure:"pow"`
	TLS     TLSConfig     `mapstructure:"tls"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerNetwork defines the listening ports. HTTPPort, when non-zero and TLS
// is enabled, serves HTTP-to-HTTPS redirects.
type ServerNetwork struct {
	APIPort  int `mapstructure:"api_port"`
	HTTPPort int `mapstructure:"http_port"`
}

// PowConfig bounds the work the service accepts.
type PowConfig struct {
	DefaultWorkers    int           `mapstructure:"default_workers"`     // 0 = one per CPU core
	MaxWorkers        int           `mapstructure:"max_workers"`         // per-request ceiling
	MaxConcurrentJobs int64         `mapstructure:"max_concurrent_jobs"` // searches running at once
	JobRetention      time.Duration `mapstructure:"job_retention"`       // finished jobs kept this long
	MaxNonce          uint64        `mapstructure:"max_nonce"`           // 0 = engine default
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type APIConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	// Event log fields (JSON analytics of completed searches)
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	FilePath       string        `mapstructure:"file_path"`

	// Application logging fields
	Level   string `mapstructure:"level"`   // debug, info, warn, error
	Format  string `mapstructure:"format"`  // text, color, json
	Quiet   bool   `mapstructure:"quiet"`   // suppress all but errors
	Verbose bool   `mapstructure:"verbose"` // enable debug logs
}

func (c *ClientConfig) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url cannot be empty")
	}

	if c.Search.Workers < 0 || c.Search.Workers > pow.MaxPoolSize {
		return fmt.Errorf("search.workers must be in [0, %d], got %d", pow.MaxPoolSize, c.Search.Workers)
	}

	if c.Network.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("poll_interval too short (minimum 100ms), got %v", c.Network.PollInterval)
	}

	if c.Network.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout too short (minimum 1s), got %v", c.Network.RequestTimeout)
	}

	return validateLogging(c.Logging.Level, c.Logging.Format)
}

func (c *ServerConfig) Validate() error {
	if err := c.validatePorts(); err != nil {
		return err
	}
	if err := c.validatePowConfig(); err != nil {
		return err
	}
	if err := c.validateTLSConfig(); err != nil {
		return err
	}
	if err := c.validateAPIConfig(); err != nil {
		return err
	}
	return c.validateLoggingConfig()
}

func (c *ServerConfig) validatePorts() error {
	if c.Network.APIPort < 1 || c.Network.APIPort > 65535 {
		return fmt.Errorf("invalid api_port: %d (must be 1-65535)", c.Network.APIPort)
	}
	if c.Network.HTTPPort < 0 || c.Network.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d (must be 0-65535)", c.Network.HTTPPort)
	}
	if c.Network.HTTPPort != 0 && c.Network.HTTPPort == c.Network.APIPort {
		return fmt.Errorf("ports must be unique: api=%d, http=%d", c.Network.APIPort, c.Network.HTTPPort)
	}
	return nil
}

func (c *ServerConfig) validatePowConfig() error {
	if c.Pow.MaxWorkers < 1 || c.Pow.MaxWorkers > pow.MaxPoolSize {
		return fmt.Errorf("pow.max_workers must be in [1, %d], got %d", pow.MaxPoolSize, c.Pow.MaxWorkers)
	}
	if c.Pow.DefaultWorkers < 0 || c.Pow.DefaultWorkers > c.Pow.MaxWorkers {
		return fmt.Errorf("pow.default_workers must be in [0, %d], got %d", c.Pow.MaxWorkers, c.Pow.DefaultWorkers)
	}
	if c.Pow.MaxConcurrentJobs < 1 {
		return fmt.Errorf("pow.max_concurrent_jobs must be positive, got %d", c.Pow.MaxConcurrentJobs)
	}
	if c.Pow.JobRetention < time.Minute {
		return fmt.Errorf("pow.job_retention too short (minimum 1m), got %v", c.Pow.JobRetention)
	}
	return nil
}

func (c *ServerConfig) validateTLSConfig() error {
	if !c.TLS.Enabled {
		return nil
	}
	if c.TLS.CertFile == "" {
		return fmt.Errorf("tls.cert_file is required when tls.enabled is true")
	}
	if c.TLS.KeyFile == "" {
		return fmt.Errorf("tls.key_file is required when tls.enabled is true")
	}
	return nil
}

func (c *ServerConfig) validateAPIConfig() error {
	if c.API.ReadTimeout < time.Second {
		return fmt.Errorf("api.read_timeout too short (minimum 1s), got %v", c.API.ReadTimeout)
	}
	if c.API.WriteTimeout < time.Second {
		return fmt.Errorf("api.write_timeout too short (minimum 1s), got %v", c.API.WriteTimeout)
	}
	if c.API.IdleTimeout < time.Second {
		return fmt.Errorf("api.idle_timeout too short (minimum 1s), got %v", c.API.IdleTimeout)
	}
	return nil
}

func (c *ServerConfig) validateLoggingConfig() error {
	if c.Logging.UpdateInterval < time.Second {
		return fmt.Errorf("logging.update_interval too short (minimum 1s), got %v", c.Logging.UpdateInterval)
	}
	if c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path cannot be empty")
	}
	return validateLogging(c.Logging.Level, c.Logging.Format)
}

func validateLogging(level, format string) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if level != "" && !validLevels[level] {
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn, or error)", level)
	}

	validFormats := map[string]bool{"text": true, "color": true, "json": true}
	if format != "" && !validFormats[format] {
		return fmt.Errorf("invalid logging.format: %q (must be text, color, or json)", format)
	}

	return nil
}

// LoadClientConfig loads client configuration from file, environment, and defaults.
//
// Sources are applied highest precedence first: command-line flags (handled
// by the caller), environment variables with the BMPOW_CLIENT_ prefix
// (dots replaced by underscores, e.g. server.url → BMPOW_CLIENT_SERVER_URL),
// the configuration file, then built-in defaults.
//
// If configPath is empty, "client-config.yaml" is searched for in the
// current directory, ~/.bmpow, and /etc/bmpow; a missing file is not an
// error. If configPath is set but unreadable, an error is returned. The
// loaded configuration is validated before being returned.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	v := newClientViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config ClientConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadServerConfig loads server configuration from file, environment, and defaults.
//
// Sources are applied highest precedence first: command-line flags (handled
// by the caller), environment variables with the BMPOW_SERVER_ prefix
// (dots replaced by underscores, e.g. pow.max_workers →
// BMPOW_SERVER_POW_MAX_WORKERS), the configuration file, then built-in
// defaults.
//
// If configPath is empty, "server-config.yaml" is searched for in the
// current directory, ~/.bmpow, and /etc/bmpow; a missing file is not an
// error. If configPath is set but unreadable, an error is returned. The
// loaded configuration is validated before being returned.
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v := newServerViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// WatchServerConfig watches the server configuration file and calls the
// callback with each valid reloaded configuration. Invalid or unparseable
// reloads are logged and skipped; the previous configuration stays in
// effect. The watcher stops when the context is cancelled. If logger is nil,
// logging is disabled.
func WatchServerConfig(ctx context.Context, configPath string, callback func(*ServerConfig), logger *slog.Logger) error {
	v := newServerViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if logger != nil {
			logger.Info("configuration file changed",
				"file", e.Name,
				"operation", e.Op.String())
		}

		var newConfig ServerConfig
		if err := v.Unmarshal(&newConfig); err != nil {
			if logger != nil {
				logger.Error("failed to unmarshal config on reload",
					"error", err,
					"file", e.Name)
			}
			return
		}

		if err := newConfig.Validate(); err != nil {
			if logger != nil {
				logger.Error("invalid configuration after reload",
					"error", err,
					"file", e.Name)
			}
			return
		}

		callback(&newConfig)
	})

	go func() {
		<-ctx.Done()
		if logger != nil {
			logger.Debug("config watcher stopped", "reason", "context cancelled")
		}
	}()

	return nil
}

func newClientViper(configPath string) *viper.Viper {
	v := viper.New()
	setClientDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("client-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bmpow")
		v.AddConfigPath("/etc/bmpow")
	}

	v.SetEnvPrefix("BMPOW_CLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func newServerViper(configPath string) *viper.Viper {
	v := viper.New()
	setServerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("server-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bmpow")
		v.AddConfigPath("/etc/bmpow")
	}

	v.SetEnvPrefix("BMPOW_SERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("server.url", DefaultClientServerURL)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("search.workers", DefaultClientWorkers)
	v.SetDefault("search.max_nonce", DefaultClientMaxNonce)
	v.SetDefault("network.poll_interval", DefaultClientPollInterval)
	v.SetDefault("network.request_timeout", DefaultClientRequestTimeout)
	v.SetDefault("logging.level", DefaultClientLoggingLevel)
	v.SetDefault("logging.format", DefaultClientLoggingFormat)
	v.SetDefault("logging.quiet", DefaultClientLoggingQuiet)
	v.SetDefault("logging.verbose", DefaultClientLoggingVerbose)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("network.api_port", DefaultServerAPIPort)
	v.SetDefault("network.http_port", DefaultServerHTTPPort)
	v.SetDefault("pow.default_workers", DefaultServerDefaultWorkers)
	v.SetDefault("pow.max_workers", DefaultServerMaxWorkers)
	v.SetDefault("pow.max_concurrent_jobs", DefaultServerMaxConcurrentJobs)
	v.SetDefault("pow.job_retention", DefaultServerJobRetention)
	v.SetDefault("pow.max_nonce", 0)
	v.SetDefault("tls.enabled", DefaultServerTLSEnabled)
	v.SetDefault("tls.cert_file", DefaultServerTLSCertFile)
	v.SetDefault("tls.key_file", DefaultServerTLSKeyFile)
	v.SetDefault("api.read_timeout", DefaultServerAPIReadTimeout)
	v.SetDefault("api.write_timeout", DefaultServerAPIWriteTimeout)
	v.SetDefault("api.idle_timeout", DefaultServerAPIIdleTimeout)
	v.SetDefault("logging.update_interval", DefaultServerEventLogInterval)
	v.SetDefault("logging.file_path", DefaultServerEventLogPath)
	v.SetDefault("logging.level", DefaultServerLoggingLevel)
	v.SetDefault("logging.format", DefaultServerLoggingFormat)
	v.SetDefault("logging.quiet", DefaultServerLoggingQuiet)
	v.SetDefault("logging.verbose", DefaultServerLoggingVerbose)
}
