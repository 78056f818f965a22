package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nzbwatch/nzbwatch/internal/downloader"
)

// EnvPrefix is the prefix of every environment override, e.g. NZBWATCH_POLLER_INTERVAL.
const EnvPrefix = "NZBWATCH"

const redacted = "********"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging       LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Client        ClientConfig       `mapstructure:"client" yaml:"client"`
	Poller        PollerConfig       `mapstructure:"poller" yaml:"poller"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Metrics       MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Health        HealthConfig       `mapstructure:"health" yaml:"health"`
	Startup       StartupConfig      `mapstructure:"startup" yaml:"startup"`
	Mock          MockConfig         `mapstructure:"mock" yaml:"mock"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// RefreshRate limits manual refresh requests per second; RefreshBurst
	// is the bucket size.
	RefreshRate  float64 `mapstructure:"refresh_rate" yaml:"refresh_rate"`
	RefreshBurst int     `mapstructure:"refresh_burst" yaml:"refresh_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ClientConfig selects and configures the download manager client.
type ClientConfig struct {
	Type      string `mapstructure:"type" yaml:"type"`
	Name      string `mapstructure:"name" yaml:"name"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	VerifySSL bool   `mapstructure:"verify_ssl" yaml:"verify_ssl"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
}

// PollerConfig holds the refresh cadence.
type PollerConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// NotificationConfig holds external notifier configuration.
type NotificationConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// WebhookConfig configures the completion webhook.
type WebhookConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	URL          string            `mapstructure:"url" yaml:"url"`
	Method       string            `mapstructure:"method" yaml:"method"`
	Username     string            `mapstructure:"username" yaml:"username"`
	Password     string            `mapstructure:"password" yaml:"password"`
	Headers      map[string]string `mapstructure:"headers" yaml:"headers"`
	InstanceName string            `mapstructure:"instance_name" yaml:"instance_name"`
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	ClientCheckInterval time.Duration `mapstructure:"client_check_interval" yaml:"client_check_interval"`
}

// StartupConfig controls the initial connectivity check.
type StartupConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// MockConfig drives the simulated client when client.type is mock.
type MockConfig struct {
	SimulateEvery    time.Duration `mapstructure:"simulate_every" yaml:"simulate_every"`
	DownloadDuration time.Duration `mapstructure:"download_duration" yaml:"download_duration"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.nzbwatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.refresh_rate", 1.0)
	v.SetDefault("server.refresh_burst", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("client.type", string(downloader.ClientTypeMock))
	v.SetDefault("client.name", "default")
	v.SetDefault("client.host", "localhost")
	v.SetDefault("client.port", 6789)
	v.SetDefault("client.username", "")
	v.SetDefault("client.password", "")
	v.SetDefault("client.use_ssl", false)
	v.SetDefault("client.verify_ssl", true)
	v.SetDefault("client.api_key", "")

	v.SetDefault("poller.interval", downloader.DefaultInterval)
	v.SetDefault("poller.timeout", downloader.DefaultTimeout)
	v.SetDefault("poller.max_backoff", 2*time.Minute)

	v.SetDefault("notifications.webhook.enabled", false)
	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.method", "POST")
	v.SetDefault("notifications.webhook.username", "")
	v.SetDefault("notifications.webhook.password", "")
	v.SetDefault("notifications.webhook.instance_name", "nzbwatch")
	v.SetDefault("notifications.webhook.timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("health.client_check_interval", time.Hour)

	v.SetDefault("startup.initial_delay", 2*time.Second)
	v.SetDefault("startup.max_delay", 30*time.Second)
	v.SetDefault("startup.max_attempts", 5)

	v.SetDefault("mock.simulate_every", 30*time.Second)
	v.SetDefault("mock.download_duration", 20*time.Second)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	timing := downloader.CoordinatorConfig{Interval: c.Poller.Interval, Timeout: c.Poller.Timeout}
	if c.Poller.Interval <= 0 || c.Poller.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("poller.interval and poller.timeout must be positive"))
	} else if err := timing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("poller: %w", err))
	}

	if !downloader.IsClientTypeSupported(c.Client.Type) {
		errs = append(errs, fmt.Errorf("client.type %q is not a supported client type", c.Client.Type))
	}

	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		errs = append(errs, errors.New("notifications.webhook.url is required when the webhook is enabled"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	dup := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	dup.Client.Password = mask(c.Client.Password)
	dup.Client.APIKey = mask(c.Client.APIKey)
	dup.Notifications.Webhook.Password = mask(c.Notifications.Webhook.Password)
	return &dup
}

// DumpYAML renders the redacted configuration as YAML.
func (c *Config) DumpYAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// ClientSettings converts the client section into downloader settings.
func (c *ClientConfig) ClientSettings() *downloader.ClientConfig {
	return &downloader.ClientConfig{
		Name:      c.Name,
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.Username,
		Password:  c.Password,
		UseSSL:    c.UseSSL,
		VerifySSL: c.VerifySSL,
		APIKey:    c.APIKey,
	}
}
