// File: internal/config/config.go
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Qlik() QlikConfig
	Session() SessionConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	MCP() MCPConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserIgnoreTLSErrors(bool)

	// MCP Setters
	SetMCPListenAddr(string)
}

// Config holds the entire application configuration.
// Sections are reached through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	QlikCfg    QlikConfig    `mapstructure:"qlik" yaml:"qlik"`
	SessionCfg SessionConfig `mapstructure:"session" yaml:"session"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	MCPCfg     MCPConfig     `mapstructure:"mcp" yaml:"mcp"`
	MetricsCfg MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Qlik() QlikConfig       { return c.QlikCfg }
func (c *Config) Session() SessionConfig { return c.SessionCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) MCP() MCPConfig         { return c.MCPCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserIgnoreTLSErrors(b bool) { c.BrowserCfg.IgnoreTLSErrors = b }
func (c *Config) SetMCPListenAddr(addr string)     { c.MCPCfg.ListenAddr = addr }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// QlikConfig identifies the remote Qlik Sense deployment and the account used to reach it.
type QlikConfig struct {
	Server        string `mapstructure:"server" yaml:"server"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"-"`
	UserDirectory string `mapstructure:"user_directory" yaml:"user_directory"`
	SessionCookie string `mapstructure:"session_cookie" yaml:"session_cookie"`
	XrfKey        string `mapstructure:"xrf_key" yaml:"xrf_key"`
	HubPath       string `mapstructure:"hub_path" yaml:"hub_path"`
}

// ServerURL returns the configured server address with a scheme and no trailing slash.
func (q QlikConfig) ServerURL() string {
	server := strings.TrimRight(strings.TrimSpace(q.Server), "/")
	if server == "" {
		return ""
	}
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return server
}

// UserHeader renders the X-Qlik-User header value for the configured identity.
func (q QlikConfig) UserHeader() string {
	if q.UserDirectory == "" {
		return fmt.Sprintf("UserId=%s", q.Username)
	}
	return fmt.Sprintf("UserDirectory=%s; UserId=%s", q.UserDirectory, q.Username)
}

// SessionConfig tunes the session lifecycle manager and the retry executor.
type SessionConfig struct {
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	LoginTimeout        time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	OperationRetries    int           `mapstructure:"operation_retries" yaml:"operation_retries"`
	OperationBaseDelay  time.Duration `mapstructure:"operation_base_delay" yaml:"operation_base_delay"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// BrowserConfig holds settings for the headless browser that holds the session.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	HTTPAuth        bool           `mapstructure:"http_auth" yaml:"http_auth"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	FormWait        time.Duration  `mapstructure:"form_wait" yaml:"form_wait"`
	PostLoginWait   time.Duration  `mapstructure:"post_login_wait" yaml:"post_login_wait"`
}

// NetworkConfig covers the outbound REST and websocket channels.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// MCPConfig configures the command endpoint.
type MCPConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "qlik-mcp")
	v.SetDefault("logger.log_file", "qlik-mcp.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Qlik --
	v.SetDefault("qlik.server", "")
	v.SetDefault("qlik.username", "")
	v.SetDefault("qlik.password", "")
	v.SetDefault("qlik.user_directory", "")
	v.SetDefault("qlik.session_cookie", "X-Qlik-Session")
	v.SetDefault("qlik.xrf_key", "0123456789abcdef")
	v.SetDefault("qlik.hub_path", "/hub")

	// -- Session --
	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.retry_delay", "2s")
	v.SetDefault("session.health_check_interval", "60s")
	v.SetDefault("session.probe_timeout", "5s")
	v.SetDefault("session.login_timeout", "45s")
	v.SetDefault("session.operation_retries", 3)
	v.SetDefault("session.operation_base_delay", "1s")
	v.SetDefault("session.max_backoff", "30s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.http_auth", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.form_wait", "10s")
	v.SetDefault("browser.post_login_wait", "15s")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.rate_limit", 10.0)
	v.SetDefault("network.rate_burst", 5)
	v.SetDefault("network.ignore_tls_errors", true)

	// -- MCP --
	v.SetDefault("mcp.listen_addr", "127.0.0.1:8765")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for the identity, which rarely lives in a file.
	v.BindEnv("qlik.server", "QLIK_SERVER")
	v.BindEnv("qlik.username", "QLIK_USERNAME")
	v.BindEnv("qlik.password", "QLIK_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the password if Unmarshal didn't pick it up
	if cfg.QlikCfg.Password == "" {
		cfg.QlikCfg.Password = os.Getenv("QLIK_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.QlikCfg.Validate(); err != nil {
		return fmt.Errorf("qlik configuration invalid: %w", err)
	}
	if err := c.SessionCfg.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	if c.NetworkCfg.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	if c.NetworkCfg.RateLimit <= 0 {
		return fmt.Errorf("network.rate_limit must be positive")
	}
	return nil
}

// Validate checks the Qlik identity settings.
func (q *QlikConfig) Validate() error {
	if strings.TrimSpace(q.Server) == "" {
		return fmt.Errorf("server is required (hint: set QLIK_SERVER)")
	}
	if q.Username == "" || q.Password == "" {
		return fmt.Errorf("username and password are required (hint: set QLIK_USERNAME and QLIK_PASSWORD)")
	}
	if q.SessionCookie == "" {
		return fmt.Errorf("session_cookie must not be empty")
	}
	return nil
}

// Validate checks the session lifecycle settings.
func (s *SessionConfig) Validate() error {
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if s.OperationRetries < 0 {
		return fmt.Errorf("operation_retries must not be negative")
	}
	if s.RetryDelay <= 0 || s.OperationBaseDelay <= 0 {
		return fmt.Errorf("retry_delay and operation_base_delay must be positive durations")
	}
	if s.ProbeTimeout <= 0 || s.LoginTimeout <= 0 {
		return fmt.Errorf("probe_timeout and login_timeout must be positive durations")
	}
	if s.HealthCheckInterval < 0 {
		return fmt.Errorf("health_check_interval must not be negative")
	}
	if s.MaxBackoff < 0 {
		return fmt.Errorf("max_backoff must not be negative")
	}
	// A cap below the last wait would shorten the exponential schedule.
	if longest := s.LongestBackoff(); s.MaxBackoff > 0 && s.MaxBackoff < longest {
		return fmt.Errorf("max_backoff %s is below the longest retry wait %s (operation_base_delay * 2^(operation_retries-1)); raise it or set it to 0", s.MaxBackoff, longest)
	}
	return nil
}

// LongestBackoff is the wait before the final operation retry,
// operation_base_delay * 2^(operation_retries-1). It saturates instead of
// overflowing.
func (s SessionConfig) LongestBackoff() time.Duration {
	if s.OperationRetries < 1 || s.OperationBaseDelay <= 0 {
		return 0
	}
	d := s.OperationBaseDelay
	for i := 1; i < s.OperationRetries; i++ {
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	return d
}
