// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Worklog() WorklogConfig
	Batch() BatchConfig
	Schedule() ScheduleConfig
	Notify() NotifyConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Network Setters
	SetNetworkNavigationTimeout(d time.Duration)
	SetNetworkElementTimeout(d time.Duration)
	SetNetworkMaxRetries(n int)
}

// Config holds the entire application configuration.
// Sections are exported so viper can decode into them; callers go through the getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	WorklogCfg  WorklogConfig  `mapstructure:"worklog" yaml:"worklog"`
	BatchCfg    BatchConfig    `mapstructure:"batch" yaml:"batch"`
	ScheduleCfg ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	NotifyCfg   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Worklog() WorklogConfig   { return c.WorklogCfg }
func (c *Config) Batch() BatchConfig       { return c.BatchCfg }
func (c *Config) Schedule() ScheduleConfig { return c.ScheduleCfg }
func (c *Config) Notify() NotifyConfig     { return c.NotifyCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

func (c *Config) SetNetworkNavigationTimeout(d time.Duration) { c.NetworkCfg.NavigationTimeout = d }
func (c *Config) SetNetworkElementTimeout(d time.Duration)    { c.NetworkCfg.ElementTimeout = d }
func (c *Config) SetNetworkMaxRetries(n int)                  { c.NetworkCfg.MaxRetries = n }

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

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverFile     = "file"
)

// DatabaseConfig selects and locates the credential and screenshot store.
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	URL           string `mapstructure:"url" yaml:"url"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	FilePath      string `mapstructure:"file_path" yaml:"file_path"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	Migrate       bool   `mapstructure:"migrate" yaml:"migrate"`
}

// BrowserConfig holds settings for the per-run headless browser.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// ProcessName is the image name used when a browser has to be killed by name.
	ProcessName     string        `mapstructure:"process_name" yaml:"process_name"`
	TempDirPatterns []string      `mapstructure:"temp_dir_patterns" yaml:"temp_dir_patterns"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	TeardownSettle  time.Duration `mapstructure:"teardown_settle" yaml:"teardown_settle"`
}

// NetworkConfig bounds every wait the automation performs.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	ReadyWait         time.Duration `mapstructure:"ready_wait" yaml:"ready_wait"`
	PostActionWait    time.Duration `mapstructure:"post_action_wait" yaml:"post_action_wait"`
	CookieRetries     int           `mapstructure:"cookie_retries" yaml:"cookie_retries"`
	CookieRetryDelay  time.Duration `mapstructure:"cookie_retry_delay" yaml:"cookie_retry_delay"`
}

// ContentDefaults fill empty free-text fields of a credential set.
type ContentDefaults struct {
	Tasks      string `mapstructure:"tasks" yaml:"tasks"`
	Challenges string `mapstructure:"challenges" yaml:"challenges"`
	Blockers   string `mapstructure:"blockers" yaml:"blockers"`
}

// WorklogConfig describes the target site.
type WorklogConfig struct {
	BaseURL      string          `mapstructure:"base_url" yaml:"base_url"`
	FormPath     string          `mapstructure:"form_path" yaml:"form_path"`
	CookieDomain string          `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	StatusOption string          `mapstructure:"status_option" yaml:"status_option"`
	Placeholders []string        `mapstructure:"placeholders" yaml:"placeholders"`
	Defaults     ContentDefaults `mapstructure:"defaults" yaml:"defaults"`
	LocatorsFile string          `mapstructure:"locators_file" yaml:"locators_file"`
}

// FormURL joins the base URL and the form path.
func (w WorklogConfig) FormURL() string {
	return strings.TrimRight(w.BaseURL, "/") + "/" + strings.TrimLeft(w.FormPath, "/")
}

// BatchConfig configures multi-user runs.
type BatchConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ScheduleConfig configures the cron trigger and the keep-alive pinger.
type ScheduleConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Cron              string        `mapstructure:"cron" yaml:"cron"`
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
	KeepAliveURL      string        `mapstructure:"keepalive_url" yaml:"keepalive_url"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
}

// Supported notification providers.
const (
	ProviderNone   = "none"
	ProviderLog    = "log"
	ProviderResend = "resend"
)

// NotifyConfig configures outcome notifications.
type NotifyConfig struct {
	Provider     string   `mapstructure:"provider" yaml:"provider"`
	ResendAPIKey string   `mapstructure:"resend_api_key" yaml:"resend_api_key"`
	From         string   `mapstructure:"from" yaml:"from"`
	To           []string `mapstructure:"to" yaml:"to"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	RunRateLimit int           `mapstructure:"run_rate_limit" yaml:"run_rate_limit"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
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
	v.SetDefault("logger.service_name", "worklog-cli")
	v.SetDefault("logger.log_file", "worklog.log")
	v.SetDefault("logger.max_size", 20)
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

	// -- Database --
	v.SetDefault("database.driver", DriverFile)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "worklog.db")
	v.SetDefault("database.file_path", "worklog-config.json")
	v.SetDefault("database.screenshot_dir", "screenshots")
	v.SetDefault("database.migrate", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.process_name", "chrome")
	v.SetDefault("browser.temp_dir_patterns", []string{
		".org.chromium.Chromium.*",
		"chromedp-runner*",
		"worklog-profile-*",
	})
	v.SetDefault("browser.close_timeout", "10s")
	v.SetDefault("browser.teardown_settle", "2s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.element_timeout", "20s")
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.retry_backoff", "2s")
	v.SetDefault("network.ready_wait", "10s")
	v.SetDefault("network.post_action_wait", "1500ms")
	v.SetDefault("network.cookie_retries", 3)
	v.SetDefault("network.cookie_retry_delay", "500ms")

	// -- Worklog --
	v.SetDefault("worklog.base_url", "https://kalvium.community")
	v.SetDefault("worklog.form_path", "/internships")
	v.SetDefault("worklog.cookie_domain", "kalvium.community")
	v.SetDefault("worklog.status_option", "Working out of the Kalvium environment")
	v.SetDefault("worklog.placeholders", []string{
		"Describe the tasks you completed today",
		"Describe the challenges you encountered",
		"Describe the blockers you faced",
	})
	v.SetDefault("worklog.defaults.tasks", "Need to complete the tasks assigned.")
	v.SetDefault("worklog.defaults.challenges", "NA")
	v.SetDefault("worklog.defaults.blockers", "NA")
	v.SetDefault("worklog.locators_file", "")

	// -- Batch --
	v.SetDefault("batch.cooldown", "5s")

	// -- Schedule --
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "30 11 * * MON-FRI")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.keepalive_url", "")
	v.SetDefault("schedule.keepalive_interval", "14m")

	// -- Notify --
	v.SetDefault("notify.provider", ProviderLog)
	v.SetDefault("notify.from", "Worklog Automation <onboarding@resend.dev>")
	v.SetDefault("notify.to", []string{})

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.run_rate_limit", 2)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually supplied through the environment only.
	_ = v.BindEnv("notify.resend_api_key", "RESEND_API_KEY")
	_ = v.BindEnv("database.url", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.DatabaseCfg.SQLitePath,
		&c.DatabaseCfg.FilePath,
		&c.DatabaseCfg.ScreenshotDir,
		&c.BrowserCfg.ExecPath,
		&c.WorklogCfg.LocatorsFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("%q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.DatabaseCfg.Driver {
	case DriverPostgres:
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite, DriverFile:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseCfg.Driver)
	}

	n := c.NetworkCfg
	if n.NavigationTimeout <= 0 || n.ElementTimeout <= 0 || n.ReadyWait <= 0 {
		return fmt.Errorf("network timeouts must be positive durations")
	}
	if n.MaxRetries <= 0 {
		return fmt.Errorf("network.max_retries must be a positive integer")
	}
	if n.CookieRetries <= 0 {
		return fmt.Errorf("network.cookie_retries must be a positive integer")
	}
	if n.RetryBackoff < 0 || n.PostActionWait < 0 || n.CookieRetryDelay < 0 {
		return fmt.Errorf("network delays cannot be negative")
	}
	if c.BrowserCfg.CloseTimeout <= 0 {
		return fmt.Errorf("browser.close_timeout must be a positive duration")
	}
	if c.BatchCfg.Cooldown < 0 {
		return fmt.Errorf("batch.cooldown cannot be negative")
	}

	if c.WorklogCfg.BaseURL == "" || c.WorklogCfg.CookieDomain == "" {
		return fmt.Errorf("worklog.base_url and worklog.cookie_domain are required")
	}

	if err := c.ScheduleCfg.Validate(); err != nil {
		return fmt.Errorf("schedule configuration invalid: %w", err)
	}
	if err := c.NotifyCfg.Validate(); err != nil {
		return fmt.Errorf("notify configuration invalid: %w", err)
	}
	if c.ServerCfg.RunRateLimit <= 0 {
		return fmt.Errorf("server.run_rate_limit must be a positive integer")
	}
	return nil
}

// CronParser accepts five-field expressions, an optional leading seconds
// field, and descriptors such as @daily.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks the cron expression and time zone.
func (s *ScheduleConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := CronParser.Parse(s.Cron); err != nil {
		return fmt.Errorf("cron %q: %w", s.Cron, err)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	if s.KeepAliveURL != "" && s.KeepAliveInterval <= 0 {
		return fmt.Errorf("keepalive_interval must be positive when keepalive_url is set")
	}
	return nil
}

// Validate checks the selected provider has what it needs.
func (n *NotifyConfig) Validate() error {
	switch n.Provider {
	case ProviderNone, ProviderLog:
		return nil
	case ProviderResend:
		if n.ResendAPIKey == "" {
			return fmt.Errorf("resend_api_key is required for the resend provider. Ensure RESEND_API_KEY is set")
		}
		if len(n.To) == 0 || n.From == "" {
			return fmt.Errorf("from and to are required for the resend provider")
		}
		return nil
	default:
		return fmt.Errorf("provider %q is not supported", n.Provider)
	}
}
