// Package config loads pricewatch configuration from a YAML file, a .env
// file and SATSVIEW_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/pricetoken"
)

// Config is the top-level pricewatch configuration.
type Config struct {
	Currency  pricetoken.Profile `yaml:"currency"`
	Display   DisplayConfig      `yaml:"display"`
	Composite CompositeConfig    `yaml:"composite"`
	Scan      ScanConfig         `yaml:"scan"`
	Rate      RateConfig         `yaml:"rate"`
	Fetch     FetchConfig        `yaml:"fetch"`
	Browser   BrowserConfig      `yaml:"browser"`
	Server    ServerConfig       `yaml:"server"`
	Sinks     []SinkConfig       `yaml:"sinks"`
}

// DisplayConfig controls the annotation text.
type DisplayConfig struct {
	AbbreviateSats bool `yaml:"abbreviate_sats"`
	// Sanitize strips scripts, event handlers and unknown markup from HTML
	// output. The result is a body fragment.
	Sanitize bool `yaml:"sanitize"`
}

// CompositeConfig lists fragmented-price markup rules. Empty means the
// built-in rules.
type CompositeConfig struct {
	Rules    []composite.Rule `yaml:"rules"`
	MaxDepth int              `yaml:"max_depth"`
}

// ScanConfig controls the scheduler.
type ScanConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	MaxPending     int           `yaml:"max_pending"`
	IncludeHidden  bool          `yaml:"include_hidden"` // annotate display:none subtrees too
}

// RateConfig selects the exchange rate source. A positive Static value
// wins over the HTTP source.
type RateConfig struct {
	Static   float64       `yaml:"static"`
	URL      string        `yaml:"url"`
	Path     string        `yaml:"path"` // dotted JSON path, e.g. bitcoin.usd
	Interval time.Duration `yaml:"interval"`
	Store    string        `yaml:"store"` // SQLite file; empty disables persistence
}

// FetchConfig controls page acquisition over HTTP.
type FetchConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Escalate  bool          `yaml:"escalate"` // render SPA shells through the browser
	// AllowPrivate lets AnnotateURL reach loopback and private networks.
	AllowPrivate bool `yaml:"allow_private"`
}

// BrowserConfig controls Chrome for the render path.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	Settle           time.Duration `yaml:"settle"` // wait after load for late prices
}

// DefaultMaxUpload is the default cap on HTML accepted for annotation.
const DefaultMaxUpload = 10 << 20

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// MaxUpload caps the HTML size, in bytes, of POST /annotate bodies and
	// MCP html arguments.
	MaxUpload int64 `yaml:"max_upload"`
}

// SinkConfig defines a cycle report backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for sqlite
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file, then applies .env and
// environment overrides and defaults. An empty path loads defaults plus
// environment only.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	if err := c.Currency.Validate(); err != nil {
		return fmt.Errorf("config: currency: %w", err)
	}
	if c.Rate.Static < 0 {
		return fmt.Errorf("config: rate.static must not be negative")
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite needs a path", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Currency == (pricetoken.Profile{}) {
		c.Currency = pricetoken.USD
	}
	if c.Composite.MaxDepth <= 0 {
		c.Composite.MaxDepth = composite.DefaultMaxDepth
	}
	if c.Scan.DebounceWindow <= 0 {
		c.Scan.DebounceWindow = 250 * time.Millisecond
	}
	if c.Scan.MaxPending <= 0 {
		c.Scan.MaxPending = 1000
	}
	if c.Rate.URL == "" {
		c.Rate.URL = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=" +
			strings.ToLower(c.Currency.Code)
	}
	if c.Rate.Path == "" {
		c.Rate.Path = "bitcoin." + strings.ToLower(c.Currency.Code)
	}
	if c.Rate.Interval <= 0 {
		c.Rate.Interval = 5 * time.Minute
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (compatible; satsview/1.0)"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8421"
	}
	if c.Server.MaxUpload <= 0 {
		c.Server.MaxUpload = DefaultMaxUpload
	}
}

// applyEnv overlays SATSVIEW_* variables. Unset or empty variables leave
// the file value alone.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []string
	str := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(dst *float64, key string) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = f
		}
	}
	boolean := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = d
		}
	}

	str(&c.Currency.Symbol, "SATSVIEW_CURRENCY_SYMBOL")
	str(&c.Currency.Code, "SATSVIEW_CURRENCY_CODE")
	str(&c.Currency.ThousandsSeparator, "SATSVIEW_CURRENCY_THOUSANDS_SEPARATOR")
	str(&c.Currency.DecimalSeparator, "SATSVIEW_CURRENCY_DECIMAL_SEPARATOR")
	boolean(&c.Display.AbbreviateSats, "SATSVIEW_DISPLAY_ABBREVIATE_SATS")
	boolean(&c.Display.Sanitize, "SATSVIEW_DISPLAY_SANITIZE")
	dur(&c.Scan.DebounceWindow, "SATSVIEW_SCAN_DEBOUNCE_WINDOW")
	boolean(&c.Scan.IncludeHidden, "SATSVIEW_SCAN_INCLUDE_HIDDEN")
	num(&c.Rate.Static, "SATSVIEW_RATE_STATIC")
	str(&c.Rate.URL, "SATSVIEW_RATE_URL")
	str(&c.Rate.Path, "SATSVIEW_RATE_PATH")
	dur(&c.Rate.Interval, "SATSVIEW_RATE_INTERVAL")
	str(&c.Rate.Store, "SATSVIEW_RATE_STORE")
	str(&c.Fetch.UserAgent, "SATSVIEW_FETCH_USER_AGENT")
	boolean(&c.Fetch.Escalate, "SATSVIEW_FETCH_ESCALATE")
	boolean(&c.Fetch.AllowPrivate, "SATSVIEW_FETCH_ALLOW_PRIVATE")
	str(&c.Browser.Remote, "SATSVIEW_BROWSER_REMOTE")
	str(&c.Server.Addr, "SATSVIEW_SERVER_ADDR")

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}
