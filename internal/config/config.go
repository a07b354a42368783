// Package config provides configuration management for the trading pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultChainWorkers is used when chain.workers is unset.
	defaultChainWorkers = 8
	// defaultFetchTimeout is used when chain.fetch_timeout is unset.
	defaultFetchTimeout = 8 * time.Second
	// defaultDropRateThreshold flags a degraded chain assembly when unset.
	defaultDropRateThreshold = 0.5
	// defaultMinConfidence gates signal execution when trading.min_confidence is unset.
	defaultMinConfidence = 70
	// defaultAIModel is used when ai.model is unset.
	defaultAIModel = "grok-4"
	// defaultAIBaseURL points at the xAI OpenAI-compatible endpoint.
	defaultAIBaseURL = "https://api.x.ai/v1"
)

// defaultDTEOptions are the target-DTE buckets the pipeline accepts when
// trading.dte_options is unset.
var defaultDTEOptions = []int{0, 1, 2, 3, 4, 5, 7, 8, 9, 10}

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	AI          AIConfig          `yaml:"ai"`
	Trading     TradingConfig     `yaml:"trading"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Chain       ChainConfig       `yaml:"chain"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sandbox | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage API settings. Secrets are normally
// supplied as ${VAR} references expanded from the environment.
type BrokerConfig struct {
	BaseURL       string `yaml:"base_url"`
	OAuthURL      string `yaml:"oauth_url"`
	ClientSecret  string `yaml:"client_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	AccountNumber string `yaml:"account_number"` // optional; fetched from the broker when empty
}

// AIConfig defines the completion-model settings.
type AIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"` // duration string, e.g. "2m"
}

// TradingConfig defines what the pipeline trades and the gates a signal
// must clear before submission.
type TradingConfig struct {
	Underlying    string  `yaml:"underlying"`
	TargetDTE     int     `yaml:"target_dte"`
	DTEOptions    []int   `yaml:"dte_options"`
	Quantity      int     `yaml:"quantity"`
	MinCredit     float64 `yaml:"min_credit"`
	MinConfidence int     `yaml:"min_confidence"`
}

// ScheduleConfig defines the cycle cadence and market hours.
type ScheduleConfig struct {
	CycleInterval string `yaml:"cycle_interval"`
	Timezone      string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart  string `yaml:"trading_start"` // "HH:MM"
	TradingEnd    string `yaml:"trading_end"`   // "HH:MM"
}

// ChainConfig tunes the concurrent quote-fetch stage.
type ChainConfig struct {
	Workers           int             `yaml:"workers"`
	FetchTimeout      string          `yaml:"fetch_timeout"` // duration string, e.g. "8s"
	DropRateThreshold float64         `yaml:"drop_rate_threshold"`
	BandOverrides     map[int]float64 `yaml:"band_overrides"` // target DTE -> band fraction
}

// StorageConfig defines where cycle records are persisted.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig defines optional rotated file output. Empty file means
// stderr only.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Best-effort .env load so ${VAR} references resolve on local runs.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// applying defaults for optional settings first.
func (c *Config) Validate() error {
	c.applyDefaults()

	// Environment validation
	if c.Environment.Mode != "sandbox" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'sandbox' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug|info|warn|error")
	}

	// Broker validation
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.OAuthURL == "" {
		return fmt.Errorf("broker.oauth_url is required")
	}
	if c.Broker.ClientSecret == "" {
		return fmt.Errorf("broker.client_secret is required")
	}
	if c.Broker.RefreshToken == "" {
		return fmt.Errorf("broker.refresh_token is required")
	}

	// AI validation
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if d, err := time.ParseDuration(c.AI.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("ai.timeout must be a positive duration, got %q", c.AI.Timeout)
	}

	// Trading validation
	if c.Trading.Underlying == "" {
		return fmt.Errorf("trading.underlying is required")
	}
	if len(c.Trading.DTEOptions) == 0 {
		return fmt.Errorf("trading.dte_options must not be empty")
	}
	for _, dte := range c.Trading.DTEOptions {
		if dte < 0 {
			return fmt.Errorf("trading.dte_options entries must be >= 0, got %d", dte)
		}
	}
	if !c.IsValidDTE(c.Trading.TargetDTE) {
		return fmt.Errorf("trading.target_dte (%d) must be one of %v", c.Trading.TargetDTE, c.Trading.DTEOptions)
	}
	if c.Trading.Quantity <= 0 {
		return fmt.Errorf("trading.quantity must be > 0")
	}
	if c.Trading.MinCredit < 0 {
		return fmt.Errorf("trading.min_credit must be >= 0")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 100 {
		return fmt.Errorf("trading.min_confidence must be between 0 and 100")
	}

	// Chain validation
	if c.Chain.Workers < 5 || c.Chain.Workers > 10 {
		return fmt.Errorf("chain.workers must be between 5 and 10, got %d", c.Chain.Workers)
	}
	if d, err := time.ParseDuration(c.Chain.FetchTimeout); err != nil || d < 5*time.Second || d > 10*time.Second {
		return fmt.Errorf("chain.fetch_timeout must be a duration between 5s and 10s, got %q", c.Chain.FetchTimeout)
	}
	if c.Chain.DropRateThreshold <= 0 || c.Chain.DropRateThreshold > 1 {
		return fmt.Errorf("chain.drop_rate_threshold must be in (0,1]")
	}
	for dte, band := range c.Chain.BandOverrides {
		if dte < 0 {
			return fmt.Errorf("chain.band_overrides key %d must be >= 0", dte)
		}
		if band <= 0 || band >= 1 {
			return fmt.Errorf("chain.band_overrides[%d] must be in (0,1), got %v", dte, band)
		}
	}

	// Storage validation
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	// Schedule validation
	if _, err := time.ParseDuration(c.Schedule.CycleInterval); err != nil {
		return fmt.Errorf("schedule.cycle_interval invalid: %w", err)
	}
	loc := c.location()
	s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	return nil
}

// IsSandbox returns true when the pipeline targets the broker's sandbox.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == "sandbox"
}

// IsValidDTE reports whether the given target DTE is an allowed bucket.
func (c *Config) IsValidDTE(dte int) bool {
	for _, opt := range c.Trading.DTEOptions {
		if opt == dte {
			return true
		}
	}
	return false
}

// BandOverride returns the configured strike-band fraction for a target DTE,
// if one is set.
func (c *Config) BandOverride(dte int) (float64, bool) {
	band, ok := c.Chain.BandOverrides[dte]
	return band, ok
}

// GetCycleInterval returns the configured cycle interval duration.
func (c *Config) GetCycleInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.CycleInterval)
	if err != nil {
		return 15 * time.Minute // default
	}
	return d
}

// GetFetchTimeout returns the per-quote fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Chain.FetchTimeout)
	if err != nil {
		return defaultFetchTimeout
	}
	return d
}

// GetAITimeout returns the completion-call timeout.
func (c *Config) GetAITimeout() time.Duration {
	d, err := time.ParseDuration(c.AI.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// IsWithinTradingHours checks if the given time falls within configured
// trading hours, Monday through Friday, in the configured timezone.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 30, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

func (c *Config) location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// applyDefaults fills optional settings so Validate can enforce ranges
// uniformly.
func (c *Config) applyDefaults() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = defaultAIBaseURL
	}
	if c.AI.Model == "" {
		c.AI.Model = defaultAIModel
	}
	if c.AI.Timeout == "" {
		c.AI.Timeout = "2m"
	}
	if len(c.Trading.DTEOptions) == 0 {
		c.Trading.DTEOptions = append([]int{}, defaultDTEOptions...)
	}
	if c.Trading.Quantity == 0 {
		c.Trading.Quantity = 1
	}
	if c.Trading.MinConfidence == 0 {
		c.Trading.MinConfidence = defaultMinConfidence
	}
	if c.Chain.Workers == 0 {
		c.Chain.Workers = defaultChainWorkers
	}
	if c.Chain.FetchTimeout == "" {
		c.Chain.FetchTimeout = "8s"
	}
	if c.Chain.DropRateThreshold == 0 {
		c.Chain.DropRateThreshold = defaultDropRateThreshold
	}
	if c.Schedule.CycleInterval == "" {
		c.Schedule.CycleInterval = "15m"
	}
	if c.Schedule.TradingStart == "" {
		c.Schedule.TradingStart = "09:30"
	}
	if c.Schedule.TradingEnd == "" {
		c.Schedule.TradingEnd = "16:00"
	}
}
