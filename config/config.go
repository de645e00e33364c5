// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SymbolConfig holds the per-symbol trading parameters. RegimeStrategies maps
// regime labels to strategy names; regimes without an entry fall back to
// Strategy, so an unknown regime can never fail a tick.
type SymbolConfig struct {
	Strategy            string            `yaml:"strategy"`
	RegimeDefault       string            `yaml:"regime_default"`
	RegimeStrategies    map[string]string `yaml:"regime_strategies"`
	TickIntervalSeconds int               `yaml:"tick_interval_seconds"`
	LookbackBars        int               `yaml:"lookback_bars"`
	MaxNotionalUSD      float64           `yaml:"max_notional_usd"`
	MinIncrement        float64           `yaml:"min_increment"`
}

// RiskConfig holds the account-wide risk engine parameters.
type RiskConfig struct {
	PortfolioCapUSD float64 `yaml:"portfolio_cap_usd"`
	TargetVol       float64 `yaml:"target_vol"`
	MinScale        float64 `yaml:"min_scale"`
	MaxScale        float64 `yaml:"max_scale"`
	ShockMultiplier float64 `yaml:"shock_multiplier"`
	VolWindowBars   int     `yaml:"vol_window_bars"`
	BaseFraction    float64 `yaml:"base_fraction"`
	DailyLossPct    float64 `yaml:"daily_loss_pct"`
}

// WatchdogConfig controls the independent health monitor cadence.
type WatchdogConfig struct {
	IntervalSeconds   int `yaml:"interval_seconds"`
	StallAfterSeconds int `yaml:"stall_after_seconds"`
	FailurePasses     int `yaml:"failure_passes"`
}

// TelemetryConfig bounds the in-process telemetry bus.
type TelemetryConfig struct {
	RingSize         int `yaml:"ring_size"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds general, non-strategy-specific configuration.
type NormalConfig struct {
	LogDirectory          string  `yaml:"log_directory"`
	StateDirectory        string  `yaml:"state_directory"`
	JournalDirectory      string  `yaml:"journal_directory"`
	ExchangeTimeoutSecond int     `yaml:"exchange_timeout_seconds"`
	StartingEquityUSD     float64 `yaml:"starting_equity_usd"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbols         map[string]*SymbolConfig `yaml:"symbols"`
	StrategyAliases map[string]string        `yaml:"strategy_aliases"`
	Risk            *RiskConfig              `yaml:"risk"`
	Watchdog        *WatchdogConfig          `yaml:"watchdog"`
	Telemetry       *TelemetryConfig         `yaml:"telemetry"`
	Normal          *NormalConfig            `yaml:"normal_config"`
	Logs            *LogConfig               `yaml:"logs"`
	UsePaperTrading bool                     `yaml:"use_paper_trading"`
}

// NewConfig creates a Config with safe, non-strategy defaults. All critical
// trading parameters MUST come from the YAML file; Validate enforces that.
func NewConfig() *Config {
	return &Config{
		Symbols:         make(map[string]*SymbolConfig),
		StrategyAliases: make(map[string]string),
		UsePaperTrading: true,
		Risk: &RiskConfig{
			MinScale:        0.25,
			MaxScale:        2.0,
			ShockMultiplier: 4.0,
			VolWindowBars:   20,
			BaseFraction:    0.01,
		},
		Watchdog: &WatchdogConfig{
			IntervalSeconds:   5,
			StallAfterSeconds: 30,
			FailurePasses:     3,
		},
		Telemetry: &TelemetryConfig{
			RingSize:         500,
			SubscriberBuffer: 64,
		},
		Normal: &NormalConfig{},
		Logs:   &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s; the bot cannot run without one", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	// Per-symbol defaults that cannot live on the zero value.
	for sym, sc := range cfg.Symbols {
		if sc == nil {
			return nil, fmt.Errorf("symbol %s has an empty configuration block", sym)
		}
		if sc.TickIntervalSeconds == 0 {
			sc.TickIntervalSeconds = 2
		}
		if sc.LookbackBars == 0 {
			sc.LookbackBars = 100
		}
		if sc.MinIncrement == 0 {
			sc.MinIncrement = 0.0001
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ResolveStrategy maps a possibly-legacy strategy name to its canonical name.
// Aliases are resolved here so the decision cycle only ever sees canonical names.
func (c *Config) ResolveStrategy(name string) string {
	seen := map[string]bool{}
	for {
		canonical, ok := c.StrategyAliases[name]
		if !ok || seen[name] {
			return name
		}
		seen[name] = true
		name = canonical
	}
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("critical config missing: at least one entry under 'symbols' is required")
	}
	for sym, sc := range c.Symbols {
		if sc.Strategy == "" {
			return fmt.Errorf("critical config missing: symbols.%s.strategy must be specified", sym)
		}
		if sc.RegimeDefault == "" {
			return fmt.Errorf("critical config missing: symbols.%s.regime_default must be specified", sym)
		}
		if sc.TickIntervalSeconds <= 0 {
			return fmt.Errorf("config error: symbols.%s.tick_interval_seconds must be positive", sym)
		}
		if sc.MaxNotionalUSD <= 0 {
			return fmt.Errorf("critical config missing: symbols.%s.max_notional_usd must be positive", sym)
		}
		if sc.MinIncrement <= 0 {
			return fmt.Errorf("config error: symbols.%s.min_increment must be positive", sym)
		}
		for regime, name := range sc.RegimeStrategies {
			if name == "" {
				return fmt.Errorf("config error: symbols.%s.regime_strategies.%s must name a strategy", sym, regime)
			}
		}
	}

	if c.Risk == nil {
		return fmt.Errorf("critical config missing: 'risk' configuration block must be provided")
	}
	if c.Risk.PortfolioCapUSD <= 0 {
		return fmt.Errorf("critical config missing: 'risk.portfolio_cap_usd' must be positive")
	}
	if c.Risk.TargetVol <= 0 {
		return fmt.Errorf("critical config missing: 'risk.target_vol' must be positive")
	}
	if c.Risk.MinScale <= 0 || c.Risk.MaxScale < c.Risk.MinScale {
		return fmt.Errorf("config error: risk.min_scale must be positive and no greater than risk.max_scale")
	}
	if c.Risk.ShockMultiplier <= 1 {
		return fmt.Errorf("config error: risk.shock_multiplier must be greater than 1")
	}
	if c.Risk.BaseFraction <= 0 || c.Risk.BaseFraction > 1 {
		return fmt.Errorf("config error: risk.base_fraction must be in (0, 1]")
	}

	if c.Watchdog == nil || c.Watchdog.IntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'watchdog.interval_seconds' must be positive")
	}
	if c.Watchdog.StallAfterSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'watchdog.stall_after_seconds' must be positive")
	}
	if c.Watchdog.FailurePasses <= 0 {
		return fmt.Errorf("critical config missing: 'watchdog.failure_passes' must be positive")
	}

	if c.Telemetry == nil || c.Telemetry.RingSize <= 0 || c.Telemetry.SubscriberBuffer <= 0 {
		return fmt.Errorf("config error: telemetry.ring_size and telemetry.subscriber_buffer must be positive")
	}

	if c.Normal == nil {
		return fmt.Errorf("critical config missing: 'normal_config' block must be provided")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.log_directory' must be specified (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.state_directory' must be specified (e.g., 'state')")
	}
	if c.Normal.JournalDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.journal_directory' must be specified (e.g., 'journal')")
	}
	if c.Normal.ExchangeTimeoutSecond <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.exchange_timeout_seconds' must be positive")
	}
	if c.Normal.StartingEquityUSD <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.starting_equity_usd' must be positive")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' configuration block must be provided")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be specified (e.g., 'info', 'debug')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("critical config missing: logs.max_size_mb, logs.max_backups and logs.max_age_days must be positive")
	}

	return nil
}

// EnvConfig carries secrets and endpoints loaded from the environment.
type EnvConfig struct {
	OpsWebhookURL string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		OpsWebhookURL: os.Getenv("OPS_WEBHOOK_URL"),
	}
}
