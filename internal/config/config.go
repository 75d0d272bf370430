// Package config exposes strongly typed application configuration structs
// loaded from YAML, with credentials coming from the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Venue describes the trading gateway endpoints and startup policy.
type Venue struct {
	BaseURL    string `yaml:"base_url"`
	WSURL      string `yaml:"ws_url"`
	RPCURL     string `yaml:"rpc_url"`
	Commitment string `yaml:"commitment"` // processed|confirmed|finalized
	SubAccount int    `yaml:"sub_account"`
	OnAnomaly  string `yaml:"on_anomaly"` // halt|flatten
}

// Wallet stores env-backed signing material metadata. The environment
// variable SPREADBOT_PRIVATE_KEY_BASE58 always wins over this fallback.
type Wallet struct {
	PrivateKeyBase58 string `yaml:"private_key_base58"`
}

// MarketData configures the candle API.
type MarketData struct {
	BaseURL    string `yaml:"base_url"`
	Resolution string `yaml:"resolution"` // venue bar size, e.g. "15"
}

// Pair defines the two instruments and the spread parameters.
type Pair struct {
	InstrumentA string  `yaml:"instrument_a"`
	InstrumentB string  `yaml:"instrument_b"`
	Ratio       float64 `yaml:"ratio"`
	QtyA        float64 `yaml:"qty_a"`
	QtyB        float64 `yaml:"qty_b"` // 0 means ratio * qty_a
	LagBars     int     `yaml:"lag_bars"`
	HistoryBars int     `yaml:"history_bars"`
}

// Execution tunes the order path: retry budget, pricing, and the
// direction-dependent slippage thresholds.
type Execution struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelayMs       int     `yaml:"base_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	Pricing           string  `yaml:"pricing"` // market|oracle_offset
	OracleOffsetBps   float64 `yaml:"oracle_offset_bps"`
	MaxOpenSlippage   float64 `yaml:"max_open_slippage"`
	MaxCloseSlippage  float64 `yaml:"max_close_slippage"`
	MaxLegNotionalUSD float64 `yaml:"max_leg_notional_usd"`
}

// Scheduler paces the decision loop.
type Scheduler struct {
	IntervalSecs         int `yaml:"interval_secs"`
	DrainTimeoutSecs     int `yaml:"drain_timeout_secs"`
	ReconcileEveryCycles int `yaml:"reconcile_every_cycles"` // 0 = startup only
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Venue      Venue      `yaml:"venue"`
	Wallet     Wallet     `yaml:"wallet"`
	MarketData MarketData `yaml:"market_data"`
	Pair       Pair       `yaml:"pair"`
	Execution  Execution  `yaml:"execution"`
	Scheduler  Scheduler  `yaml:"scheduler"`
}

// Load reads a YAML file from disk, hydrates a Config, applies defaults, and
// validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Venue.Commitment == "" {
		c.Venue.Commitment = "confirmed"
	}
	if c.Venue.OnAnomaly == "" {
		c.Venue.OnAnomaly = "halt"
	}
	if c.MarketData.Resolution == "" {
		c.MarketData.Resolution = "15"
	}
	if c.Pair.QtyB == 0 {
		c.Pair.QtyB = c.Pair.Ratio * c.Pair.QtyA
	}
	if c.Pair.LagBars == 0 {
		c.Pair.LagBars = 2
	}
	if c.Pair.HistoryBars == 0 {
		c.Pair.HistoryBars = c.Pair.LagBars + 1
	}
	if c.Execution.MaxAttempts == 0 {
		c.Execution.MaxAttempts = 3
	}
	if c.Execution.BaseDelayMs == 0 {
		c.Execution.BaseDelayMs = 1000
	}
	if c.Execution.BackoffMultiplier == 0 {
		c.Execution.BackoffMultiplier = 2
	}
	if c.Execution.Pricing == "" {
		c.Execution.Pricing = "market"
	}
	if c.Scheduler.DrainTimeoutSecs == 0 {
		c.Scheduler.DrainTimeoutSecs = 30
	}
}

// Validate reports the first configuration error found. A failed validation
// is fatal at startup: trading never begins on a bad config.
func (c *Config) Validate() error {
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("venue.base_url is required")
	}
	if c.Venue.RPCURL == "" {
		return fmt.Errorf("venue.rpc_url is required")
	}
	switch c.Venue.OnAnomaly {
	case "halt", "flatten":
	default:
		return fmt.Errorf("venue.on_anomaly must be halt or flatten, got %q", c.Venue.OnAnomaly)
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.Pair.InstrumentA == "" || c.Pair.InstrumentB == "" {
		return fmt.Errorf("pair.instrument_a and pair.instrument_b are required")
	}
	if c.Pair.InstrumentA == c.Pair.InstrumentB {
		return fmt.Errorf("pair instruments must differ")
	}
	if c.Pair.Ratio <= 0 {
		return fmt.Errorf("pair.ratio must be positive, got %f", c.Pair.Ratio)
	}
	if c.Pair.QtyA <= 0 || c.Pair.QtyB <= 0 {
		return fmt.Errorf("pair quantities must be positive")
	}
	if c.Pair.LagBars < 1 {
		return fmt.Errorf("pair.lag_bars must be >= 1, got %d", c.Pair.LagBars)
	}
	if c.Pair.HistoryBars < c.Pair.LagBars+1 {
		return fmt.Errorf("pair.history_bars must cover the lag, got %d for lag %d", c.Pair.HistoryBars, c.Pair.LagBars)
	}
	if c.Execution.MaxAttempts < 1 {
		return fmt.Errorf("execution.max_attempts must be >= 1")
	}
	if c.Execution.BackoffMultiplier < 1 {
		return fmt.Errorf("execution.backoff_multiplier must be >= 1")
	}
	switch c.Execution.Pricing {
	case "market", "oracle_offset":
	default:
		return fmt.Errorf("execution.pricing must be market or oracle_offset, got %q", c.Execution.Pricing)
	}
	if c.Execution.MaxOpenSlippage <= 0 || c.Execution.MaxCloseSlippage <= 0 {
		return fmt.Errorf("slippage thresholds must be positive")
	}
	if c.Execution.MaxCloseSlippage < c.Execution.MaxOpenSlippage {
		return fmt.Errorf("close threshold must not be tighter than open threshold")
	}
	if c.Scheduler.IntervalSecs <= 0 {
		return fmt.Errorf("scheduler.interval_secs must be positive")
	}
	return nil
}
