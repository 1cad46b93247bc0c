package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a full backtest configuration
type Config struct {
	InitialCapital float64           `yaml:"initial_capital"`
	StartTime      time.Time         `yaml:"start_time"`
	EndTime        time.Time         `yaml:"end_time"`
	Symbols        []string          `yaml:"symbols"`
	WalkForward    WalkForwardConfig `yaml:"walk_forward"`
	Constraints    Constraints       `yaml:"constraints"`
	Costs          CostConfig        `yaml:"costs"`
	Risk           RiskConfig        `yaml:"risk"`
	MonteCarlo     MonteCarloConfig  `yaml:"monte_carlo"`
	Logging        LoggingConfig     `yaml:"logging"`
}

// WalkForwardConfig represents walk-forward optimization configuration
type WalkForwardConfig struct {
	Enabled        bool    `yaml:"enabled"`
	InSampleRatio  float64 `yaml:"in_sample_ratio"`
	OutSampleRatio float64 `yaml:"out_sample_ratio"`
	WindowSize     int     `yaml:"window_size"` // bars per window
	StepSize       int     `yaml:"step_size"`   // bars between window starts
	Anchored       bool    `yaml:"anchored"`
}

// Constraints represents position and exposure limits
type Constraints struct {
	MaxPositionSize  float64 `yaml:"max_position_size"` // fraction of portfolio
	MaxLeverage      float64 `yaml:"max_leverage"`
	MinTradeSize     float64 `yaml:"min_trade_size"` // notional floor
	MaxOpenPositions int     `yaml:"max_open_positions"`
	StopLoss         float64 `yaml:"stop_loss"`     // fraction, 0 disables
	TakeProfit       float64 `yaml:"take_profit"`   // fraction, 0 disables
	TrailingStop     float64 `yaml:"trailing_stop"` // fraction, 0 disables
}

// CostConfig represents the trading cost model
type CostConfig struct {
	Commission    float64 `yaml:"commission"`     // fraction of notional per fill
	Slippage      float64 `yaml:"slippage"`       // fraction of notional per fill
	Spread        float64 `yaml:"spread"`         // bid-ask spread fraction
	BorrowingRate float64 `yaml:"borrowing_rate"` // annualized
	FundingRate   float64 `yaml:"funding_rate"`   // per funding interval, 0 disables
}

// RiskConfig represents risk management policy
type RiskConfig struct {
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	VaRLimit         float64 `yaml:"var_limit"`
	KellyFraction    float64 `yaml:"kelly_fraction"` // multiplier on raw Kelly
	RiskPerTrade     float64 `yaml:"risk_per_trade"` // fraction of capital at risk per trade
	CorrelationLimit float64 `yaml:"correlation_limit"`
}

// MonteCarloConfig represents Monte Carlo resampling configuration
type MonteCarloConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Simulations int     `yaml:"simulations"`
	Confidence  float64 `yaml:"confidence"`
	Seed        int64   `yaml:"seed"` // 0 means non-deterministic
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// Default returns a configuration with sane defaults applied
func Default() *Config {
	return &Config{
		InitialCapital: 10000,
		WalkForward: WalkForwardConfig{
			InSampleRatio:  0.7,
			OutSampleRatio: 0.3,
			WindowSize:     252,
			StepSize:       63,
		},
		Constraints: Constraints{
			MaxPositionSize:  0.2,
			MaxLeverage:      1,
			MinTradeSize:     10,
			MaxOpenPositions: 5,
		},
		Costs: CostConfig{
			Commission: 0.001,
			Slippage:   0.0005,
			Spread:     0.0002,
		},
		Risk: RiskConfig{
			MaxDrawdown:      0.2,
			VaRLimit:         0.05,
			KellyFraction:    0.5,
			RiskPerTrade:     0.02,
			CorrelationLimit: 0.7,
		},
		MonteCarlo: MonteCarloConfig{
			Simulations: 1000,
			Confidence:  0.95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults first
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks configuration consistency before a run starts
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return &ErrInvalidConfig{Field: "initial_capital", Message: "must be positive"}
	}
	if !c.EndTime.IsZero() && !c.StartTime.IsZero() && c.EndTime.Before(c.StartTime) {
		return &ErrInvalidConfig{Field: "end_time", Message: "end date before start date"}
	}
	if c.Constraints.MaxPositionSize <= 0 || c.Constraints.MaxPositionSize > 1 {
		return &ErrInvalidConfig{Field: "constraints.max_position_size", Message: "must be in (0, 1]"}
	}
	if c.Constraints.MaxOpenPositions <= 0 {
		return &ErrInvalidConfig{Field: "constraints.max_open_positions", Message: "must be positive"}
	}
	if c.Constraints.MinTradeSize < 0 {
		return &ErrInvalidConfig{Field: "constraints.min_trade_size", Message: "must not be negative"}
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return &ErrInvalidConfig{Field: "risk.max_drawdown", Message: "must be in (0, 1)"}
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return &ErrInvalidConfig{Field: "risk.risk_per_trade", Message: "must be in (0, 1]"}
	}
	if c.WalkForward.Enabled {
		if c.WalkForward.WindowSize <= 0 {
			return &ErrInvalidConfig{Field: "walk_forward.window_size", Message: "must be positive"}
		}
		if c.WalkForward.StepSize <= 0 {
			return &ErrInvalidConfig{Field: "walk_forward.step_size", Message: "must be positive"}
		}
		if c.WalkForward.InSampleRatio <= 0 || c.WalkForward.InSampleRatio >= 1 {
			return &ErrInvalidConfig{Field: "walk_forward.in_sample_ratio", Message: "must be in (0, 1)"}
		}
		if out := c.WalkForward.OutSampleRatio; out > 0 {
			if sum := c.WalkForward.InSampleRatio + out; math.Abs(sum-1) > 1e-9 {
				return &ErrInvalidConfig{Field: "walk_forward.out_sample_ratio", Message: "must complement in_sample_ratio"}
			}
		}
	}
	if c.MonteCarlo.Enabled {
		if c.MonteCarlo.Simulations <= 0 {
			return &ErrInvalidConfig{Field: "monte_carlo.simulations", Message: "must be positive"}
		}
		if c.MonteCarlo.Confidence <= 0 || c.MonteCarlo.Confidence >= 1 {
			return &ErrInvalidConfig{Field: "monte_carlo.confidence", Message: "must be in (0, 1)"}
		}
	}
	return nil
}

// ErrInvalidConfig reports a configuration field that failed validation
type ErrInvalidConfig struct {
	Field   string
	Message string
}

func (e *ErrInvalidConfig) Error() string {
	return "invalid config: " + e.Field + " - " + e.Message
}
