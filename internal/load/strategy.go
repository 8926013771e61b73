package load

import (
	"fmt"
	"time"
)

// Strategy is an insert strategy.
type Strategy string

const (
	StrategyAuto Strategy = "auto"
	StrategyRow  Strategy = "row"
	StrategySet  Strategy = "set"
	StrategyBulk Strategy = "bulk"
)

// ParseStrategy validates a strategy name. Empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyRow, StrategySet, StrategyBulk:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown load strategy %q (want auto, row, set, or bulk)", s)
}

// Defaults.
const (
	DefaultBatchSize         = 1000
	DefaultSetBasedThreshold = 10000
	DefaultBulkThreshold     = 200000
)

// Config holds loader tuning.
type Config struct {
	BatchSize         int
	SetBasedThreshold int
	BulkThreshold     int
	BulkEnabled       bool
	Strategy          Strategy
	Now               func() time.Time
}

// DefaultConfig returns the stock thresholds with bulk loading enabled.
func DefaultConfig() Config {
	return Config{
		BatchSize:         DefaultBatchSize,
		SetBasedThreshold: DefaultSetBasedThreshold,
		BulkThreshold:     DefaultBulkThreshold,
		BulkEnabled:       true,
		Strategy:          StrategyAuto,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SetBasedThreshold <= 0 {
		c.SetBasedThreshold = DefaultSetBasedThreshold
	}
	if c.BulkThreshold <= 0 {
		c.BulkThreshold = DefaultBulkThreshold
	}
	if c.Strategy == "" {
		c.Strategy = StrategyAuto
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SelectStrategy picks the insert strategy for n records. A forced strategy
// wins, except that a forced bulk falls back to set-based when bulk loading
// is disabled.
func (c Config) SelectStrategy(n int) Strategy {
	switch c.Strategy {
	case StrategyRow, StrategySet:
		return c.Strategy
	case StrategyBulk:
		if c.BulkEnabled {
			return StrategyBulk
		}
		return StrategySet
	}

	switch {
	case c.BulkEnabled && n >= c.BulkThreshold:
		return StrategyBulk
	case n >= c.SetBasedThreshold:
		return StrategySet
	default:
		return StrategyRow
	}
}
