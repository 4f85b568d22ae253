// Package config loads engine configuration from the environment.
package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds every tunable of the engine, including the policy knobs the
// product left open: whether creators may wager on their own markets, and
// how flooring dust is handled at resolution.
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// InitialGrant is the coin balance credited to every new account.
	InitialGrant int64 `env:"INITIAL_GRANT" envDefault:"1000"`

	// MaxWager is the per-wager coin ceiling.
	MaxWager int64 `env:"MAX_WAGER" envDefault:"10000"`

	// CreatorRewardPct caps the share of a market's pool that flooring
	// dust may grant the creator at resolution. Zero leaves all dust
	// unallocated.
	CreatorRewardPct decimal.Decimal `env:"CREATOR_REWARD_PCT" envDefault:"0.05"`

	// AllowCreatorWager lets a creator bet on their own market.
	AllowCreatorWager bool `env:"ALLOW_CREATOR_WAGER" envDefault:"false"`

	// AllowDuplicateWager lets an account place a second wager on an
	// option it already backed.
	AllowDuplicateWager bool `env:"ALLOW_DUPLICATE_WAGER" envDefault:"false"`

	// LockSweepIntervalS is how often expired ACTIVE markets are swept
	// into LOCKED.
	LockSweepIntervalS int `env:"LOCK_SWEEP_INTERVAL_S" envDefault:"30"`

	// CacheTTLS is the Redis read-cache TTL.
	CacheTTLS int `env:"CACHE_TTL_S" envDefault:"30"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
