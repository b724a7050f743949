package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig drives the Redis token bucket placed in front of the
// booking write endpoints.
type RateLimitConfig struct {
	Enabled        bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Capacity       int           `envconfig:"RATE_LIMIT_CAPACITY" default:"30"`
	RefillTokens   int           `envconfig:"RATE_LIMIT_REFILL_TOKENS" default:"1"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"2s"`
	TTL            time.Duration `envconfig:"RATE_LIMIT_TTL" default:"10m"`
	KeyStrategy    string        `envconfig:"RATE_LIMIT_KEY_STRATEGY" default:"user_route"`
	Prefix         string        `envconfig:"RATE_LIMIT_PREFIX" default:"rl"`
	Debug          bool          `envconfig:"RATE_LIMIT_DEBUG" default:"false"`
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables and clamps the values
// into a usable range.  Decode errors fall back to the tag defaults.
func LoadRateLimitConfig() RateLimitConfig {
	var def RateLimitConfig
	if err := envconfig.Process("", &def); err != nil {
		def = RateLimitConfig{Enabled: true, Capacity: 30, RefillTokens: 1, RefillInterval: 2 * time.Second, TTL: 10 * time.Minute, KeyStrategy: "user_route", Prefix: "rl"}
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}
