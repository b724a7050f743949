package config

// Redis backs the distributed rate limiter and the amenity response cache.
// If the server cannot be reached at start-up the constructor returns nil
// and callers degrade gracefully by disabling both features.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach Redis.  Addr wins over Host/Port when
// both are set.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     string `envconfig:"REDIS_PORT"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	TLS      bool   `envconfig:"REDIS_TLS" default:"false"`
}

func (r RedisConfig) address() string {
	if r.Host != "" && r.Port != "" {
		return r.Host + ":" + r.Port
	}
	if r.Addr == "" {
		return "localhost:6379"
	}
	return r.Addr
}

// NewRedisClient instantiates a Redis client using REDIS_* variables.
// The returned client is nil if a connection cannot be established.
func NewRedisClient() *redis.Client {
	var rc RedisConfig
	if err := envconfig.Process("", &rc); err != nil {
		return nil
	}
	var tlsConf *tls.Config
	if rc.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      rc.address(),
		Password:  rc.Password,
		DB:        rc.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
