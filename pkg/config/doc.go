// Package config provides a type-safe, generic and cached way to load
// application configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11 so that:
//
//   - values can come from a local `.env` file during development,
//   - the environment is parsed into any Go struct using `env` field tags,
//   - each configuration type is parsed at most once per process and cached.
//
// Usage:
//
//	type RedisConfig struct {
//	    URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
//	}
//
//	var cfg RedisConfig
//	config.MustLoad(&cfg)
//
// ResetCache clears the cache between tests that mutate the environment.
package config
