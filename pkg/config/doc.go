// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: values are
// merged from .env files, the process environment and optional in-memory
// overrides, then parsed into any struct annotated with `env` tags.
//
// Every call parses afresh; there is no process-wide cache, so each component
// receives the configuration it was constructed with and tests can vary values
// freely with WithEnvironment.
//
// # Usage
//
//	type Config struct {
//		Timeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
//		MaxRetries int           `env:"SYNC_MAX_RETRIES" envDefault:"3"`
//	}
//
//	cfg, err := config.Load[Config](config.WithPrefix("BILLING_"))
//	if err != nil {
//		return err
//	}
//
// MustLoad panics instead of returning an error and is meant for main.
//
// # Errors
//
//   - ErrParsingConfig: a value failed to parse or a required value is missing.
//   - ErrReadingEnvFile: a file passed to WithEnvFiles could not be read.
package config
