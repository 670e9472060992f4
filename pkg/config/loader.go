package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// Option configures a Load call.
type Option func(*options)

type options struct {
	prefix      string
	files       []string
	environment map[string]string
}

// WithPrefix requires every variable to carry the given prefix,
// e.g. "BILLING_" turns `env:"TIMEOUT"` into BILLING_TIMEOUT.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEnvFiles reads variables from the given files instead of the default .env.
// Unlike the default file, an explicitly listed file must exist.
func WithEnvFiles(paths ...string) Option {
	return func(o *options) {
		o.files = append(o.files, paths...)
	}
}

// WithEnvironment overlays fixed values on top of the process environment.
// Useful in tests where mutating os env would leak between cases.
func WithEnvironment(vars map[string]string) Option {
	return func(o *options) {
		if o.environment == nil {
			o.environment = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			o.environment[k] = v
		}
	}
}

// Load parses configuration of type T from the environment.
//
// Sources are merged with the following precedence (highest first):
// WithEnvironment values, the process environment, .env files.
//
// Example:
//
//	type GatewayConfig struct {
//		BaseURL string        `env:"GATEWAY_URL,required"`
//		Timeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
//	}
//
//	cfg, err := config.Load[GatewayConfig](config.WithPrefix("BILLING_"))
func Load[T any](opts ...Option) (T, error) {
	var cfg T

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	vars, err := o.collect()
	if err != nil {
		return cfg, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      o.prefix,
		Environment: vars,
	}); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}

	return cfg, nil
}

// MustLoad works like Load but panics if configuration loading fails.
// Intended for configuration the process cannot start without.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}

func (o *options) collect() (map[string]string, error) {
	vars := make(map[string]string)

	files := o.files
	if len(files) == 0 {
		if _, err := os.Stat(defaultEnvFile); err == nil {
			files = []string{defaultEnvFile}
		}
	}
	if len(files) > 0 {
		fromFiles, err := godotenv.Read(files...)
		if err != nil {
			return nil, errors.Join(ErrReadingEnvFile, err)
		}
		for k, v := range fromFiles {
			vars[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	for k, v := range o.environment {
		vars[k] = v
	}

	return vars, nil
}
