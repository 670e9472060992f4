package httpserver

import "time"

// Config is the ops endpoint configuration.
type Config struct {
	Addr              string        `env:"BILLING_HTTP_ADDR" envDefault:":9090"`
	ReadHeaderTimeout time.Duration `env:"BILLING_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"BILLING_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"BILLING_HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}
