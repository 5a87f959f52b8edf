package tendermint

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the HTTP behavior of the Tendermint RPC client. A timed-out
// request is reported as chainclient.ErrUnreachable, so RequestTimeout is the
// longest a single call can block the ingestion loop.
type Config struct {
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	RetryBackoff   time.Duration `env:"RETRY_BACKOFF" envDefault:"200ms"`
	MaxRetries     uint64        `env:"MAX_RETRIES" envDefault:"2"`
}

// LoadConfig loads the client configuration from environment variables,
// falling back to the defaults above.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse tendermint client config: %w", err)
	}
	return cfg, nil
}
