package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	dErrors "kopa/pkg/domain-errors"
)

// Config captures process-level configuration. Lending policy knobs live in
// the policy package; only deployment concerns are sourced from the
// environment.
type Config struct {
	Addr            string        `env:"KOPA_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"KOPA_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"KOPA_LOG_FORMAT" envDefault:"text"`
	LedgerDriver    string        `env:"KOPA_LEDGER_DRIVER" envDefault:"memory"`
	LedgerPath      string        `env:"KOPA_LEDGER_PATH" envDefault:"kopa-ledger.db"`
	ShutdownTimeout time.Duration `env:"KOPA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse environment")
	}
	switch cfg.LedgerDriver {
	case "memory", "sqlite":
	default:
		return Config{}, dErrors.New(dErrors.CodeInvalidInput, "ledger driver must be memory or sqlite")
	}
	return cfg, nil
}
