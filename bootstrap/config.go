package bootstrap

import (
	"github.com/caarlos0/env/v11"

	"github.com/crucible-dev/crucible"
)

// Config is the host-startup configuration, read from CRUCIBLE_* variables.
type Config struct {
	// ManifestPath points at the operator manifest. Empty means no
	// manifest: the registry starts empty and only programmatic
	// registrations apply.
	ManifestPath string `env:"CRUCIBLE_MANIFEST"`
	// CompartmentPattern recognizes trusted-language compartments.
	CompartmentPattern string `env:"CRUCIBLE_COMPARTMENTS" envDefault:"trusted/*"`
	// FailClosed withholds a compartment entirely on partial injection
	// failure instead of continuing with what succeeded.
	FailClosed bool `env:"CRUCIBLE_FAIL_CLOSED"`
}

// ConfigFromEnv reads the configuration from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FailMode maps the boolean knob onto the hook's failure policy.
func (c Config) FailMode() crucible.FailMode {
	if c.FailClosed {
		return crucible.FailClosed
	}
	return crucible.FailOpen
}
