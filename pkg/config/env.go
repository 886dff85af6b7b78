package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that may be overridden from the
// environment. Variables that are not set leave the file values untouched.
type envOverrides struct {
	Subject      string        `env:"SUBJ"`
	Runs         []string      `env:"LOCALCSF_RUNS" envSeparator:","`
	OutputDir    string        `env:"LOCALCSF_OUTPUT_DIR"`
	NumCores     int           `env:"LOCALCSF_NUM_CORES"`
	CSFThreshold float64       `env:"LOCALCSF_CSF_THRESHOLD"`
	UnitTimeout  time.Duration `env:"LOCALCSF_UNIT_TIMEOUT"`
}

// ApplyEnv overrides configuration values from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{})
}

// ApplyEnvMap is ApplyEnv reading from the given variables instead of the
// process environment.
func (c *Config) ApplyEnvMap(vars map[string]string) error {
	return c.applyEnv(env.Options{Environment: vars})
}

func (c *Config) applyEnv(opts env.Options) error {
	o := envOverrides{
		Subject:      c.Subject,
		Runs:         c.Runs,
		OutputDir:    c.Paths.OutputDir,
		NumCores:     c.Processing.NumCores,
		CSFThreshold: c.Masks.CSFThreshold,
		UnitTimeout:  c.Processing.UnitTimeout,
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Subject = o.Subject
	c.Runs = o.Runs
	c.Paths.OutputDir = o.OutputDir
	c.Processing.NumCores = o.NumCores
	c.Masks.CSFThreshold = o.CSFThreshold
	c.Processing.UnitTimeout = o.UnitTimeout
	return nil
}
