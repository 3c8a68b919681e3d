// Package config loads engine configuration from YAML or TOML files and
// translates it into scheduler, interpreter and lock options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
	"github.com/roach88/ade/internal/planner"
	"github.com/roach88/ade/internal/scheduler"
)

// Config is the engine configuration file.
type Config struct {
	Policy              string        `yaml:"policy" toml:"policy"`
	TickInterval        Duration      `yaml:"tick_interval" toml:"tick_interval"`
	Concurrency         int           `yaml:"concurrency" toml:"concurrency"`
	LockPolicy          string        `yaml:"lock_policy" toml:"lock_policy"`
	DefaultLockAttempts int           `yaml:"default_lock_attempts" toml:"default_lock_attempts"`
	InstanceAffectDecay float64       `yaml:"instance_affect_decay" toml:"instance_affect_decay"`
	GlobalAffectDecay   float64       `yaml:"global_affect_decay" toml:"global_affect_decay"`
	GlobalAffectGain    float64       `yaml:"global_affect_gain" toml:"global_affect_gain"`
	AffectStep          float64       `yaml:"affect_step" toml:"affect_step"`
	MaxStepsPerGoal     int           `yaml:"max_steps_per_goal" toml:"max_steps_per_goal"`
	Database            string        `yaml:"database" toml:"database"`
	Planner             PlannerConfig `yaml:"planner" toml:"planner"`
	ForbiddenActions    []string      `yaml:"forbidden_actions" toml:"forbidden_actions"`
	ForbiddenStates     []string      `yaml:"forbidden_states" toml:"forbidden_states"`
}

// PlannerConfig controls the planner fallback for goals no action achieves.
type PlannerConfig struct {
	Enabled  bool `yaml:"enabled" toml:"enabled"`
	MaxTicks int  `yaml:"max_ticks" toml:"max_ticks"`
}

// Duration wraps time.Duration so both formats accept "250ms"-style strings.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(strings.TrimSpace(string(text)))
	return err
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	a := scheduler.NewAffective()
	return &Config{
		Policy:              "linear",
		TickInterval:        Duration{scheduler.DefaultTickInterval},
		LockPolicy:          string(lock.PolicyFCFS),
		DefaultLockAttempts: interp.DefaultLockAttempts,
		InstanceAffectDecay: a.InstanceDecay,
		GlobalAffectDecay:   a.GlobalDecay,
		GlobalAffectGain:    a.GlobalGain,
		AffectStep:          0.1,
		Planner:             PlannerConfig{MaxTicks: planner.DefaultMaxTicks},
	}
}

// Load reads a configuration file, choosing the format by extension
// (.yaml, .yml or .toml). Omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "yml" or "toml") over
// the defaults and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want yaml or toml)", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := scheduler.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if _, err := lock.ParsePolicy(c.LockPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.TickInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval.Duration))
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"concurrency", float64(c.Concurrency)},
		{"default_lock_attempts", float64(c.DefaultLockAttempts)},
		{"instance_affect_decay", c.InstanceAffectDecay},
		{"global_affect_decay", c.GlobalAffectDecay},
		{"global_affect_gain", c.GlobalAffectGain},
		{"affect_step", c.AffectStep},
		{"max_steps_per_goal", float64(c.MaxStepsPerGoal)},
		{"planner.max_ticks", float64(c.Planner.MaxTicks)},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", f.name, f.value))
		}
	}
	for _, s := range c.ForbiddenStates {
		if _, err := ir.ParsePredicate(s); err != nil {
			errs = append(errs, fmt.Errorf("forbidden_states: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SchedulingPolicy returns the configured policy, with affective rates
// applied.
func (c *Config) SchedulingPolicy() (scheduler.Policy, error) {
	p, err := scheduler.ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	if a, ok := p.(*scheduler.Affective); ok {
		a.InstanceDecay = c.InstanceAffectDecay
		a.GlobalDecay = c.GlobalAffectDecay
		a.GlobalGain = c.GlobalAffectGain
	}
	return p, nil
}

// Locks returns a registry using the configured lock policy.
func (c *Config) Locks() (*lock.Registry, error) {
	p, err := lock.ParsePolicy(c.LockPolicy)
	if err != nil {
		return nil, err
	}
	return lock.NewRegistry(p), nil
}

// Options translates the configuration into scheduler options. The
// planner fallback is included only when enabled.
func (c *Config) Options() ([]scheduler.Option, error) {
	policy, err := c.SchedulingPolicy()
	if err != nil {
		return nil, err
	}
	opts := []scheduler.Option{
		scheduler.WithPolicy(policy),
		scheduler.WithTickInterval(c.TickInterval.Duration),
		scheduler.WithConcurrency(c.Concurrency),
		scheduler.WithInterpreterOptions(
			interp.WithMaxSteps(c.MaxStepsPerGoal),
			interp.WithLockAttempts(c.DefaultLockAttempts),
			interp.WithAffectStep(c.AffectStep),
		),
	}
	if c.Planner.Enabled {
		opts = append(opts, scheduler.WithPlanner(planner.NewPABTPlanner(c.Planner.MaxTicks)))
	}
	return opts, nil
}

// ApplyForbidden installs the forbidden actions and states into db.
func (c *Config) ApplyForbidden(db *actiondb.Database) error {
	states, err := ir.ParsePredicates(c.ForbiddenStates)
	if err != nil {
		return fmt.Errorf("forbidden_states: %w", err)
	}
	if len(c.ForbiddenActions) > 0 {
		db.SetForbiddenActions(c.ForbiddenActions)
	}
	if len(states) > 0 {
		db.SetForbiddenStates(states)
	}
	return nil
}
