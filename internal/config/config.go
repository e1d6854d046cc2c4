package config

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// CommandsConfig overrides the external collaborator command lines. Empty
// values fall back to the harness defaults.
type CommandsConfig struct {
	CreateNewcase string `mapstructure:"create_newcase"`
	Envgen        string `mapstructure:"envgen"`
	Setup         string `mapstructure:"setup"`
	Build         string `mapstructure:"build"`
	Submit        string `mapstructure:"submit"`
	XMLChange     string `mapstructure:"xmlchange"`
	XMLQuery      string `mapstructure:"xmlquery"`
	Compare       string `mapstructure:"compare"`
}

// Config holds all runtime configuration for a sirocco run.
// Values are populated from .sirocco.yaml, SIROCCO_* env vars, and CLI flags.
// Empty machine-scoped values (test_root, baseline_root, project, wallclock)
// defer to the machine registry entry.
type Config struct {
	MachinesFile  string         `mapstructure:"machines_file"`
	Machine       string         `mapstructure:"machine"`
	ScriptsRoot   string         `mapstructure:"scripts_root"`
	TestRoot      string         `mapstructure:"test_root"`
	BaselineName  string         `mapstructure:"baseline_name"`
	BaselineRoot  string         `mapstructure:"baseline_root"`
	Project       string         `mapstructure:"project"`
	Wallclock     string         `mapstructure:"wallclock"`
	EventsFile    string         `mapstructure:"events_file"`
	HistoryFile   string         `mapstructure:"history_file"`
	NamelistGlobs []string       `mapstructure:"namelist_globs"`
	Commands      CommandsConfig `mapstructure:"commands"`
	Verbose       bool           `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. Paths support a
// leading ~.
func Load() (Config, error) {
	viper.SetDefault("machines_file", "machines.toml")
	viper.SetDefault("machine", "")
	viper.SetDefault("scripts_root", "")
	viper.SetDefault("test_root", "")
	viper.SetDefault("baseline_name", "")
	viper.SetDefault("baseline_root", "")
	viper.SetDefault("project", "")
	viper.SetDefault("wallclock", "")
	viper.SetDefault("events_file", "")
	viper.SetDefault("history_file", "~/.sirocco/history.db")
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("reading configuration: %w", err)
	}

	for _, p := range []*string{
		&cfg.MachinesFile,
		&cfg.ScriptsRoot,
		&cfg.TestRoot,
		&cfg.BaselineRoot,
		&cfg.EventsFile,
		&cfg.HistoryFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Config{}, fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}

	return cfg, nil
}
