// Package machine loads the machine registry: a TOML file mapping machine
// names to the numbers and paths the scheduler needs. The semantic machine
// configuration (modules, batch directives, compiler flags) lives in the
// external scripts; this registry only tells sirocco how hard it may push
// and where things go.
package machine

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/hashicorp/go-multierror"
	toml "github.com/pelletier/go-toml/v2"
)

// Registry resolution errors.
var (
	ErrNoRegistry     = errors.New("machine registry file not found")
	ErrUnknownMachine = errors.New("machine not in registry")
	ErrNoHostMatch    = errors.New("no machine matches this host")
)

// Machine describes one system tests can run on.
type Machine struct {
	Name             string   `toml:"-"`
	Compiler         string   `toml:"compiler"`
	PESPerNode       int      `toml:"pes_per_node"`
	MaxTasksPerNode  int      `toml:"max_tasks_per_node"`
	Batch            bool     `toml:"batch"`
	TestRoot         string   `toml:"test_root"`
	BaselineRoot     string   `toml:"baseline_root"`
	Project          string   `toml:"project"`
	Wallclock        string   `toml:"wallclock"`
	HostnamePatterns []string `toml:"hostname_patterns"`
}

// Validate reports what a registry entry is missing to be schedulable.
func (m Machine) Validate() error {
	var errs *multierror.Error
	if m.Compiler == "" {
		errs = multierror.Append(errs, fmt.Errorf("machine %s: compiler is required", m.Name))
	}
	if m.PESPerNode <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("machine %s: pes_per_node must be positive", m.Name))
	}
	if m.MaxTasksPerNode <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("machine %s: max_tasks_per_node must be positive", m.Name))
	}
	for _, pat := range m.HostnamePatterns {
		if _, err := regexp.Compile(pat); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("machine %s: hostname pattern %q: %w", m.Name, pat, err))
		}
	}
	return errs.ErrorOrNil()
}

// Registry is the parsed machines file.
type Registry struct {
	Machines map[string]Machine `toml:"machines"`
}

// Load reads and parses a machines.toml file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoRegistry, path)
		}
		return nil, fmt.Errorf("reading machine registry: %w", err)
	}

	var reg Registry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing machine registry: %w", err)
	}
	for name, m := range reg.Machines {
		m.Name = name
		reg.Machines[name] = m
	}
	return &reg, nil
}

// Names returns the machine names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Machines))
	for name := range r.Machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named machine.
func (r *Registry) Lookup(name string) (Machine, error) {
	m, ok := r.Machines[name]
	if !ok {
		return Machine{}, fmt.Errorf("%w: %q", ErrUnknownMachine, name)
	}
	return m, nil
}

// Detect returns the first machine, in name order, whose hostname patterns
// match host.
func (r *Registry) Detect(host string) (Machine, error) {
	for _, name := range r.Names() {
		m := r.Machines[name]
		for _, pat := range m.HostnamePatterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return Machine{}, fmt.Errorf("machine %s: hostname pattern %q: %w", name, pat, err)
			}
			if re.MatchString(host) {
				return m, nil
			}
		}
	}
	return Machine{}, fmt.Errorf("%w: %s", ErrNoHostMatch, host)
}

// DetectLocal matches the registry against this host's name.
func (r *Registry) DetectLocal() (Machine, error) {
	host, err := os.Hostname()
	if err != nil {
		return Machine{}, fmt.Errorf("resolving hostname: %w", err)
	}
	return r.Detect(host)
}
