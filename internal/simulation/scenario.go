// Package simulation provides a discrete-time datacenter that the
// consolidation engine can be driven against: hosts with power models, VMs
// with utilization workloads, live migration delays and energy accounting.
package simulation

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

// Scenario describes a datacenter to simulate.
type Scenario struct {
	Name     string     `yaml:"name"`
	Seed     int64      `yaml:"seed"`
	Duration float64    `yaml:"duration"`
	Interval float64    `yaml:"interval"`
	Power    PowerSpec  `yaml:"power"`
	Hosts    []HostSpec `yaml:"hosts"`
	VMs      []VMSpec   `yaml:"vms"`
	// MigrationInterval is the default recommended interval for VMs that do
	// not set their own.
	MigrationInterval float64 `yaml:"migration_interval,omitempty"`
}

// PowerSpec selects a power model.
type PowerSpec struct {
	Model          string  `yaml:"model"`
	MaxPower       float64 `yaml:"max_power"`
	StaticFraction float64 `yaml:"static_fraction"`
}

// HostSpec describes Count identical hosts.
type HostSpec struct {
	Count     int        `yaml:"count"`
	PEs       int        `yaml:"pes"`
	MIPSPerPE float64    `yaml:"mips_per_pe"`
	RAM       int64      `yaml:"ram_mib"`
	Bandwidth int64      `yaml:"bandwidth_mbps"`
	Power     *PowerSpec `yaml:"power,omitempty"`
}

// VMSpec describes Count identical VMs.
type VMSpec struct {
	Count             int          `yaml:"count"`
	PEs               int          `yaml:"pes"`
	MIPS              float64      `yaml:"mips"`
	RAM               int64        `yaml:"ram_mib"`
	Bandwidth         int64        `yaml:"bandwidth_mbps"`
	MigrationInterval float64      `yaml:"migration_interval,omitempty"`
	Workload          WorkloadSpec `yaml:"workload"`
}

// WorkloadSpec selects a utilization model. Type is "constant", "random" or
// "trace"; a trace File may be relative to the scenario file.
type WorkloadSpec struct {
	Type   string  `yaml:"type"`
	Value  float64 `yaml:"value,omitempty"`
	Start  float64 `yaml:"start,omitempty"`
	StdDev float64 `yaml:"stddev,omitempty"`
	File   string  `yaml:"file,omitempty"`
	Dir    string  `yaml:"dir,omitempty"`
}

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	sc.resolvePaths(filepath.Dir(path))
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) resolvePaths(base string) {
	for i := range s.VMs {
		w := &s.VMs[i].Workload
		if w.File != "" && !filepath.IsAbs(w.File) {
			w.File = filepath.Join(base, w.File)
		}
		if w.Dir != "" && !filepath.IsAbs(w.Dir) {
			w.Dir = filepath.Join(base, w.Dir)
		}
	}
}

// Validate checks the scenario.
func (s *Scenario) Validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", domain.ErrInvalidArgument, s.Interval)
	}
	if s.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", domain.ErrInvalidArgument)
	}
	if s.HostCount() == 0 {
		return fmt.Errorf("%w: scenario %q has no hosts", domain.ErrInvalidArgument, s.Name)
	}
	for i, h := range s.Hosts {
		if h.Count < 0 || h.PEs <= 0 || h.MIPSPerPE <= 0 || h.RAM <= 0 {
			return fmt.Errorf("%w: hosts[%d]: count, pes, mips_per_pe and ram_mib must be positive", domain.ErrInvalidArgument, i)
		}
	}
	for i, v := range s.VMs {
		if v.Count < 0 || v.PEs <= 0 || v.MIPS <= 0 || v.RAM <= 0 {
			return fmt.Errorf("%w: vms[%d]: count, pes, mips and ram_mib must be positive", domain.ErrInvalidArgument, i)
		}
		switch v.Workload.Type {
		case "", "constant", "random":
		case "trace":
			if v.Workload.File == "" && v.Workload.Dir == "" {
				return fmt.Errorf("%w: vms[%d]: trace workload needs a file or dir", domain.ErrInvalidArgument, i)
			}
		default:
			return fmt.Errorf("%w: vms[%d]: unknown workload type %q", domain.ErrInvalidArgument, i, v.Workload.Type)
		}
	}
	return nil
}

// HostCount returns the total number of hosts.
func (s *Scenario) HostCount() int {
	n := 0
	for _, h := range s.Hosts {
		n += h.Count
	}
	return n
}

// VMCount returns the total number of VMs.
func (s *Scenario) VMCount() int {
	n := 0
	for _, v := range s.VMs {
		n += v.Count
	}
	return n
}

// ScenarioFromConfig loads cfg.ScenarioFile or, when unset, builds the
// default heterogeneous pool sized by cfg: HP ProLiant G4 and G5 hosts and the
// four EC2-like VM types.
func ScenarioFromConfig(cfg config.SimulationConfig) (*Scenario, error) {
	if cfg.ScenarioFile != "" {
		return LoadScenario(cfg.ScenarioFile)
	}

	g4 := cfg.Hosts / 2
	g5 := cfg.Hosts - g4

	workload := WorkloadSpec{Type: "random", Start: 0.5, StdDev: 0.1}
	if cfg.TraceDir != "" {
		workload = WorkloadSpec{Type: "trace", Dir: cfg.TraceDir}
	}

	// VM types are spread round-robin.
	var vms []VMSpec
	types := []VMSpec{
		{PEs: 1, MIPS: 2500, RAM: 870, Bandwidth: 100},
		{PEs: 1, MIPS: 2000, RAM: 1740, Bandwidth: 100},
		{PEs: 1, MIPS: 1000, RAM: 1740, Bandwidth: 100},
		{PEs: 1, MIPS: 500, RAM: 613, Bandwidth: 100},
	}
	for i, t := range types {
		t.Count = cfg.VMs / len(types)
		if i < cfg.VMs%len(types) {
			t.Count++
		}
		t.Workload = workload
		if t.Count > 0 {
			vms = append(vms, t)
		}
	}

	sc := &Scenario{
		Name:     "default",
		Seed:     cfg.Seed,
		Duration: cfg.Duration,
		Interval: cfg.Interval,
		Power: PowerSpec{
			Model:          cfg.Power.Model,
			MaxPower:       cfg.Power.MaxPower,
			StaticFraction: cfg.Power.StaticFraction,
		},
		Hosts: []HostSpec{
			{Count: g4, PEs: 2, MIPSPerPE: 1860, RAM: 4096, Bandwidth: 1000000},
			{Count: g5, PEs: 2, MIPSPerPE: 2660, RAM: 4096, Bandwidth: 1000000},
		},
		VMs:               vms,
		MigrationInterval: cfg.MigrationInterval,
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
