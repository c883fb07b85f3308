package simulation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "small.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "small", sc.Name)
	assert.Equal(t, 4, sc.HostCount())
	assert.Equal(t, 8, sc.VMCount())
	assert.Equal(t, filepath.Join("testdata", "traces"), sc.VMs[0].Workload.Dir)
}

func TestLoadScenario_Shipped(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("..", "..", "configs", "scenarios", "mixed.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 50, sc.HostCount())
	assert.Equal(t, 100, sc.VMCount())
	require.NotNil(t, sc.Hosts[1].Power)
	assert.Equal(t, "cubic", sc.Hosts[1].Power.Model)
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ninterval: 300\nthreshold: 0.8\n"), 0o600))

	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestScenario_Validate(t *testing.T) {
	base := func() *Scenario {
		return &Scenario{
			Interval: 300,
			Hosts:    []HostSpec{{Count: 1, PEs: 1, MIPSPerPE: 1000, RAM: 1024}},
			VMs:      []VMSpec{{Count: 1, PEs: 1, MIPS: 500, RAM: 256}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"zero interval", func(s *Scenario) { s.Interval = 0 }},
		{"no hosts", func(s *Scenario) { s.Hosts = nil }},
		{"host without PEs", func(s *Scenario) { s.Hosts[0].PEs = 0 }},
		{"vm without RAM", func(s *Scenario) { s.VMs[0].RAM = 0 }},
		{"unknown workload", func(s *Scenario) { s.VMs[0].Workload.Type = "sine" }},
		{"trace without file", func(s *Scenario) { s.VMs[0].Workload.Type = "trace" }},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := base()
			tt.mutate(sc)
			assert.ErrorIs(t, sc.Validate(), domain.ErrInvalidArgument)
		})
	}
}

func TestScenarioFromConfig(t *testing.T) {
	sc, err := ScenarioFromConfig(config.SimulationConfig{
		Seed: 1, Duration: 600, Interval: 300, Hosts: 5, VMs: 10,
		Power: config.PowerConfig{Model: "linear", MaxPower: 250, StaticFraction: 0.7},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, sc.HostCount())
	assert.Equal(t, 10, sc.VMCount())
	assert.Equal(t, 3, sc.VMs[0].Count)
	assert.Equal(t, 2, sc.VMs[3].Count)
}
