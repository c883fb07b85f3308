package simulation

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
)

func newSmallDatacenter(t *testing.T) (*Datacenter, consolidation.Policy) {
	t.Helper()

	sc, err := LoadScenario(filepath.Join("testdata", "small.yaml"))
	require.NoError(t, err)
	dc, err := NewDatacenter(sc, zap.NewNop())
	require.NoError(t, err)

	policy := consolidation.NewDoubleThreshold(dc.Hosts(), 0.8, 0.2, 1, dc)
	placed, err := dc.Place(policy)
	require.NoError(t, err)
	require.Equal(t, 8, placed)
	return dc, policy
}

func TestNewDatacenter(t *testing.T) {
	dc, _ := newSmallDatacenter(t)

	assert.Equal(t, "small", dc.Name())
	assert.Len(t, dc.Hosts(), 4)
	assert.Zero(t, dc.Now())
	assert.False(t, dc.Done())

	for _, h := range dc.Hosts() {
		for _, vm := range h.VMs() {
			assert.True(t, vm.RecentlyCreated)
		}
	}
}

func TestDatacenter_AdvanceAccountsEnergy(t *testing.T) {
	dc, _ := newSmallDatacenter(t)
	before := dc.Stats()

	require.NoError(t, dc.Advance(context.Background()))

	after := dc.Stats()
	assert.Equal(t, 300.0, after.SimTime)
	assert.Equal(t, 1, after.Intervals)
	assert.InDelta(t, before.PowerWatts*300/3600/1000, after.EnergyKWh, 1e-9)
	assert.Greater(t, after.ActiveHostTime, 0.0)

	for _, h := range dc.Hosts() {
		for _, vm := range h.VMs() {
			assert.False(t, vm.RecentlyCreated)
		}
	}
}

func TestDatacenter_AdvanceHonoursContext(t *testing.T) {
	dc, _ := newSmallDatacenter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, dc.Advance(ctx), context.Canceled)
	assert.Zero(t, dc.Now())
}

func TestDatacenter_ConsolidateStartsMigrations(t *testing.T) {
	dc, _ := newSmallDatacenter(t)
	require.NoError(t, dc.Advance(context.Background()))

	var moved *domain.VirtualMachine
	ms := dc.Consolidate(func(vms []*domain.VirtualMachine) []domain.Migration {
		moved = vms[0]
		src := moved.Host()
		var dst *domain.Host
		for _, h := range dc.Hosts() {
			if h != src && h.IsSuitableForVM(moved) {
				dst = h
				break
			}
		}
		require.NotNil(t, dst)
		require.True(t, dst.VMCreate(moved))
		return []domain.Migration{{VM: moved, Host: dst, Source: src}}
	})

	require.Len(t, ms, 1)
	assert.True(t, moved.InMigration)
	assert.InDelta(t, 300+moved.MigrationTime(), moved.MigrationDoneAt, 1e-9)
	assert.Contains(t, ms[0].Host.MigratingIn(), moved)
	assert.Equal(t, 1, dc.Stats().Migrations)
	assert.Equal(t, 1, dc.Stats().InFlight)

	require.NoError(t, dc.Advance(context.Background()))
	assert.False(t, moved.InMigration)
	assert.Zero(t, dc.Stats().InFlight)
}

func TestDatacenter_RunToHorizon(t *testing.T) {
	dc, policy := newSmallDatacenter(t)
	ctx := context.Background()

	for !dc.Done() {
		require.NoError(t, dc.Advance(ctx))
		dc.Consolidate(policy.OptimizeAllocation)
	}

	stats := dc.Stats()
	assert.Equal(t, 3600.0, stats.SimTime)
	assert.Equal(t, 12, stats.Intervals)
	assert.Greater(t, stats.EnergyKWh, 0.0)

	seen := make(map[int]bool)
	for _, h := range dc.Hosts() {
		for _, vm := range h.VMs() {
			assert.False(t, seen[vm.ID], "vm %d on two hosts", vm.ID)
			seen[vm.ID] = true
			assert.Same(t, h, vm.Host())
		}
	}
	assert.Len(t, seen, 8)

	sum := Summarize(stats, policy.Description())
	assert.Equal(t, "MM0.80-0.20", sum.Policy)
	assert.GreaterOrEqual(t, sum.MeanUtilization, 0.0)
	assert.LessOrEqual(t, sum.MeanUtilization, 1.0)

	var buf bytes.Buffer
	sum.Print(&buf)
	assert.Contains(t, buf.String(), "Energy consumption")
}

func TestDatacenter_PlaceDropsVMsThatDoNotFit(t *testing.T) {
	sc := &Scenario{
		Name:     "tight",
		Interval: 300,
		Power:    PowerSpec{Model: "linear", MaxPower: 200, StaticFraction: 0.5},
		Hosts:    []HostSpec{{Count: 1, PEs: 1, MIPSPerPE: 1000, RAM: 1024}},
		VMs: []VMSpec{{
			Count: 3, PEs: 1, MIPS: 1000, RAM: 512,
			Workload: WorkloadSpec{Type: "constant", Value: 0.1},
		}},
	}
	dc, err := NewDatacenter(sc, zap.NewNop())
	require.NoError(t, err)

	placed, err := dc.Place(consolidation.NewSingleThreshold(dc.Hosts(), 1, dc))
	require.NoError(t, err)

	assert.Equal(t, 2, placed)
	assert.Equal(t, 1, dc.Stats().UnplacedVMs)
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(Stats{}, "THR0.80")

	assert.Zero(t, sum.MeanUtilization)
	assert.Zero(t, sum.SLAViolationPercent)
}
