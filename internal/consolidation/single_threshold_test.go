package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

func TestNewPolicy(t *testing.T) {
	hosts := newPool(t, 2)

	p, err := NewPolicy(config.ConsolidationConfig{UpperThreshold: 0.8, LowerThreshold: 0.2, GroupNum: 1}, hosts, fixedClock(0))
	require.NoError(t, err)
	assert.IsType(t, &DoubleThreshold{}, p)

	p, err = NewPolicy(config.ConsolidationConfig{Policy: "single-threshold", UpperThreshold: 0.9}, hosts, fixedClock(0))
	require.NoError(t, err)
	assert.Equal(t, "THR0.90", p.Description())

	_, err = NewPolicy(config.ConsolidationConfig{Policy: "best-fit", UpperThreshold: 0.9}, hosts, fixedClock(0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewPolicy(config.ConsolidationConfig{UpperThreshold: 0.5, LowerThreshold: 0.7}, hosts, fixedClock(0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSingleThreshold_FindHostForVMExcludes(t *testing.T) {
	hosts := newPool(t, 3)
	place(t, hosts[1], 1, 1024, 0.5)
	p := NewSingleThreshold(hosts, 0.8, fixedClock(0))

	vm := domain.NewVirtualMachine(2, "", 1, 2000, 1024, 100, 300)
	vm.Utilization = 0.2

	assert.Same(t, hosts[1], p.FindHostForVM(vm))
	assert.Same(t, hosts[0], p.FindHostForVM(vm, hosts[1]))
}

func TestSingleThreshold_AllocateFallsBackAboveThreshold(t *testing.T) {
	hosts := newPool(t, 1)
	p := NewSingleThreshold(hosts, 0.5, fixedClock(0))

	vm := domain.NewVirtualMachine(1, "", 1, 2000, 1024, 100, 300)
	vm.Utilization = 0.9

	assert.Same(t, hosts[0], p.AllocateHostForVM(vm))

	huge := domain.NewVirtualMachine(2, "", 1, 2000, 32768, 100, 300)
	assert.Nil(t, p.AllocateHostForVM(huge))
	assert.Nil(t, huge.Host())
}

func TestSingleThreshold_OptimizeAllocation(t *testing.T) {
	hosts := newPool(t, 3)
	vms := []*domain.VirtualMachine{
		place(t, hosts[0], 1, 4096, 0.6),
		place(t, hosts[0], 2, 1024, 0.75),
		place(t, hosts[0], 3, 2048, 0.3),
		place(t, hosts[1], 4, 1024, 0.4),
	}
	p := NewSingleThreshold(hosts, 0.8, fixedClock(600))

	migrations := p.OptimizeAllocation(vms)

	// Evicting vm2, the smallest, brings host 0 from 0.9 down to 0.6.
	require.Len(t, migrations, 1)
	assert.Equal(t, 2, migrations[0].VM.ID)
	assert.Same(t, hosts[1], migrations[0].Host)
	assert.Equal(t, 600.0, migrations[0].VM.LastMigrationTime)
	assert.LessOrEqual(t, hosts[0].MaxUtilization(false), 0.8+1e-9)

	for _, vm := range vms {
		assert.True(t, vm.Host().HasVM(vm), "vm %d", vm.ID)
	}
}

func TestSingleThreshold_CycleWithoutDecisionsKeepsHostLoad(t *testing.T) {
	hosts, vms := pePackedHost(t)
	before := hosts[0].MaxUtilization(false)

	p := NewSingleThreshold(hosts, 0.8, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	assert.Empty(t, migrations)
	assert.InDelta(t, before, hosts[0].MaxUtilization(false), 1e-9)
	assert.Equal(t, vms, hosts[0].VMs())
	for _, vm := range vms {
		assert.Equal(t, 0.0, vm.LastMigrationTime)
	}
}
