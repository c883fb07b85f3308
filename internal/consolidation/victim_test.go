package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/domain"
)

func TestSelectVictim_SmallestMemoryOnOverloadedHost(t *testing.T) {
	hosts := newPool(t, 2)
	big := place(t, hosts[0], 1, 2048, 0.95)
	small := place(t, hosts[0], 2, 1024, 0.95)
	other := place(t, hosts[1], 3, 512, 0.5)
	vms := []*domain.VirtualMachine{big, small, other}

	c := Classifier{Upper: 0.8, Lower: 0.3}
	state := c.Classify(hosts[0], 1000)
	require.False(t, state.Stable)
	assert.Equal(t, 3, state.Level)
	assert.True(t, state.MigrateOut)

	v, ok := selectVictim(vms, big, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)

	require.True(t, ok)
	assert.Same(t, small, v.vm)
}

func TestSelectVictim_TiesKeepEarliest(t *testing.T) {
	hosts := newPool(t, 1)
	a := place(t, hosts[0], 1, 2048, 0.9)
	b := place(t, hosts[0], 2, 1024, 0.1)
	c := place(t, hosts[0], 3, 1024, 0.1)
	vms := []*domain.VirtualMachine{a, b, c}

	state := LoadState{Level: 3, MigrateOut: true}
	v, ok := selectVictim(vms, a, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)

	require.True(t, ok)
	assert.Same(t, b, v.vm)
}

func TestSelectVictim_ConsidersRecentlyCreatedCoResidents(t *testing.T) {
	hosts := newPool(t, 1)
	trigger := place(t, hosts[0], 1, 4096, 0.9)
	fresh := place(t, hosts[0], 2, 512, 0.1)
	fresh.RecentlyCreated = true
	vms := []*domain.VirtualMachine{trigger, fresh}

	state := LoadState{Level: 3, MigrateOut: true}
	v, ok := selectVictim(vms, trigger, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)

	require.True(t, ok)
	assert.Same(t, fresh, v.vm)
}

func TestSelectVictim_SkipsVMsInCooldown(t *testing.T) {
	hosts := newPool(t, 1)
	trigger := place(t, hosts[0], 1, 2048, 0.9)
	recent := place(t, hosts[0], 2, 512, 0.1)
	recent.LastMigrationTime = 950
	vms := []*domain.VirtualMachine{trigger, recent}

	state := LoadState{Level: 3, MigrateOut: true}
	v, ok := selectVictim(vms, trigger, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)

	require.True(t, ok)
	assert.Same(t, trigger, v.vm, "a never-migrated VM is eligible immediately")
}

func TestSelectVictim_MigratedVMReportsRatio(t *testing.T) {
	hosts := newPool(t, 1)
	trigger := place(t, hosts[0], 1, 1024, 0.9)
	trigger.LastMigrationTime = 100
	other := place(t, hosts[0], 2, 2048, 0.5)
	vms := []*domain.VirtualMachine{trigger, other}

	state := LoadState{Level: 3, MigrateOut: true}
	v, ok := selectVictim(vms, trigger, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)

	require.True(t, ok)
	assert.Same(t, trigger, v.vm)
	assert.InDelta(t, (1800.0+1000.0)/4000.0, v.ratio, 1e-9)
}

func TestSelectVictim_MigratedVMStillInCooldown(t *testing.T) {
	hosts := newPool(t, 1)
	trigger := place(t, hosts[0], 1, 1024, 0.9)
	trigger.LastMigrationTime = 950
	vms := []*domain.VirtualMachine{trigger}

	for _, out := range []bool{true, false} {
		state := LoadState{Level: 2, MigrateOut: out}
		_, ok := selectVictim(vms, trigger, state, takeSnapshot(vms), CooldownGate{Divisor: 3}, 1000)
		assert.False(t, ok, "migrateOut=%v", out)
	}
}

func TestConsolidationRatio_Floor(t *testing.T) {
	hosts := newPool(t, 1)
	place(t, hosts[0], 1, 1024, 0.01)

	assert.InDelta(t, 0.05, consolidationRatio(hosts[0]), 1e-9)
	assert.InDelta(t, 0.05, consolidationRatio(nil), 1e-9)
}
