package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/domain"
)

// twoOverloadedHosts builds a pool of four hosts: hosts 0 and 1 overloaded,
// host 2 lightly loaded and host 3 empty.
func twoOverloadedHosts(t *testing.T) ([]*domain.Host, []*domain.VirtualMachine) {
	t.Helper()

	hosts := newPool(t, 4)
	vms := []*domain.VirtualMachine{
		place(t, hosts[0], 1, 4096, 0.95),
		place(t, hosts[0], 2, 1024, 0.25),
		place(t, hosts[1], 3, 4096, 0.88),
		place(t, hosts[1], 4, 1024, 0.3),
		place(t, hosts[2], 5, 2048, 0.4),
	}
	return hosts, vms
}

func TestDoubleThreshold_EmptyInput(t *testing.T) {
	hosts := newPool(t, 2)
	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))

	assert.Empty(t, p.OptimizeAllocation(nil))
}

func TestDoubleThreshold_Description(t *testing.T) {
	p := NewDoubleThreshold(newPool(t, 1), 0.8, 0.05, 1, fixedClock(0))

	assert.Equal(t, "MM0.80-0.05", p.Description())
}

func TestDoubleThreshold_RelievesOverloadedHosts(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))

	migrations := p.OptimizeAllocation(vms)

	require.Equal(t, []placement{{vmID: 2, hostID: 2}, {vmID: 4, hostID: 3}}, decisions(migrations))

	first := migrations[0]
	assert.Same(t, hosts[0], first.Source)
	assert.Equal(t, 3, first.Level)
	assert.True(t, first.MigrateOut)
	assert.Equal(t, domain.MigrationKindMigrateOut, first.Kind())

	second := migrations[1]
	assert.Same(t, hosts[1], second.Source)
	assert.Equal(t, 2, second.Level)

	for _, m := range migrations {
		assert.Same(t, m.Host, m.VM.Host(), "decision is already applied")
		assert.True(t, m.Host.HasVM(m.VM))
		assert.False(t, m.Source.HasVM(m.VM))
		assert.Equal(t, 1000.0, m.VM.LastMigrationTime)
	}

	assert.Same(t, hosts[0], vms[0].Host())
	assert.Same(t, hosts[1], vms[2].Host())
	assert.Same(t, hosts[2], vms[4].Host())
}

func TestDoubleThreshold_DestinationReceivesOneVMPerCycle(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))

	migrations := p.OptimizeAllocation(vms)

	seenVM := make(map[int]bool)
	seenHost := make(map[int]bool)
	for _, m := range migrations {
		assert.False(t, seenVM[m.VM.ID], "vm %d migrated twice", m.VM.ID)
		assert.False(t, seenHost[m.Host.ID], "host %d received twice", m.Host.ID)
		seenVM[m.VM.ID] = true
		seenHost[m.Host.ID] = true
	}
}

func TestDoubleThreshold_ConsolidatesUnderloadedHost(t *testing.T) {
	hosts := newPool(t, 2)
	idle := place(t, hosts[0], 1, 1024, 0.1)
	busy := place(t, hosts[1], 2, 1024, 0.6)
	vms := []*domain.VirtualMachine{idle, busy}

	p := NewDoubleThreshold(hosts, 0.8, 0.5, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	require.Len(t, migrations, 1)
	m := migrations[0]
	assert.Same(t, idle, m.VM)
	assert.Same(t, hosts[1], m.Host)
	assert.False(t, m.MigrateOut)
	assert.Equal(t, 2, m.Level)
	assert.Equal(t, domain.MigrationKindConsolidate, m.Kind())
	assert.Empty(t, hosts[0].VMs())
}

func TestDoubleThreshold_StaysInsideGroup(t *testing.T) {
	hosts := newPool(t, 10)
	var vms []*domain.VirtualMachine
	vms = append(vms,
		place(t, hosts[3], 1, 4096, 0.95),
		place(t, hosts[3], 2, 1024, 0.3),
	)
	// Hosts 5-9 are stable and would be the cheapest destinations.
	for i := 5; i < 10; i++ {
		vms = append(vms, place(t, hosts[i], 10+i, 1024, 0.5))
	}

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 2, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	require.Len(t, migrations, 1)
	assert.Equal(t, 2, migrations[0].VM.ID)
	assert.Less(t, migrations[0].Host.ID, 5)
	assert.Equal(t, 0, migrations[0].Host.ID, "ties go to the first host in the pool")
	assert.Equal(t, p.Partitioner().Group(3), p.Partitioner().Group(migrations[0].Host.ID))
}

func TestDoubleThreshold_WithoutGroupsPicksCheapestHost(t *testing.T) {
	hosts := newPool(t, 10)
	vms := []*domain.VirtualMachine{
		place(t, hosts[3], 1, 4096, 0.95),
		place(t, hosts[3], 2, 1024, 0.3),
		place(t, hosts[7], 3, 1024, 0.5),
	}

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	require.Len(t, migrations, 1)
	assert.Equal(t, 7, migrations[0].Host.ID)
}

func TestDoubleThreshold_PowerUnavailableKeepsPlacement(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	before := placements(vms)

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000), WithPowerEstimator(unavailableEstimator{}))
	migrations := p.OptimizeAllocation(vms)

	assert.Empty(t, migrations)
	assert.Equal(t, before, placements(vms))
	for _, vm := range vms {
		assert.Zero(t, vm.LastMigrationTime, "vm %d", vm.ID)
		assert.True(t, vm.Host().HasVM(vm))
	}

	// The same VMs are still candidates on the next cycle.
	p = NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1300))
	assert.NotEmpty(t, p.OptimizeAllocation(vms))
}

func TestDoubleThreshold_RestoresUnmovedVMs(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	before := placements(vms)

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	moved := make(map[int]bool)
	for _, m := range migrations {
		moved[m.VM.ID] = true
	}
	after := placements(vms)
	for i, pl := range before {
		if moved[pl.vmID] {
			continue
		}
		assert.Equal(t, pl, after[i])
	}
}

// pePackedHost returns a single host whose peak depends on resident order:
// vm1 and vm3 share PE 0 (0.9), vm2 sits alone on PE 1.
func pePackedHost(t *testing.T) ([]*domain.Host, []*domain.VirtualMachine) {
	t.Helper()

	hosts := newPool(t, 1)
	vms := []*domain.VirtualMachine{
		place(t, hosts[0], 1, 512, 0.3),
		place(t, hosts[0], 2, 1024, 0.3),
		place(t, hosts[0], 3, 2048, 0.6),
	}
	return hosts, vms
}

func TestDoubleThreshold_CycleWithoutDecisionsKeepsHostLoad(t *testing.T) {
	hosts, vms := pePackedHost(t)
	before := hosts[0].MaxUtilization(false)
	require.InDelta(t, 0.9, before, 1e-9)

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	assert.Empty(t, migrations)
	assert.InDelta(t, before, hosts[0].MaxUtilization(false), 1e-9)
	assert.Equal(t, vms, hosts[0].VMs())
	assert.False(t, p.classifier.Classify(hosts[0], 1000).Stable)
}

func TestDoubleThreshold_Deterministic(t *testing.T) {
	run := func() []placement {
		hosts, vms := twoOverloadedHosts(t)
		p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
		return decisions(p.OptimizeAllocation(vms))
	}

	assert.Equal(t, run(), run())
}

func TestDoubleThreshold_RepeatedCycleWithoutCandidates(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000), WithPowerEstimator(unavailableEstimator{}))

	first := decisions(p.OptimizeAllocation(vms))
	second := decisions(p.OptimizeAllocation(vms))

	assert.Equal(t, first, second)
}

func TestDoubleThreshold_SkipsHostWithVMInFlight(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	// VM 4 is listed after VM 3, yet host 1 must still be skipped.
	vms[3].InMigration = true

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	require.Len(t, migrations, 1)
	assert.Equal(t, 2, migrations[0].VM.ID)
	assert.Same(t, hosts[1], vms[2].Host())
}

func TestDoubleThreshold_SkipsRecentlyCreatedVMs(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	for _, vm := range vms {
		vm.RecentlyCreated = true
	}

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))

	assert.Empty(t, p.OptimizeAllocation(vms))
}

func TestDoubleThreshold_SkipsVMWithoutHost(t *testing.T) {
	hosts, vms := twoOverloadedHosts(t)
	orphan := domain.NewVirtualMachine(99, "", 1, 2000, 512, 100, 300)
	orphan.RecentlyCreated = false
	vms = append([]*domain.VirtualMachine{orphan}, vms...)

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(1000))
	migrations := p.OptimizeAllocation(vms)

	assert.Len(t, migrations, 2)
	assert.Nil(t, orphan.Host())
}

func TestDoubleThreshold_AllocateHostForVM(t *testing.T) {
	hosts := newPool(t, 3)
	place(t, hosts[1], 1, 1024, 0.5)

	p := NewDoubleThreshold(hosts, 0.8, 0.2, 1, fixedClock(0))
	vm := domain.NewVirtualMachine(2, "", 1, 2000, 1024, 100, 300)
	vm.Utilization = 0.3

	host := p.AllocateHostForVM(vm)

	require.NotNil(t, host)
	assert.Same(t, hosts[1], host, "a powered-on host is cheaper than waking an idle one")
	assert.Same(t, host, vm.Host())
}
