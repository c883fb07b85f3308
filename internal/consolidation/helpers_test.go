package consolidation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/domain"
)

// fixedClock returns a clock stuck at t.
func fixedClock(t float64) Clock {
	return ClockFunc(func() float64 { return t })
}

// newPool creates n empty hosts with two 2000-MIPS PEs and 16 GiB of RAM each.
func newPool(t *testing.T, n int) []*domain.Host {
	t.Helper()

	pm, err := domain.NewPowerModel(domain.PowerModelKindLinear, 250, 0.7)
	require.NoError(t, err)

	hosts := make([]*domain.Host, n)
	for i := range hosts {
		hosts[i] = domain.NewHost(i, "", 2, 2000, 16384, 10000, pm)
	}
	return hosts
}

// place creates a single-vCPU VM with the given RAM and utilization on host.
func place(t *testing.T, host *domain.Host, id int, ram int64, util float64) *domain.VirtualMachine {
	t.Helper()

	vm := domain.NewVirtualMachine(id, "", 1, 2000, ram, 100, 300)
	vm.RecentlyCreated = false
	vm.Utilization = util
	require.True(t, host.VMCreate(vm), "vm %d must fit on %s", id, host)
	return vm
}

type placement struct {
	vmID   int
	hostID int
}

func placements(vms []*domain.VirtualMachine) []placement {
	out := make([]placement, 0, len(vms))
	for _, vm := range vms {
		hostID := -1
		if vm.Host() != nil {
			hostID = vm.Host().ID
		}
		out = append(out, placement{vmID: vm.ID, hostID: hostID})
	}
	return out
}

func decisions(ms []domain.Migration) []placement {
	out := make([]placement, 0, len(ms))
	for _, m := range ms {
		out = append(out, placement{vmID: m.VM.ID, hostID: m.Host.ID})
	}
	return out
}

type unavailableEstimator struct{}

func (unavailableEstimator) PowerAfterAllocation(*domain.Host, *domain.VirtualMachine) domain.PowerEstimate {
	return domain.PowerUnavailable()
}
