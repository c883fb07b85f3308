package consolidation

import "github.com/limiquantix/consolidator/internal/domain"

const minConsolidationRatio = 0.05

// victim is the VM chosen for eviction from a flagged host.
type victim struct {
	vm    *domain.VirtualMachine
	ratio float64
}

// selectVictim picks the VM to evict from trigger's host. trigger is the
// starting candidate; any co-resident VM with strictly less RAM that passes
// the cooldown gate replaces it, so ties keep the earliest in vms. The creation
// grace period only applies to trigger VMs, so recently created co-residents
// are candidates too. Residency is read from the cycle snapshot, not from live
// host membership.
func selectVictim(
	vms []*domain.VirtualMachine,
	trigger *domain.VirtualMachine,
	state LoadState,
	snap *allocationSnapshot,
	gate CooldownGate,
	now float64,
) (victim, bool) {
	home := snap.hostOf(trigger)
	if home == nil {
		return victim{}, false
	}

	smallest := trigger
	for _, vm := range vms {
		if vm.InMigration || snap.hostOf(vm) != home {
			continue
		}
		if vm.RAM < smallest.RAM && gate.Eligible(vm, now) {
			smallest = vm
		}
	}

	if !state.MigrateOut {
		return victim{vm: smallest}, gate.Eligible(smallest, now)
	}
	if smallest.LastMigrationTime == 0 {
		return victim{vm: smallest}, true
	}

	// The ratio is reported with the decision; eligibility stays on the plain
	// cooldown gate.
	ratio := consolidationRatio(trigger.Host())
	return victim{vm: smallest, ratio: ratio}, gate.Eligible(smallest, now)
}

// consolidationRatio returns demanded MIPS over capacity for host, floored at
// minConsolidationRatio.
func consolidationRatio(host *domain.Host) float64 {
	if host == nil || host.TotalMIPS() <= 0 {
		return minConsolidationRatio
	}
	ratio := host.UsedMIPS() / host.TotalMIPS()
	if ratio < minConsolidationRatio {
		ratio = minConsolidationRatio
	}
	return ratio
}
