package consolidation

import "github.com/limiquantix/consolidator/internal/domain"

type vmPlacement struct {
	host              *domain.Host
	lastMigrationTime float64
}

// allocationSnapshot is the VM placement captured at the start of a cycle.
// It is a copy: later changes to hosts or VMs do not affect it.
type allocationSnapshot struct {
	placements map[*domain.VirtualMachine]vmPlacement
	// hosts holds every host that had at least one snapshotted VM.
	hosts map[*domain.Host]bool
	// order is each snapshot host's resident list; PE provisioning depends on it.
	order map[*domain.Host][]*domain.VirtualMachine
}

func takeSnapshot(vms []*domain.VirtualMachine) *allocationSnapshot {
	snap := &allocationSnapshot{
		placements: make(map[*domain.VirtualMachine]vmPlacement, len(vms)),
		hosts:      make(map[*domain.Host]bool),
		order:      make(map[*domain.Host][]*domain.VirtualMachine),
	}
	for _, vm := range vms {
		if h := vm.Host(); h != nil && !snap.hosts[h] {
			snap.hosts[h] = true
			snap.order[h] = h.VMs()
		}
		snap.placements[vm] = vmPlacement{
			host:              vm.Host(),
			lastMigrationTime: vm.LastMigrationTime,
		}
	}
	return snap
}

// hostOf returns vm's host at snapshot time, or nil if it had none.
func (s *allocationSnapshot) hostOf(vm *domain.VirtualMachine) *domain.Host {
	return s.placements[vm].host
}

// restore puts every VM in vms that is not in moved back on its snapshot host
// and reverts its migration timestamp, then puts each snapshot host's residents
// back in their snapshot order. VMs that had no host are left alone.
// It returns the number of VMs whose placement had to be repaired.
func (s *allocationSnapshot) restore(vms []*domain.VirtualMachine, moved map[*domain.VirtualMachine]bool) int {
	repaired := 0
	for _, vm := range vms {
		if moved[vm] {
			continue
		}
		p, ok := s.placements[vm]
		if !ok || p.host == nil {
			continue
		}
		if vm.Host() != p.host || !p.host.HasVM(vm) {
			p.host.Attach(vm)
			repaired++
		}
		vm.LastMigrationTime = p.lastMigrationTime
	}
	for host, order := range s.order {
		host.RestoreOrder(order)
	}
	return repaired
}
