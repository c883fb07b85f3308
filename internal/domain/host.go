package domain

import (
	"fmt"
	"math"
)

// Host represents a physical hypervisor host in the consolidation pool.
//
// ID is the host's position in the pool (0-based); group partitioning relies on it.
// The host owns VM membership: a VM's Host() back-reference is only ever set by
// the methods below.
type Host struct {
	ID        int     `json:"id"`
	Hostname  string  `json:"hostname"`
	PEs       int     `json:"pes"`
	MIPSPerPE float64 `json:"mips_per_pe"`
	RAM       int64   `json:"ram_mib"`
	Bandwidth int64   `json:"bandwidth_mbps"`

	PowerModel PowerModel `json:"-"`

	vms         []*VirtualMachine
	migratingIn []*VirtualMachine
}

// NewHost creates an empty host.
func NewHost(id int, hostname string, pes int, mipsPerPE float64, ram, bw int64, pm PowerModel) *Host {
	if hostname == "" {
		hostname = fmt.Sprintf("host-%d", id)
	}
	return &Host{
		ID:         id,
		Hostname:   hostname,
		PEs:        pes,
		MIPSPerPE:  mipsPerPE,
		RAM:        ram,
		Bandwidth:  bw,
		PowerModel: pm,
	}
}

// String returns a short identifier for logs.
func (h *Host) String() string {
	return fmt.Sprintf("host#%d", h.ID)
}

// TotalMIPS returns the host's total processing capacity.
func (h *Host) TotalMIPS() float64 {
	return float64(h.PEs) * h.MIPSPerPE
}

// VMs returns a copy of the resident VM list.
func (h *Host) VMs() []*VirtualMachine {
	out := make([]*VirtualMachine, len(h.vms))
	copy(out, h.vms)
	return out
}

// HasVM reports whether vm is resident on the host.
func (h *Host) HasVM(vm *VirtualMachine) bool {
	for _, v := range h.vms {
		if v == vm {
			return true
		}
	}
	return false
}

// MigratingIn returns the VMs still arriving on this host.
func (h *Host) MigratingIn() []*VirtualMachine {
	out := make([]*VirtualMachine, len(h.migratingIn))
	copy(out, h.migratingIn)
	return out
}

// UsedMIPS returns the MIPS currently demanded by resident VMs.
func (h *Host) UsedMIPS() float64 {
	var total float64
	for _, vm := range h.vms {
		total += vm.CurrentRequestedMIPS()
	}
	return total
}

// UsedRAM returns the memory reserved by resident VMs.
func (h *Host) UsedRAM() int64 {
	var total int64
	for _, vm := range h.vms {
		total += vm.RAM
	}
	return total
}

// UsedBandwidth returns the bandwidth reserved by resident VMs.
func (h *Host) UsedBandwidth() int64 {
	var total int64
	for _, vm := range h.vms {
		total += vm.Bandwidth
	}
	return total
}

// peLoads provisions the demand of every resident VM (plus extra, if given and not
// already resident) onto the host's PEs. Each vCPU carries an equal share of its
// VM's demand and lands on the least-loaded PE; ties go to the lowest index.
func (h *Host) peLoads(extra *VirtualMachine) []float64 {
	loads := make([]float64, h.PEs)
	if h.PEs == 0 {
		return loads
	}

	place := func(vm *VirtualMachine) {
		if vm.PEs <= 0 {
			return
		}
		share := vm.CurrentRequestedMIPS() / float64(vm.PEs)
		for i := 0; i < vm.PEs; i++ {
			idx := 0
			for j := 1; j < len(loads); j++ {
				if loads[j] < loads[idx] {
					idx = j
				}
			}
			loads[idx] += share
		}
	}

	for _, vm := range h.vms {
		place(vm)
	}
	if extra != nil && !h.HasVM(extra) {
		place(extra)
	}
	return loads
}

func (h *Host) peakUtilization(extra *VirtualMachine) float64 {
	if h.MIPSPerPE <= 0 {
		return 0
	}
	var peak float64
	for _, load := range h.peLoads(extra) {
		peak = math.Max(peak, load/h.MIPSPerPE)
	}
	return peak
}

// MaxUtilization returns the peak PE utilization. With forMemory set the memory
// utilization is folded in, so a memory-bound host also reads as busy.
func (h *Host) MaxUtilization(forMemory bool) float64 {
	peak := h.peakUtilization(nil)
	if forMemory {
		return math.Max(peak, h.UtilizationOfMemory())
	}
	return peak
}

// MaxUtilizationAfterAllocation returns the peak PE utilization the host would
// reach if vm were placed on it.
func (h *Host) MaxUtilizationAfterAllocation(vm *VirtualMachine) float64 {
	return h.peakUtilization(vm)
}

// UtilizationOfCPU returns demanded MIPS over total MIPS. It can exceed 1 when
// guests demand more than the host can deliver.
func (h *Host) UtilizationOfCPU() float64 {
	total := h.TotalMIPS()
	if total <= 0 {
		return 0
	}
	return h.UsedMIPS() / total
}

// UtilizationOfMemory returns reserved RAM over total RAM.
func (h *Host) UtilizationOfMemory() float64 {
	if h.RAM <= 0 {
		return 0
	}
	return float64(h.UsedRAM()) / float64(h.RAM)
}

// IsSuitableForVM reports whether the host has the PEs, RAM, bandwidth and free
// MIPS to admit vm.
func (h *Host) IsSuitableForVM(vm *VirtualMachine) bool {
	if vm.PEs > h.PEs || vm.MIPS > h.MIPSPerPE {
		return false
	}
	if h.RAM-h.UsedRAM() < vm.RAM {
		return false
	}
	if h.Bandwidth > 0 && h.Bandwidth-h.UsedBandwidth() < vm.Bandwidth {
		return false
	}
	return h.TotalMIPS()-h.UsedMIPS() >= vm.CurrentRequestedMIPS()
}

// VMCreate admits vm if the host is suitable. A VM already resident is accepted.
func (h *Host) VMCreate(vm *VirtualMachine) bool {
	if h.HasVM(vm) {
		return true
	}
	if !h.IsSuitableForVM(vm) {
		return false
	}
	h.Attach(vm)
	return true
}

// Attach makes vm resident without admission checks, detaching it from its
// previous host first. Used to restore a saved allocation.
func (h *Host) Attach(vm *VirtualMachine) {
	if vm.host != nil && vm.host != h {
		vm.host.VMDestroy(vm)
	}
	if !h.HasVM(vm) {
		h.vms = append(h.vms, vm)
	}
	vm.host = h
}

// RestoreOrder reorders the resident VMs so that those listed in order come
// first, in that order. Residents not in order keep their relative order after
// them; entries of order that are no longer resident are ignored.
func (h *Host) RestoreOrder(order []*VirtualMachine) {
	seen := make(map[*VirtualMachine]bool, len(order))
	out := make([]*VirtualMachine, 0, len(h.vms))
	for _, vm := range order {
		if !seen[vm] && h.HasVM(vm) {
			seen[vm] = true
			out = append(out, vm)
		}
	}
	for _, vm := range h.vms {
		if !seen[vm] {
			out = append(out, vm)
		}
	}
	h.vms = out
}

// VMDestroy removes vm from the host.
func (h *Host) VMDestroy(vm *VirtualMachine) {
	h.vms = removeVM(h.vms, vm)
	h.migratingIn = removeVM(h.migratingIn, vm)
	if vm.host == h {
		vm.host = nil
	}
}

// AddMigratingIn records vm as arriving on this host.
func (h *Host) AddMigratingIn(vm *VirtualMachine) {
	for _, v := range h.migratingIn {
		if v == vm {
			return
		}
	}
	h.migratingIn = append(h.migratingIn, vm)
}

// ReallocateMigratingVMs reconciles the arriving list: VMs whose migration has
// completed, or that have since been moved elsewhere, are dropped from it.
func (h *Host) ReallocateMigratingVMs() {
	kept := h.migratingIn[:0]
	for _, vm := range h.migratingIn {
		if vm.InMigration && vm.host == h {
			kept = append(kept, vm)
		}
	}
	for i := len(kept); i < len(h.migratingIn); i++ {
		h.migratingIn[i] = nil
	}
	h.migratingIn = kept
}

// Power returns the host's current draw in watts. An idle host with no VMs is
// considered switched off.
func (h *Host) Power() float64 {
	if len(h.vms) == 0 || h.PowerModel == nil {
		return 0
	}
	watts, err := h.PowerModel.Power(math.Min(h.peakUtilization(nil), 1))
	if err != nil {
		return 0
	}
	return watts
}

// PowerAfterAllocation estimates the draw if vm were placed on the host. The
// estimate is unavailable when the host has no power model or the hypothetical
// utilization falls outside the model's domain.
func (h *Host) PowerAfterAllocation(vm *VirtualMachine) PowerEstimate {
	if h.PowerModel == nil {
		return PowerUnavailable()
	}
	watts, err := h.PowerModel.Power(h.MaxUtilizationAfterAllocation(vm))
	if err != nil {
		return PowerUnavailable()
	}
	return PowerOf(watts)
}

func removeVM(list []*VirtualMachine, vm *VirtualMachine) []*VirtualMachine {
	for i, v := range list {
		if v == vm {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
