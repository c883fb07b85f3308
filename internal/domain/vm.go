package domain

// VirtualMachine represents a guest placed on a Host.
//
// Requested capacity (PEs × MIPS, RAM, Bandwidth) is fixed at creation.
// Utilization is the live fraction of the requested MIPS the guest demands and is
// refreshed by the workload sampler every monitoring interval.
type VirtualMachine struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	PEs       int     `json:"pes"`
	MIPS      float64 `json:"mips"` // per PE
	RAM       int64   `json:"ram_mib"`
	Bandwidth int64   `json:"bandwidth_mbps"`

	Utilization float64 `json:"utilization"`

	// RecommendedMigrationInterval is the minimum simulated time that should
	// elapse before the VM is moved again.
	RecommendedMigrationInterval float64 `json:"recommended_migration_interval"`
	// LastMigrationTime is the simulated time of the last migration, 0 = never.
	LastMigrationTime float64 `json:"last_migration_time"`

	// RecentlyCreated marks the post-creation grace period; cleared after the
	// first monitoring interval.
	RecentlyCreated bool    `json:"recently_created"`
	InMigration     bool    `json:"in_migration"`
	MigrationDoneAt float64 `json:"migration_done_at,omitempty"`

	host *Host
}

// NewVirtualMachine creates a VM in its post-creation grace period.
func NewVirtualMachine(id int, name string, pes int, mips float64, ram, bw int64, migrationInterval float64) *VirtualMachine {
	return &VirtualMachine{
		ID:                           id,
		Name:                         name,
		PEs:                          pes,
		MIPS:                         mips,
		RAM:                          ram,
		Bandwidth:                    bw,
		RecommendedMigrationInterval: migrationInterval,
		RecentlyCreated:              true,
	}
}

// Host returns the host the VM currently resides on, or nil.
func (vm *VirtualMachine) Host() *Host {
	return vm.host
}

// TotalMIPS returns the requested capacity across all vCPUs.
func (vm *VirtualMachine) TotalMIPS() float64 {
	return float64(vm.PEs) * vm.MIPS
}

// CurrentRequestedMIPS returns the MIPS the VM demands right now.
func (vm *VirtualMachine) CurrentRequestedMIPS() float64 {
	return vm.TotalMIPS() * vm.Utilization
}

// MigrationTime estimates a live migration in seconds: RAM is copied over half of
// the VM's bandwidth, as in the CloudSim datacenter.
func (vm *VirtualMachine) MigrationTime() float64 {
	if vm.Bandwidth <= 0 {
		return 0
	}
	return float64(vm.RAM) / (float64(vm.Bandwidth) / (2 * 8))
}
