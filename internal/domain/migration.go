package domain

import (
	"time"

	"github.com/google/uuid"
)

// MigrationKind tells why a VM was moved.
type MigrationKind string

const (
	// MigrationKindMigrateOut relieves an overloaded host.
	MigrationKindMigrateOut MigrationKind = "MIGRATE_OUT"
	// MigrationKindConsolidate drains an underloaded host.
	MigrationKindConsolidate MigrationKind = "CONSOLIDATE"
)

// Migration is one completed reassignment produced by a consolidation cycle.
type Migration struct {
	VM     *VirtualMachine
	Host   *Host // destination
	Source *Host

	// Level is the escalation level (1..3) of the source host when it was flagged.
	Level      int
	MigrateOut bool
	// ConsolidationRatio is demanded MIPS over capacity of the source host, reported
	// for VMs evicted from an overloaded host that had migrated before.
	ConsolidationRatio float64
}

// Kind returns the reason for the move.
func (m Migration) Kind() MigrationKind {
	if m.MigrateOut {
		return MigrationKindMigrateOut
	}
	return MigrationKindConsolidate
}

// MigrationRecord is the reporting form of a Migration, persisted and streamed by
// the control plane. The engine never reads records back.
type MigrationRecord struct {
	ID                 string        `json:"id"`
	Environment        string        `json:"environment"`
	Cycle              int64         `json:"cycle"`
	SimTime            float64       `json:"sim_time"`
	Policy             string        `json:"policy"`
	Kind               MigrationKind `json:"kind"`
	Level              int           `json:"level"`
	VMID               int           `json:"vm_id"`
	VMName             string        `json:"vm_name"`
	SourceHostID       int           `json:"source_host_id"`
	SourceHostName     string        `json:"source_host_name"`
	TargetHostID       int           `json:"target_host_id"`
	TargetHostName     string        `json:"target_host_name"`
	ConsolidationRatio float64       `json:"consolidation_ratio,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// NewMigrationRecord converts a Migration into a record with a fresh ID.
func NewMigrationRecord(env string, cycle int64, simTime float64, policy string, m Migration) *MigrationRecord {
	rec := &MigrationRecord{
		ID:                 uuid.NewString(),
		Environment:        env,
		Cycle:              cycle,
		SimTime:            simTime,
		Policy:             policy,
		Kind:               m.Kind(),
		Level:              m.Level,
		ConsolidationRatio: m.ConsolidationRatio,
		CreatedAt:          time.Now(),
	}
	if m.VM != nil {
		rec.VMID = m.VM.ID
		rec.VMName = m.VM.Name
	}
	if m.Source != nil {
		rec.SourceHostID = m.Source.ID
		rec.SourceHostName = m.Source.Hostname
	}
	if m.Host != nil {
		rec.TargetHostID = m.Host.ID
		rec.TargetHostName = m.Host.Hostname
	}
	return rec
}

// MigrationFilter narrows record listings.
type MigrationFilter struct {
	Environment string
	VMID        *int
	SinceCycle  int64
}

// Matches reports whether rec passes the filter.
func (f MigrationFilter) Matches(rec *MigrationRecord) bool {
	if f.Environment != "" && rec.Environment != f.Environment {
		return false
	}
	if f.VMID != nil && rec.VMID != *f.VMID {
		return false
	}
	return rec.Cycle >= f.SinceCycle
}

// CycleSummary describes one completed decision cycle.
type CycleSummary struct {
	Environment string        `json:"environment"`
	Cycle       int64         `json:"cycle"`
	SimTime     float64       `json:"sim_time"`
	Policy      string        `json:"policy"`
	VMs         int           `json:"vms"`
	Migrations  int           `json:"migrations"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}
