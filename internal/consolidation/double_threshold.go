package consolidation

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// DoubleThreshold relieves hosts above an upper utilization threshold and
// drains hosts below a lower one. At most one VM leaves each flagged host per
// cycle and each destination receives at most one VM, always inside the
// source host's group.
//
// Placement reuses the least-power search of an embedded SingleThreshold
// scoped to the upper threshold.
type DoubleThreshold struct {
	single      *SingleThreshold
	classifier  Classifier
	partitioner Partitioner
	gate        CooldownGate
	clock       Clock
	logger      *zap.Logger

	mu sync.Mutex
}

// NewDoubleThreshold creates a double-threshold policy over hosts. groupNum
// splits the pool into contiguous locality groups.
func NewDoubleThreshold(hosts []*domain.Host, upper, lower float64, groupNum int, clock Clock, opts ...Option) *DoubleThreshold {
	o := buildOptions(opts)
	return &DoubleThreshold{
		single:      NewSingleThreshold(hosts, upper, clock, opts...),
		classifier:  Classifier{Upper: upper, Lower: lower},
		partitioner: NewPartitioner(len(hosts), groupNum),
		gate:        CooldownGate{Divisor: defaultCooldownDivisor},
		clock:       clock,
		logger:      o.logger.With(zap.String("component", "consolidation"), zap.String("policy", PolicyDoubleThreshold)),
	}
}

// Hosts returns the host pool.
func (p *DoubleThreshold) Hosts() []*domain.Host {
	return p.single.Hosts()
}

// Partitioner returns the host group layout.
func (p *DoubleThreshold) Partitioner() Partitioner {
	return p.partitioner
}

// Description implements Policy. The lower threshold is the configured value,
// not the one in effect during warm-up.
func (p *DoubleThreshold) Description() string {
	return fmt.Sprintf("MM%.2f-%.2f", p.classifier.Upper, p.classifier.Lower)
}

// AllocateHostForVM implements Policy.
func (p *DoubleThreshold) AllocateHostForVM(vm *domain.VirtualMachine) *domain.Host {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.single.allocate(vm)
}

// OptimizeAllocation implements Policy.
//
// The returned migrations have already been applied: each VM now resides on its
// destination. Every other VM in vms is back on the host it had when the call
// started, with its migration timestamp unchanged.
func (p *DoubleThreshold) OptimizeAllocation(vms []*domain.VirtualMachine) []domain.Migration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(vms) == 0 {
		return nil
	}

	now := p.clock.Now()
	snap := takeSnapshot(vms)

	// Hosts with a VM already in flight are left alone for this cycle.
	claimed := make(map[*domain.Host]bool)
	for _, vm := range vms {
		if !vm.InMigration {
			continue
		}
		if host := snap.hostOf(vm); host != nil {
			claimed[host] = true
		}
	}

	cands := p.selectCandidates(vms, snap, claimed, now)
	sortCandidates(cands)

	for _, host := range p.single.hosts {
		host.ReallocateMigratingVMs()
	}

	migrations := p.placeCandidates(cands)

	moved := make(map[*domain.VirtualMachine]bool, len(migrations))
	for _, m := range migrations {
		moved[m.VM] = true
	}
	repaired := snap.restore(vms, moved)

	p.logger.Debug("Consolidation cycle complete",
		zap.Float64("now", now),
		zap.Float64("lower_threshold", p.classifier.LowerThreshold(now)),
		zap.Int("vms", len(vms)),
		zap.Int("candidates", len(cands)),
		zap.Int("migrations", len(migrations)),
		zap.Int("restored", repaired),
	)
	return migrations
}

// selectCandidates classifies each host once, in order of first appearance,
// and evicts at most one VM from every flagged host.
func (p *DoubleThreshold) selectCandidates(
	vms []*domain.VirtualMachine,
	snap *allocationSnapshot,
	claimed map[*domain.Host]bool,
	now float64,
) []candidate {
	var cands []candidate
	visited := make(map[*domain.Host]bool)

	for _, vm := range vms {
		if vm.InMigration || vm.RecentlyCreated {
			continue
		}
		host := snap.hostOf(vm)
		if host == nil {
			p.logger.Debug("VM has no host, skipping", zap.Int("vm_id", vm.ID))
			continue
		}
		if claimed[host] || visited[host] {
			continue
		}
		visited[host] = true

		state := p.classifier.Classify(host, now)
		if state.Stable {
			continue
		}

		v, ok := selectVictim(vms, vm, state, snap, p.gate, now)
		if !ok {
			p.logger.Debug("No eligible victim on flagged host",
				zap.Stringer("host", host),
				zap.Int("level", state.Level),
				zap.Bool("migrate_out", state.MigrateOut),
			)
			continue
		}

		claimed[host] = true
		host.VMDestroy(v.vm)
		v.vm.LastMigrationTime = now

		p.logger.Debug("Victim selected",
			zap.Stringer("host", host),
			zap.Int("vm_id", v.vm.ID),
			zap.Int("level", state.Level),
			zap.Bool("migrate_out", state.MigrateOut),
			zap.Float64("cpu_peak", state.CPUPeak),
		)
		cands = append(cands, candidate{
			vm:         v.vm,
			source:     host,
			sourcePeak: state.CPUPeak,
			state:      state,
			ratio:      v.ratio,
		})
	}
	return cands
}

// placeCandidates finds a destination for each candidate in order. A host that
// has received a VM is not offered again in the same cycle.
func (p *DoubleThreshold) placeCandidates(cands []candidate) []domain.Migration {
	var migrations []domain.Migration
	receiving := make(map[*domain.Host]bool)

	for _, c := range cands {
		source := c.source
		dest := p.single.findHost(c.vm, func(h *domain.Host) bool {
			return !receiving[h] && p.partitioner.SameGroup(source, h)
		})
		if dest == nil {
			p.logger.Debug("No destination for VM", zap.Int("vm_id", c.vm.ID), zap.Stringer("source", source))
			continue
		}
		if !dest.VMCreate(c.vm) || dest == source {
			continue
		}
		receiving[dest] = true
		migrations = append(migrations, c.migration(dest))
	}
	return migrations
}
