package consolidation

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// SingleThreshold places VMs on the host with the smallest power increase and
// relieves any host whose CPU peak exceeds one utilization threshold.
type SingleThreshold struct {
	hosts     []*domain.Host
	threshold float64
	clock     Clock
	estimator PowerEstimator
	logger    *zap.Logger

	mu sync.Mutex
}

// NewSingleThreshold creates a single-threshold policy over hosts.
func NewSingleThreshold(hosts []*domain.Host, threshold float64, clock Clock, opts ...Option) *SingleThreshold {
	o := buildOptions(opts)
	return &SingleThreshold{
		hosts:     hosts,
		threshold: threshold,
		clock:     clock,
		estimator: o.estimator,
		logger:    o.logger.With(zap.String("component", "consolidation"), zap.String("policy", PolicySingleThreshold)),
	}
}

// Hosts returns the host pool.
func (p *SingleThreshold) Hosts() []*domain.Host {
	return p.hosts
}

// Threshold returns the upper utilization threshold.
func (p *SingleThreshold) Threshold() float64 {
	return p.threshold
}

// Description implements Policy.
func (p *SingleThreshold) Description() string {
	return fmt.Sprintf("THR%.2f", p.threshold)
}

// findHost returns the host whose power draw grows least when vm is added,
// among hosts that pass accept, can admit vm, and stay at or below the
// threshold afterwards. Hosts without a power estimate are skipped. It returns
// nil when no host qualifies.
func (p *SingleThreshold) findHost(vm *domain.VirtualMachine, accept func(*domain.Host) bool) *domain.Host {
	minDelta := math.MaxFloat64
	var best *domain.Host

	for _, host := range p.hosts {
		if accept != nil && !accept(host) {
			continue
		}
		if !host.IsSuitableForVM(vm) {
			continue
		}
		if host.MaxUtilizationAfterAllocation(vm) > p.threshold {
			continue
		}
		est := p.estimator.PowerAfterAllocation(host, vm)
		if !est.OK {
			continue
		}
		if delta := est.Watts - host.Power(); delta < minDelta {
			minDelta = delta
			best = host
		}
	}
	return best
}

// FindHostForVM returns the least-power host for vm, excluding the given hosts.
func (p *SingleThreshold) FindHostForVM(vm *domain.VirtualMachine, exclude ...*domain.Host) *domain.Host {
	if len(exclude) == 0 {
		return p.findHost(vm, nil)
	}
	skip := make(map[*domain.Host]bool, len(exclude))
	for _, h := range exclude {
		skip[h] = true
	}
	return p.findHost(vm, func(h *domain.Host) bool { return !skip[h] })
}

// AllocateHostForVM implements Policy. When no host stays under the threshold
// the VM goes to the first host that can admit it at all.
func (p *SingleThreshold) AllocateHostForVM(vm *domain.VirtualMachine) *domain.Host {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.allocate(vm)
}

func (p *SingleThreshold) allocate(vm *domain.VirtualMachine) *domain.Host {
	if host := p.findHost(vm, nil); host != nil && host.VMCreate(vm) {
		p.logger.Debug("VM placed",
			zap.Int("vm_id", vm.ID),
			zap.Stringer("host", host),
		)
		return host
	}
	for _, host := range p.hosts {
		if host.VMCreate(vm) {
			p.logger.Debug("VM placed above threshold",
				zap.Int("vm_id", vm.ID),
				zap.Stringer("host", host),
			)
			return host
		}
	}
	p.logger.Warn("No host can admit VM", zap.Int("vm_id", vm.ID))
	return nil
}

// OptimizeAllocation implements Policy. Every host whose CPU peak is above the
// threshold sheds its smallest VMs until it is back under it; the evicted VMs
// are then placed with the least-power search.
func (p *SingleThreshold) OptimizeAllocation(vms []*domain.VirtualMachine) []domain.Migration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(vms) == 0 {
		return nil
	}

	now := p.clock.Now()
	snap := takeSnapshot(vms)

	var cands []candidate
	for _, host := range p.hosts {
		if !snap.hosts[host] {
			continue
		}
		peak := host.MaxUtilization(false)
		if peak <= p.threshold {
			continue
		}

		resident := movableVMs(host, snap)
		sort.SliceStable(resident, func(i, j int) bool {
			return resident[i].RAM < resident[j].RAM
		})
		for _, vm := range resident {
			host.VMDestroy(vm)
			cands = append(cands, candidate{
				vm:         vm,
				source:     host,
				sourcePeak: peak,
				state:      LoadState{Level: 1, MigrateOut: true, CPUPeak: peak},
			})
			if host.MaxUtilization(false) <= p.threshold {
				break
			}
		}
	}
	sortCandidates(cands)

	for _, host := range p.hosts {
		host.ReallocateMigratingVMs()
	}

	var migrations []domain.Migration
	moved := make(map[*domain.VirtualMachine]bool, len(cands))
	for _, c := range cands {
		dest := p.findHost(c.vm, nil)
		if dest == nil || !dest.VMCreate(c.vm) || dest == c.source {
			continue
		}
		c.vm.LastMigrationTime = now
		moved[c.vm] = true
		migrations = append(migrations, c.migration(dest))
	}

	snap.restore(vms, moved)

	p.logger.Debug("Single-threshold cycle complete",
		zap.Float64("now", now),
		zap.Int("candidates", len(cands)),
		zap.Int("migrations", len(migrations)),
	)
	return migrations
}

// movableVMs returns the host's snapshotted VMs that are neither new nor
// already moving.
func movableVMs(host *domain.Host, snap *allocationSnapshot) []*domain.VirtualMachine {
	var out []*domain.VirtualMachine
	for _, vm := range host.VMs() {
		if vm.InMigration || vm.RecentlyCreated || snap.hostOf(vm) != host {
			continue
		}
		out = append(out, vm)
	}
	return out
}

// candidate is an evicted VM waiting for a destination.
type candidate struct {
	vm         *domain.VirtualMachine
	source     *domain.Host
	sourcePeak float64
	state      LoadState
	ratio      float64
}

func (c candidate) migration(dest *domain.Host) domain.Migration {
	return domain.Migration{
		VM:                 c.vm,
		Host:               dest,
		Source:             c.source,
		Level:              c.state.Level,
		MigrateOut:         c.state.MigrateOut,
		ConsolidationRatio: c.ratio,
	}
}

// sortCandidates orders candidates by source CPU peak, highest first, then by
// VM id.
func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].sourcePeak != cands[j].sourcePeak {
			return cands[i].sourcePeak > cands[j].sourcePeak
		}
		return cands[i].vm.ID < cands[j].vm.ID
	})
}
