package scheduler

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// Scheduler determines which host should run a new VM.
type Scheduler struct {
	hosts  []*domain.Host
	config Config
	logger *zap.Logger
}

// New creates a new Scheduler over hosts.
func New(hosts []*domain.Host, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		hosts:  hosts,
		config: config,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// ScheduleResult contains the scheduling decision.
type ScheduleResult struct {
	Host   *domain.Host
	Score  float64
	Reason string
}

// Schedule finds the best host for vm without placing it.
func (s *Scheduler) Schedule(vm *domain.VirtualMachine) (*ScheduleResult, error) {
	logger := s.logger.With(
		zap.Int("vm_id", vm.ID),
		zap.Int("requested_pes", vm.PEs),
		zap.Int64("requested_ram_mib", vm.RAM),
	)

	if len(s.hosts) == 0 {
		return nil, fmt.Errorf("%w: no hosts available", domain.ErrResourceExhausted)
	}

	// 1. Filter hosts by predicates (hard constraints)
	var feasible []*domain.Host
	for _, host := range s.hosts {
		if s.checkPredicates(host, vm) {
			feasible = append(feasible, host)
		}
	}

	if len(feasible) == 0 {
		logger.Debug("No host satisfies placement requirements", zap.Int("total_hosts", len(s.hosts)))
		return nil, fmt.Errorf("%w: no host satisfies placement requirements (checked %d hosts)",
			domain.ErrResourceExhausted, len(s.hosts))
	}

	// 2. Score and rank hosts
	type scoredHost struct {
		host  *domain.Host
		score float64
	}

	scored := make([]scoredHost, len(feasible))
	for i, host := range feasible {
		scored[i] = scoredHost{host: host, score: s.scoreHost(host, vm)}
	}

	// Highest score first; ties keep pool order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	best := scored[0]

	logger.Debug("Scheduled VM",
		zap.Int("host_id", best.host.ID),
		zap.Float64("score", best.score),
		zap.Int("feasible_hosts", len(feasible)),
	)

	return &ScheduleResult{
		Host:   best.host,
		Score:  best.score,
		Reason: fmt.Sprintf("Best score using %s strategy", s.config.PlacementStrategy),
	}, nil
}

// AllocateHostForVM schedules vm and places it on the chosen host. It returns
// nil when no host can admit the VM.
func (s *Scheduler) AllocateHostForVM(vm *domain.VirtualMachine) *domain.Host {
	result, err := s.Schedule(vm)
	if err != nil {
		return nil
	}
	if !result.Host.VMCreate(vm) {
		return nil
	}
	return result.Host
}

// checkPredicates applies hard constraints to filter out unsuitable hosts.
func (s *Scheduler) checkPredicates(host *domain.Host, vm *domain.VirtualMachine) bool {
	if !host.IsSuitableForVM(vm) {
		return false
	}

	if s.allocatableMemory(host)-host.UsedRAM() < vm.RAM {
		s.logger.Debug("Insufficient memory",
			zap.Int("host_id", host.ID),
			zap.Int64("allocatable_mib", s.allocatableMemory(host)),
			zap.Int64("used_mib", host.UsedRAM()),
			zap.Int64("requested_mib", vm.RAM),
		)
		return false
	}

	return true
}

// scoreHost calculates a score for the host based on the placement strategy.
func (s *Scheduler) scoreHost(host *domain.Host, vm *domain.VirtualMachine) float64 {
	var score float64
	vmCount := len(host.VMs())

	switch s.config.PlacementStrategy {
	case StrategySpread:
		// Higher score for fewer VMs (max 100)
		score = 100.0 - float64(vmCount)*5.0
		if score < 0 {
			score = 0
		}

	case StrategyPack:
		score = float64(vmCount) * 10.0
		if score > 100 {
			score = 100
		}

	default:
		// Balance: remaining capacity once vm is placed, normalized to 0-100
		cpuScore := 0.0
		if total := host.TotalMIPS(); total > 0 {
			cpuScore = (total - host.UsedMIPS() - vm.CurrentRequestedMIPS()) / total * 50
		}
		memScore := 0.0
		if allocatable := s.allocatableMemory(host); allocatable > 0 {
			memScore = float64(allocatable-host.UsedRAM()-vm.RAM) / float64(allocatable) * 50
		}
		score = cpuScore + memScore
	}

	return score
}

// allocatableMemory returns the memory in MiB available to VMs on host.
func (s *Scheduler) allocatableMemory(host *domain.Host) int64 {
	mem := host.RAM - s.config.ReservedMemoryMiB
	if mem < 0 {
		return 0
	}
	return mem
}
