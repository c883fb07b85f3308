package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// Placer places a new VM on a host.
type Placer interface {
	AllocateHostForVM(vm *domain.VirtualMachine) *domain.Host
}

// Datacenter is a simulated pool of hosts and VMs. Time moves forward one
// interval per Advance; between advances the consolidation engine runs inside
// Consolidate, which holds the datacenter's lock for the whole cycle.
type Datacenter struct {
	name     string
	interval float64
	duration float64
	logger   *zap.Logger

	mu        sync.RWMutex
	hosts     []*domain.Host
	vms       []*domain.VirtualMachine
	workloads map[*domain.VirtualMachine]UtilizationModel
	inFlight  []*domain.VirtualMachine
	stats     accounting

	now atomic.Uint64 // float64 bits
}

type accounting struct {
	energy         float64 // joules
	migrations     int
	slaTime        float64 // host-seconds with demand above capacity
	activeHostTime float64 // host-seconds with at least one VM
	intervals      int
	unplaced       int
	utilization    []float64
	activeHosts    []float64
}

// NewDatacenter builds the hosts and VMs described by sc. VMs are not placed
// until Place is called.
func NewDatacenter(sc *Scenario, logger *zap.Logger) (*Datacenter, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	dc := &Datacenter{
		name:      sc.Name,
		interval:  sc.Interval,
		duration:  sc.Duration,
		logger:    logger.With(zap.String("component", "datacenter"), zap.String("environment", sc.Name)),
		workloads: make(map[*domain.VirtualMachine]UtilizationModel),
	}
	if dc.name == "" {
		dc.name = "default"
	}

	for i, spec := range sc.Hosts {
		ps := sc.Power
		if spec.Power != nil {
			ps = *spec.Power
		}
		pm, err := domain.NewPowerModel(domain.PowerModelKind(ps.Model), ps.MaxPower, ps.StaticFraction)
		if err != nil {
			return nil, fmt.Errorf("hosts[%d]: %w", i, err)
		}
		for n := 0; n < spec.Count; n++ {
			id := len(dc.hosts)
			dc.hosts = append(dc.hosts, domain.NewHost(id, "", spec.PEs, spec.MIPSPerPE, spec.RAM, spec.Bandwidth, pm))
		}
	}

	rng := rand.New(rand.NewSource(sc.Seed))
	for i, spec := range sc.VMs {
		models, err := buildWorkloads(spec, sc, rng, len(dc.vms))
		if err != nil {
			return nil, fmt.Errorf("vms[%d]: %w", i, err)
		}
		interval := spec.MigrationInterval
		if interval <= 0 {
			interval = sc.MigrationInterval
		}
		for n := 0; n < spec.Count; n++ {
			id := len(dc.vms)
			vm := domain.NewVirtualMachine(id, fmt.Sprintf("vm-%d", id), spec.PEs, spec.MIPS, spec.RAM, spec.Bandwidth, interval)
			model := models[n]
			vm.Utilization = model.Utilization(0)
			dc.vms = append(dc.vms, vm)
			dc.workloads[vm] = model
		}
	}

	return dc, nil
}

func buildWorkloads(spec VMSpec, sc *Scenario, rng *rand.Rand, firstID int) ([]UtilizationModel, error) {
	models := make([]UtilizationModel, spec.Count)
	w := spec.Workload

	switch w.Type {
	case "constant":
		for i := range models {
			models[i] = ConstantUtilization(w.Value)
		}
	case "", "random":
		start, stddev := w.Start, w.StdDev
		if start == 0 {
			start = 0.5
		}
		for i := range models {
			jitter := (rng.Float64() - 0.5) * 2 * stddev
			models[i] = NewRandomWalk(sc.Seed+int64(firstID+i), start+jitter, stddev, sc.Interval)
		}
	case "trace":
		files := []string{w.File}
		if w.File == "" {
			var err error
			if files, err = traceFiles(w.Dir); err != nil {
				return nil, err
			}
		}
		traces := make([]*Trace, len(files))
		for i, f := range files {
			tr, err := LoadTrace(f)
			if err != nil {
				return nil, err
			}
			traces[i] = tr
		}
		for i := range models {
			models[i] = traces[(firstID+i)%len(traces)]
		}
	default:
		return nil, fmt.Errorf("%w: unknown workload type %q", domain.ErrInvalidArgument, w.Type)
	}
	return models, nil
}

func traceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces in %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no trace files in %s", domain.ErrNotFound, dir)
	}
	sort.Strings(files)
	return files, nil
}

// Name returns the environment name.
func (dc *Datacenter) Name() string {
	return dc.name
}

// Now returns the current simulated time in seconds.
func (dc *Datacenter) Now() float64 {
	return math.Float64frombits(dc.now.Load())
}

// Interval returns the simulated time between cycles.
func (dc *Datacenter) Interval() float64 {
	return dc.interval
}

// Done reports whether the simulated horizon has been reached. A datacenter
// without a horizon never finishes.
func (dc *Datacenter) Done() bool {
	return dc.duration > 0 && dc.Now() >= dc.duration
}

// Hosts returns the host pool. Hosts must only be mutated from inside
// Consolidate.
func (dc *Datacenter) Hosts() []*domain.Host {
	return dc.hosts
}

// Place runs initial placement of every VM through p. VMs no host can admit
// are dropped from the simulation. It returns the number of VMs placed.
func (dc *Datacenter) Place(p Placer) (int, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	placed := dc.vms[:0]
	for _, vm := range dc.vms {
		if host := p.AllocateHostForVM(vm); host != nil {
			placed = append(placed, vm)
			continue
		}
		dc.stats.unplaced++
		delete(dc.workloads, vm)
		dc.logger.Warn("VM could not be placed", zap.Int("vm_id", vm.ID))
	}
	dc.vms = placed

	if len(placed) == 0 && dc.stats.unplaced > 0 {
		return 0, fmt.Errorf("%w: no VM could be placed", domain.ErrResourceExhausted)
	}
	dc.logger.Info("Initial placement complete",
		zap.Int("placed", len(placed)),
		zap.Int("unplaced", dc.stats.unplaced),
	)
	return len(placed), nil
}

// Advance moves time forward by one interval. The interval that just ended
// is accounted at the utilization that was in effect during it; then
// finished migrations complete and every VM samples its workload at the new
// time.
func (dc *Datacenter) Advance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	dt := dc.interval
	active := 0
	for _, h := range dc.hosts {
		if h.UsedMIPS() > h.TotalMIPS() {
			dc.stats.slaTime += dt
		}
		if len(h.VMs()) == 0 {
			continue
		}
		active++
		dc.stats.energy += h.Power() * dt
		dc.stats.activeHostTime += dt
		dc.stats.utilization = append(dc.stats.utilization, math.Min(h.UtilizationOfCPU(), 1))
	}
	dc.stats.activeHosts = append(dc.stats.activeHosts, float64(active))
	dc.stats.intervals++

	now := dc.Now() + dt
	dc.now.Store(math.Float64bits(now))

	pending := dc.inFlight[:0]
	for _, vm := range dc.inFlight {
		if vm.MigrationDoneAt <= now {
			vm.InMigration = false
			continue
		}
		pending = append(pending, vm)
	}
	dc.inFlight = pending

	for _, vm := range dc.vms {
		vm.RecentlyCreated = false
		if model, ok := dc.workloads[vm]; ok {
			vm.Utilization = model.Utilization(now)
		}
	}

	return nil
}

// Consolidate runs fn over the VM list while holding the datacenter lock and
// starts a live migration for each reassignment fn reports.
func (dc *Datacenter) Consolidate(fn func(vms []*domain.VirtualMachine) []domain.Migration) []domain.Migration {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	vms := make([]*domain.VirtualMachine, len(dc.vms))
	copy(vms, dc.vms)

	migrations := fn(vms)

	now := dc.Now()
	for _, m := range migrations {
		m.VM.InMigration = true
		m.VM.MigrationDoneAt = now + m.VM.MigrationTime()
		m.Host.AddMigratingIn(m.VM)
		dc.inFlight = append(dc.inFlight, m.VM)
		dc.stats.migrations++
	}
	return migrations
}

// HostStatus is a point-in-time view of one host.
type HostStatus struct {
	ID                int     `json:"id"`
	Hostname          string  `json:"hostname"`
	VMs               int     `json:"vms"`
	MigratingIn       int     `json:"migrating_in"`
	CPUUtilization    float64 `json:"cpu_utilization"`
	PeakUtilization   float64 `json:"peak_utilization"`
	MemoryUtilization float64 `json:"memory_utilization"`
	PowerWatts        float64 `json:"power_watts"`
}

// HostStatuses returns the current state of every host.
func (dc *Datacenter) HostStatuses() []HostStatus {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	out := make([]HostStatus, 0, len(dc.hosts))
	for _, h := range dc.hosts {
		out = append(out, HostStatus{
			ID:                h.ID,
			Hostname:          h.Hostname,
			VMs:               len(h.VMs()),
			MigratingIn:       len(h.MigratingIn()),
			CPUUtilization:    h.UtilizationOfCPU(),
			PeakUtilization:   h.MaxUtilization(false),
			MemoryUtilization: h.UtilizationOfMemory(),
			PowerWatts:        h.Power(),
		})
	}
	return out
}

// Stats returns the accumulated accounting.
func (dc *Datacenter) Stats() Stats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	s := Stats{
		Environment:      dc.name,
		SimTime:          dc.Now(),
		Hosts:            len(dc.hosts),
		VMs:              len(dc.vms),
		UnplacedVMs:      dc.stats.unplaced,
		InFlight:         len(dc.inFlight),
		Intervals:        dc.stats.intervals,
		EnergyKWh:        dc.stats.energy / 3600 / 1000,
		Migrations:       dc.stats.migrations,
		SLAViolationTime: dc.stats.slaTime,
		ActiveHostTime:   dc.stats.activeHostTime,
		utilization:      append([]float64(nil), dc.stats.utilization...),
		activeHosts:      append([]float64(nil), dc.stats.activeHosts...),
	}
	for _, h := range dc.hosts {
		s.PowerWatts += h.Power()
		if len(h.VMs()) > 0 {
			s.ActiveHosts++
		}
	}
	return s
}
