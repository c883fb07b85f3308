// Package consolidation decides which VMs to move between hosts so that
// overloaded hosts are relieved and underloaded hosts can be drained, while
// keeping the power cost of every placement as low as possible.
package consolidation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

// Clock returns the current simulated time in seconds.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() float64

// Now implements Clock.
func (f ClockFunc) Now() float64 { return f() }

// PowerEstimator predicts a host's draw if vm were placed on it.
type PowerEstimator interface {
	PowerAfterAllocation(host *domain.Host, vm *domain.VirtualMachine) domain.PowerEstimate
}

// HostPowerEstimator evaluates the host's own power model.
type HostPowerEstimator struct{}

// PowerAfterAllocation implements PowerEstimator.
func (HostPowerEstimator) PowerAfterAllocation(host *domain.Host, vm *domain.VirtualMachine) domain.PowerEstimate {
	return host.PowerAfterAllocation(vm)
}

// Policy is a VM allocation policy that can place new VMs and periodically
// rebalance running ones.
type Policy interface {
	// AllocateHostForVM places a new VM. It returns nil if no host can admit it.
	AllocateHostForVM(vm *domain.VirtualMachine) *domain.Host
	// OptimizeAllocation runs one decision cycle over vms and returns the
	// reassignments it performed. It never fails; an empty result means no action.
	OptimizeAllocation(vms []*domain.VirtualMachine) []domain.Migration
	// Description returns a short label for reports.
	Description() string
	// Hosts returns the host pool the policy manages.
	Hosts() []*domain.Host
}

// Option configures a policy.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	estimator PowerEstimator
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPowerEstimator replaces the default HostPowerEstimator.
func WithPowerEstimator(est PowerEstimator) Option {
	return func(o *options) {
		o.estimator = est
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		estimator: HostPowerEstimator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Policy names accepted by NewPolicy.
const (
	PolicyDoubleThreshold = "double-threshold"
	PolicySingleThreshold = "single-threshold"
)

// NewPolicy builds the policy named in cfg over hosts.
func NewPolicy(cfg config.ConsolidationConfig, hosts []*domain.Host, clock Clock, opts ...Option) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Policy) {
	case PolicyDoubleThreshold, "double", "mm", "":
		return NewDoubleThreshold(hosts, cfg.UpperThreshold, cfg.LowerThreshold, cfg.GroupNum, clock, opts...), nil
	case PolicySingleThreshold, "single", "thr":
		return NewSingleThreshold(hosts, cfg.UpperThreshold, clock, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown consolidation policy %q", domain.ErrInvalidArgument, cfg.Policy)
	}
}
