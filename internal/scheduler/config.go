// Package scheduler implements initial VM placement for the simulated pool.
// It determines which host should receive a new VM based on resource
// availability and a scoring strategy.
package scheduler

import "github.com/limiquantix/consolidator/internal/config"

// Placement strategies.
const (
	// StrategySpread distributes VMs evenly across hosts.
	StrategySpread = "spread"
	// StrategyPack fills hosts that already run VMs first.
	StrategyPack = "pack"
	// StrategyBalance prefers the host with the most capacity left after placement.
	StrategyBalance = "balance"
)

// Config holds the scheduler configuration.
type Config struct {
	PlacementStrategy string

	// ReservedMemoryMiB is the amount of memory in MiB reserved for the hypervisor.
	ReservedMemoryMiB int64
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PlacementStrategy: StrategySpread,
	}
}

// ConfigFrom maps the application configuration onto a scheduler Config.
func ConfigFrom(c config.SchedulerConfig) Config {
	cfg := DefaultConfig()
	if c.PlacementStrategy != "" {
		cfg.PlacementStrategy = c.PlacementStrategy
	}
	cfg.ReservedMemoryMiB = c.ReservedMemoryMiB
	return cfg
}
