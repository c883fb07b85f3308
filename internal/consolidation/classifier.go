package consolidation

import "github.com/limiquantix/consolidator/internal/domain"

const (
	// warmupPeriod is the simulated time during which the lower threshold is
	// relaxed so a workload that has not settled yet is not consolidated.
	warmupPeriod     = 900.0
	warmupRelaxation = 0.2
	minLowerBound    = 0.1

	severeOverloadMargin = 0.1
	underloadMargin      = 0.2
)

// LoadState is a host's classification for one cycle.
type LoadState struct {
	// Stable hosts need no action; Level and MigrateOut are then unset.
	Stable bool
	// Level is the escalation level, 1 (mild) to 3 (severe overload).
	Level int
	// MigrateOut is true when load must be shed and false when the host should
	// be drained for consolidation.
	MigrateOut bool
	// CPUPeak is the host's peak PE utilization at classification time.
	CPUPeak float64
}

// Classifier applies the double-threshold rules.
type Classifier struct {
	Upper float64
	Lower float64
}

// LowerThreshold returns the lower threshold in effect at simulated time now.
func (c Classifier) LowerThreshold(now float64) float64 {
	lower := c.Lower
	if now < warmupPeriod {
		lower -= warmupRelaxation
	}
	if lower < minLowerBound {
		lower = minLowerBound
	}
	return lower
}

// Classify inspects host at simulated time now. Overload checks use the peak
// with memory folded in; underload checks use the CPU peak alone.
func (c Classifier) Classify(host *domain.Host, now float64) LoadState {
	withMemory := host.MaxUtilization(true)
	cpuPeak := host.MaxUtilization(false)
	lower := c.LowerThreshold(now)

	if withMemory < c.Upper && host.UtilizationOfMemory() < c.Upper && cpuPeak > lower {
		return LoadState{Stable: true, CPUPeak: cpuPeak}
	}

	state := LoadState{Level: 1, MigrateOut: true, CPUPeak: cpuPeak}
	switch {
	case withMemory > c.Upper+severeOverloadMargin:
		state.Level = 3
	case withMemory > c.Upper:
		state.Level = 2
	case cpuPeak < lower-underloadMargin:
		// Severe underload (below lower-0.3) is caught here as well, so it has
		// no level of its own.
		state.Level = 2
		state.MigrateOut = false
	}
	return state
}
