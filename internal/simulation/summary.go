package simulation

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// Stats is the raw accounting of a datacenter.
type Stats struct {
	Environment      string  `json:"environment"`
	SimTime          float64 `json:"sim_time"`
	Hosts            int     `json:"hosts"`
	ActiveHosts      int     `json:"active_hosts"`
	VMs              int     `json:"vms"`
	UnplacedVMs      int     `json:"unplaced_vms"`
	InFlight         int     `json:"in_flight"`
	Intervals        int     `json:"intervals"`
	PowerWatts       float64 `json:"power_watts"`
	EnergyKWh        float64 `json:"energy_kwh"`
	Migrations       int     `json:"migrations"`
	SLAViolationTime float64 `json:"sla_violation_time"`
	ActiveHostTime   float64 `json:"active_host_time"`

	utilization []float64
	activeHosts []float64
}

// Summary is the end-of-run report.
type Summary struct {
	Stats

	Policy                string  `json:"policy"`
	SLAViolationPercent   float64 `json:"sla_violation_percent"`
	MeanUtilization       float64 `json:"mean_utilization"`
	StdDevUtilization     float64 `json:"stddev_utilization"`
	MeanActiveHosts       float64 `json:"mean_active_hosts"`
	MigrationsPerHostHour float64 `json:"migrations_per_host_hour"`
}

// Summarize derives the report for a run made with the given policy label.
func Summarize(s Stats, policy string) Summary {
	sum := Summary{Stats: s, Policy: policy}
	if s.ActiveHostTime > 0 {
		sum.SLAViolationPercent = s.SLAViolationTime / s.ActiveHostTime * 100
		sum.MigrationsPerHostHour = float64(s.Migrations) / (s.ActiveHostTime / 3600)
	}
	if len(s.utilization) > 0 {
		sum.MeanUtilization, sum.StdDevUtilization = stat.MeanStdDev(s.utilization, nil)
		if len(s.utilization) == 1 {
			sum.StdDevUtilization = 0
		}
	}
	if len(s.activeHosts) > 0 {
		sum.MeanActiveHosts = stat.Mean(s.activeHosts, nil)
	}
	return sum
}

// Print writes a human-readable report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Experiment:             %s (%s)\n", s.Environment, s.Policy)
	fmt.Fprintf(w, "Simulated time:         %.0f s (%d intervals)\n", s.SimTime, s.Intervals)
	fmt.Fprintf(w, "Hosts / VMs:            %d / %d (%d unplaced)\n", s.Hosts, s.VMs, s.UnplacedVMs)
	fmt.Fprintf(w, "Energy consumption:     %.2f kWh\n", s.EnergyKWh)
	fmt.Fprintf(w, "Number of migrations:   %d\n", s.Migrations)
	fmt.Fprintf(w, "SLA violation:          %.2f%%\n", s.SLAViolationPercent)
	fmt.Fprintf(w, "Mean host utilization:  %.2f%% (stddev %.2f%%)\n", s.MeanUtilization*100, s.StdDevUtilization*100)
	fmt.Fprintf(w, "Mean active hosts:      %.2f\n", s.MeanActiveHosts)
}
