package simulation

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the datacenter's host state and running totals.
type Collector struct {
	dc *Datacenter

	hostUtilization *prometheus.Desc
	hostPower       *prometheus.Desc
	hostVMs         *prometheus.Desc
	energy          *prometheus.Desc
	activeHosts     *prometheus.Desc
	slaViolation    *prometheus.Desc
}

// NewCollector creates a collector for dc.
func NewCollector(dc *Datacenter) *Collector {
	hostLabels := []string{"environment", "host_id", "hostname"}
	envLabels := []string{"environment"}
	return &Collector{
		dc:              dc,
		hostUtilization: prometheus.NewDesc("consolidator_host_cpu_utilization_ratio", "Requested MIPS over host capacity", hostLabels, nil),
		hostPower:       prometheus.NewDesc("consolidator_host_power_watts", "Current host power draw", hostLabels, nil),
		hostVMs:         prometheus.NewDesc("consolidator_host_vms", "VMs resident on the host", hostLabels, nil),
		energy:          prometheus.NewDesc("consolidator_energy_kwh_total", "Energy consumed since the start of the run", envLabels, nil),
		activeHosts:     prometheus.NewDesc("consolidator_active_hosts", "Hosts with at least one resident VM", envLabels, nil),
		slaViolation:    prometheus.NewDesc("consolidator_sla_violation_seconds_total", "Host time spent with demand above capacity", envLabels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostUtilization
	ch <- c.hostPower
	ch <- c.hostVMs
	ch <- c.energy
	ch <- c.activeHosts
	ch <- c.slaViolation
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	env := c.dc.Name()
	for _, h := range c.dc.HostStatuses() {
		id := strconv.Itoa(h.ID)
		ch <- prometheus.MustNewConstMetric(c.hostUtilization, prometheus.GaugeValue, h.CPUUtilization, env, id, h.Hostname)
		ch <- prometheus.MustNewConstMetric(c.hostPower, prometheus.GaugeValue, h.PowerWatts, env, id, h.Hostname)
		ch <- prometheus.MustNewConstMetric(c.hostVMs, prometheus.GaugeValue, float64(h.VMs), env, id, h.Hostname)
	}

	stats := c.dc.Stats()
	ch <- prometheus.MustNewConstMetric(c.energy, prometheus.CounterValue, stats.EnergyKWh, env)
	ch <- prometheus.MustNewConstMetric(c.activeHosts, prometheus.GaugeValue, float64(stats.ActiveHosts), env)
	ch <- prometheus.MustNewConstMetric(c.slaViolation, prometheus.CounterValue, stats.SLAViolationTime, env)
}
