package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/drs"
	"github.com/limiquantix/consolidator/internal/scheduler"
	"github.com/limiquantix/consolidator/internal/simulation"
)

type simulateOptions struct {
	scenario  string
	policy    string
	upper     float64
	lower     float64
	groups    int
	placement string
	compare   bool
	json      bool
}

func newSimulateCmd(a *app) *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario to its horizon and report energy, SLA and migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("scenario") {
				a.cfg.Simulation.ScenarioFile = opts.scenario
			}
			if flags.Changed("policy") {
				a.cfg.Consolidation.Policy = opts.policy
			}
			if flags.Changed("upper") {
				a.cfg.Consolidation.UpperThreshold = opts.upper
			}
			if flags.Changed("lower") {
				a.cfg.Consolidation.LowerThreshold = opts.lower
			}
			if flags.Changed("groups") {
				a.cfg.Consolidation.GroupNum = opts.groups
			}
			if flags.Changed("placement") {
				a.cfg.Scheduler.PlacementStrategy = opts.placement
				if err := a.cfg.Scheduler.Validate(); err != nil {
					return err
				}
			}

			policies := []string{a.cfg.Consolidation.Policy}
			if opts.compare {
				policies = []string{consolidation.PolicyDoubleThreshold, consolidation.PolicySingleThreshold}
			}

			var summaries []simulation.Summary
			for _, name := range policies {
				ccfg := a.cfg.Consolidation
				ccfg.Policy = name
				summary, err := runSimulation(cmd.Context(), a.cfg.Simulation, ccfg, a.cfg.Scheduler, a.logger)
				if err != nil {
					return err
				}
				summaries = append(summaries, summary)
			}
			return writeSummaries(cmd.OutOrStdout(), summaries, opts.json)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.scenario, "scenario", "", "Scenario YAML file (default: pool sized by the simulation config)")
	flags.StringVar(&opts.policy, "policy", "", "Allocation policy: double-threshold or single-threshold")
	flags.Float64Var(&opts.upper, "upper", 0, "Upper utilization threshold")
	flags.Float64Var(&opts.lower, "lower", 0, "Lower utilization threshold")
	flags.IntVar(&opts.groups, "groups", 0, "Number of host groups migrations are confined to")
	flags.StringVar(&opts.placement, "placement", "", "Initial placement: policy, spread, pack or balance")
	flags.BoolVar(&opts.compare, "compare", false, "Run every policy against the same scenario")
	flags.BoolVar(&opts.json, "json", false, "Print the report as JSON")

	return cmd
}

// runSimulation places the scenario's VMs and consolidates every interval
// until the horizon.
func runSimulation(ctx context.Context, simCfg config.SimulationConfig, ccfg config.ConsolidationConfig, scfg config.SchedulerConfig, logger *zap.Logger) (simulation.Summary, error) {
	sc, err := simulation.ScenarioFromConfig(simCfg)
	if err != nil {
		return simulation.Summary{}, err
	}

	dc, policy, err := newEnvironment(sc, ccfg, scfg, logger)
	if err != nil {
		return simulation.Summary{}, err
	}

	logger.Info("Running simulation",
		zap.String("scenario", sc.Name),
		zap.String("policy", policy.Description()),
		zap.Int("hosts", sc.HostCount()),
		zap.Int("vms", sc.VMCount()),
		zap.Float64("duration", sc.Duration),
	)

	engine := drs.NewEngine(config.DRSConfig{Enabled: true}, dc, policy, logger)
	if err := engine.Run(ctx); err != nil {
		return simulation.Summary{}, fmt.Errorf("simulation aborted: %w", err)
	}

	return simulation.Summarize(dc.Stats(), policy.Description()), nil
}

// newEnvironment builds the datacenter for sc and places its VMs, either with
// the policy named in ccfg or with the scheduler strategy in scfg.
func newEnvironment(sc *simulation.Scenario, ccfg config.ConsolidationConfig, scfg config.SchedulerConfig, logger *zap.Logger) (*simulation.Datacenter, consolidation.Policy, error) {
	dc, err := simulation.NewDatacenter(sc, logger)
	if err != nil {
		return nil, nil, err
	}

	policy, err := consolidation.NewPolicy(ccfg, dc.Hosts(), dc, consolidation.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	var placer simulation.Placer = policy
	if scfg.PlacementStrategy != "" && scfg.PlacementStrategy != "policy" {
		placer = scheduler.New(dc.Hosts(), scheduler.ConfigFrom(scfg), logger)
	}

	placed, err := dc.Place(placer)
	if err != nil {
		return nil, nil, err
	}
	if placed < sc.VMCount() {
		logger.Warn("Some VMs could not be placed",
			zap.Int("placed", placed),
			zap.Int("requested", sc.VMCount()),
		)
	}
	return dc, policy, nil
}

func writeSummaries(w io.Writer, summaries []simulation.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(summaries) == 1 {
			return enc.Encode(summaries[0])
		}
		return enc.Encode(summaries)
	}
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		s.Print(w)
	}
	return nil
}
