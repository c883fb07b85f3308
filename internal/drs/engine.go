// Package drs drives the consolidation engine: it advances an environment one
// interval at a time, runs a decision cycle after each step, and reports the
// resulting migrations to storage, subscribers and metrics.
package drs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
)

// Environment is a pool of hosts and VMs the engine consolidates.
type Environment interface {
	Name() string
	Now() float64
	Done() bool
	// Advance moves the environment forward by one interval.
	Advance(ctx context.Context) error
	// Consolidate runs fn over the environment's VMs with exclusive access
	// and applies the migrations it returns.
	Consolidate(fn func(vms []*domain.VirtualMachine) []domain.Migration) []domain.Migration
}

// RecordRepository stores migration records for reporting.
type RecordRepository interface {
	Create(ctx context.Context, rec *domain.MigrationRecord) error
	DeleteOld(ctx context.Context, olderThan time.Time) (int64, error)
}

// Publisher fans out cycle results to other processes.
type Publisher interface {
	PublishMigrations(ctx context.Context, env string, recs []*domain.MigrationRecord) error
	SetCycleSummary(ctx context.Context, summary *domain.CycleSummary) error
}

// Broadcaster pushes records to live subscribers in this process.
type Broadcaster interface {
	Broadcast(recs []*domain.MigrationRecord)
}

// Locker takes a cluster-wide lock, giving up after timeout. The returned
// function releases it.
type Locker interface {
	TryLock(ctx context.Context, key string, timeout time.Duration) (func(context.Context) error, error)
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecordRepository persists every migration record.
func WithRecordRepository(repo RecordRepository) Option {
	return func(e *Engine) { e.records = repo }
}

// WithPublisher publishes records and cycle summaries.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithBroadcaster streams records to local subscribers.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithLocker serialises cycles across replicas.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLeaderChecker restricts cycles to the elected leader.
func WithLeaderChecker(lc LeaderChecker) Option {
	return func(e *Engine) { e.leaderChecker = lc }
}

// WithMetrics records cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

const defaultLockTimeout = 10 * time.Second

// Engine runs consolidation cycles against one environment.
type Engine struct {
	config        config.DRSConfig
	env           Environment
	policy        consolidation.Policy
	records       RecordRepository
	publisher     Publisher
	broadcaster   Broadcaster
	locker        Locker
	leaderChecker LeaderChecker
	metrics       *Metrics
	logger        *zap.Logger

	mu          sync.RWMutex
	isRunning   bool
	cycle       int64
	lastSummary *domain.CycleSummary
	lastCleanup time.Time
}

// NewEngine creates a new engine for env.
func NewEngine(cfg config.DRSConfig, env Environment, policy consolidation.Policy, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		config: cfg,
		env:    env,
		policy: policy,
		logger: logger.With(zap.String("component", "drs"), zap.String("environment", env.Name())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start advances the environment and runs a cycle on every tick until ctx
// is cancelled or the environment reaches its horizon.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		e.logger.Info("Consolidation engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isRunning = false
		e.mu.Unlock()
	}()

	e.logger.Info("Starting consolidation engine",
		zap.Duration("interval", e.config.Interval),
		zap.String("policy", e.policy.Description()),
		zap.Bool("lock", e.locker != nil),
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Consolidation engine stopped")
			return
		case <-ticker.C:
			if e.env.Done() {
				e.logger.Info("Environment reached its horizon", zap.Float64("sim_time", e.env.Now()))
				return
			}
			if _, err := e.Step(ctx); err != nil {
				e.logger.Error("Consolidation step failed", zap.Error(err))
			}
		}
	}
}

// Run steps the environment until it reaches its horizon or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for !e.env.Done() {
		if _, err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the environment by one interval and runs a cycle.
func (e *Engine) Step(ctx context.Context) (*domain.CycleSummary, error) {
	if err := e.env.Advance(ctx); err != nil {
		return nil, fmt.Errorf("failed to advance environment: %w", err)
	}
	return e.RunCycle(ctx)
}

// RunCycle runs one consolidation cycle at the environment's current time.
// It returns nil without error when this instance is not the leader.
func (e *Engine) RunCycle(ctx context.Context) (*domain.CycleSummary, error) {
	// Only run on leader
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		e.logger.Debug("Not leader, skipping consolidation cycle")
		return nil, nil
	}

	if e.locker != nil {
		unlock, err := e.locker.TryLock(ctx, e.lockKey(), e.lockTimeout())
		if err != nil {
			return nil, fmt.Errorf("failed to acquire cycle lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("Failed to release cycle lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	var vmCount int
	migrations := e.env.Consolidate(func(vms []*domain.VirtualMachine) []domain.Migration {
		vmCount = len(vms)
		return e.policy.OptimizeAllocation(vms)
	})
	elapsed := time.Since(start)

	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	simTime := e.env.Now()
	policy := e.policy.Description()
	records := make([]*domain.MigrationRecord, 0, len(migrations))
	for _, m := range migrations {
		rec := domain.NewMigrationRecord(e.env.Name(), cycle, simTime, policy, m)
		records = append(records, rec)

		e.logger.Info("VM migrated",
			zap.Int64("cycle", cycle),
			zap.Int("vm_id", rec.VMID),
			zap.String("source_host", rec.SourceHostName),
			zap.String("target_host", rec.TargetHostName),
			zap.String("kind", string(rec.Kind)),
			zap.Int("level", rec.Level),
		)
	}

	summary := &domain.CycleSummary{
		Environment: e.env.Name(),
		Cycle:       cycle,
		SimTime:     simTime,
		Policy:      policy,
		VMs:         vmCount,
		Migrations:  len(records),
		Duration:    elapsed,
		CompletedAt: time.Now(),
	}

	if e.metrics != nil {
		e.metrics.ObserveCycle(summary, records)
	}
	e.report(ctx, summary, records)

	e.mu.Lock()
	e.lastSummary = summary
	e.mu.Unlock()

	e.logger.Debug("Consolidation cycle complete",
		zap.Int64("cycle", cycle),
		zap.Float64("sim_time", simTime),
		zap.Int("vms", vmCount),
		zap.Int("migrations", len(records)),
		zap.Duration("duration", elapsed),
	)
	return summary, nil
}

// report hands the cycle's results to the optional sinks. Sink failures are
// logged; they never fail the cycle.
func (e *Engine) report(ctx context.Context, summary *domain.CycleSummary, records []*domain.MigrationRecord) {
	if e.records != nil {
		for _, rec := range records {
			if err := e.records.Create(ctx, rec); err != nil {
				e.logger.Error("Failed to store migration record", zap.String("id", rec.ID), zap.Error(err))
				e.metrics.sinkError("store")
			}
		}
		e.cleanup(ctx)
	}

	if e.publisher != nil {
		if len(records) > 0 {
			if err := e.publisher.PublishMigrations(ctx, summary.Environment, records); err != nil {
				e.logger.Warn("Failed to publish migrations", zap.Error(err))
				e.metrics.sinkError("publish")
			}
		}
		if err := e.publisher.SetCycleSummary(ctx, summary); err != nil {
			e.logger.Warn("Failed to cache cycle summary", zap.Error(err))
			e.metrics.sinkError("publish")
		}
	}

	if e.broadcaster != nil && len(records) > 0 {
		e.broadcaster.Broadcast(records)
	}
}

// cleanup drops expired records at most once an hour.
func (e *Engine) cleanup(ctx context.Context) {
	if e.config.Retention <= 0 {
		return
	}

	e.mu.Lock()
	due := time.Since(e.lastCleanup) >= time.Hour
	if due {
		e.lastCleanup = time.Now()
	}
	e.mu.Unlock()
	if !due {
		return
	}

	n, err := e.records.DeleteOld(ctx, time.Now().Add(-e.config.Retention))
	if err != nil {
		e.logger.Warn("Failed to cleanup old migration records", zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Info("Removed expired migration records", zap.Int64("count", n))
	}
}

// lockTimeout bounds the wait for the cycle lock to one tick, so a lock held
// by a stuck replica delays cycles instead of stalling the loop.
func (e *Engine) lockTimeout() time.Duration {
	if e.config.Interval > 0 {
		return e.config.Interval
	}
	return defaultLockTimeout
}

func (e *Engine) lockKey() string {
	return "/consolidator/locks/" + e.env.Name()
}

// LastSummary returns the most recent cycle summary, or nil before the first
// cycle.
func (e *Engine) LastSummary() *domain.CycleSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSummary
}

// IsRunning reports whether Start is looping.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// Policy returns the policy the engine runs.
func (e *Engine) Policy() consolidation.Policy {
	return e.policy
}
