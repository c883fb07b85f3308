package simulation

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/limiquantix/consolidator/internal/domain"
)

// TraceSamplingPeriod is the spacing of samples in PlanetLab trace files.
const TraceSamplingPeriod = 300.0

// UtilizationModel yields a VM's demand, as a fraction of its requested MIPS,
// at simulated time t.
type UtilizationModel interface {
	Utilization(t float64) float64
}

// ConstantUtilization always returns the same value.
type ConstantUtilization float64

// Utilization implements UtilizationModel.
func (c ConstantUtilization) Utilization(float64) float64 {
	return clamp01(float64(c))
}

// RandomWalk is a seeded, bounded random walk sampled once per step. Queries
// must be made with non-decreasing t.
type RandomWalk struct {
	rng     *rand.Rand
	step    float64
	stddev  float64
	current float64
	at      float64
}

// NewRandomWalk starts a walk at start that moves by a normal increment of
// the given stddev every step seconds.
func NewRandomWalk(seed int64, start, stddev, step float64) *RandomWalk {
	if step <= 0 {
		step = TraceSamplingPeriod
	}
	return &RandomWalk{
		rng:     rand.New(rand.NewSource(seed)),
		step:    step,
		stddev:  stddev,
		current: clamp01(start),
	}
}

// Utilization implements UtilizationModel.
func (w *RandomWalk) Utilization(t float64) float64 {
	for w.at+w.step <= t {
		w.current = clamp01(w.current + w.rng.NormFloat64()*w.stddev)
		w.at += w.step
	}
	return w.current
}

// Trace replays a utilization trace, interpolating linearly between samples.
// Past the last sample the trace wraps around.
type Trace struct {
	samples []float64
	period  float64
}

// NewTrace creates a trace from fractions sampled every period seconds.
func NewTrace(samples []float64, period float64) (*Trace, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: trace has no samples", domain.ErrInvalidArgument)
	}
	if period <= 0 {
		period = TraceSamplingPeriod
	}
	return &Trace{samples: samples, period: period}, nil
}

// LoadTrace reads a PlanetLab-style trace: one integer CPU percentage per
// line. Blank lines are ignored.
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace %s: %w", path, err)
	}
	defer f.Close()

	var samples []float64
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		pct, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", domain.ErrInvalidArgument, path, line, err)
		}
		samples = append(samples, clamp01(pct/100))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", path, err)
	}
	return NewTrace(samples, TraceSamplingPeriod)
}

// Utilization implements UtilizationModel.
func (tr *Trace) Utilization(t float64) float64 {
	if t < 0 {
		t = 0
	}
	pos := t / tr.period
	i := int(math.Floor(pos))
	frac := pos - float64(i)
	n := len(tr.samples)
	cur := tr.samples[i%n]
	next := tr.samples[(i+1)%n]
	return cur + (next-cur)*frac
}

// Len returns the number of samples.
func (tr *Trace) Len() int {
	return len(tr.samples)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
