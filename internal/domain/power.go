package domain

import (
	"fmt"
	"math"
	"strings"
)

// PowerModel maps a host's CPU utilization (0..1) to its power draw in watts.
type PowerModel interface {
	Power(utilization float64) (float64, error)
}

// PowerModelKind names a built-in power model.
type PowerModelKind string

const (
	PowerModelKindLinear PowerModelKind = "linear"
	PowerModelKindSqrt   PowerModelKind = "sqrt"
	PowerModelKindSquare PowerModelKind = "square"
	PowerModelKindCubic  PowerModelKind = "cubic"
)

// NewPowerModel builds a power model of the given kind. staticFraction is the
// share of maxPower drawn by an idle, powered-on host.
func NewPowerModel(kind PowerModelKind, maxPower, staticFraction float64) (PowerModel, error) {
	if maxPower <= 0 {
		return nil, fmt.Errorf("%w: max power must be positive, got %v", ErrInvalidArgument, maxPower)
	}
	if staticFraction < 0 || staticFraction > 1 {
		return nil, fmt.Errorf("%w: static power fraction must be within [0,1], got %v", ErrInvalidArgument, staticFraction)
	}

	base := curvedPowerModel{maxPower: maxPower, staticPower: staticFraction * maxPower}
	switch PowerModelKind(strings.ToLower(string(kind))) {
	case PowerModelKindLinear, "":
		base.curve = func(u float64) float64 { return u }
	case PowerModelKindSqrt:
		base.curve = math.Sqrt
	case PowerModelKindSquare:
		base.curve = func(u float64) float64 { return u * u }
	case PowerModelKindCubic:
		base.curve = func(u float64) float64 { return u * u * u }
	default:
		return nil, fmt.Errorf("%w: unknown power model %q", ErrInvalidArgument, kind)
	}
	return base, nil
}

// curvedPowerModel draws static + (max-static)·curve(u). The sqrt, square and
// cubic curves match the CloudSim models once their percent scaling cancels out.
type curvedPowerModel struct {
	maxPower    float64
	staticPower float64
	curve       func(float64) float64
}

// Power implements PowerModel.
func (m curvedPowerModel) Power(utilization float64) (float64, error) {
	if utilization < 0 || utilization > 1 {
		return 0, fmt.Errorf("%w: utilization %v outside [0,1]", ErrInvalidArgument, utilization)
	}
	return m.staticPower + (m.maxPower-m.staticPower)*m.curve(utilization), nil
}

// PowerEstimate is the result of a hypothetical power lookup. OK is false when the
// estimate is unavailable; callers treat that as a rejected candidate.
type PowerEstimate struct {
	Watts float64
	OK    bool
}

// PowerOf wraps an available estimate.
func PowerOf(watts float64) PowerEstimate {
	return PowerEstimate{Watts: watts, OK: true}
}

// PowerUnavailable returns the "no estimate" result.
func PowerUnavailable() PowerEstimate {
	return PowerEstimate{}
}
