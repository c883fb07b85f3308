package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPowerModels(t *testing.T) {
	tests := []struct {
		kind PowerModelKind
		u    float64
		want float64
	}{
		{PowerModelKindLinear, 0, 70},
		{PowerModelKindLinear, 0.5, 85},
		{PowerModelKindLinear, 1, 100},
		{PowerModelKindSqrt, 0.25, 85},
		{PowerModelKindSquare, 0.5, 77.5},
		{PowerModelKindCubic, 0.5, 73.75},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			pm, err := NewPowerModel(tt.kind, 100, 0.7)
			require.NoError(t, err)

			got, err := pm.Power(tt.u)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPowerModel_OutOfRange(t *testing.T) {
	pm, err := NewPowerModel(PowerModelKindLinear, 100, 0.7)
	require.NoError(t, err)

	for _, u := range []float64{-0.1, 1.01} {
		_, err := pm.Power(u)
		assert.True(t, errors.Is(err, ErrInvalidArgument), "u=%v", u)
	}
}

func TestNewPowerModel_Invalid(t *testing.T) {
	_, err := NewPowerModel("quartic", 100, 0.7)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewPowerModel(PowerModelKindLinear, 0, 0.7)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewPowerModel(PowerModelKindLinear, 100, 1.5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
