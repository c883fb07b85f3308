package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/limiquantix/consolidator/internal/domain"
)

func TestCooldownGate_Eligible(t *testing.T) {
	gate := CooldownGate{Divisor: 3}

	tests := []struct {
		name string
		last float64
		now  float64
		want bool
	}{
		{"never migrated", 0, 10, true},
		{"inside cooldown", 100, 150, false},
		{"at the boundary", 100, 200, false},
		{"after cooldown", 100, 250, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := domain.NewVirtualMachine(1, "", 1, 1000, 512, 100, 300)
			vm.LastMigrationTime = tt.last
			assert.Equal(t, tt.want, gate.Eligible(vm, tt.now))
		})
	}
}

func TestCooldownGate_DefaultDivisor(t *testing.T) {
	vm := domain.NewVirtualMachine(1, "", 1, 1000, 512, 100, 300)
	vm.LastMigrationTime = 100

	assert.False(t, CooldownGate{}.Eligible(vm, 190))
	assert.True(t, CooldownGate{}.Eligible(vm, 201))
}
