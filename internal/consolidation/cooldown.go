package consolidation

import "github.com/limiquantix/consolidator/internal/domain"

// defaultCooldownDivisor shortens each VM's recommended migration interval
// into the cooldown actually enforced.
const defaultCooldownDivisor = 3

// CooldownGate rate-limits repeated migrations of the same VM.
type CooldownGate struct {
	Divisor float64
}

// Eligible reports whether vm may migrate at simulated time now. A VM that has
// never migrated is always eligible.
func (g CooldownGate) Eligible(vm *domain.VirtualMachine, now float64) bool {
	if vm.LastMigrationTime == 0 {
		return true
	}
	div := g.Divisor
	if div <= 0 {
		div = defaultCooldownDivisor
	}
	return vm.RecommendedMigrationInterval/div+vm.LastMigrationTime < now
}
