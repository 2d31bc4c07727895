package core

import "fmt"

// Gas cost constants from §4.7's gas meter, carried as named constants per
// the original's gas_meter.py cost table rather than inlined magic numbers.
const (
	GasCostFieldAccess    = 1
	GasCostComparison     = 2
	GasCostSetMembership  = 5
	GasCostPerIteration   = 10
	GasCostFunctionCall   = 20
	DefaultGasLimit       = 100_000
)

// ErrGasExceeded is returned by GasMeter.Consume once the cap is reached.
var ErrGasExceeded = fmt.Errorf("policy: gas limit exceeded")

// GasMeter enforces a hard cap on the cumulative cost of one policy
// evaluation. Exceeding the cap never panics: Consume returns ErrGasExceeded
// and callers translate that into {allowed=false, reasons=[gas_exceeded]}.
type GasMeter struct {
	limit int
	used  int
}

// NewGasMeter returns a meter with the given limit; non-positive values
// fall back to DefaultGasLimit.
func NewGasMeter(limit int) *GasMeter {
	if limit <= 0 {
		limit = DefaultGasLimit
	}
	return &GasMeter{limit: limit}
}

// Consume charges cost units, returning ErrGasExceeded if doing so would
// exceed the cap. On error, Used() reflects the pre-charge total: the
// attempted charge never partially applies.
func (g *GasMeter) Consume(cost int) error {
	if g.used+cost > g.limit {
		return ErrGasExceeded
	}
	g.used += cost
	return nil
}

// Used returns cumulative gas consumed so far.
func (g *GasMeter) Used() int { return g.used }

// Remaining returns the gas budget left before the cap.
func (g *GasMeter) Remaining() int { return g.limit - g.used }
