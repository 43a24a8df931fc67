package notifications

import (
	"fmt"
	"math"
)

// Operator compares a metric value with an alert threshold.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
)

// eqTolerance absorbs float noise from merged ratios.
const eqTolerance = 1e-9

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Holds reports whether value satisfies op against threshold.
func (op Operator) Holds(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return math.Abs(value-threshold) <= eqTolerance
	default:
		return false
	}
}

// Fires reports whether an alert should fire for the current value. The
// condition must hold now and must not have held for the previously
// observed value, so an alert fires once per crossing.
func (a Alert) Fires(current float64) bool {
	if !a.Operator.Holds(current, a.Value) {
		return false
	}
	return a.LastValue == nil || !a.Operator.Holds(*a.LastValue, a.Value)
}
