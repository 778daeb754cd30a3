// Package optimizer provides the parameter search drivers for the
// registration: a regular-step gradient descent and a bound-constrained
// L-BFGS. Both operate on a generic objective so they know nothing about
// images, metrics or transforms.
package optimizer

import "errors"

// ErrObjectiveFailed wraps an objective evaluation error; the search ends
// with StopFailed when it occurs.
var ErrObjectiveFailed = errors.New("objective evaluation failed")

// Objective is a differentiable cost function over a parameter vector.
// Evaluate must not retain or mutate params.
type Objective interface {
	Evaluate(params []float64) (value float64, gradient []float64, err error)
}

// Iteration is one step report delivered to a sink.
type Iteration struct {
	Number int
	Value  float64
	Step   float64
	Params []float64
}

// IterationSink receives per-iteration progress. The params slice is
// reused between calls; sinks that keep it must copy.
type IterationSink func(Iteration)

// StopCondition tells why a search ended.
type StopCondition int

const (
	// StopConverged means the gradient magnitude or the cost change fell
	// below tolerance.
	StopConverged StopCondition = iota
	// StopStepTooSmall means step relaxation shrank the step below the
	// minimum without further improvement.
	StopStepTooSmall
	// StopMaxIterations means the iteration budget ran out.
	StopMaxIterations
	// StopBoundaryHit means the result sits clamped on a parameter bound.
	StopBoundaryHit
	// StopFailed means the objective could not be evaluated.
	StopFailed
)

// String implements fmt.Stringer.
func (s StopCondition) String() string {
	switch s {
	case StopConverged:
		return "converged"
	case StopStepTooSmall:
		return "step size below minimum"
	case StopMaxIterations:
		return "maximum iterations reached"
	case StopBoundaryHit:
		return "parameter bound reached"
	case StopFailed:
		return "objective evaluation failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a search. Params holds the best parameters
// seen, Value the objective there.
type Outcome struct {
	Params     []float64
	Value      float64
	Iterations int
	Stop       StopCondition
}
