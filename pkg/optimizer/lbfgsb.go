package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// LBFGSB is a bound-constrained quasi-Newton search built on gonum's
// L-BFGS. Bounds are enforced by projecting every evaluation point into
// the feasible box and clamping the final result; a result sitting on a
// bound is reported as StopBoundaryHit. Parameter scales are not used:
// the quasi-Newton update builds its own curvature model.
type LBFGSB struct {
	// LowerBounds and UpperBounds delimit the feasible box per parameter;
	// +-Inf leaves a side open. Nil means fully unconstrained.
	LowerBounds []float64
	UpperBounds []float64
	// MaxIterations caps major iterations, MaxEvaluations total cost
	// evaluations.
	MaxIterations  int
	MaxEvaluations int
	// CostConvergenceFactor stops the search when the cost improvement
	// drops below factor * machine epsilon.
	CostConvergenceFactor float64
	// GradientTolerance stops the search on the projected gradient
	// infinity norm.
	GradientTolerance float64
	// Sink, if set, receives every major iteration.
	Sink IterationSink
}

// NewLBFGSB returns a bounded search with the pipeline defaults: seven
// parameters, rotations limited to 5 degrees, translations to 10 mm, the
// in-plane scale left free.
func NewLBFGSB() *LBFGSB {
	angle := 5 * math.Pi / 180
	const shift = 10.0
	return &LBFGSB{
		LowerBounds:           []float64{-angle, -angle, -angle, -shift, -shift, -shift, math.Inf(-1)},
		UpperBounds:           []float64{angle, angle, angle, shift, shift, shift, math.Inf(1)},
		MaxIterations:         200,
		MaxEvaluations:        200,
		CostConvergenceFactor: 1e7,
		GradientTolerance:     1e-35,
	}
}

const machineEpsilon = 2.220446049250313e-16

// project clamps x into the feasible box in place.
func (o *LBFGSB) project(x []float64) {
	for i := range x {
		if o.LowerBounds != nil && x[i] < o.LowerBounds[i] {
			x[i] = o.LowerBounds[i]
		}
		if o.UpperBounds != nil && x[i] > o.UpperBounds[i] {
			x[i] = o.UpperBounds[i]
		}
	}
}

// onBound reports whether any coordinate of x sits on a finite bound.
func (o *LBFGSB) onBound(x []float64) bool {
	const tol = 1e-10
	for i := range x {
		if o.LowerBounds != nil && !math.IsInf(o.LowerBounds[i], -1) &&
			math.Abs(x[i]-o.LowerBounds[i]) <= tol {
			return true
		}
		if o.UpperBounds != nil && !math.IsInf(o.UpperBounds[i], 1) &&
			math.Abs(x[i]-o.UpperBounds[i]) <= tol {
			return true
		}
	}
	return false
}

// boxedObjective adapts an Objective to gonum's split Func/Grad calls,
// projecting into the bounds and memoizing the last evaluation so the
// Func+Grad pair at one point costs a single metric pass.
type boxedObjective struct {
	o   *LBFGSB
	obj Objective

	lastX    []float64
	lastF    float64
	lastGrad []float64
	err      error
}

func (b *boxedObjective) eval(x []float64) {
	if b.lastX != nil && equalParams(b.lastX, x) {
		return
	}
	p := make([]float64, len(x))
	copy(p, x)
	b.o.project(p)

	f, g, err := b.obj.Evaluate(p)
	if err != nil {
		b.err = err
		b.lastX = append(b.lastX[:0], x...)
		b.lastF = math.Inf(1)
		b.lastGrad = make([]float64, len(x))
		return
	}
	b.lastX = append(b.lastX[:0], x...)
	b.lastF = f
	b.lastGrad = g
}

func (b *boxedObjective) fun(x []float64) float64 {
	b.eval(x)
	return b.lastF
}

func (b *boxedObjective) grad(dst, x []float64) {
	b.eval(x)
	copy(dst, b.lastGrad)
}

func equalParams(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sinkRecorder forwards gonum major iterations to the configured sink.
type sinkRecorder struct {
	sink IterationSink
	n    int
}

func (r *sinkRecorder) Init() error { return nil }

func (r *sinkRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	r.n++
	r.sink(Iteration{Number: r.n, Value: loc.F, Params: loc.X})
	return nil
}

// Minimize runs the bounded search from start.
func (o *LBFGSB) Minimize(obj Objective, start []float64) (*Outcome, error) {
	if o.LowerBounds != nil && len(o.LowerBounds) != len(start) {
		return nil, fmt.Errorf("optimizer: %d lower bounds for %d parameters", len(o.LowerBounds), len(start))
	}
	if o.UpperBounds != nil && len(o.UpperBounds) != len(start) {
		return nil, fmt.Errorf("optimizer: %d upper bounds for %d parameters", len(o.UpperBounds), len(start))
	}

	x0 := make([]float64, len(start))
	copy(x0, start)
	o.project(x0)

	boxed := &boxedObjective{o: o, obj: obj}
	problem := optimize.Problem{
		Func: boxed.fun,
		Grad: boxed.grad,
	}
	settings := &optimize.Settings{
		MajorIterations:   o.MaxIterations,
		FuncEvaluations:   o.MaxEvaluations,
		GradientThreshold: o.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.CostConvergenceFactor * machineEpsilon,
			Iterations: 5,
		},
	}
	if o.Sink != nil {
		settings.Recorder = &sinkRecorder{sink: o.Sink}
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if boxed.err != nil {
		params := make([]float64, len(start))
		copy(params, start)
		return &Outcome{Params: params, Stop: StopFailed},
			fmt.Errorf("%w: %v", ErrObjectiveFailed, boxed.err)
	}
	if err != nil && result == nil {
		return nil, fmt.Errorf("optimizer: l-bfgs-b: %v", err)
	}

	params := make([]float64, len(result.X))
	copy(params, result.X)
	o.project(params)

	out := &Outcome{
		Params:     params,
		Value:      result.F,
		Iterations: result.Stats.MajorIterations,
	}
	switch {
	case o.onBound(params):
		out.Stop = StopBoundaryHit
	case result.Status == optimize.GradientThreshold || result.Status == optimize.FunctionConvergence:
		out.Stop = StopConverged
	case result.Status == optimize.IterationLimit || result.Status == optimize.FunctionEvaluationLimit:
		out.Stop = StopMaxIterations
	default:
		out.Stop = StopConverged
	}
	return out, nil
}
