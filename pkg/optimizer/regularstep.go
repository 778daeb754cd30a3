package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// RegularStep is a regular-step gradient descent: it walks downhill along
// the scale-preconditioned negative gradient with a fixed step length,
// halving the step whenever the move fails to improve the cost or the
// gradient direction reverses. Every accepted step strictly improves the
// objective, so the reported value sequence is monotonically
// non-increasing.
type RegularStep struct {
	// MaxIterations caps the number of evaluations after the initial one.
	MaxIterations int
	// InitialStep is the starting step length in preconditioned units.
	InitialStep float64
	// MinStep ends the search once relaxation shrinks the step below it.
	MinStep float64
	// Relaxation is the step shrink factor on reversal, in (0, 1).
	Relaxation float64
	// GradientTolerance stops the search when the preconditioned gradient
	// norm falls below it.
	GradientTolerance float64
	// Scales holds the per-parameter conditioning weights; nil means
	// uniform.
	Scales []float64
	// Sink, if set, receives every accepted iteration.
	Sink IterationSink
}

// NewRegularStep returns a descent with the pipeline's long-standing
// defaults.
func NewRegularStep() *RegularStep {
	return &RegularStep{
		MaxIterations:     500,
		InitialStep:       1.0,
		MinStep:           1e-4,
		Relaxation:        0.5,
		GradientTolerance: 1e-6,
	}
}

// Minimize runs the descent from start and returns the best parameters
// found. An objective failure ends the search with StopFailed and the
// wrapped error.
func (o *RegularStep) Minimize(obj Objective, start []float64) (*Outcome, error) {
	n := len(start)
	scales := o.Scales
	if scales == nil {
		scales = make([]float64, n)
		for i := range scales {
			scales[i] = 1
		}
	}
	if len(scales) != n {
		return nil, fmt.Errorf("optimizer: %d scales for %d parameters", len(scales), n)
	}

	params := make([]float64, n)
	copy(params, start)

	value, grad, err := obj.Evaluate(params)
	if err != nil {
		return &Outcome{Params: params, Stop: StopFailed},
			fmt.Errorf("%w: %v", ErrObjectiveFailed, err)
	}

	precond := func(g []float64) ([]float64, float64) {
		pg := make([]float64, n)
		floats.DivTo(pg, g, scales)
		return pg, floats.Norm(pg, 2)
	}

	pg, gnorm := precond(grad)
	step := o.InitialStep
	trial := make([]float64, n)
	iterations := 0

	for iterations < o.MaxIterations {
		if gnorm < o.GradientTolerance {
			return &Outcome{Params: params, Value: value, Iterations: iterations, Stop: StopConverged}, nil
		}
		if step < o.MinStep {
			return &Outcome{Params: params, Value: value, Iterations: iterations, Stop: StopStepTooSmall}, nil
		}

		for i := range params {
			trial[i] = params[i] - step*pg[i]/gnorm
		}
		trialValue, trialGrad, err := obj.Evaluate(trial)
		if err != nil {
			return &Outcome{Params: params, Value: value, Iterations: iterations, Stop: StopFailed},
				fmt.Errorf("%w: %v", ErrObjectiveFailed, err)
		}
		iterations++

		if trialValue >= value {
			// Overshot: stay put and relax the step.
			step *= o.Relaxation
			continue
		}

		trialPG, trialNorm := precond(trialGrad)
		// Direction reversal signals we stepped past the valley floor.
		if floats.Dot(pg, trialPG) < 0 {
			step *= o.Relaxation
		}

		copy(params, trial)
		value = trialValue
		pg, gnorm = trialPG, trialNorm

		if o.Sink != nil {
			o.Sink(Iteration{Number: iterations, Value: value, Step: step, Params: params})
		}
	}
	return &Outcome{Params: params, Value: value, Iterations: iterations, Stop: StopMaxIterations}, nil
}
