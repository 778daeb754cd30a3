// Package scales estimates per-parameter conditioning weights for the
// optimizer. Rotations, translations and the in-plane scale live on
// wildly different numeric ranges; the estimators translate a unit step
// in each parameter into the point motion it causes, so the optimizer can
// step through all seven parameters at comparable physical speed.
package scales

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"volreg3d/pkg/metric"
	"volreg3d/pkg/transform"
)

// scaleFloor keeps every scale strictly positive so the optimizer's
// preconditioned division never blows up on a parameter that happens to
// move nothing at the current sample set.
const scaleFloor = 1e-8

// Perturbation used by the shift-based estimators.
const shiftDelta = 1e-4

// Estimator produces one positive weight per transform parameter.
type Estimator interface {
	Estimate(b *metric.Binding) ([]float64, error)
}

// PhysicalShift weights each parameter by the squared maximum physical
// displacement a small perturbation of it causes over the sample points.
type PhysicalShift struct{}

// NewPhysicalShift creates a physical-shift estimator.
func NewPhysicalShift() *PhysicalShift { return &PhysicalShift{} }

// Estimate implements Estimator.
func (*PhysicalShift) Estimate(b *metric.Binding) ([]float64, error) {
	return shiftScales(b, func(p [3]float64) [3]float64 { return p })
}

// IndexShift is PhysicalShift measured in the moving volume's continuous
// index space, so anisotropic voxels weight motion along their fine axes
// more heavily.
type IndexShift struct{}

// NewIndexShift creates an index-shift estimator.
func NewIndexShift() *IndexShift { return &IndexShift{} }

// Estimate implements Estimator.
func (*IndexShift) Estimate(b *metric.Binding) ([]float64, error) {
	return shiftScales(b, b.Moving.PhysicalToIndex)
}

// shiftScales perturbs each parameter by shiftDelta and records the
// worst-case sample displacement, measured through the supplied mapping.
func shiftScales(b *metric.Binding, measure func([3]float64) [3]float64) ([]float64, error) {
	base := b.Transform.Parameters()
	defer b.Transform.SetParameters(base)

	points := b.SamplePoints()
	ref := make([][3]float64, len(points))
	for i, p := range points {
		ref[i] = measure(b.Transform.Apply(p))
	}

	out := make([]float64, transform.NumParameters)
	work := make([]float64, len(base))
	shifts := make([]float64, len(points))
	copy(work, base)
	for j := range base {
		work[j] = base[j] + shiftDelta
		if err := b.Transform.SetParameters(work); err != nil {
			return nil, err
		}
		work[j] = base[j]

		for i, p := range points {
			m := measure(b.Transform.Apply(p))
			d0 := m[0] - ref[i][0]
			d1 := m[1] - ref[i][1]
			d2 := m[2] - ref[i][2]
			shifts[i] = math.Sqrt(d0*d0 + d1*d1 + d2*d2)
		}
		maxShift := floats.Max(shifts)
		out[j] = (maxShift / shiftDelta) * (maxShift / shiftDelta)
		if out[j] < scaleFloor {
			out[j] = scaleFloor
		}
	}
	return out, nil
}

// Jacobian weights each parameter by the mean squared norm of its
// transform Jacobian column over the sample points. It needs no
// perturbation passes and is the default estimator.
type Jacobian struct{}

// NewJacobian creates a Jacobian-based estimator.
func NewJacobian() *Jacobian { return &Jacobian{} }

// Estimate implements Estimator.
func (*Jacobian) Estimate(b *metric.Binding) ([]float64, error) {
	points := b.SamplePoints()
	out := make([]float64, transform.NumParameters)
	jac := mat.NewDense(3, transform.NumParameters, nil)
	for _, p := range points {
		b.Transform.ParameterJacobian(p, jac)
		for j := 0; j < transform.NumParameters; j++ {
			c0 := jac.At(0, j)
			c1 := jac.At(1, j)
			c2 := jac.At(2, j)
			out[j] += c0*c0 + c1*c1 + c2*c2
		}
	}
	inv := 1 / float64(len(points))
	for j := range out {
		out[j] *= inv
		if out[j] < scaleFloor {
			out[j] = scaleFloor
		}
	}
	return out, nil
}
