package metric

import (
	"gonum.org/v1/gonum/mat"

	"volreg3d/pkg/transform"
)

// MeanSquares is the mean squared intensity difference between the fixed
// samples and the transformed moving samples. It is the cheapest metric
// and the right choice when the two volumes share an intensity scale.
type MeanSquares struct{}

// NewMeanSquares creates a mean-squares metric.
func NewMeanSquares() *MeanSquares { return &MeanSquares{} }

// Evaluate implements Metric. The gradient is analytic:
//
//	dMSD/dp_j = (2/N) * sum_i (m_i - f_i) * grad(M)(y_i) . dT/dp_j(x_i)
func (*MeanSquares) Evaluate(b *Binding) (float64, []float64, error) {
	grad := make([]float64, transform.NumParameters)
	jac := mat.NewDense(3, transform.NumParameters, nil)

	var sum float64
	valid := 0
	for i := range b.points {
		y, ok := b.validAt(i)
		if !ok {
			continue
		}
		valid++
		diff := b.Interp.Sample(b.Moving, y) - b.fixedValues[i]
		sum += diff * diff

		mg := b.movingGradientAt(y)
		b.Transform.ParameterJacobian(b.points[i], jac)
		for j := 0; j < transform.NumParameters; j++ {
			grad[j] += 2 * diff * (mg[0]*jac.At(0, j) + mg[1]*jac.At(1, j) + mg[2]*jac.At(2, j))
		}
	}
	if err := b.checkValid(valid); err != nil {
		return 0, nil, err
	}
	inv := 1 / float64(valid)
	for j := range grad {
		grad[j] *= inv
	}
	return sum * inv, grad, nil
}
