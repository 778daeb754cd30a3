package metric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"volreg3d/pkg/transform"
)

// Correlation is the negated normalized cross correlation of the fixed
// and transformed moving intensities. Perfect linear correspondence
// scores -1, so minimizing it drives the volumes into alignment even when
// their intensity scales differ by a gain and offset.
type Correlation struct{}

// NewCorrelation creates a normalized cross-correlation metric.
func NewCorrelation() *Correlation { return &Correlation{} }

// Evaluate implements Metric.
func (*Correlation) Evaluate(b *Binding) (float64, []float64, error) {
	type sample struct {
		idx int
		y   [3]float64
		m   float64
	}
	samples := make([]sample, 0, len(b.points))
	fvals := make([]float64, 0, len(b.points))
	mvals := make([]float64, 0, len(b.points))
	for i := range b.points {
		y, ok := b.validAt(i)
		if !ok {
			continue
		}
		m := b.Interp.Sample(b.Moving, y)
		samples = append(samples, sample{idx: i, y: y, m: m})
		fvals = append(fvals, b.fixedValues[i])
		mvals = append(mvals, m)
	}
	if err := b.checkValid(len(samples)); err != nil {
		return 0, nil, err
	}
	meanF := stat.Mean(fvals, nil)
	meanM := stat.Mean(mvals, nil)

	// a = sum f'm', bb = sum f'^2, c = sum m'^2 over centered intensities.
	var a, bb, c float64
	for _, s := range samples {
		fp := b.fixedValues[s.idx] - meanF
		mp := s.m - meanM
		a += fp * mp
		bb += fp * fp
		c += mp * mp
	}
	if bb <= 0 || c <= 0 {
		return 0, nil, fmt.Errorf("metric: constant intensities leave correlation undefined")
	}
	denom := math.Sqrt(bb * c)
	ncc := a / denom

	// d(NCC)/dp = (1/sqrt(bb*c)) * sum_i dm_i/dp * (f'_i - (a/c) m'_i);
	// the centered-mean terms cancel because sum f' = sum m' = 0.
	grad := make([]float64, transform.NumParameters)
	jac := mat.NewDense(3, transform.NumParameters, nil)
	ratio := a / c
	for _, s := range samples {
		fp := b.fixedValues[s.idx] - meanF
		mp := s.m - meanM
		w := (fp - ratio*mp) / denom

		mg := b.movingGradientAt(s.y)
		b.Transform.ParameterJacobian(b.points[s.idx], jac)
		for j := 0; j < transform.NumParameters; j++ {
			grad[j] -= w * (mg[0]*jac.At(0, j) + mg[1]*jac.At(1, j) + mg[2]*jac.At(2, j))
		}
	}
	return -ncc, grad, nil
}
