package metric

import (
	"fmt"

	"volreg3d/pkg/transform"
)

// ANTSNeighborhoodCorrelation averages the normalized cross correlation
// over a small neighborhood around every sample point instead of
// computing one global correlation. Local normalization makes it robust
// to smoothly varying intensity bias fields at the cost of a window's
// worth of extra samples per point.
//
// The neighborhood offsets are derived from the radius at construction;
// call SetRadius to rebuild them. Changing the radius mid-run invalidates
// nothing in the binding, but the metric must not be reconfigured between
// evaluations of the same optimization.
type ANTSNeighborhoodCorrelation struct {
	radius  int
	offsets [][3]int
}

// NewANTSNeighborhoodCorrelation creates the metric with the given cubic
// window radius in voxels. Radius 0 or below falls back to 2, the radius
// the reconstruction pipeline has used throughout.
func NewANTSNeighborhoodCorrelation(radius int) *ANTSNeighborhoodCorrelation {
	m := &ANTSNeighborhoodCorrelation{}
	m.SetRadius(radius)
	return m
}

// SetRadius rebuilds the neighborhood offset table.
func (m *ANTSNeighborhoodCorrelation) SetRadius(radius int) {
	if radius <= 0 {
		radius = 2
	}
	m.radius = radius
	m.offsets = m.offsets[:0]
	for dz := -radius; dz <= radius; dz++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				m.offsets = append(m.offsets, [3]int{dx, dy, dz})
			}
		}
	}
}

// Radius returns the current window radius in voxels.
func (m *ANTSNeighborhoodCorrelation) Radius() int { return m.radius }

// Evaluate implements Metric. The gradient is a central-difference
// estimate over the frozen sample set, like the mutual-information
// metric's.
func (m *ANTSNeighborhoodCorrelation) Evaluate(b *Binding) (float64, []float64, error) {
	v, err := m.value(b)
	if err != nil {
		return 0, nil, err
	}
	grad := make([]float64, transform.NumParameters)
	if err := numericalGradient(b, func() (float64, error) { return m.value(b) }, grad); err != nil {
		return 0, nil, err
	}
	return v, grad, nil
}

// value computes the negated mean local NCC at the current transform.
func (m *ANTSNeighborhoodCorrelation) value(b *Binding) (float64, error) {
	// A window needs enough in-bounds pairs for its statistics to mean
	// anything; half the full window is the cutoff.
	minPairs := len(m.offsets) / 2
	if minPairs < 3 {
		minPairs = 3
	}

	var accum float64
	valid := 0
	for i := range b.points {
		if _, ok := b.validAt(i); !ok {
			continue
		}
		gi := b.gridIdx[i]

		var n, sumF, sumM, sumFF, sumMM, sumFM float64
		for _, off := range m.offsets {
			x, y, z := gi[0]+off[0], gi[1]+off[1], gi[2]+off[2]
			if !b.Fixed.Contains(x, y, z) {
				continue
			}
			if b.FixedMask != nil && b.FixedMask.At(x, y, z) <= 0 {
				continue
			}
			q := b.Fixed.IndexToPhysical(float64(x), float64(y), float64(z))
			w := b.Transform.Apply(q)
			if !b.Moving.ContainsPhysical(w) {
				continue
			}
			if b.MovingMask != nil && !b.MovingMask.InsidePhysical(w) {
				continue
			}
			fv := b.Fixed.At(x, y, z)
			mv := b.Interp.Sample(b.Moving, w)
			n++
			sumF += fv
			sumM += mv
			sumFF += fv * fv
			sumMM += mv * mv
			sumFM += fv * mv
		}
		if int(n) < minPairs {
			continue
		}
		varF := sumFF - sumF*sumF/n
		varM := sumMM - sumM*sumM/n
		if varF <= 0 || varM <= 0 {
			continue
		}
		cov := sumFM - sumF*sumM/n
		accum += cov * cov / (varF * varM) * sign(cov)
		valid++
	}
	if err := b.checkValid(valid); err != nil {
		return 0, err
	}
	if valid == 0 {
		return 0, fmt.Errorf("metric: no neighborhood produced usable statistics")
	}
	return -accum / float64(valid), nil
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
