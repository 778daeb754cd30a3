package metric

import (
	"fmt"
	"math"

	"volreg3d/pkg/transform"
)

// Number of intensity bins for the joint histogram; the acquisition
// pipeline has always run with 50.
const mattesBins = 50

// Bins reserved at each end of the intensity range so the Parzen kernel
// never spills past the histogram.
const mattesPadding = 2

// MattesMutualInformation is the negated Mattes formulation of mutual
// information: a joint intensity histogram with a nearest-bin kernel on
// the fixed axis and a cubic B-spline Parzen window on the moving axis.
// It is the metric of choice across modalities, where no functional
// intensity relationship can be assumed.
//
// The parameter gradient is a central-difference estimate over the
// binding's frozen sample set, so repeated evaluations at the same
// parameters are bitwise identical.
type MattesMutualInformation struct{}

// NewMattesMutualInformation creates a Mattes mutual-information metric.
func NewMattesMutualInformation() *MattesMutualInformation {
	return &MattesMutualInformation{}
}

// Evaluate implements Metric.
func (m *MattesMutualInformation) Evaluate(b *Binding) (float64, []float64, error) {
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

// value computes -MI(fixed, moving) at the current transform state.
func (*MattesMutualInformation) value(b *Binding) (float64, error) {
	type pair struct{ f, m float64 }
	pairs := make([]pair, 0, len(b.points))
	for i := range b.points {
		y, ok := b.validAt(i)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{f: b.fixedValues[i], m: b.Interp.Sample(b.Moving, y)})
	}
	if err := b.checkValid(len(pairs)); err != nil {
		return 0, err
	}

	fMin, fMax := pairs[0].f, pairs[0].f
	mMin, mMax := pairs[0].m, pairs[0].m
	for _, p := range pairs[1:] {
		fMin = math.Min(fMin, p.f)
		fMax = math.Max(fMax, p.f)
		mMin = math.Min(mMin, p.m)
		mMax = math.Max(mMax, p.m)
	}
	if fMax <= fMin || mMax <= mMin {
		return 0, fmt.Errorf("metric: constant intensities leave mutual information undefined")
	}

	inner := float64(mattesBins - 2*mattesPadding)
	fWidth := (fMax - fMin) / inner
	mWidth := (mMax - mMin) / inner

	joint := make([]float64, mattesBins*mattesBins)
	for _, p := range pairs {
		fBin := int((p.f-fMin)/fWidth) + mattesPadding
		if fBin > mattesBins-1 {
			fBin = mattesBins - 1
		}
		mPos := (p.m-mMin)/mWidth + mattesPadding
		m0 := int(math.Floor(mPos))
		frac := mPos - float64(m0)

		// Cubic B-spline Parzen window over 4 moving bins.
		omf := 1 - frac
		w := [4]float64{
			omf * omf * omf / 6,
			(4 - 6*frac*frac + 3*frac*frac*frac) / 6,
			(1 + 3*frac + 3*frac*frac - 3*frac*frac*frac) / 6,
			frac * frac * frac / 6,
		}
		for k := 0; k < 4; k++ {
			mBin := m0 - 1 + k
			if mBin < 0 {
				mBin = 0
			}
			if mBin > mattesBins-1 {
				mBin = mattesBins - 1
			}
			joint[fBin*mattesBins+mBin] += w[k]
		}
	}

	total := float64(len(pairs))
	fMarg := make([]float64, mattesBins)
	mMarg := make([]float64, mattesBins)
	for fi := 0; fi < mattesBins; fi++ {
		for mi := 0; mi < mattesBins; mi++ {
			p := joint[fi*mattesBins+mi] / total
			joint[fi*mattesBins+mi] = p
			fMarg[fi] += p
			mMarg[mi] += p
		}
	}

	var mi float64
	for fi := 0; fi < mattesBins; fi++ {
		if fMarg[fi] <= 0 {
			continue
		}
		for mIdx := 0; mIdx < mattesBins; mIdx++ {
			p := joint[fi*mattesBins+mIdx]
			if p <= 0 || mMarg[mIdx] <= 0 {
				continue
			}
			mi += p * math.Log(p/(fMarg[fi]*mMarg[mIdx]))
		}
	}
	return -mi, nil
}
