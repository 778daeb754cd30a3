package metric

import (
	"errors"
	"math"
	"testing"

	"volreg3d/internal/models"
	"volreg3d/pkg/interp"
	"volreg3d/pkg/transform"
)

// blobVolume builds a volume holding a smooth Gaussian blob centered at
// the given physical point. Smoothness keeps every metric and gradient
// well behaved in tests.
func blobVolume(n int, origin, blobCenter [3]float64) *models.Volume {
	v := models.NewVolume(n, n, n, [3]float64{1, 1, 1}, origin, nil)
	sigma := float64(n) / 6
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				p := v.IndexToPhysical(float64(x), float64(y), float64(z))
				d0 := p[0] - blobCenter[0]
				d1 := p[1] - blobCenter[1]
				d2 := p[2] - blobCenter[2]
				v.Set(x, y, z, math.Exp(-(d0*d0+d1*d1+d2*d2)/(2*sigma*sigma)))
			}
		}
	}
	return v
}

// identityBinding pairs a volume with itself under the identity transform.
func identityBinding(t *testing.T, v *models.Volume, itp interp.Interpolator) *Binding {
	t.Helper()
	b, err := NewBinding(v, v, nil, nil, itp, transform.NewFromGeometry(v, v), SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}
	return b
}

// TestMeanSquaresZeroAtIdentity verifies MSD vanishes when a volume is
// registered to itself
func TestMeanSquaresZeroAtIdentity(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	b := identityBinding(t, v, interp.NewLinear())

	value, grad, err := NewMeanSquares().Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value > 1e-12 {
		t.Errorf("Identity MSD = %g, want ~0", value)
	}
	for j, g := range grad {
		if math.Abs(g) > 1e-6 {
			t.Errorf("Identity gradient[%d] = %g, want ~0", j, g)
		}
	}
}

// TestMeanSquaresGradientSign verifies the translation gradient points
// uphill away from alignment
func TestMeanSquaresGradientSign(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	tfm := transform.NewFromGeometry(v, v)
	params := tfm.Parameters()
	params[3] = 0.8 // misaligned along x
	if err := tfm.SetParameters(params); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	b, err := NewBinding(v, v, nil, nil, interp.NewBSpline(), tfm, SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	m := NewMeanSquares()
	value, grad, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value <= 0 {
		t.Errorf("Misaligned MSD = %g, want > 0", value)
	}
	// Moving tx further from 0 must increase the cost.
	if grad[3] <= 0 {
		t.Errorf("d(MSD)/d(tx) = %g at tx=0.8, want > 0", grad[3])
	}

	// The analytic gradient should roughly agree with central differences
	// of the metric value.
	const delta = 1e-3
	params[3] = 0.8 + delta
	if err := tfm.SetParameters(params); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	vPlus, _, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	params[3] = 0.8 - delta
	if err := tfm.SetParameters(params); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	vMinus, _, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	numeric := (vPlus - vMinus) / (2 * delta)
	if math.Abs(grad[3]-numeric) > 0.2*math.Abs(numeric)+1e-6 {
		t.Errorf("Analytic d/d(tx) = %g, numeric %g", grad[3], numeric)
	}
}

// TestCorrelationPerfectAtIdentity verifies NCC reaches -1 on identical
// volumes
func TestCorrelationPerfectAtIdentity(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	b := identityBinding(t, v, interp.NewLinear())

	value, _, err := NewCorrelation().Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(value+1) > 1e-9 {
		t.Errorf("Identity correlation = %g, want -1", value)
	}
}

// TestCorrelationIntensityInvariance verifies a gain and offset on the
// moving volume does not change the score
func TestCorrelationIntensityInvariance(t *testing.T) {
	fixed := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	moving := fixed.Clone()
	for i := range moving.Data {
		moving.Data[i] = 3*moving.Data[i] + 10
	}
	b, err := NewBinding(fixed, moving, nil, nil, interp.NewLinear(),
		transform.NewFromGeometry(fixed, moving), SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	value, _, err := NewCorrelation().Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(value+1) > 1e-9 {
		t.Errorf("Rescaled correlation = %g, want -1", value)
	}
}

// TestMattesDeterministic verifies two evaluations on the same binding
// are bitwise identical, including the sampled subset and the
// central-difference gradient
func TestMattesDeterministic(t *testing.T) {
	fixed := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	moving := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{6.5, 7.5, 7.5})
	b, err := NewBinding(fixed, moving, nil, nil, interp.NewLinear(),
		transform.NewFromGeometry(fixed, moving), SamplingOptions{MaxSamples: 1000, Seed: 42})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	m := NewMattesMutualInformation()
	v1, g1, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("First evaluate failed: %v", err)
	}
	v2, g2, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Second evaluate failed: %v", err)
	}
	if v1 != v2 {
		t.Errorf("Values differ: %v vs %v", v1, v2)
	}
	for j := range g1 {
		if g1[j] != g2[j] {
			t.Errorf("Gradient[%d] differs: %v vs %v", j, g1[j], g2[j])
		}
	}
}

// TestMattesImprovesTowardAlignment verifies -MI is lower when the
// volumes are aligned than when they are offset
func TestMattesImprovesTowardAlignment(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	tfm := transform.NewFromGeometry(v, v)
	b, err := NewBinding(v, v, nil, nil, interp.NewLinear(), tfm, SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	m := NewMattesMutualInformation()
	aligned, _, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	params := tfm.Parameters()
	params[3] = 3
	if err := tfm.SetParameters(params); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	offset, _, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if aligned >= offset {
		t.Errorf("Aligned -MI (%g) should be below offset -MI (%g)", aligned, offset)
	}
}

// TestANTSPerfectAtIdentity verifies neighborhood correlation on
// identical volumes
func TestANTSPerfectAtIdentity(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	b := identityBinding(t, v, interp.NewLinear())

	m := NewANTSNeighborhoodCorrelation(2)
	if len(m.offsets) != 5*5*5 {
		t.Fatalf("Radius 2 built %d offsets, want 125", len(m.offsets))
	}
	value, _, err := m.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value > -0.9 {
		t.Errorf("Identity neighborhood correlation = %g, want near -1", value)
	}
}

// TestTooFewSamples verifies the shared failure mode when the transform
// pushes the samples outside the moving volume
func TestTooFewSamples(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	tfm := transform.NewFromGeometry(v, v)
	params := tfm.Parameters()
	params[3] = 1000
	if err := tfm.SetParameters(params); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	b, err := NewBinding(v, v, nil, nil, interp.NewLinear(), tfm, SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	_, _, err = NewMeanSquares().Evaluate(b)
	if !errors.Is(err, ErrTooFewSamples) {
		t.Errorf("Expected ErrTooFewSamples, got %v", err)
	}
}

// TestFixedMaskExcludesRegion verifies masked voxels never contribute:
// corruption outside the mask leaves the metric at zero
func TestFixedMaskExcludesRegion(t *testing.T) {
	fixed := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	moving := fixed.Clone()
	// Corrupt a corner of the moving volume.
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				moving.Set(x, y, z, 100)
			}
		}
	}
	mask := &models.Mask{Volume: models.NewVolume(16, 16, 16, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)}
	for z := 6; z < 12; z++ {
		for y := 6; y < 12; y++ {
			for x := 6; x < 12; x++ {
				mask.Set(x, y, z, 1)
			}
		}
	}

	tfm := transform.NewFromGeometry(fixed, moving)
	masked, err := NewBinding(fixed, moving, mask, nil, interp.NewLinear(), tfm, SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}
	value, _, err := NewMeanSquares().Evaluate(masked)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value > 1e-12 {
		t.Errorf("Masked MSD = %g, want ~0 despite corruption outside the mask", value)
	}

	unmasked, err := NewBinding(fixed, moving, nil, nil, interp.NewLinear(), tfm, SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}
	value, _, err = NewMeanSquares().Evaluate(unmasked)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if value < 1e-3 {
		t.Errorf("Unmasked MSD = %g, expected the corruption to register", value)
	}
}

// TestSamplingSubsetDeterministic verifies the same seed draws the same
// subset
func TestSamplingSubsetDeterministic(t *testing.T) {
	v := blobVolume(16, [3]float64{0, 0, 0}, [3]float64{7.5, 7.5, 7.5})
	tfm := transform.NewFromGeometry(v, v)

	b1, err := NewBinding(v, v, nil, nil, interp.NewLinear(), tfm, SamplingOptions{MaxSamples: 500, Seed: 7})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}
	b2, err := NewBinding(v, v, nil, nil, interp.NewLinear(), tfm, SamplingOptions{MaxSamples: 500, Seed: 7})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}

	if b1.NumSamples() != 500 || b2.NumSamples() != 500 {
		t.Fatalf("Sample counts %d and %d, want 500", b1.NumSamples(), b2.NumSamples())
	}
	for i, p := range b1.SamplePoints() {
		if p != b2.SamplePoints()[i] {
			t.Fatalf("Sample %d differs between equal seeds", i)
		}
	}
}
