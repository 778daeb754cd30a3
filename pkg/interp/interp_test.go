package interp

import (
	"math"
	"testing"

	"volreg3d/internal/models"
)

// gradientVolume builds a volume whose intensity is a linear ramp
// a*x + b*y + c*z in index space. Linear interpolation reproduces it
// exactly at any interior point.
func gradientVolume(w, h, d int, a, b, c float64) *models.Volume {
	v := models.NewVolume(w, h, d, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v.Set(x, y, z, a*float64(x)+b*float64(y)+c*float64(z))
			}
		}
	}
	return v
}

// TestNearestNeighborExact verifies voxel-center sampling returns the
// stored value
func TestNearestNeighborExact(t *testing.T) {
	v := gradientVolume(4, 4, 4, 1, 10, 100)
	nn := NewNearestNeighbor()

	got := nn.Sample(v, [3]float64{2, 3, 1})
	if got != 2+30+100 {
		t.Errorf("Sample at voxel center = %f, want %f", got, 132.0)
	}
}

// TestNearestNeighborRounds verifies sub-voxel positions snap to the
// closest voxel
func TestNearestNeighborRounds(t *testing.T) {
	v := gradientVolume(4, 4, 4, 1, 0, 0)
	nn := NewNearestNeighbor()

	if got := nn.Sample(v, [3]float64{1.4, 0, 0}); got != 1 {
		t.Errorf("Sample at 1.4 = %f, want 1", got)
	}
	if got := nn.Sample(v, [3]float64{1.6, 0, 0}); got != 2 {
		t.Errorf("Sample at 1.6 = %f, want 2", got)
	}
}

// TestLinearReproducesRamp verifies trilinear interpolation is exact on a
// linear intensity field
func TestLinearReproducesRamp(t *testing.T) {
	v := gradientVolume(5, 5, 5, 2, -1, 0.5)
	lin := NewLinear()

	points := [][3]float64{
		{1.5, 2.25, 3.75},
		{0.1, 0.9, 2.5},
		{3.999, 1.0, 0.0},
	}
	for _, p := range points {
		want := 2*p[0] - p[1] + 0.5*p[2]
		got := lin.Sample(v, p)
		if math.Abs(got-want) > 1e-10 {
			t.Errorf("Sample at %v = %f, want %f", p, got, want)
		}
	}
}

// TestOutOfBoundsReturnsZero verifies every policy yields the background
// value outside the grid
func TestOutOfBoundsReturnsZero(t *testing.T) {
	v := gradientVolume(4, 4, 4, 1, 1, 1)
	v.Set(0, 0, 0, 5) // make sure zero is not just the field value

	outside := [3]float64{-3, 0, 0}
	policies := []Interpolator{NewNearestNeighbor(), NewLinear(), NewBSpline()}
	for i, itp := range policies {
		if got := itp.Sample(v, outside); got != 0 {
			t.Errorf("Policy %d returned %f outside the grid, want 0", i, got)
		}
	}
}

// TestBSplineInterpolatesSamples verifies the prefilter makes the cubic
// B-spline pass through the original voxel values
func TestBSplineInterpolatesSamples(t *testing.T) {
	const n = 16
	v := models.NewVolume(n, n, n, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				v.Set(x, y, z, math.Sin(float64(x))*math.Cos(float64(y))+0.3*float64(z))
			}
		}
	}
	bs := NewBSpline()

	for _, idx := range [][3]int{{8, 8, 8}, {3, 12, 5}, {10, 4, 13}} {
		p := [3]float64{float64(idx[0]), float64(idx[1]), float64(idx[2])}
		got := bs.Sample(v, p)
		want := v.At(idx[0], idx[1], idx[2])
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("Sample at voxel %v = %f, want %f", idx, got, want)
		}
	}
}

// TestBSplineCacheReuse verifies repeated sampling reuses the coefficient
// grid and stays consistent
func TestBSplineCacheReuse(t *testing.T) {
	v := gradientVolume(6, 6, 6, 1, 2, 3)
	bs := NewBSpline()

	p := [3]float64{2.5, 2.5, 2.5}
	first := bs.Sample(v, p)
	second := bs.Sample(v, p)
	if first != second {
		t.Errorf("Repeated samples differ: %f vs %f", first, second)
	}
}

// TestOrientedGaussianConstantField verifies the weighted accumulation
// preserves a constant volume
func TestOrientedGaussianConstantField(t *testing.T) {
	v := models.NewVolume(9, 9, 9, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	for i := range v.Data {
		v.Data[i] = 4.2
	}
	og, err := NewOrientedGaussian([9]float64{
		0.25, 0, 0,
		0, 0.25, 0,
		0, 0, 1.0,
	}, 3)
	if err != nil {
		t.Fatalf("NewOrientedGaussian failed: %v", err)
	}

	got := og.Sample(v, [3]float64{4.3, 4.1, 4.6})
	if math.Abs(got-4.2) > 1e-10 {
		t.Errorf("Constant-field sample = %f, want 4.2", got)
	}
}

// TestOrientedGaussianSingularCovariance verifies the constructor rejects
// a non-invertible covariance
func TestOrientedGaussianSingularCovariance(t *testing.T) {
	_, err := NewOrientedGaussian([9]float64{}, 3)
	if err == nil {
		t.Error("Expected an error for a singular covariance")
	}
}
