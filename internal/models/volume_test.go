package models

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestNewVolumeDefaults verifies construction with a nil direction matrix
func TestNewVolumeDefaults(t *testing.T) {
	v := NewVolume(4, 5, 6, [3]float64{1, 1, 2}, [3]float64{0, 0, 0}, nil)

	if len(v.Data) != 4*5*6 {
		t.Errorf("Expected %d voxels, got %d", 4*5*6, len(v.Data))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if v.Direction.At(i, j) != want {
				t.Errorf("Direction[%d,%d] = %f, want %f", i, j, v.Direction.At(i, j), want)
			}
		}
	}
}

// TestAtSet verifies voxel access and the z-major data layout
func TestAtSet(t *testing.T) {
	v := NewVolume(3, 3, 3, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	v.Set(1, 2, 1, 7.5)

	if got := v.At(1, 2, 1); got != 7.5 {
		t.Errorf("At(1,2,1) = %f, want 7.5", got)
	}
	if got := v.Data[1*9+2*3+1]; got != 7.5 {
		t.Errorf("Data layout mismatch: got %f at flat index, want 7.5", got)
	}
}

// TestIndexPhysicalRoundTrip verifies the index/physical mapping inverts
// exactly, including for a rotated direction matrix
func TestIndexPhysicalRoundTrip(t *testing.T) {
	angle := 30 * math.Pi / 180
	c, s := math.Cos(angle), math.Sin(angle)
	dir := mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	v := NewVolume(8, 8, 4, [3]float64{0.8, 1.2, 3.0}, [3]float64{-10, 5, 2}, dir)

	cases := [][3]float64{
		{0, 0, 0},
		{7, 7, 3},
		{1.5, 2.25, 0.5},
	}
	for _, idx := range cases {
		p := v.IndexToPhysical(idx[0], idx[1], idx[2])
		back := v.PhysicalToIndex(p)
		for axis := 0; axis < 3; axis++ {
			if math.Abs(back[axis]-idx[axis]) > 1e-10 {
				t.Errorf("Round trip of %v axis %d: got %f, want %f", idx, axis, back[axis], idx[axis])
			}
		}
	}
}

// TestContainsPhysical verifies in/out classification in physical space
func TestContainsPhysical(t *testing.T) {
	v := NewVolume(4, 4, 4, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)

	if !v.ContainsPhysical([3]float64{1.5, 1.5, 1.5}) {
		t.Error("Interior point classified outside")
	}
	if v.ContainsPhysical([3]float64{10, 0, 0}) {
		t.Error("Exterior point classified inside")
	}
}

// TestPhysicalCenter verifies the geometric center lands mid-grid
func TestPhysicalCenter(t *testing.T) {
	v := NewVolume(5, 5, 5, [3]float64{2, 2, 2}, [3]float64{1, 1, 1}, nil)
	c := v.PhysicalCenter()
	want := [3]float64{5, 5, 5} // origin + 2*(5-1)/2 per axis
	for axis := 0; axis < 3; axis++ {
		if math.Abs(c[axis]-want[axis]) > 1e-12 {
			t.Errorf("Center axis %d: got %f, want %f", axis, c[axis], want[axis])
		}
	}
}

// TestCloneIndependence verifies a clone shares no voxel storage
func TestCloneIndependence(t *testing.T) {
	v := NewVolume(2, 2, 2, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	v.Set(0, 0, 0, 1)
	clone := v.Clone()
	clone.Set(0, 0, 0, 9)

	if v.At(0, 0, 0) != 1 {
		t.Error("Mutating the clone changed the original")
	}
}

// TestMaskInsidePhysical verifies nearest-voxel mask lookups
func TestMaskInsidePhysical(t *testing.T) {
	m := &Mask{Volume: NewVolume(4, 4, 4, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)}
	m.Set(2, 2, 2, 1)

	if !m.InsidePhysical([3]float64{2.2, 1.8, 2.1}) {
		t.Error("Point near the set voxel should be inside the mask")
	}
	if m.InsidePhysical([3]float64{0, 0, 0}) {
		t.Error("Point at an unset voxel should be outside the mask")
	}
	if m.InsidePhysical([3]float64{-5, 0, 0}) {
		t.Error("Point outside the grid should be outside the mask")
	}
}
