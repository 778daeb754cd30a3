// Package interp provides the interchangeable intensity sampling policies
// used by the registration metrics: nearest-neighbor, trilinear, cubic
// B-spline and oriented-Gaussian interpolation at arbitrary physical
// points of a volume.
package interp

import (
	"math"

	"volreg3d/internal/models"
)

// Interpolator estimates the intensity of a volume at an arbitrary
// physical point. Points outside the volume yield the background value 0
// rather than an error; callers that need to distinguish out-of-bounds
// samples check the volume geometry themselves.
type Interpolator interface {
	Sample(v *models.Volume, p [3]float64) float64
}

// NearestNeighbor rounds the physical point to the closest voxel.
type NearestNeighbor struct{}

// NewNearestNeighbor creates a nearest-neighbor interpolator.
func NewNearestNeighbor() *NearestNeighbor { return &NearestNeighbor{} }

// Sample implements Interpolator.
func (*NearestNeighbor) Sample(v *models.Volume, p [3]float64) float64 {
	idx := v.PhysicalToIndex(p)
	x := int(math.Round(idx[0]))
	y := int(math.Round(idx[1]))
	z := int(math.Round(idx[2]))
	if !v.Contains(x, y, z) {
		return 0
	}
	return v.At(x, y, z)
}

// Linear performs multilinear interpolation across the 8 voxels
// surrounding the sample point.
type Linear struct{}

// NewLinear creates a trilinear interpolator.
func NewLinear() *Linear { return &Linear{} }

// Sample implements Interpolator.
func (*Linear) Sample(v *models.Volume, p [3]float64) float64 {
	idx := v.PhysicalToIndex(p)
	if !v.ContainsContinuous(idx[0], idx[1], idx[2]) {
		return 0
	}
	if v.Width < 2 || v.Height < 2 || v.Depth < 2 {
		// Degenerate grids cannot support a full 8-voxel cell.
		return (&NearestNeighbor{}).Sample(v, p)
	}
	x0 := int(math.Floor(idx[0]))
	y0 := int(math.Floor(idx[1]))
	z0 := int(math.Floor(idx[2]))
	// Clamp so points exactly on the far face interpolate within bounds.
	if x0 > v.Width-2 {
		x0 = v.Width - 2
	}
	if y0 > v.Height-2 {
		y0 = v.Height - 2
	}
	if z0 > v.Depth-2 {
		z0 = v.Depth - 2
	}
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if z0 < 0 {
		z0 = 0
	}
	fx := idx[0] - float64(x0)
	fy := idx[1] - float64(y0)
	fz := idx[2] - float64(z0)

	var acc float64
	for dz := 0; dz < 2; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		for dy := 0; dy < 2; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			for dx := 0; dx < 2; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				acc += wx * wy * wz * v.At(x0+dx, y0+dy, z0+dz)
			}
		}
	}
	return acc
}
