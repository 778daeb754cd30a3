// Package models holds the grid data model shared by the registration engine:
// sampled 3D volumes, their physical geometry, and binary masks.
package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Volume is a 3D scalar sampled grid with physical geometry attached.
// Data is stored in row-major order as z*Width*Height + y*Width + x,
// matching the slice stacking convention of the acquisition pipeline.
//
// A Volume is immutable once loaded: the registration engine only reads
// intensities and geometry, it never writes back into a volume.
type Volume struct {
	// Data is the voxel intensities as a flat array.
	Data []float64

	// Width, Height and Depth are the grid dimensions in voxels.
	Width  int
	Height int
	Depth  int

	// Spacing is the physical voxel size in mm along each grid axis.
	Spacing [3]float64

	// Origin is the physical position in mm of voxel (0,0,0).
	Origin [3]float64

	// Direction is the 3x3 direction-cosine matrix mapping grid axes to
	// physical axes. Rows/columns are orthonormal for well-formed scans,
	// but oblique acquisitions are fully supported.
	Direction *mat.Dense

	// invDirection caches the inverse of Direction for physical-to-index
	// conversions. Computed once at construction.
	invDirection *mat.Dense
}

// NewVolume creates a volume with the given dimensions and geometry.
// A nil direction means axis-aligned (identity direction cosines).
// The data slice is allocated zero-filled.
func NewVolume(width, height, depth int, spacing, origin [3]float64, direction *mat.Dense) *Volume {
	if direction == nil {
		direction = mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})
	}
	inv := mat.NewDense(3, 3, nil)
	if err := inv.Inverse(direction); err != nil {
		// Direction cosines of a scan are always invertible; a singular
		// matrix here means corrupt input geometry.
		panic(fmt.Sprintf("models: singular direction matrix: %v", err))
	}
	return &Volume{
		Data:         make([]float64, width*height*depth),
		Width:        width,
		Height:       height,
		Depth:        depth,
		Spacing:      spacing,
		Origin:       origin,
		Direction:    direction,
		invDirection: inv,
	}
}

// At returns the intensity at voxel (x, y, z). The caller is responsible
// for bounds; use Contains for checked access patterns.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Set writes the intensity at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = value
}

// Contains reports whether the integer voxel index lies inside the grid.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height && z >= 0 && z < v.Depth
}

// ContainsContinuous reports whether a continuous index lies inside the
// interpolatable region of the grid, i.e. [0, N-1] along each axis.
func (v *Volume) ContainsContinuous(ix, iy, iz float64) bool {
	return ix >= 0 && ix <= float64(v.Width-1) &&
		iy >= 0 && iy <= float64(v.Height-1) &&
		iz >= 0 && iz <= float64(v.Depth-1)
}

// IndexToPhysical converts a continuous voxel index to physical
// coordinates: p = origin + Direction * (spacing .* index).
func (v *Volume) IndexToPhysical(ix, iy, iz float64) [3]float64 {
	sx := ix * v.Spacing[0]
	sy := iy * v.Spacing[1]
	sz := iz * v.Spacing[2]
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = v.Origin[r] +
			v.Direction.At(r, 0)*sx +
			v.Direction.At(r, 1)*sy +
			v.Direction.At(r, 2)*sz
	}
	return p
}

// PhysicalToIndex converts a physical point to a continuous voxel index,
// the inverse of IndexToPhysical.
func (v *Volume) PhysicalToIndex(p [3]float64) [3]float64 {
	dx := p[0] - v.Origin[0]
	dy := p[1] - v.Origin[1]
	dz := p[2] - v.Origin[2]
	var idx [3]float64
	for r := 0; r < 3; r++ {
		idx[r] = (v.invDirection.At(r, 0)*dx +
			v.invDirection.At(r, 1)*dy +
			v.invDirection.At(r, 2)*dz) / v.Spacing[r]
	}
	return idx
}

// ContainsPhysical reports whether a physical point maps into the
// interpolatable region of the grid.
func (v *Volume) ContainsPhysical(p [3]float64) bool {
	idx := v.PhysicalToIndex(p)
	return v.ContainsContinuous(idx[0], idx[1], idx[2])
}

// PhysicalCenter returns the physical coordinates of the geometric
// center of the volume.
func (v *Volume) PhysicalCenter() [3]float64 {
	return v.IndexToPhysical(
		float64(v.Width-1)/2,
		float64(v.Height-1)/2,
		float64(v.Depth-1)/2,
	)
}

// MinSpacing returns the smallest spacing component, used to size
// finite-difference steps in physical units.
func (v *Volume) MinSpacing() float64 {
	s := v.Spacing[0]
	if v.Spacing[1] < s {
		s = v.Spacing[1]
	}
	if v.Spacing[2] < s {
		s = v.Spacing[2]
	}
	return s
}

// Clone returns a deep copy of the volume sharing no data with the
// original. Geometry matrices are copied as well.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Width, v.Height, v.Depth, v.Spacing, v.Origin, mat.DenseCopyOf(v.Direction))
	copy(out.Data, v.Data)
	return out
}

// Mask is a binary volume restricting where a metric samples. A voxel
// participates when its value is strictly positive. The mask shares the
// grid definition of the volume it guards but never owns it.
type Mask struct {
	*Volume
}

// NewMask wraps a volume as a mask.
func NewMask(v *Volume) *Mask {
	return &Mask{Volume: v}
}

// InsidePhysical reports whether a physical point falls on a positive
// mask voxel. Points outside the mask grid are excluded.
func (m *Mask) InsidePhysical(p [3]float64) bool {
	idx := m.PhysicalToIndex(p)
	x := int(idx[0] + 0.5)
	y := int(idx[1] + 0.5)
	z := int(idx[2] + 0.5)
	if !m.Contains(x, y, z) {
		return false
	}
	return m.At(x, y, z) > 0
}
