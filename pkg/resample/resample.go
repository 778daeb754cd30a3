// Package resample provides the grid operations around the registration
// core: Gaussian smoothing, shrinking for the resolution pyramid, and
// resampling the moving volume onto the fixed grid through a transform.
package resample

import (
	"math"
	"sync"

	"volreg3d/internal/models"
	"volreg3d/pkg/interp"
	"volreg3d/pkg/transform"
)

// SmoothGaussian returns a copy of v blurred with an isotropic Gaussian
// of the given physical sigma in mm. Sigma <= 0 returns an unmodified
// clone. Boundaries are mirrored.
func SmoothGaussian(v *models.Volume, sigma float64) *models.Volume {
	out := v.Clone()
	if sigma <= 0 {
		return out
	}
	src := make([]float64, len(out.Data))

	dims := [3]int{v.Width, v.Height, v.Depth}
	strides := [3]int{1, v.Width, v.Width * v.Height}
	for axis := 0; axis < 3; axis++ {
		kernel := gaussKernel(sigma / v.Spacing[axis])
		if kernel == nil {
			continue
		}
		copy(src, out.Data)
		smoothAxis(src, out.Data, dims, strides, axis, kernel)
	}
	return out
}

// gaussKernel builds a normalized 1D Gaussian of the given sigma in voxel
// units, truncated at 3 sigma. A sub-voxel sigma yields nil: nothing
// worth blurring.
func gaussKernel(sigmaVox float64) []float64 {
	radius := int(math.Ceil(3 * sigmaVox))
	if radius < 1 {
		return nil
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigmaVox * sigmaVox))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smoothAxis convolves src into dst along one axis with mirror
// boundaries.
func smoothAxis(src, dst []float64, dims [3]int, strides [3]int, axis int, kernel []float64) {
	radius := (len(kernel) - 1) / 2
	n := dims[axis]
	stride := strides[axis]

	// The two axes orthogonal to the filtered one.
	oa, ob := (axis+1)%3, (axis+2)%3
	for a := 0; a < dims[oa]; a++ {
		for bIdx := 0; bIdx < dims[ob]; bIdx++ {
			base := a*strides[oa] + bIdx*strides[ob]
			for i := 0; i < n; i++ {
				var acc float64
				for k := -radius; k <= radius; k++ {
					j := reflect(i+k, n)
					acc += kernel[k+radius] * src[base+j*stride]
				}
				dst[base+i*stride] = acc
			}
		}
	}
}

// reflect mirrors an index into [0, n).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i = ((i % period) + period) % period
	if i >= n {
		i = period - i
	}
	return i
}

// Shrink subsamples v by an integer factor per axis. The spacing scales
// by the factor and the origin shifts to the center of the new first
// voxel, so physical positions are preserved. Factor 1 returns a clone.
func Shrink(v *models.Volume, factor int) *models.Volume {
	if factor <= 1 {
		return v.Clone()
	}
	w := maxInt(1, v.Width/factor)
	h := maxInt(1, v.Height/factor)
	d := maxInt(1, v.Depth/factor)

	spacing := [3]float64{
		v.Spacing[0] * float64(factor),
		v.Spacing[1] * float64(factor),
		v.Spacing[2] * float64(factor),
	}
	// The new first voxel center lies (factor-1)/2 old voxels inside the
	// grid along each axis, rotated into physical space.
	half := float64(factor-1) / 2
	var shift [3]float64
	for r := 0; r < 3; r++ {
		shift[r] = v.Direction.At(r, 0)*v.Spacing[0]*half +
			v.Direction.At(r, 1)*v.Spacing[1]*half +
			v.Direction.At(r, 2)*v.Spacing[2]*half
	}
	origin := [3]float64{v.Origin[0] + shift[0], v.Origin[1] + shift[1], v.Origin[2] + shift[2]}

	out := models.NewVolume(w, h, d, spacing, origin, v.Direction)
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(x, y, z, v.At(x*factor, y*factor, z*factor))
			}
		}
	}
	return out
}

// ShrinkMask shrinks a mask by nearest-voxel subsampling so it stays
// binary.
func ShrinkMask(m *models.Mask, factor int) *models.Mask {
	if m == nil {
		return nil
	}
	return &models.Mask{Volume: Shrink(m.Volume, factor)}
}

// Resample maps the moving volume onto the reference grid through the
// transform: every reference voxel takes the interpolated moving
// intensity at its transformed physical position. Slices are resampled
// concurrently.
func Resample(moving, ref *models.Volume, tfm *transform.InplaneSimilarity, itp interp.Interpolator) *models.Volume {
	out := models.NewVolume(ref.Width, ref.Height, ref.Depth, ref.Spacing, ref.Origin, ref.Direction)

	var wg sync.WaitGroup
	for z := 0; z < ref.Depth; z++ {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			for y := 0; y < ref.Height; y++ {
				for x := 0; x < ref.Width; x++ {
					p := ref.IndexToPhysical(float64(x), float64(y), float64(z))
					out.Set(x, y, z, itp.Sample(moving, tfm.Apply(p)))
				}
			}
		}(z)
	}
	wg.Wait()
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
