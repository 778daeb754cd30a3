package interp

import (
	"math"
	"sync"

	"volreg3d/internal/models"
)

// BSpline reconstructs intensities with a cubic B-spline. The volume is
// prefiltered into B-spline coefficients on first use (Unser's recursive
// causal/anticausal filter) so that the reconstruction interpolates the
// original samples exactly; coefficients are cached per volume.
type BSpline struct {
	mu    sync.Mutex
	cache map[*models.Volume][]float64
}

// NewBSpline creates a cubic B-spline interpolator.
func NewBSpline() *BSpline {
	return &BSpline{cache: make(map[*models.Volume][]float64)}
}

// cubic B-spline pole for the coefficient prefilter.
const bsplinePole = -0.26794919243112270647 // sqrt(3) - 2

// Sample implements Interpolator.
func (b *BSpline) Sample(v *models.Volume, p [3]float64) float64 {
	idx := v.PhysicalToIndex(p)
	if !v.ContainsContinuous(idx[0], idx[1], idx[2]) {
		return 0
	}
	coeff := b.coefficients(v)

	var wx, wy, wz [4]float64
	x0 := kernelWeights(idx[0], &wx)
	y0 := kernelWeights(idx[1], &wy)
	z0 := kernelWeights(idx[2], &wz)

	var acc float64
	for dz := 0; dz < 4; dz++ {
		z := mirror(z0+dz, v.Depth)
		for dy := 0; dy < 4; dy++ {
			y := mirror(y0+dy, v.Height)
			wyz := wy[dy] * wz[dz]
			row := z*v.Width*v.Height + y*v.Width
			for dx := 0; dx < 4; dx++ {
				x := mirror(x0+dx, v.Width)
				acc += wx[dx] * wyz * coeff[row+x]
			}
		}
	}
	return acc
}

// kernelWeights computes the four cubic B-spline weights covering the
// continuous index t and returns the first support index.
func kernelWeights(t float64, w *[4]float64) int {
	i := int(math.Floor(t))
	f := t - float64(i)
	omf := 1 - f
	w[0] = omf * omf * omf / 6
	w[1] = (4 - 6*f*f + 3*f*f*f) / 6
	w[2] = (1 + 3*f + 3*f*f - 3*f*f*f) / 6
	w[3] = f * f * f / 6
	return i - 1
}

// mirror reflects an index into [0, n) with mirror boundary conditions.
func mirror(i, n int) int {
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

// coefficients returns the prefiltered B-spline coefficient grid for the
// volume, computing and caching it on first use.
func (b *BSpline) coefficients(v *models.Volume) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.cache[v]; ok {
		return c
	}
	c := make([]float64, len(v.Data))
	copy(c, v.Data)

	line := make([]float64, maxInt(v.Width, maxInt(v.Height, v.Depth)))

	// Filter along x.
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			base := z*v.Width*v.Height + y*v.Width
			for x := 0; x < v.Width; x++ {
				line[x] = c[base+x]
			}
			filterLine(line[:v.Width])
			for x := 0; x < v.Width; x++ {
				c[base+x] = line[x]
			}
		}
	}
	// Filter along y.
	for z := 0; z < v.Depth; z++ {
		for x := 0; x < v.Width; x++ {
			base := z*v.Width*v.Height + x
			for y := 0; y < v.Height; y++ {
				line[y] = c[base+y*v.Width]
			}
			filterLine(line[:v.Height])
			for y := 0; y < v.Height; y++ {
				c[base+y*v.Width] = line[y]
			}
		}
	}
	// Filter along z.
	stride := v.Width * v.Height
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			base := y*v.Width + x
			for z := 0; z < v.Depth; z++ {
				line[z] = c[base+z*stride]
			}
			filterLine(line[:v.Depth])
			for z := 0; z < v.Depth; z++ {
				c[base+z*stride] = line[z]
			}
		}
	}

	b.cache[v] = c
	return c
}

// filterLine runs the causal/anticausal recursive prefilter in place on
// one grid line.
func filterLine(line []float64) {
	n := len(line)
	if n < 2 {
		return
	}
	const pole = bsplinePole
	gain := (1 - pole) * (1 - 1/pole)

	// Causal initialization by mirrored horner sum.
	horizon := n
	if h := int(math.Ceil(math.Log(1e-10) / math.Log(math.Abs(pole)))); h < horizon {
		horizon = h
	}
	zn := pole
	sum := line[0]
	for i := 1; i < horizon; i++ {
		sum += zn * line[i]
		zn *= pole
	}
	line[0] = gain * sum
	for i := 1; i < n; i++ {
		line[i] = gain*line[i] + pole*line[i-1]
	}
	// Anticausal initialization and sweep.
	line[n-1] = (pole / (pole*pole - 1)) * (pole*line[n-2] + line[n-1])
	for i := n - 2; i >= 0; i-- {
		line[i] = pole * (line[i+1] - line[i])
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
