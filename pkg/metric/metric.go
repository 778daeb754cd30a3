// Package metric implements the image similarity measures driving the
// registration search: mean squares, normalized cross correlation, Mattes
// mutual information and ANTS neighborhood correlation. Every metric is
// expressed in minimization convention and reports both its value and its
// gradient with respect to the transform's moving parameters.
package metric

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/rand"

	"volreg3d/internal/models"
	"volreg3d/pkg/interp"
	"volreg3d/pkg/transform"
)

// ErrTooFewSamples reports that too many sample points mapped outside the
// moving volume (or its mask) for the metric value to be meaningful.
var ErrTooFewSamples = errors.New("too many sample points map outside the moving volume")

// Metric computes a similarity value and its parameter gradient for the
// current state of a binding. Lower values always mean better alignment.
type Metric interface {
	Evaluate(b *Binding) (value float64, gradient []float64, err error)
}

// SamplingOptions controls how a binding draws its sample points from the
// fixed grid.
type SamplingOptions struct {
	// MaxSamples caps the number of sample points; 0 means the full grid.
	MaxSamples int
	// Seed feeds the subset draw so repeated runs sample identically.
	Seed uint64
}

// Binding is the read-only association of the two volumes, their optional
// masks, the interpolator and the current transform that a metric
// evaluates against. The sample point set is frozen at construction so
// that every evaluation within one optimizer run sees the same points;
// it is rebuilt per pyramid level.
type Binding struct {
	Fixed      *models.Volume
	Moving     *models.Volume
	FixedMask  *models.Mask
	MovingMask *models.Mask
	Interp     interp.Interpolator
	Transform  *transform.InplaneSimilarity

	// points are the fixed-space physical sample positions, gridIdx the
	// voxel they came from, fixedValues the fixed intensity there.
	points      [][3]float64
	gridIdx     [][3]int
	fixedValues []float64

	minValid int
}

// NewBinding builds a binding, drawing sample points from the fixed grid.
// Voxels excluded by the fixed mask never become samples.
func NewBinding(fixed, moving *models.Volume, fixedMask, movingMask *models.Mask,
	itp interp.Interpolator, tfm *transform.InplaneSimilarity, opts SamplingOptions) (*Binding, error) {

	b := &Binding{
		Fixed:      fixed,
		Moving:     moving,
		FixedMask:  fixedMask,
		MovingMask: movingMask,
		Interp:     itp,
		Transform:  tfm,
	}

	total := fixed.Width * fixed.Height * fixed.Depth
	candidates := make([]int, 0, total)
	for z := 0; z < fixed.Depth; z++ {
		for y := 0; y < fixed.Height; y++ {
			for x := 0; x < fixed.Width; x++ {
				if fixedMask != nil && fixedMask.At(x, y, z) <= 0 {
					continue
				}
				candidates = append(candidates, z*fixed.Width*fixed.Height+y*fixed.Width+x)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("metric: fixed mask excludes every voxel")
	}

	if opts.MaxSamples > 0 && len(candidates) > opts.MaxSamples {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:opts.MaxSamples]
		sort.Ints(candidates)
	}

	b.points = make([][3]float64, len(candidates))
	b.gridIdx = make([][3]int, len(candidates))
	b.fixedValues = make([]float64, len(candidates))
	wh := fixed.Width * fixed.Height
	for i, flat := range candidates {
		z := flat / wh
		y := (flat % wh) / fixed.Width
		x := flat % fixed.Width
		b.gridIdx[i] = [3]int{x, y, z}
		b.points[i] = fixed.IndexToPhysical(float64(x), float64(y), float64(z))
		b.fixedValues[i] = fixed.At(x, y, z)
	}

	b.minValid = len(b.points) / 4
	if b.minValid < 16 {
		b.minValid = 16
	}
	if b.minValid > len(b.points) {
		b.minValid = len(b.points)
	}
	return b, nil
}

// NumSamples returns the number of frozen sample points.
func (b *Binding) NumSamples() int { return len(b.points) }

// SamplePoints exposes the frozen fixed-space sample positions; callers
// must not mutate the returned slice.
func (b *Binding) SamplePoints() [][3]float64 { return b.points }

// validAt maps sample i through the current transform and reports whether
// it lands inside the moving volume and its mask.
func (b *Binding) validAt(i int) ([3]float64, bool) {
	y := b.Transform.Apply(b.points[i])
	if !b.Moving.ContainsPhysical(y) {
		return y, false
	}
	if b.MovingMask != nil && !b.MovingMask.InsidePhysical(y) {
		return y, false
	}
	return y, true
}

// checkValid turns a valid-sample count into the shared failure mode.
func (b *Binding) checkValid(valid int) error {
	if valid < b.minValid {
		return fmt.Errorf("%w: %d of %d samples valid (minimum %d)",
			ErrTooFewSamples, valid, len(b.points), b.minValid)
	}
	return nil
}

// movingGradientAt estimates the spatial intensity gradient of the moving
// volume at a physical point by central differences through the
// interpolator.
func (b *Binding) movingGradientAt(p [3]float64) [3]float64 {
	h := 0.5 * b.Moving.MinSpacing()
	var g [3]float64
	for axis := 0; axis < 3; axis++ {
		plus := p
		minus := p
		plus[axis] += h
		minus[axis] -= h
		g[axis] = (b.Interp.Sample(b.Moving, plus) - b.Interp.Sample(b.Moving, minus)) / (2 * h)
	}
	return g
}

// numericalGradient fills grad with a central-difference estimate of
// d(value)/d(params) using the supplied value function. The transform is
// restored to its entry state before returning. Metrics whose analytic
// parameter derivative is impractical (Parzen-window MI, neighborhood
// correlation) use this with their frozen sample set, which keeps the
// estimate deterministic.
func numericalGradient(b *Binding, value func() (float64, error), grad []float64) error {
	p := b.Transform.Parameters()
	defer b.Transform.SetParameters(p)

	for j := range p {
		delta := 1e-3 * (1 + absf(p[j]))
		pj := p[j]

		p[j] = pj + delta
		if err := b.Transform.SetParameters(p); err != nil {
			return err
		}
		vPlus, err := value()
		if err != nil {
			return err
		}

		p[j] = pj - delta
		if err := b.Transform.SetParameters(p); err != nil {
			return err
		}
		vMinus, err := value()
		if err != nil {
			return err
		}

		p[j] = pj
		grad[j] = (vPlus - vMinus) / (2 * delta)
	}
	return nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
