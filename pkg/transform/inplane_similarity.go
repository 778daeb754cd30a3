// Package transform implements the in-plane similarity 3D transform used
// to align slice stacks: a rigid-body motion (3 rotations, 3 translations)
// plus a single isotropic scale factor acting only within the slice plane
// of the fixed volume.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"volreg3d/internal/models"
)

// NumParameters is the number of optimized parameters: three Euler angles
// in radians, three translations in mm, and one in-plane scale factor.
const NumParameters = 7

// numFixedBase is the length of the base fixed-parameter block (the
// center of rotation). The full fixed block appends the 9 direction
// cosines of the fixed volume so the transform can reconstruct the
// in-plane axes without re-reading the volume.
const numFixedBase = 3

// InplaneSimilarity maps points from the fixed-volume physical space into
// the moving-volume physical space:
//
//	y = R(rx,ry,rz) * A(s) * (x - C) + C + t
//
// where A(s) = D * diag(s, s, 1) * D^T scales the two in-plane axes of
// the fixed direction matrix D, and R is the Euler rotation composed as
// Rz * Rx * Ry.
//
// The moving parameters are [rx, ry, rz, tx, ty, tz, s]. The fixed
// parameters are [Cx, Cy, Cz, D00..D22]; once constructed they are never
// altered by optimization.
type InplaneSimilarity struct {
	params [NumParameters]float64
	fixed  [numFixedBase + 9]float64

	// Caches derived from the current parameters.
	rot     *mat.Dense // R
	rotA    *mat.Dense // R * A
	dRot    [3]*mat.Dense
	dScaleA *mat.Dense // D * diag(1,1,0) * D^T
}

// New creates an identity in-plane similarity transform whose fixed block
// carries the given direction-cosine matrix. A nil direction means
// axis-aligned.
func New(direction *mat.Dense) *InplaneSimilarity {
	t := &InplaneSimilarity{}
	t.params[6] = 1 // scale
	if direction == nil {
		t.fixed[numFixedBase+0] = 1
		t.fixed[numFixedBase+4] = 1
		t.fixed[numFixedBase+8] = 1
	} else {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				t.fixed[numFixedBase+3*i+j] = direction.At(i, j)
			}
		}
	}
	t.recompute()
	return t
}

// NewFromGeometry builds a transform initialized from the geometry of
// the fixed and moving volumes: the center of rotation is the geometric
// center of the fixed volume, the initial translation aligns it with the
// geometric center of the moving volume, and the fixed block records the
// fixed volume's direction matrix.
func NewFromGeometry(fixed, moving *models.Volume) *InplaneSimilarity {
	t := New(fixed.Direction)
	fc := fixed.PhysicalCenter()
	mc := moving.PhysicalCenter()
	t.fixed[0] = fc[0]
	t.fixed[1] = fc[1]
	t.fixed[2] = fc[2]
	t.params[3] = mc[0] - fc[0]
	t.params[4] = mc[1] - fc[1]
	t.params[5] = mc[2] - fc[2]
	t.recompute()
	return t
}

// Parameters returns a copy of the moving parameter vector.
func (t *InplaneSimilarity) Parameters() []float64 {
	p := make([]float64, NumParameters)
	copy(p, t.params[:])
	return p
}

// SetParameters replaces the moving parameters. The fixed block is left
// untouched.
func (t *InplaneSimilarity) SetParameters(p []float64) error {
	if len(p) != NumParameters {
		return fmt.Errorf("transform: expected %d parameters, got %d", NumParameters, len(p))
	}
	copy(t.params[:], p)
	t.recompute()
	return nil
}

// FixedParameters returns a copy of the fixed block: center of rotation
// followed by the 9 direction cosines.
func (t *InplaneSimilarity) FixedParameters() []float64 {
	f := make([]float64, len(t.fixed))
	copy(f, t.fixed[:])
	return f
}

// Center returns the center of rotation.
func (t *InplaneSimilarity) Center() [3]float64 {
	return [3]float64{t.fixed[0], t.fixed[1], t.fixed[2]}
}

// SetCenter replaces the center of rotation in the fixed block.
func (t *InplaneSimilarity) SetCenter(c [3]float64) {
	t.fixed[0] = c[0]
	t.fixed[1] = c[1]
	t.fixed[2] = c[2]
}

// Translation returns the translation components of the parameters.
func (t *InplaneSimilarity) Translation() [3]float64 {
	return [3]float64{t.params[3], t.params[4], t.params[5]}
}

// Rotation returns the Euler angles in radians.
func (t *InplaneSimilarity) Rotation() [3]float64 {
	return [3]float64{t.params[0], t.params[1], t.params[2]}
}

// Scale returns the in-plane scale factor.
func (t *InplaneSimilarity) Scale() float64 {
	return t.params[6]
}

// Clone returns an independent copy of the transform.
func (t *InplaneSimilarity) Clone() *InplaneSimilarity {
	out := &InplaneSimilarity{params: t.params, fixed: t.fixed}
	out.recompute()
	return out
}

// direction returns the fixed direction matrix stored in the fixed block.
func (t *InplaneSimilarity) direction() *mat.Dense {
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, t.fixed[numFixedBase+3*i+j])
		}
	}
	return d
}

// recompute refreshes the cached rotation, scaling and derivative
// matrices after a parameter change.
func (t *InplaneSimilarity) recompute() {
	rx, ry, rz := t.params[0], t.params[1], t.params[2]
	s := t.params[6]

	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	rotX := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cx, -sx,
		0, sx, cx,
	})
	rotY := mat.NewDense(3, 3, []float64{
		cy, 0, sy,
		0, 1, 0,
		-sy, 0, cy,
	})
	rotZ := mat.NewDense(3, 3, []float64{
		cz, -sz, 0,
		sz, cz, 0,
		0, 0, 1,
	})
	dRotX := mat.NewDense(3, 3, []float64{
		0, 0, 0,
		0, -sx, -cx,
		0, cx, -sx,
	})
	dRotY := mat.NewDense(3, 3, []float64{
		-sy, 0, cy,
		0, 0, 0,
		-cy, 0, -sy,
	})
	dRotZ := mat.NewDense(3, 3, []float64{
		-sz, -cz, 0,
		cz, -sz, 0,
		0, 0, 0,
	})

	// R = Rz * Rx * Ry, the Euler composition of the rigid model.
	zx := mat.NewDense(3, 3, nil)
	zx.Mul(rotZ, rotX)
	t.rot = mat.NewDense(3, 3, nil)
	t.rot.Mul(zx, rotY)

	// Per-angle derivatives of R.
	t.dRot[0] = chain3(rotZ, dRotX, rotY)
	t.dRot[1] = chain3(zx, dRotY, nil)
	dzx := mat.NewDense(3, 3, nil)
	dzx.Mul(dRotZ, rotX)
	t.dRot[2] = chain3(dzx, rotY, nil)

	// A = D diag(s,s,1) D^T and its scale derivative D diag(1,1,0) D^T.
	d := t.direction()
	a := mat.NewDense(3, 3, nil)
	scaleDiag := mat.NewDense(3, 3, []float64{
		s, 0, 0,
		0, s, 0,
		0, 0, 1,
	})
	tmp := mat.NewDense(3, 3, nil)
	tmp.Mul(d, scaleDiag)
	a.Mul(tmp, d.T())

	t.dScaleA = mat.NewDense(3, 3, nil)
	inplaneDiag := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 0,
	})
	tmp.Mul(d, inplaneDiag)
	t.dScaleA.Mul(tmp, d.T())

	t.rotA = mat.NewDense(3, 3, nil)
	t.rotA.Mul(t.rot, a)
}

// chain3 multiplies up to three 3x3 matrices; c may be nil.
func chain3(a, b, c *mat.Dense) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	out.Mul(a, b)
	if c != nil {
		tmp := mat.NewDense(3, 3, nil)
		tmp.Mul(out, c)
		return tmp
	}
	return out
}

// Apply maps a fixed-space physical point into the moving space.
func (t *InplaneSimilarity) Apply(p [3]float64) [3]float64 {
	dx := p[0] - t.fixed[0]
	dy := p[1] - t.fixed[1]
	dz := p[2] - t.fixed[2]
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = t.rotA.At(r, 0)*dx + t.rotA.At(r, 1)*dy + t.rotA.At(r, 2)*dz +
			t.fixed[r] + t.params[3+r]
	}
	return out
}

// ParameterJacobian fills dst (3x7) with the derivative of the mapped
// point with respect to each moving parameter, evaluated at the
// fixed-space point p. dst may be nil, in which case a new matrix is
// allocated.
func (t *InplaneSimilarity) ParameterJacobian(p [3]float64, dst *mat.Dense) *mat.Dense {
	if dst == nil {
		dst = mat.NewDense(3, NumParameters, nil)
	}
	dx := p[0] - t.fixed[0]
	dy := p[1] - t.fixed[1]
	dz := p[2] - t.fixed[2]

	// Scaled offset A(x-C), shared by the rotation columns.
	s := t.params[6]
	d := t.direction()
	a := mat.NewDense(3, 3, nil)
	scaleDiag := mat.NewDense(3, 3, []float64{
		s, 0, 0,
		0, s, 0,
		0, 0, 1,
	})
	tmp := mat.NewDense(3, 3, nil)
	tmp.Mul(d, scaleDiag)
	a.Mul(tmp, d.T())
	var ax [3]float64
	for r := 0; r < 3; r++ {
		ax[r] = a.At(r, 0)*dx + a.At(r, 1)*dy + a.At(r, 2)*dz
	}

	// Rotation columns: dR/dtheta_k * A(x-C).
	for k := 0; k < 3; k++ {
		for r := 0; r < 3; r++ {
			dst.Set(r, k, t.dRot[k].At(r, 0)*ax[0]+t.dRot[k].At(r, 1)*ax[1]+t.dRot[k].At(r, 2)*ax[2])
		}
	}
	// Translation columns are the identity.
	for k := 0; k < 3; k++ {
		for r := 0; r < 3; r++ {
			if r == k {
				dst.Set(r, 3+k, 1)
			} else {
				dst.Set(r, 3+k, 0)
			}
		}
	}
	// Scale column: R * dA/ds * (x-C).
	var dax [3]float64
	for r := 0; r < 3; r++ {
		dax[r] = t.dScaleA.At(r, 0)*dx + t.dScaleA.At(r, 1)*dy + t.dScaleA.At(r, 2)*dz
	}
	for r := 0; r < 3; r++ {
		dst.Set(r, 6, t.rot.At(r, 0)*dax[0]+t.rot.At(r, 1)*dax[1]+t.rot.At(r, 2)*dax[2])
	}
	return dst
}
