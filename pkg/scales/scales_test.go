package scales

import (
	"math"
	"testing"

	"volreg3d/internal/models"
	"volreg3d/pkg/interp"
	"volreg3d/pkg/metric"
	"volreg3d/pkg/transform"
)

// testBinding builds a small identity binding for estimation.
func testBinding(t *testing.T, spacing [3]float64) *metric.Binding {
	t.Helper()
	v := models.NewVolume(10, 10, 10, spacing, [3]float64{0, 0, 0}, nil)
	for i := range v.Data {
		v.Data[i] = float64(i % 17)
	}
	b, err := metric.NewBinding(v, v, nil, nil, interp.NewLinear(),
		transform.NewFromGeometry(v, v), metric.SamplingOptions{})
	if err != nil {
		t.Fatalf("NewBinding failed: %v", err)
	}
	return b
}

// TestEstimatorsStrictlyPositive verifies every estimator returns seven
// positive weights
func TestEstimatorsStrictlyPositive(t *testing.T) {
	b := testBinding(t, [3]float64{1, 1, 1})

	estimators := []Estimator{NewPhysicalShift(), NewIndexShift(), NewJacobian()}
	for i, e := range estimators {
		s, err := e.Estimate(b)
		if err != nil {
			t.Fatalf("Estimator %d failed: %v", i, err)
		}
		if len(s) != transform.NumParameters {
			t.Fatalf("Estimator %d returned %d scales, want %d", i, len(s), transform.NumParameters)
		}
		for j, v := range s {
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("Estimator %d scale[%d] = %g, want strictly positive and finite", i, j, v)
			}
		}
	}
}

// TestPhysicalShiftTranslationUnit verifies a unit translation step moves
// every point by exactly one unit, so translation scales are 1
func TestPhysicalShiftTranslationUnit(t *testing.T) {
	b := testBinding(t, [3]float64{1, 1, 1})

	s, err := NewPhysicalShift().Estimate(b)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	for j := 3; j < 6; j++ {
		if math.Abs(s[j]-1) > 1e-6 {
			t.Errorf("Translation scale[%d] = %g, want 1", j, s[j])
		}
	}
	// Rotation scales must exceed translation scales: the grid's corners
	// sit several units from the center.
	for j := 0; j < 3; j++ {
		if s[j] <= s[3] {
			t.Errorf("Rotation scale[%d] = %g, expected above the translation scale", j, s[j])
		}
	}
}

// TestIndexShiftRespectsSpacing verifies translation scales grow along
// axes with finer spacing, where one mm crosses more voxels
func TestIndexShiftRespectsSpacing(t *testing.T) {
	b := testBinding(t, [3]float64{0.5, 1, 2})

	s, err := NewIndexShift().Estimate(b)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	// A 1 mm x-step crosses 2 voxels, a 1 mm z-step half a voxel.
	if math.Abs(s[3]-4) > 1e-6 {
		t.Errorf("Index-shift x translation scale = %g, want 4", s[3])
	}
	if math.Abs(s[5]-0.25) > 1e-6 {
		t.Errorf("Index-shift z translation scale = %g, want 0.25", s[5])
	}
}

// TestJacobianTranslationUnit verifies the Jacobian estimator weighs
// translations at exactly one
func TestJacobianTranslationUnit(t *testing.T) {
	b := testBinding(t, [3]float64{1, 1, 1})

	s, err := NewJacobian().Estimate(b)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	for j := 3; j < 6; j++ {
		if math.Abs(s[j]-1) > 1e-12 {
			t.Errorf("Jacobian translation scale[%d] = %g, want 1", j, s[j])
		}
	}
}

// TestEstimateRestoresTransform verifies the shift estimators leave the
// transform parameters untouched
func TestEstimateRestoresTransform(t *testing.T) {
	b := testBinding(t, [3]float64{1, 1, 1})
	before := b.Transform.Parameters()

	if _, err := NewPhysicalShift().Estimate(b); err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	after := b.Transform.Parameters()
	for j := range before {
		if before[j] != after[j] {
			t.Errorf("Parameter %d changed during estimation: %v -> %v", j, before[j], after[j])
		}
	}
}
