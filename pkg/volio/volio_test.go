package volio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"

	"volreg3d/internal/models"
	"volreg3d/pkg/transform"
)

// TestVolumeRoundTrip verifies geometry and voxel data survive a
// save/load cycle exactly
func TestVolumeRoundTrip(t *testing.T) {
	dir := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	v := models.NewVolume(4, 3, 2, [3]float64{0.8, 1.25, 3}, [3]float64{-5, 2, 7}, dir)
	for i := range v.Data {
		v.Data[i] = math.Sqrt(float64(i)) - 2
	}

	path := filepath.Join(t.TempDir(), "vol.yaml")
	require.NoError(t, SaveVolume(path, v))

	loaded, err := LoadVolume(path)
	require.NoError(t, err)
	require.Equal(t, v.Width, loaded.Width)
	require.Equal(t, v.Height, loaded.Height)
	require.Equal(t, v.Depth, loaded.Depth)
	require.Equal(t, v.Spacing, loaded.Spacing)
	require.Equal(t, v.Origin, loaded.Origin)
	require.Equal(t, v.Data, loaded.Data)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			require.Equal(t, v.Direction.At(i, j), loaded.Direction.At(i, j))
		}
	}
}

// TestLoadVolumeMissing verifies a missing header is an error
func TestLoadVolumeMissing(t *testing.T) {
	_, err := LoadVolume(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// TestLoadMask verifies mask loading wraps the volume
func TestLoadMask(t *testing.T) {
	v := models.NewVolume(2, 2, 2, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	v.Set(1, 1, 1, 1)
	path := filepath.Join(t.TempDir(), "mask.yaml")
	require.NoError(t, SaveVolume(path, v))

	m, err := LoadMask(path)
	require.NoError(t, err)
	require.True(t, m.InsidePhysical([3]float64{1, 1, 1}))
	require.False(t, m.InsidePhysical([3]float64{0, 0, 0}))
}

// TestTransformRoundTrip verifies the moving and fixed parameter blocks
// survive persistence exactly
func TestTransformRoundTrip(t *testing.T) {
	fixed := models.NewVolume(8, 8, 8, [3]float64{1, 1, 1}, [3]float64{0, 0, 0}, nil)
	moving := models.NewVolume(8, 8, 8, [3]float64{1, 1, 1}, [3]float64{3, -2, 1}, nil)
	tr := transform.NewFromGeometry(fixed, moving)
	params := tr.Parameters()
	params[0] = 0.05
	params[6] = 1.02
	require.NoError(t, tr.SetParameters(params))

	path := filepath.Join(t.TempDir(), "transform.yaml")
	require.NoError(t, SaveTransform(path, tr))

	loaded, err := LoadTransform(path)
	require.NoError(t, err)
	require.Equal(t, tr.Parameters(), loaded.Parameters())
	require.Equal(t, tr.FixedParameters(), loaded.FixedParameters())

	// The reloaded transform must map points identically.
	p := [3]float64{2.5, 6, 1}
	require.Equal(t, tr.Apply(p), loaded.Apply(p))
}

// TestLoadTransformRejectsShortFixedBlock verifies the fixed block length
// check
func TestLoadTransformRejectsShortFixedBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parameters: [0,0,0,0,0,0,1]\nfixedParameters: [1,2,3]\n"), 0644))
	_, err := LoadTransform(path)
	require.Error(t, err)
}
