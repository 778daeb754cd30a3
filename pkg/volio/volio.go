// Package volio persists volumes and transforms: a YAML geometry header
// next to a raw little-endian float64 data file for volumes, and a plain
// YAML document for transforms.
package volio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"volreg3d/internal/models"
	"volreg3d/pkg/transform"
)

// header is the YAML volume geometry descriptor. DataFile is relative to
// the header's directory.
type header struct {
	Width     int        `yaml:"width"`
	Height    int        `yaml:"height"`
	Depth     int        `yaml:"depth"`
	Spacing   [3]float64 `yaml:"spacing"`
	Origin    [3]float64 `yaml:"origin"`
	Direction [9]float64 `yaml:"direction"`
	DataFile  string     `yaml:"dataFile"`
}

// rawName derives the data filename from the header path.
func rawName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return base + ".raw"
}

// SaveVolume writes the geometry header to path and the voxel data to a
// sibling .raw file.
func SaveVolume(path string, v *models.Volume) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	h := header{
		Width:    v.Width,
		Height:   v.Height,
		Depth:    v.Depth,
		Spacing:  v.Spacing,
		Origin:   v.Origin,
		DataFile: rawName(path),
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Direction[3*i+j] = v.Direction.At(i, j)
		}
	}
	data, err := yaml.Marshal(&h)
	if err != nil {
		return fmt.Errorf("error marshaling volume header: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing volume header: %w", err)
	}

	raw := make([]byte, 8*len(v.Data))
	for i, d := range v.Data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(d))
	}
	rawPath := filepath.Join(filepath.Dir(path), h.DataFile)
	if err := os.WriteFile(rawPath, raw, 0644); err != nil {
		return fmt.Errorf("error writing volume data: %w", err)
	}
	return nil
}

// LoadVolume reads a volume written by SaveVolume.
func LoadVolume(path string) (*models.Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading volume header: %w", err)
	}
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("error parsing volume header: %w", err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 {
		return nil, fmt.Errorf("volume header has invalid dimensions %dx%dx%d", h.Width, h.Height, h.Depth)
	}

	rawPath := filepath.Join(filepath.Dir(path), h.DataFile)
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("error reading volume data: %w", err)
	}
	n := h.Width * h.Height * h.Depth
	if len(raw) != 8*n {
		return nil, fmt.Errorf("volume data is %d bytes, expected %d", len(raw), 8*n)
	}

	dir := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dir.Set(i, j, h.Direction[3*i+j])
		}
	}
	v := models.NewVolume(h.Width, h.Height, h.Depth, h.Spacing, h.Origin, dir)
	for i := range v.Data {
		v.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return v, nil
}

// LoadMask reads a volume and wraps it as a mask; any voxel above zero is
// inside.
func LoadMask(path string) (*models.Mask, error) {
	v, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	return &models.Mask{Volume: v}, nil
}

// transformDoc is the YAML transform representation: the seven moving
// parameters and the fixed block of center plus direction cosines.
type transformDoc struct {
	Parameters      []float64 `yaml:"parameters"`
	FixedParameters []float64 `yaml:"fixedParameters"`
}

// SaveTransform writes a transform as YAML.
func SaveTransform(path string, t *transform.InplaneSimilarity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	doc := transformDoc{
		Parameters:      t.Parameters(),
		FixedParameters: t.FixedParameters(),
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("error marshaling transform: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing transform: %w", err)
	}
	return nil
}

// LoadTransform reads a transform written by SaveTransform.
func LoadTransform(path string) (*transform.InplaneSimilarity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading transform: %w", err)
	}
	var doc transformDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing transform: %w", err)
	}
	if len(doc.FixedParameters) != 12 {
		return nil, fmt.Errorf("transform has %d fixed parameters, expected 12", len(doc.FixedParameters))
	}

	dir := mat.NewDense(3, 3, doc.FixedParameters[3:12])
	t := transform.New(dir)
	t.SetCenter([3]float64{doc.FixedParameters[0], doc.FixedParameters[1], doc.FixedParameters[2]})
	if err := t.SetParameters(doc.Parameters); err != nil {
		return nil, err
	}
	return t, nil
}

// Adapter satisfies the registration package's persistence surface with
// this package's formats.
type Adapter struct{}

// SaveVolume implements registration.IOAdapter.
func (Adapter) SaveVolume(path string, v *models.Volume) error {
	return SaveVolume(path, v)
}

// SaveTransform implements registration.IOAdapter.
func (Adapter) SaveTransform(path string, t *transform.InplaneSimilarity) error {
	return SaveTransform(path, t)
}
