// Package visualization renders registration results for visual quality
// control: grayscale slice exports and checkerboard composites of the
// fixed volume against the resampled moving volume, where residual
// misalignment shows up as broken edges at the tile seams.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"volreg3d/internal/models"
)

// Default checkerboard tile edge in voxels.
const defaultTileSize = 8

// Viewer renders slices of a fixed volume and the warped moving volume
// resampled onto its grid. Both volumes must share dimensions.
type Viewer struct {
	fixed  *models.Volume
	warped *models.Volume

	// tileSize is the checkerboard tile edge in voxels
	tileSize int

	// Intensity window for display, derived from the fixed volume
	lo, hi float64
}

// NewViewer creates a viewer over a fixed volume and a warped moving
// volume on the same grid.
func NewViewer(fixed, warped *models.Volume) (*Viewer, error) {
	if fixed == nil || warped == nil {
		return nil, fmt.Errorf("visualization: both volumes are required")
	}
	if fixed.Width != warped.Width || fixed.Height != warped.Height || fixed.Depth != warped.Depth {
		return nil, fmt.Errorf("visualization: volume dimensions differ: %dx%dx%d vs %dx%dx%d",
			fixed.Width, fixed.Height, fixed.Depth, warped.Width, warped.Height, warped.Depth)
	}
	v := &Viewer{fixed: fixed, warped: warped, tileSize: defaultTileSize}
	v.lo, v.hi = intensityWindow(fixed)
	return v, nil
}

// SetTileSize overrides the checkerboard tile edge; sizes below 1 are
// ignored.
func (v *Viewer) SetTileSize(size int) {
	if size >= 1 {
		v.tileSize = size
	}
}

// intensityWindow finds the display range of a volume.
func intensityWindow(vol *models.Volume) (lo, hi float64) {
	lo, hi = vol.Data[0], vol.Data[0]
	for _, d := range vol.Data {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// gray maps an intensity into the 16-bit display window.
func (v *Viewer) gray(val float64) color.Gray16 {
	t := (val - v.lo) / (v.hi - v.lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return color.Gray16{Y: uint16(t * 65535)}
}

// ExtractSlice renders one axial (z) slice of either volume.
// Source "fixed" or "warped" selects the volume.
func (v *Viewer) ExtractSlice(source string, position int) (image.Image, error) {
	vol, err := v.pick(source)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= vol.Depth {
		return nil, fmt.Errorf("visualization: position %d exceeds depth %d", position, vol.Depth)
	}
	img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
		}
	}
	return img, nil
}

// CheckerboardSlice renders one axial slice alternating fixed and warped
// tiles. Well-registered volumes produce continuous anatomy across tile
// boundaries.
func (v *Viewer) CheckerboardSlice(position int) (image.Image, error) {
	if position < 0 || position >= v.fixed.Depth {
		return nil, fmt.Errorf("visualization: position %d exceeds depth %d", position, v.fixed.Depth)
	}
	img := image.NewGray16(image.Rect(0, 0, v.fixed.Width, v.fixed.Height))
	for y := 0; y < v.fixed.Height; y++ {
		for x := 0; x < v.fixed.Width; x++ {
			src := v.fixed
			if (x/v.tileSize+y/v.tileSize)%2 == 1 {
				src = v.warped
			}
			img.SetGray16(x, y, v.gray(src.At(x, y, position)))
		}
	}
	return img, nil
}

// DifferenceSlice renders the absolute fixed-minus-warped residual of one
// axial slice; a dark image means good agreement.
func (v *Viewer) DifferenceSlice(position int) (image.Image, error) {
	if position < 0 || position >= v.fixed.Depth {
		return nil, fmt.Errorf("visualization: position %d exceeds depth %d", position, v.fixed.Depth)
	}
	img := image.NewGray16(image.Rect(0, 0, v.fixed.Width, v.fixed.Height))
	for y := 0; y < v.fixed.Height; y++ {
		for x := 0; x < v.fixed.Width; x++ {
			d := v.fixed.At(x, y, position) - v.warped.At(x, y, position)
			if d < 0 {
				d = -d
			}
			img.SetGray16(x, y, v.gray(v.lo+d))
		}
	}
	return img, nil
}

func (v *Viewer) pick(source string) (*models.Volume, error) {
	switch source {
	case "fixed":
		return v.fixed, nil
	case "warped":
		return v.warped, nil
	default:
		return nil, fmt.Errorf("visualization: invalid source: %s (must be fixed or warped)", source)
	}
}

// SaveSlice saves a rendered slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveCheckerboardSequence writes a checkerboard JPEG for every axial
// slice into outputDir.
func (v *Viewer) SaveCheckerboardSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for pos := 0; pos < v.fixed.Depth; pos++ {
		img, err := v.CheckerboardSlice(pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("checker_z_%03d.jpg", pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}
