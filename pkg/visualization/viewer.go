// Package visualization renders quality-control slices of region masks
// over a background image.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"path/filepath"

	"localcsf/internal/fsutil"
	"localcsf/internal/models"
)

// Overlay colours used for the local CSF QC images.
var (
	ROIColor      = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	RingColor     = color.RGBA{R: 240, G: 220, B: 40, A: 255}
	LocalCSFColor = color.RGBA{R: 40, G: 220, B: 230, A: 255}
)

// overlay is a mask painted in a solid colour on top of the background.
type overlay struct {
	mask  models.BinaryMask
	color color.RGBA
}

// Viewer draws axis-aligned slices of a 3-D background volume with mask
// overlays. Overlays are painted in the order they were added.
type Viewer struct {
	grid       models.Grid
	background []float64

	// display range of the background
	lo, hi float64

	overlays []overlay
}

// NewViewer creates a viewer for a background image on grid g, such as
// the temporal mean of a functional run.
func NewViewer(g models.Grid, background []float64) (*Viewer, error) {
	if len(background) != g.NumVoxels() {
		return nil, fmt.Errorf("background has %d values for %d voxels", len(background), g.NumVoxels())
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range background {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		lo, hi = 0, 0
	}
	return &Viewer{grid: g, background: background, lo: lo, hi: hi}, nil
}

// AddOverlay paints m in colour c on every slice. The mask must share the
// viewer's grid.
func (v *Viewer) AddOverlay(m models.BinaryMask, c color.RGBA) error {
	if !m.Grid.Equal(v.grid) {
		return &models.GridError{Op: "add overlay", Reason: fmt.Sprintf("mask grid %s differs from background grid %s", m.Grid, v.grid)}
	}
	v.overlays = append(v.overlays, overlay{mask: m, color: c})
	return nil
}

func (v *Viewer) pixel(idx int) color.RGBA {
	for i := len(v.overlays) - 1; i >= 0; i-- {
		if v.overlays[i].mask.Data[idx] {
			return v.overlays[i].color
		}
	}
	var g uint8
	if v.hi > v.lo {
		value := v.background[idx]
		if !math.IsNaN(value) {
			g = uint8(math.Max(0, math.Min(255, (value-v.lo)/(v.hi-v.lo)*255)))
		}
	}
	return color.RGBA{R: g, G: g, B: g, A: 255}
}

// ExtractSlice extracts a 2D slice through the volume along the specified
// axis. Image rows run from high to low voxel index so that the superior
// (or anterior) side is at the top.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	nx, ny, nz := v.grid.Shape[0], v.grid.Shape[1], v.grid.Shape[2]

	var img *image.RGBA
	switch axis {
	case "x", "X":
		// sagittal: y across, z up
		if position >= nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, nx)
		}
		img = image.NewRGBA(image.Rect(0, 0, ny, nz))
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				img.SetRGBA(y, nz-1-z, v.pixel(v.grid.Index(position, y, z)))
			}
		}

	case "y", "Y":
		// coronal: x across, z up
		if position >= ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, ny)
		}
		img = image.NewRGBA(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetRGBA(x, nz-1-z, v.pixel(v.grid.Index(x, position, z)))
			}
		}

	case "z", "Z":
		// axial: x across, y up
		if position >= nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, nz)
		}
		img = image.NewRGBA(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetRGBA(x, ny-1-y, v.pixel(v.grid.Index(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return fsutil.WriteAtomic(filename, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	})
}

// SaveOrthogonalSlices writes the sagittal, coronal and axial slices through
// voxel (x, y, z) as <prefix>_{x,y,z}.jpg in outputDir and returns the paths.
func (v *Viewer) SaveOrthogonalSlices(outputDir, prefix string, x, y, z int) ([]string, error) {
	var paths []string
	for _, s := range []struct {
		axis string
		pos  int
	}{{"x", x}, {"y", y}, {"z", z}} {
		img, err := v.ExtractSlice(s.axis, s.pos)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, s.axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.grid.Shape[0]
	case "y", "Y":
		maxPos = v.grid.Shape[1]
	case "z", "Z":
		maxPos = v.grid.Shape[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// CentroidVoxel rounds the centroid of m to the nearest voxel, for choosing
// the slices to render. ok is false for an empty mask.
func CentroidVoxel(m models.BinaryMask) (x, y, z int, ok bool) {
	cx, cy, cz, ok := m.Centroid()
	if !ok {
		return 0, 0, 0, false
	}
	return int(math.Round(cx)), int(math.Round(cy)), int(math.Round(cz)), true
}
