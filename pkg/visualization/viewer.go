package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"mosaicsolvent/internal/models"
)

// Viewer renders slices of a region label volume. Each region id gets its
// own grey level; the macromolecule (id 0) is black.
type Viewer struct {
	// labels holds the region id of every grid point
	labels *models.LabelVolume

	// levels maps a region id to its grey level
	levels map[int]uint16
}

// NewViewer creates a viewer over labels. Grey levels are spread evenly over
// the ids present in the volume, in ascending id order.
func NewViewer(labels *models.LabelVolume) *Viewer {
	counts := labels.Counts()
	var ids []int
	for id := 1; id < len(counts); id++ {
		if counts[id] > 0 {
			ids = append(ids, id)
		}
	}
	levels := map[int]uint16{0: 0}
	for i, id := range ids {
		levels[id] = uint16(65535 * (i + 1) / len(ids))
	}
	return &Viewer{labels: labels, levels: levels}
}

// Level returns the grey level used for a region id.
func (v *Viewer) Level(id int) uint16 {
	return v.levels[id]
}

// ExtractSlice extracts a 2D slice of the label volume perpendicular to the
// given axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	g := v.labels.Grid

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= g.NX {
			return nil, fmt.Errorf("position %d exceeds x extent %d", position, g.NX)
		}
		img = image.NewGray16(image.Rect(0, 0, g.NZ, g.NY))
		for y := 0; y < g.NY; y++ {
			for z := 0; z < g.NZ; z++ {
				img.SetGray16(z, y, v.grey(g.Index(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= g.NY {
			return nil, fmt.Errorf("position %d exceeds y extent %d", position, g.NY)
		}
		img = image.NewGray16(image.Rect(0, 0, g.NX, g.NZ))
		for z := 0; z < g.NZ; z++ {
			for x := 0; x < g.NX; x++ {
				img.SetGray16(x, z, v.grey(g.Index(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= g.NZ {
			return nil, fmt.Errorf("position %d exceeds z extent %d", position, g.NZ)
		}
		img = image.NewGray16(image.Rect(0, 0, g.NX, g.NY))
		for y := 0; y < g.NY; y++ {
			for x := 0; x < g.NX; x++ {
				img.SetGray16(x, y, v.grey(g.Index(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

func (v *Viewer) grey(idx int) color.Gray16 {
	return color.Gray16{Y: v.levels[v.labels.Labels[idx]]}
}

// SaveSlice saves an extracted slice as a PNG image. PNG keeps grey levels
// exact, so ids can be read back from the pixels.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	g := v.labels.Grid
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = g.NX
	case "y", "Y":
		maxPos = g.NY
	case "z", "Z":
		maxPos = g.NZ
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
