package mask

import (
	"fmt"

	"localcsf/internal/models"
)

// Connectivity selects the structuring element used for dilation.
type Connectivity int

const (
	// Connectivity6 adds the six face neighbours of each voxel
	Connectivity6 Connectivity = 6
	// Connectivity26 adds every voxel of the surrounding 3x3x3 cube
	Connectivity26 Connectivity = 26
)

// ParseConnectivity converts 6 or 26 into a Connectivity.
func ParseConnectivity(n int) (Connectivity, error) {
	switch Connectivity(n) {
	case Connectivity6, Connectivity26:
		return Connectivity(n), nil
	default:
		return 0, &models.ParameterError{Param: "connectivity", Value: n, Reason: "must be 6 or 26"}
	}
}

func (c Connectivity) offsets() [][3]int {
	if c == Connectivity26 {
		offsets := make([][3]int, 0, 26)
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					offsets = append(offsets, [3]int{dx, dy, dz})
				}
			}
		}
		return offsets
	}
	return [][3]int{
		{-1, 0, 0}, {1, 0, 0},
		{0, -1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
	}
}

// Dilate expands a binary mask by the given number of structuring-element
// iterations. Zero iterations returns an exact copy; voxels beyond the grid
// border are never added.
func Dilate(m models.BinaryMask, iterations int, conn Connectivity) (models.BinaryMask, error) {
	if iterations < 0 {
		return models.BinaryMask{}, &models.ParameterError{Param: "dilation radius", Value: iterations, Reason: "must be non-negative"}
	}
	if _, err := ParseConnectivity(int(conn)); err != nil {
		return models.BinaryMask{}, err
	}
	if err := m.CheckSize(); err != nil {
		return models.BinaryMask{}, fmt.Errorf("dilate: %w", err)
	}

	out := m.Clone()
	frontier := out.Indices()
	offsets := conn.offsets()
	g := out.Grid

	// Only voxels added by the previous iteration can contribute new ones.
	for it := 0; it < iterations && len(frontier) > 0; it++ {
		next := make([]int, 0, len(frontier))
		for _, idx := range frontier {
			x, y, z := g.Coords(idx)
			for _, o := range offsets {
				nx, ny, nz := x+o[0], y+o[1], z+o[2]
				if !g.Contains(nx, ny, nz) {
					continue
				}
				n := g.Index(nx, ny, nz)
				if !out.Data[n] {
					out.Data[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return out, nil
}
