// Package models defines the typed data objects shared by the local CSF
// pipeline: spatial grids, probabilistic and binary masks, functional
// volumes and time series, together with the error taxonomy.
package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// affineTolerance is the per-entry tolerance used when comparing affines.
const affineTolerance = 1e-6

// minAbsDeterminant is the smallest |det| accepted for the linear part of an affine.
const minAbsDeterminant = 1e-12

// Grid is the combination of array shape and spatial affine transform
// mapping voxel indices (i, j, k) to world coordinates.
type Grid struct {
	// Shape holds the number of voxels along x, y and z
	Shape [3]int

	// Affine maps homogeneous voxel coordinates to world coordinates
	Affine [4][4]float64
}

// NewGrid creates a grid with the given shape and affine.
func NewGrid(nx, ny, nz int, affine [4][4]float64) Grid {
	return Grid{Shape: [3]int{nx, ny, nz}, Affine: affine}
}

// IdentityAffine returns the 4x4 identity transform (1 mm isotropic voxels
// with the origin at voxel 0).
func IdentityAffine() [4][4]float64 {
	return [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// NumVoxels returns the number of voxels in one 3-D frame.
func (g Grid) NumVoxels() int {
	return g.Shape[0] * g.Shape[1] * g.Shape[2]
}

// Index converts voxel coordinates to a flat index (x fastest, then y, then z).
func (g Grid) Index(x, y, z int) int {
	return x + g.Shape[0]*(y+g.Shape[1]*z)
}

// Coords converts a flat index back to voxel coordinates.
func (g Grid) Coords(idx int) (x, y, z int) {
	nx, ny := g.Shape[0], g.Shape[1]
	x = idx % nx
	y = (idx / nx) % ny
	z = idx / (nx * ny)
	return x, y, z
}

// Contains reports whether the voxel coordinates lie inside the grid.
func (g Grid) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < g.Shape[0] && y < g.Shape[1] && z < g.Shape[2]
}

// Validate checks that the grid has a positive shape and a valid,
// non-singular affine transform.
func (g Grid) Validate() error {
	for axis, n := range g.Shape {
		if n < 1 {
			return &GridError{Op: "validate", Reason: fmt.Sprintf("shape[%d] = %d, must be positive", axis, n)}
		}
	}

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if v := g.Affine[r][c]; math.IsNaN(v) || math.IsInf(v, 0) {
				return &GridError{Op: "validate", Reason: fmt.Sprintf("affine[%d][%d] is not finite", r, c)}
			}
		}
	}

	if g.Affine[3] != [4]float64{0, 0, 0, 1} {
		return &GridError{Op: "validate", Reason: fmt.Sprintf("affine bottom row %v is not (0, 0, 0, 1)", g.Affine[3])}
	}

	if det := mat.Det(g.linear()); math.Abs(det) <= minAbsDeterminant {
		return &GridError{Op: "validate", Reason: fmt.Sprintf("affine is singular (det = %g)", det)}
	}

	return nil
}

// Equal reports whether two grids have the same shape and affines that agree
// within floating tolerance. Masks are aligned iff their grids are Equal.
func (g Grid) Equal(other Grid) bool {
	if g.Shape != other.Shape {
		return false
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(g.Affine[r][c]-other.Affine[r][c]) > affineTolerance {
				return false
			}
		}
	}
	return true
}

// AffineDense returns the affine as a gonum matrix.
func (g Grid) AffineDense() *mat.Dense {
	data := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		data = append(data, g.Affine[r][:]...)
	}
	return mat.NewDense(4, 4, data)
}

// InverseAffine returns the world-to-voxel transform.
func (g Grid) InverseAffine() (*mat.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	var inv mat.Dense
	if err := inv.Inverse(g.AffineDense()); err != nil {
		return nil, &GridError{Op: "invert affine", Reason: err.Error()}
	}
	return &inv, nil
}

// VoxelSize returns the length of each voxel axis in world units.
func (g Grid) VoxelSize() [3]float64 {
	var size [3]float64
	for c := 0; c < 3; c++ {
		size[c] = math.Sqrt(g.Affine[0][c]*g.Affine[0][c] +
			g.Affine[1][c]*g.Affine[1][c] +
			g.Affine[2][c]*g.Affine[2][c])
	}
	return size
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d %v", g.Shape[0], g.Shape[1], g.Shape[2], g.Affine)
}

func (g Grid) linear() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		g.Affine[0][0], g.Affine[0][1], g.Affine[0][2],
		g.Affine[1][0], g.Affine[1][1], g.Affine[1][2],
		g.Affine[2][0], g.Affine[2][1], g.Affine[2][2],
	})
}
