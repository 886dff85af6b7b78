// Package mask implements the geometric mask stages of the pipeline:
// resampling onto a reference grid, probability thresholding, binary
// dilation and local CSF set algebra.
package mask

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"localcsf/internal/models"
)

// Interpolation selects how probabilistic masks are sampled between voxels.
type Interpolation int

const (
	// Linear uses trilinear interpolation
	Linear Interpolation = iota
	// Nearest picks the closest source voxel
	Nearest
)

func (i Interpolation) String() string {
	switch i {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// voxelMap maps target voxel indices to continuous source voxel indices.
type voxelMap struct {
	m [3][4]float64
}

func newVoxelMap(source, target models.Grid) (*voxelMap, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	inv, err := source.InverseAffine()
	if err != nil {
		return nil, err
	}

	// source_ijk = inv(source.Affine) * target.Affine * target_ijk
	var composed mat.Dense
	composed.Mul(inv, target.AffineDense())

	vm := &voxelMap{}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			vm.m[r][c] = composed.At(r, c)
		}
	}
	return vm, nil
}

func (vm *voxelMap) apply(i, j, k int) (float64, float64, float64) {
	x, y, z := float64(i), float64(j), float64(k)
	return vm.m[0][0]*x + vm.m[0][1]*y + vm.m[0][2]*z + vm.m[0][3],
		vm.m[1][0]*x + vm.m[1][1]*y + vm.m[1][2]*z + vm.m[1][3],
		vm.m[2][0]*x + vm.m[2][1]*y + vm.m[2][2]*z + vm.m[2][3]
}

// ResampleProbabilistic maps a probabilistic mask onto the target grid.
// Samples falling outside the source volume read as zero. When the source
// grid already equals the target the result is an exact copy.
func ResampleProbabilistic(m models.ProbabilisticMask, target models.Grid, interp Interpolation) (models.ProbabilisticMask, error) {
	if err := m.Grid.Validate(); err != nil {
		return models.ProbabilisticMask{}, err
	}
	if err := m.CheckSize(); err != nil {
		return models.ProbabilisticMask{}, err
	}
	if m.Grid.Equal(target) {
		if err := target.Validate(); err != nil {
			return models.ProbabilisticMask{}, err
		}
		out := m.Clone()
		out.Grid = target
		return out, nil
	}

	vm, err := newVoxelMap(m.Grid, target)
	if err != nil {
		return models.ProbabilisticMask{}, err
	}

	out := models.NewProbabilisticMask(target)
	for k := 0; k < target.Shape[2]; k++ {
		for j := 0; j < target.Shape[1]; j++ {
			for i := 0; i < target.Shape[0]; i++ {
				x, y, z := vm.apply(i, j, k)
				var v float64
				if interp == Nearest {
					v = sampleNearest(m, x, y, z)
				} else {
					v = sampleTrilinear(m, x, y, z)
				}
				out.Data[target.Index(i, j, k)] = v
			}
		}
	}
	return out, nil
}

// ResampleBinary maps a binary mask onto the target grid with
// nearest-neighbour sampling, keeping a strict true/false domain.
func ResampleBinary(m models.BinaryMask, target models.Grid) (models.BinaryMask, error) {
	if err := m.Grid.Validate(); err != nil {
		return models.BinaryMask{}, err
	}
	if err := m.CheckSize(); err != nil {
		return models.BinaryMask{}, err
	}
	if m.Grid.Equal(target) {
		if err := target.Validate(); err != nil {
			return models.BinaryMask{}, err
		}
		out := m.Clone()
		out.Grid = target
		return out, nil
	}

	vm, err := newVoxelMap(m.Grid, target)
	if err != nil {
		return models.BinaryMask{}, err
	}

	out := models.NewBinaryMask(target)
	for k := 0; k < target.Shape[2]; k++ {
		for j := 0; j < target.Shape[1]; j++ {
			for i := 0; i < target.Shape[0]; i++ {
				x, y, z := vm.apply(i, j, k)
				sx, sy, sz := int(math.Round(x)), int(math.Round(y)), int(math.Round(z))
				if m.Grid.Contains(sx, sy, sz) {
					out.Data[target.Index(i, j, k)] = m.Data[m.Grid.Index(sx, sy, sz)]
				}
			}
		}
	}
	return out, nil
}

// Resample picks the interpolation from the mask content: nearest for
// masks holding only 0 and 1, linear for genuinely probabilistic maps.
func Resample(m models.ProbabilisticMask, target models.Grid) (models.ProbabilisticMask, Interpolation, error) {
	interp := Linear
	if m.IsBinary() {
		interp = Nearest
	}
	out, err := ResampleProbabilistic(m, target, interp)
	return out, interp, err
}

func sampleNearest(m models.ProbabilisticMask, x, y, z float64) float64 {
	sx, sy, sz := int(math.Round(x)), int(math.Round(y)), int(math.Round(z))
	if !m.Grid.Contains(sx, sy, sz) {
		return 0
	}
	return m.Data[m.Grid.Index(sx, sy, sz)]
}

func sampleTrilinear(m models.ProbabilisticMask, x, y, z float64) float64 {
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := x-x0, y-y0, z-z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	var value float64
	for dz := 0; dz <= 1; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		if wz == 0 {
			continue
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			if wy == 0 {
				continue
			}
			for dx := 0; dx <= 1; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				if wx == 0 {
					continue
				}
				sx, sy, sz := ix+dx, iy+dy, iz+dz
				if !m.Grid.Contains(sx, sy, sz) {
					continue
				}
				value += wx * wy * wz * m.Data[m.Grid.Index(sx, sy, sz)]
			}
		}
	}
	return value
}
