package models

import (
	"fmt"
)

// ProbabilisticMask holds a tissue-class probability in [0, 1] for every
// voxel of its grid.
type ProbabilisticMask struct {
	// Grid is the spatial grid the mask is defined on
	Grid Grid

	// Data holds one probability per voxel in Grid.Index order
	Data []float64
}

// NewProbabilisticMask allocates an all-zero probabilistic mask on a grid.
func NewProbabilisticMask(g Grid) ProbabilisticMask {
	return ProbabilisticMask{Grid: g, Data: make([]float64, g.NumVoxels())}
}

// At returns the probability at voxel (x, y, z).
func (m ProbabilisticMask) At(x, y, z int) float64 {
	return m.Data[m.Grid.Index(x, y, z)]
}

// Set stores the probability at voxel (x, y, z).
func (m ProbabilisticMask) Set(x, y, z int, p float64) {
	m.Data[m.Grid.Index(x, y, z)] = p
}

// IsBinary reports whether every value is exactly 0 or 1.
func (m ProbabilisticMask) IsBinary() bool {
	for _, v := range m.Data {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

// Max returns the largest value in the mask (0 for an empty mask).
func (m ProbabilisticMask) Max() float64 {
	max := 0.0
	for i, v := range m.Data {
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}

// Clone returns a deep copy of the mask.
func (m ProbabilisticMask) Clone() ProbabilisticMask {
	data := make([]float64, len(m.Data))
	copy(data, m.Data)
	return ProbabilisticMask{Grid: m.Grid, Data: data}
}

// CheckSize verifies that the data length matches the grid.
func (m ProbabilisticMask) CheckSize() error {
	if len(m.Data) != m.Grid.NumVoxels() {
		return &GridError{Op: "probabilistic mask", Reason: fmt.Sprintf("%d values for %d voxels", len(m.Data), m.Grid.NumVoxels())}
	}
	return nil
}

// BinaryMask marks the active voxels of a grid.
type BinaryMask struct {
	// Grid is the spatial grid the mask is defined on
	Grid Grid

	// Data holds one flag per voxel in Grid.Index order
	Data []bool
}

// NewBinaryMask allocates an empty binary mask on a grid.
func NewBinaryMask(g Grid) BinaryMask {
	return BinaryMask{Grid: g, Data: make([]bool, g.NumVoxels())}
}

// At reports whether voxel (x, y, z) is active.
func (m BinaryMask) At(x, y, z int) bool {
	return m.Data[m.Grid.Index(x, y, z)]
}

// Set marks voxel (x, y, z).
func (m BinaryMask) Set(x, y, z int, v bool) {
	m.Data[m.Grid.Index(x, y, z)] = v
}

// Count returns the number of active voxels.
func (m BinaryMask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Indices returns the flat indices of the active voxels in ascending order.
func (m BinaryMask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, v := range m.Data {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

// Clone returns a deep copy of the mask.
func (m BinaryMask) Clone() BinaryMask {
	data := make([]bool, len(m.Data))
	copy(data, m.Data)
	return BinaryMask{Grid: m.Grid, Data: data}
}

// Equal reports whether both masks share a grid and the same active voxels.
func (m BinaryMask) Equal(other BinaryMask) bool {
	if !m.Grid.Equal(other.Grid) || len(m.Data) != len(other.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// SubsetOf reports whether every active voxel of m is active in other.
// Masks on different grids are never subsets of each other.
func (m BinaryMask) SubsetOf(other BinaryMask) bool {
	if !m.Grid.Equal(other.Grid) || len(m.Data) != len(other.Data) {
		return false
	}
	for i, v := range m.Data {
		if v && !other.Data[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether the two masks share at least one active voxel.
func (m BinaryMask) Intersects(other BinaryMask) bool {
	n := len(m.Data)
	if len(other.Data) < n {
		n = len(other.Data)
	}
	for i := 0; i < n; i++ {
		if m.Data[i] && other.Data[i] {
			return true
		}
	}
	return false
}

// Centroid returns the mean voxel coordinates of the active voxels.
// ok is false for an empty mask.
func (m BinaryMask) Centroid() (x, y, z float64, ok bool) {
	n := 0
	for i, v := range m.Data {
		if !v {
			continue
		}
		vx, vy, vz := m.Grid.Coords(i)
		x += float64(vx)
		y += float64(vy)
		z += float64(vz)
		n++
	}
	if n == 0 {
		return 0, 0, 0, false
	}
	return x / float64(n), y / float64(n), z / float64(n), true
}

// CheckSize verifies that the data length matches the grid.
func (m BinaryMask) CheckSize() error {
	if len(m.Data) != m.Grid.NumVoxels() {
		return &GridError{Op: "binary mask", Reason: fmt.Sprintf("%d flags for %d voxels", len(m.Data), m.Grid.NumVoxels())}
	}
	return nil
}

// FunctionalVolume is a 4-D (space x time) image such as a preprocessed
// BOLD run.
type FunctionalVolume struct {
	// Grid is the spatial grid of every frame
	Grid Grid

	// T is the number of timepoints
	T int

	// Data holds T frames; voxel (x, y, z) at time t is stored at
	// t*Grid.NumVoxels() + Grid.Index(x, y, z)
	Data []float64
}

// NewFunctionalVolume allocates a zero-filled volume with t timepoints.
func NewFunctionalVolume(g Grid, t int) *FunctionalVolume {
	return &FunctionalVolume{Grid: g, T: t, Data: make([]float64, g.NumVoxels()*t)}
}

// At returns the value of voxel (x, y, z) at timepoint t.
func (v *FunctionalVolume) At(x, y, z, t int) float64 {
	return v.Data[t*v.Grid.NumVoxels()+v.Grid.Index(x, y, z)]
}

// Set stores the value of voxel (x, y, z) at timepoint t.
func (v *FunctionalVolume) Set(x, y, z, t int, value float64) {
	v.Data[t*v.Grid.NumVoxels()+v.Grid.Index(x, y, z)] = value
}

// Frame returns the 3-D frame at timepoint t. The slice aliases Data.
func (v *FunctionalVolume) Frame(t int) []float64 {
	n := v.Grid.NumVoxels()
	return v.Data[t*n : (t+1)*n]
}

// VoxelSeries returns a copy of the time course of the voxel at flat index idx.
func (v *FunctionalVolume) VoxelSeries(idx int) TimeSeries {
	n := v.Grid.NumVoxels()
	ts := make(TimeSeries, v.T)
	for t := 0; t < v.T; t++ {
		ts[t] = v.Data[t*n+idx]
	}
	return ts
}

// MeanImage returns the temporal mean of every voxel.
func (v *FunctionalVolume) MeanImage() []float64 {
	n := v.Grid.NumVoxels()
	mean := make([]float64, n)
	if v.T == 0 {
		return mean
	}
	for t := 0; t < v.T; t++ {
		frame := v.Data[t*n : (t+1)*n]
		for i, value := range frame {
			mean[i] += value
		}
	}
	for i := range mean {
		mean[i] /= float64(v.T)
	}
	return mean
}

// CheckSize verifies that the data length matches grid and timepoints.
func (v *FunctionalVolume) CheckSize() error {
	if v.T < 1 {
		return &ParameterError{Param: "timepoints", Value: v.T, Reason: "must be positive"}
	}
	if want := v.Grid.NumVoxels() * v.T; len(v.Data) != want {
		return &GridError{Op: "functional volume", Reason: fmt.Sprintf("%d values for %d voxels x %d timepoints", len(v.Data), v.Grid.NumVoxels(), v.T)}
	}
	return nil
}

// TimeSeries is an ordered sequence of T samples, one per timepoint.
type TimeSeries []float64

// Len returns the number of timepoints.
func (ts TimeSeries) Len() int {
	return len(ts)
}

// Clone returns a copy of the series.
func (ts TimeSeries) Clone() TimeSeries {
	out := make(TimeSeries, len(ts))
	copy(out, ts)
	return out
}

// RegionSpec describes one region of interest to correct.
type RegionSpec struct {
	// Name labels the region and its derived confound column (e.g. "R_amygdala")
	Name string `yaml:"name"`

	// MaskPath references the source probabilistic mask
	MaskPath string `yaml:"mask"`

	// Dilation is the number of dilation iterations defining the local neighbourhood
	Dilation int `yaml:"dilation"`

	// Threshold binarizes the resampled probabilistic mask
	Threshold float64 `yaml:"threshold"`
}

// Validate checks the region parameters.
func (r RegionSpec) Validate() error {
	if r.Name == "" {
		return &ParameterError{Param: "region name", Value: r.Name, Reason: "must not be empty"}
	}
	if r.Dilation < 0 {
		return &ParameterError{Param: "dilation radius", Value: r.Dilation, Reason: "must be non-negative"}
	}
	if !(r.Threshold >= 0 && r.Threshold <= 1) {
		return &ParameterError{Param: "threshold", Value: r.Threshold, Reason: "must be within [0, 1]"}
	}
	return nil
}
