// Package timeseries reduces 4-D functional volumes to 1-D signals by
// averaging the voxels selected by a binary mask.
package timeseries

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"localcsf/internal/models"
)

func checkInputs(v *models.FunctionalVolume, m models.BinaryMask) ([]int, error) {
	if v == nil {
		return nil, &models.ParameterError{Param: "functional volume", Value: nil, Reason: "must not be nil"}
	}
	if err := v.CheckSize(); err != nil {
		return nil, err
	}
	if err := m.CheckSize(); err != nil {
		return nil, err
	}
	if !v.Grid.Equal(m.Grid) {
		return nil, &models.GridError{
			Op:     "extract time series",
			Reason: fmt.Sprintf("volume grid %s differs from mask grid %s", v.Grid, m.Grid),
		}
	}
	idx := m.Indices()
	if len(idx) == 0 {
		return nil, &models.EmptyMaskError{Mask: "extraction"}
	}
	return idx, nil
}

// Extract returns, for every timepoint, the arithmetic mean of the volume
// over the active voxels of the mask. A mask with exactly one active voxel
// yields that voxel's raw time course. Non-finite voxel values inside the
// mask are reported rather than skipped.
func Extract(v *models.FunctionalVolume, m models.BinaryMask) (models.TimeSeries, error) {
	idx, err := checkInputs(v, m)
	if err != nil {
		return nil, err
	}

	n := v.Grid.NumVoxels()
	ts := make(models.TimeSeries, v.T)
	values := make([]float64, len(idx))
	for t := 0; t < v.T; t++ {
		frame := v.Data[t*n : (t+1)*n]
		for i, voxel := range idx {
			value := frame[voxel]
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, &models.NonFiniteValueError{Source: "functional volume", Index: voxel, Timepoint: t, Value: value}
			}
			values[i] = value
		}
		ts[t] = stat.Mean(values, nil)
	}
	return ts, nil
}

// ExtractVoxels returns the T x N matrix of the masked voxel time courses,
// one column per active voxel in ascending index order.
func ExtractVoxels(v *models.FunctionalVolume, m models.BinaryMask) (*mat.Dense, error) {
	idx, err := checkInputs(v, m)
	if err != nil {
		return nil, err
	}

	n := v.Grid.NumVoxels()
	out := mat.NewDense(v.T, len(idx), nil)
	for t := 0; t < v.T; t++ {
		for c, voxel := range idx {
			value := v.Data[t*n+voxel]
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, &models.NonFiniteValueError{Source: "functional volume", Index: voxel, Timepoint: t, Value: value}
			}
			out.Set(t, c, value)
		}
	}
	return out, nil
}
