package mask

import (
	"math"

	"localcsf/internal/models"
)

// percentScaleLimit is the maximum above which a probability map is
// considered to be stored on a [0, 100] scale.
const percentScaleLimit = 1.1

// Threshold binarizes a probabilistic mask: a voxel is active iff its
// probability is >= t. The result shrinks monotonically as t grows.
func Threshold(m models.ProbabilisticMask, t float64) (models.BinaryMask, error) {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return models.BinaryMask{}, &models.ParameterError{Param: "threshold", Value: t, Reason: "must be within [0, 1]"}
	}
	if err := m.CheckSize(); err != nil {
		return models.BinaryMask{}, err
	}

	out := models.NewBinaryMask(m.Grid)
	for i, p := range m.Data {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return models.BinaryMask{}, &models.NonFiniteValueError{Source: "probabilistic mask", Index: i, Timepoint: -1, Value: p}
		}
		out.Data[i] = p >= t
	}
	return out, nil
}

// IsPercentScaled reports whether the map looks like it stores
// probabilities as percentages.
func IsPercentScaled(m models.ProbabilisticMask) bool {
	return m.Max() > percentScaleLimit
}

// NormalizePercent rescales a map stored on a [0, 100] scale to [0, 1].
// Maps already within [0, 1] are returned unchanged (as a copy).
func NormalizePercent(m models.ProbabilisticMask) models.ProbabilisticMask {
	out := m.Clone()
	if !IsPercentScaled(m) {
		return out
	}
	for i := range out.Data {
		out.Data[i] /= 100
	}
	return out
}
