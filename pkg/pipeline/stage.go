// Package pipeline runs the local CSF correction for every (subject, run,
// region) unit: resampling, thresholding and dilating the region mask,
// extracting the local CSF signal, augmenting the confounds and regressing
// them out of the region's time series.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage is a step of the per-unit state machine. Stages advance strictly
// in declaration order.
type Stage int

const (
	StageRaw Stage = iota
	StageResampled
	StageThresholded
	StageDilated
	StageLocalCSFMask
	StageLocalCSFTimeSeries
	StageAugmentedConfounds
	StageCorrectedTimeSeries
)

var stageNames = [...]string{
	StageRaw:                 "RAW",
	StageResampled:           "RESAMPLED",
	StageThresholded:         "THRESHOLDED",
	StageDilated:             "DILATED",
	StageLocalCSFMask:        "LOCAL_CSF_MASK",
	StageLocalCSFTimeSeries:  "LOCAL_CSF_TIMESERIES",
	StageAugmentedConfounds:  "AUGMENTED_CONFOUNDS",
	StageCorrectedTimeSeries: "CORRECTED_TIMESERIES",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Next returns the stage that follows s.
func (s Stage) Next() Stage {
	if s >= StageCorrectedTimeSeries {
		return StageCorrectedTimeSeries
	}
	return s + 1
}

// Stages lists every stage in order.
func Stages() []Stage {
	out := make([]Stage, len(stageNames))
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// StageError reports the stage at which a unit failed.
type StageError struct {
	Unit  Unit
	Stage Stage

	// Detail adds stage parameters to the message, e.g. "dilation radius 2"
	Detail string

	Err error
}

func (e *StageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unit %s: stage %s failed (%s): %v", e.Unit, e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("unit %s: stage %s failed: %v", e.Unit, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}
