package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrGrid            = errors.New("grid error")
	ErrParameter       = errors.New("invalid parameter")
	ErrEmptyMask       = errors.New("empty mask")
	ErrNonFinite       = errors.New("non-finite value")
	ErrAlignment       = errors.New("alignment error")
	ErrDuplicateColumn = errors.New("duplicate column")
)

// GridError reports misaligned grids or an invalid affine transform.
type GridError struct {
	Op     string
	Reason string
}

func (e *GridError) Error() string {
	return fmt.Sprintf("grid error in %s: %s", e.Op, e.Reason)
}

func (e *GridError) Is(target error) bool { return target == ErrGrid }

// ParameterError reports an out-of-range parameter such as a threshold
// outside [0, 1] or a negative dilation radius.
type ParameterError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Param, e.Value, e.Reason)
}

func (e *ParameterError) Is(target error) bool { return target == ErrParameter }

// EmptyMaskError reports a mask with zero active voxels where a non-empty
// mask is required.
type EmptyMaskError struct {
	Mask string
}

func (e *EmptyMaskError) Error() string {
	return fmt.Sprintf("%s mask empty", e.Mask)
}

func (e *EmptyMaskError) Is(target error) bool { return target == ErrEmptyMask }

// NonFiniteValueError reports a NaN or Inf reaching a numeric stage.
type NonFiniteValueError struct {
	// Source names the offending input (e.g. "functional volume", "confound X")
	Source string

	// Index is the voxel or row index of the value
	Index int

	// Timepoint is the frame of the value, or -1 when not applicable
	Timepoint int

	Value float64
}

func (e *NonFiniteValueError) Error() string {
	if e.Timepoint >= 0 {
		return fmt.Sprintf("non-finite value %v in %s at index %d, timepoint %d", e.Value, e.Source, e.Index, e.Timepoint)
	}
	return fmt.Sprintf("non-finite value %v in %s at index %d", e.Value, e.Source, e.Index)
}

func (e *NonFiniteValueError) Is(target error) bool { return target == ErrNonFinite }

// AlignmentError reports a row-count mismatch between a time series and a
// confound table.
type AlignmentError struct {
	What     string
	Expected int
	Got      int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("length mismatch for %s: expected %d timepoints, got %d", e.What, e.Expected, e.Got)
}

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// DuplicateColumnError reports a confound column name collision.
type DuplicateColumnError struct {
	Column string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("confound column %q already present", e.Column)
}

func (e *DuplicateColumnError) Is(target error) bool { return target == ErrDuplicateColumn }

// CollinearRegressorsWarning is a non-fatal report that the design matrix
// was rank deficient and the named regressors were dropped from the fit.
type CollinearRegressorsWarning struct {
	Dropped []string
	Rank    int
	Columns int
}

func (w *CollinearRegressorsWarning) String() string {
	return fmt.Sprintf("collinear regressors: design rank %d of %d columns, dropped [%s]",
		w.Rank, w.Columns, strings.Join(w.Dropped, ", "))
}
