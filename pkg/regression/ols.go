// Package regression removes nuisance signals from a time series by
// ordinary least squares against a design of confound regressors.
package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
)

// Names of the columns the engine adds in front of the selected confounds.
const (
	InterceptColumn = "intercept"
	TrendColumn     = "linear_trend"
)

// Options tunes the regression.
type Options struct {
	// PreserveMean adds the target's mean back onto the residual. By default
	// the intercept is removed along with the confounds and the residual
	// is centred on zero.
	PreserveMean bool `yaml:"preserveMean"`

	// Detrend adds a centred linear trend regressor to the design.
	Detrend bool `yaml:"detrend"`
}

// Result holds the outcome of one regression.
type Result struct {
	// Residual is the corrected time series.
	Residual models.TimeSeries

	// Design is the T x p matrix that was actually fitted (kept columns only).
	Design *mat.Dense

	// DesignColumns names the columns of Design in order.
	DesignColumns []string

	// Coefficients holds one fitted weight per design column.
	Coefficients []float64

	// Dropped lists regressors removed because they were linearly dependent
	// on the columns before them.
	Dropped []string

	// Warning is non-nil when Dropped is not empty.
	Warning *models.CollinearRegressorsWarning
}

// Fit regresses the named confound columns (plus an intercept and, when
// requested, a linear trend) out of target and returns the residual.
//
// The design rank is checked with an SVD using numpy's matrix_rank
// tolerance. Rank-deficient designs are reduced by walking the columns in
// order and dropping each one that does not raise the rank of the columns
// kept so far; the dropped names are reported through Result.Warning.
func Fit(target models.TimeSeries, table *confounds.Matrix, columns []string, opts Options) (*Result, error) {
	n := len(target)
	if n == 0 {
		return nil, &models.ParameterError{Param: "target time series", Value: 0, Reason: "needs at least one timepoint"}
	}
	for t, v := range target {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &models.NonFiniteValueError{Source: "target time series", Index: t, Timepoint: t, Value: v}
		}
	}

	names, cols, err := buildColumns(n, table, columns, opts)
	if err != nil {
		return nil, err
	}

	keptNames, keptCols, dropped := reduceRank(n, names, cols)

	design := mat.NewDense(n, len(keptCols), nil)
	for c, col := range keptCols {
		design.SetCol(c, col)
	}

	beta, err := solve(design, target)
	if err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(design, beta)

	residual := make(models.TimeSeries, n)
	for t := range residual {
		residual[t] = target[t] - fitted.AtVec(t)
	}
	if opts.PreserveMean {
		mean := stat.Mean(target, nil)
		for t := range residual {
			residual[t] += mean
		}
	}

	res := &Result{
		Residual:      residual,
		Design:        design,
		DesignColumns: keptNames,
		Coefficients:  mat.Col(nil, 0, beta),
		Dropped:       dropped,
	}
	if len(dropped) > 0 {
		res.Warning = &models.CollinearRegressorsWarning{
			Dropped: dropped,
			Rank:    len(keptNames),
			Columns: len(names),
		}
	}
	return res, nil
}

func buildColumns(n int, table *confounds.Matrix, columns []string, opts Options) ([]string, [][]float64, error) {
	intercept := make([]float64, n)
	for t := range intercept {
		intercept[t] = 1
	}
	names := []string{InterceptColumn}
	cols := [][]float64{intercept}

	if opts.Detrend {
		trend := make([]float64, n)
		mid := float64(n-1) / 2
		for t := range trend {
			trend[t] = float64(t) - mid
		}
		names = append(names, TrendColumn)
		cols = append(cols, trend)
	}

	if len(columns) == 0 {
		return names, cols, nil
	}
	if table == nil {
		return nil, nil, &models.ParameterError{Param: "confound matrix", Value: nil, Reason: "columns requested from a nil matrix"}
	}
	if table.Rows() != n {
		return nil, nil, &models.AlignmentError{What: "confound matrix", Expected: n, Got: table.Rows()}
	}

	selected, err := table.Select(columns)
	if err != nil {
		return nil, nil, err
	}
	for c, name := range columns {
		col := mat.Col(nil, c, selected)
		for t, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, &models.NonFiniteValueError{Source: fmt.Sprintf("confound %s", name), Index: t, Timepoint: t, Value: v}
			}
		}
		names = append(names, name)
		cols = append(cols, col)
	}
	return names, cols, nil
}

// reduceRank keeps columns in order while each one increases the rank.
func reduceRank(n int, names []string, cols [][]float64) (kept []string, keptCols [][]float64, dropped []string) {
	if matrixRank(n, cols) == len(cols) {
		return names, cols, nil
	}
	for i, col := range cols {
		candidate := append(keptCols[:len(keptCols):len(keptCols)], col)
		if matrixRank(n, candidate) > len(keptCols) {
			kept = append(kept, names[i])
			keptCols = candidate
			continue
		}
		dropped = append(dropped, names[i])
	}
	return kept, keptCols, dropped
}

func matrixRank(n int, cols [][]float64) int {
	a := mat.NewDense(n, len(cols), nil)
	for c, col := range cols {
		a.SetCol(c, col)
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	rcond := float64(max(n, len(cols))) * eps
	return svd.Rank(rcond)
}

// eps is the float64 machine epsilon.
var eps = math.Nextafter(1, 2) - 1

func solve(design *mat.Dense, target models.TimeSeries) (*mat.VecDense, error) {
	var qr mat.QR
	qr.Factorize(design)

	_, p := design.Dims()
	beta := mat.NewVecDense(p, nil)
	err := qr.SolveVecTo(beta, false, mat.NewVecDense(len(target), target.Clone()))
	if err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("least squares solve: %w", err)
		}
	}
	return beta, nil
}
