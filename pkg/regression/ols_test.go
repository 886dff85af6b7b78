package regression

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
)

func randomSeries(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func motionTable(t *testing.T, rng *rand.Rand, n int) *confounds.Matrix {
	t.Helper()
	names := []string{"X", "Y", "Z", "RotX", "RotY", "RotZ"}
	cols := make([][]float64, len(names))
	for i := range cols {
		cols[i] = randomSeries(rng, n)
	}
	m, err := confounds.FromColumns(names, cols)
	require.NoError(t, err)
	return m
}

func TestFitRemovesRegressorExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 50
	table := motionTable(t, rng, n)
	csf := randomSeries(rng, n)

	key, err := confounds.LocalCSFKey("PAG")
	require.NoError(t, err)
	table, err = table.Append(key, csf)
	require.NoError(t, err)

	// target lies entirely in the span of the design
	target := make(models.TimeSeries, n)
	x, _ := table.Column("X")
	for i := range target {
		target[i] = 3 + 2*csf[i] - 0.5*x[i]
	}

	res, err := Fit(target, table, confounds.DesignColumns(confounds.DefaultMotionKeys(), key), Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Warning)
	for _, v := range res.Residual {
		assert.InDelta(t, 0, v, 1e-9)
	}
	assert.Equal(t, InterceptColumn, res.DesignColumns[0])
	assert.InDelta(t, 3, res.Coefficients[0], 1e-9)
	assert.InDelta(t, 2, res.Coefficients[len(res.Coefficients)-1], 1e-9)
}

func TestResidualOrthogonalToDesign(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := 80
	table := motionTable(t, rng, n)
	target := models.TimeSeries(randomSeries(rng, n))

	res, err := Fit(target, table, confounds.DesignColumns(confounds.DefaultMotionKeys()), Options{Detrend: true})
	require.NoError(t, err)
	_, p := res.Design.Dims()
	assert.Equal(t, 8, p)
	assert.Equal(t, TrendColumn, res.DesignColumns[1])

	scale := floats.Norm(target, 2)
	for c := 0; c < p; c++ {
		col := make([]float64, n)
		for i := range col {
			col[i] = res.Design.At(i, c)
		}
		assert.InDelta(t, 0, floats.Dot(res.Residual, col)/scale, 1e-9, "column %s", res.DesignColumns[c])
	}
}

func TestMeanHandling(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 40
	table := motionTable(t, rng, n)
	target := make(models.TimeSeries, n)
	for i := range target {
		target[i] = 100 + rng.NormFloat64()
	}
	cols := confounds.DesignColumns(confounds.DefaultMotionKeys())

	res, err := Fit(target, table, cols, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0, stat.Mean(res.Residual, nil), 1e-9)

	kept, err := Fit(target, table, cols, Options{PreserveMean: true})
	require.NoError(t, err)
	assert.InDelta(t, stat.Mean(target, nil), stat.Mean(kept.Residual, nil), 1e-9)
	for i := range res.Residual {
		assert.InDelta(t, res.Residual[i]+stat.Mean(target, nil), kept.Residual[i], 1e-9)
	}
}

func TestCollinearColumnsAreDropped(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	n := 30
	a := randomSeries(rng, n)
	double := make([]float64, n)
	constant := make([]float64, n)
	for i := range a {
		double[i] = 2 * a[i]
		constant[i] = 5
	}
	table, err := confounds.FromColumns([]string{"X", "Y", "Z"}, [][]float64{a, double, constant})
	require.NoError(t, err)

	target := models.TimeSeries(randomSeries(rng, n))
	res, err := Fit(target, table, []string{"X", "Y", "Z"}, Options{})
	require.NoError(t, err)

	require.NotNil(t, res.Warning)
	assert.Equal(t, []string{"Y", "Z"}, res.Dropped)
	assert.Equal(t, []string{InterceptColumn, "X"}, res.DesignColumns)
	assert.Equal(t, 2, res.Warning.Rank)
	assert.Equal(t, 4, res.Warning.Columns)
	assert.Contains(t, res.Warning.String(), "Y")
	for _, v := range res.Residual {
		assert.False(t, math.IsNaN(v))
	}
}

func TestInterceptOnly(t *testing.T) {
	target := models.TimeSeries{1, 2, 3, 4}
	res, err := Fit(target, nil, nil, Options{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1.5, -0.5, 0.5, 1.5}, []float64(res.Residual), 1e-12)
}

func TestFitErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	table := motionTable(t, rng, 10)
	cols := confounds.DesignColumns(confounds.DefaultMotionKeys())

	_, err := Fit(nil, table, cols, Options{})
	assert.ErrorIs(t, err, models.ErrParameter)

	_, err = Fit(make(models.TimeSeries, 9), table, cols, Options{})
	assert.ErrorIs(t, err, models.ErrAlignment)

	target := make(models.TimeSeries, 10)
	target[4] = math.NaN()
	_, err = Fit(target, table, cols, Options{})
	assert.ErrorIs(t, err, models.ErrNonFinite)

	_, err = Fit(make(models.TimeSeries, 10), table, []string{"X", "csf"}, Options{})
	var missing *confounds.MissingColumnsError
	assert.ErrorAs(t, err, &missing)

	x, _ := table.Column("X")
	x[3] = math.Inf(1)
	bad, err := confounds.FromColumns([]string{"X"}, [][]float64{x})
	require.NoError(t, err)
	_, err = Fit(make(models.TimeSeries, 10), bad, []string{"X"}, Options{})
	var nf *models.NonFiniteValueError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 3, nf.Index)
}
