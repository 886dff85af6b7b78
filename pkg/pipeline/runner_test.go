package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"localcsf/internal/models"
	"localcsf/pkg/config"
	"localcsf/pkg/confounds"
	"localcsf/pkg/timeseries"
)

func TestStageOrder(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 8)
	assert.Equal(t, StageRaw, stages[0])
	assert.Equal(t, StageCorrectedTimeSeries, stages[7])
	for i := 1; i < len(stages); i++ {
		assert.Equal(t, stages[i], stages[i-1].Next())
	}
	assert.Equal(t, StageCorrectedTimeSeries, StageCorrectedTimeSeries.Next())
	assert.Equal(t, "LOCAL_CSF_TIMESERIES", StageLocalCSFTimeSeries.String())
}

func TestStageErrorMessage(t *testing.T) {
	u := Unit{Subject: "sub-011", Run: "run-01", Region: models.RegionSpec{Name: "PAG"}}
	err := error(&StageError{
		Unit:   u,
		Stage:  StageLocalCSFMask,
		Detail: "dilation radius 2",
		Err:    &models.EmptyMaskError{Mask: "local CSF"},
	})
	assert.Equal(t, "unit sub-011/run-01/PAG: stage LOCAL_CSF_MASK failed (dilation radius 2): local CSF mask empty", err.Error())
	assert.ErrorIs(t, err, models.ErrEmptyMask)

	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, StageLocalCSFMask, stage)
}

func TestSphereShellScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping synthetic run in short mode")
	}
	sc := newScenario(t, 42)
	settings := scenarioSettings()
	runner := NewRunner(settings, nil, WithLogger(quietLogger()))

	res := runner.Process(context.Background(), settings.Units()[0], sc.inputs())
	require.NoError(t, res.Err)
	require.True(t, res.OK())

	// the local CSF mask is non-empty and confined to the shell
	require.Positive(t, res.LocalCSFVoxels)
	local := localMaskOf(t, runner, sc)
	for _, idx := range local.Indices() {
		x, y, z := sc.grid.Coords(idx)
		assert.True(t, inShell(x, y, z), "voxel (%d,%d,%d) outside the shell", x, y, z)
	}

	// the regressor is the mean of the shell voxels it covers
	idx := local.Indices()
	for tp := 0; tp < scenarioT; tp++ {
		var sum float64
		for _, i := range idx {
			sum += sc.functional.Data[tp*sc.grid.NumVoxels()+i]
		}
		assert.InDelta(t, sum/float64(len(idx)), res.LocalCSF[tp], 1e-9)
	}

	// regressing the local CSF signal removes nearly all of the region's fluctuation
	centred := make([]float64, len(res.Target))
	mean := stat.Mean(res.Target, nil)
	for i, v := range res.Target {
		centred[i] = v - mean
	}
	residualNorm := floats.Norm(res.Corrected(), 2)
	assert.Less(t, residualNorm, 0.05*floats.Norm(centred, 2))
	assert.Less(t, residualNorm, 0.05*floats.Norm(res.Target, 2))
	assert.Nil(t, res.Warning)
	assert.Equal(t, "PAG_local_csf", res.Regression.DesignColumns[len(res.Regression.DesignColumns)-1])
}

// localMaskOf captures the local CSF mask handed to the sink.
func localMaskOf(t *testing.T, runner *Runner, sc *scenario) models.BinaryMask {
	t.Helper()
	rec := &recordingSink{}
	r := NewRunner(runner.settings, nil, WithSink(rec), WithLogger(quietLogger()))
	res := r.Process(context.Background(), runner.settings.Units()[0], sc.inputs())
	require.NoError(t, res.Err)
	m, ok := rec.artifacts[ArtifactLocalCSFMask].(models.BinaryMask)
	require.True(t, ok)
	return m
}

type recordingSink struct {
	artifacts map[string]any
	stages    []Stage
}

func (s *recordingSink) Save(_ context.Context, _ Unit, a Artifact) error {
	if s.artifacts == nil {
		s.artifacts = map[string]any{}
	}
	s.artifacts[a.Name] = a.Data
	s.stages = append(s.stages, a.Stage)
	return nil
}

func TestArtifactsFollowStageOrder(t *testing.T) {
	sc := newScenario(t, 7)
	settings := scenarioSettings()
	rec := &recordingSink{}
	runner := NewRunner(settings, nil, WithSink(rec), WithLogger(quietLogger()))

	res := runner.Process(context.Background(), settings.Units()[0], sc.inputs())
	require.NoError(t, res.Err)
	assert.Equal(t, []Stage{
		StageResampled, StageThresholded, StageDilated,
		StageLocalCSFMask, StageLocalCSFMask,
		StageLocalCSFTimeSeries, StageAugmentedConfounds, StageCorrectedTimeSeries,
	}, rec.stages)

	// inputs are never modified
	assert.False(t, sc.confounds.Has("PAG_local_csf"))
	augmented := rec.artifacts[ArtifactConfounds].(*confounds.Matrix)
	assert.True(t, augmented.Has("PAG_local_csf"))
}

func TestEmptyLocalCSFFailsUnit(t *testing.T) {
	sc := newScenario(t, 3)
	// move all CSF probability far from the region
	far := models.NewProbabilisticMask(sc.grid)
	far.Set(0, 0, 0, 1)
	in := sc.inputs()
	in.CSFMask = far

	settings := scenarioSettings()
	runner := NewRunner(settings, nil, WithLogger(quietLogger()))
	res := runner.Process(context.Background(), settings.Units()[0], in)

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, models.ErrEmptyMask)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageLocalCSFMask, se.Stage)
	assert.Equal(t, StageDilated, res.Reached)
	assert.Nil(t, res.LocalCSF)
	assert.Contains(t, res.Err.Error(), "dilation radius 2")
}

func TestDeterminism(t *testing.T) {
	settings := scenarioSettings()
	runner := NewRunner(settings, nil, WithLogger(quietLogger()))

	a := runner.Process(context.Background(), settings.Units()[0], newScenario(t, 11).inputs())
	b := runner.Process(context.Background(), settings.Units()[0], newScenario(t, 11).inputs())
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)
	assert.Equal(t, a.LocalCSF, b.LocalCSF)
	assert.Equal(t, a.Corrected(), b.Corrected())
	assert.Equal(t, a.Regression.Coefficients, b.Regression.Coefficients)
}

func TestGridMismatchFailsAtResample(t *testing.T) {
	sc := newScenario(t, 5)
	in := sc.inputs()
	other := models.NewGrid(12, 12, 12, models.IdentityAffine())
	in.Reference = &other

	settings := scenarioSettings()
	res := NewRunner(settings, nil, WithLogger(quietLogger())).Process(context.Background(), settings.Units()[0], in)
	assert.ErrorIs(t, res.Err, models.ErrGrid)
	stage, _ := FailedStage(res.Err)
	assert.Equal(t, StageResampled, stage)
}

func TestBatchContinuesAfterFailure(t *testing.T) {
	sc := newScenario(t, 9)
	src := sc.source("run-01", "run-02")
	far := models.NewProbabilisticMask(sc.grid)
	far.Set(9, 9, 9, 1)
	src.Regions["corner"] = far

	settings := scenarioSettings()
	settings.Runs = []string{"run-01", "run-02", "run-03"}
	settings.Regions = append(settings.Regions, models.RegionSpec{Name: "corner", Threshold: 0.5, Dilation: 1})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	runner := NewRunner(settings, src, WithLogger(quietLogger()), WithMetrics(metrics), WithBatchID("test-batch"))
	assert.Equal(t, "test-batch", runner.BatchID())

	units := settings.Units()
	results := runner.Run(context.Background(), units)
	require.Len(t, results, 6)

	for i, res := range results {
		assert.Equal(t, units[i], res.Unit, "results keep unit order")
	}
	// run-01 and run-02: PAG succeeds, corner has no CSF nearby
	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, models.ErrEmptyMask)
	assert.True(t, results[2].OK())
	assert.ErrorIs(t, results[3].Err, models.ErrEmptyMask)
	// run-03 has no inputs at all
	for _, res := range results[4:] {
		stage, ok := FailedStage(res.Err)
		require.True(t, ok)
		assert.Equal(t, StageRaw, stage)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.unitsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.unitsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.stageFailures.WithLabelValues("LOCAL_CSF_MASK")))
}

type blockingSource struct{}

func (blockingSource) Load(ctx context.Context, _ Unit) (*Inputs, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestUnitTimeout(t *testing.T) {
	settings := scenarioSettings()
	settings.UnitTimeout = 20 * time.Millisecond
	runner := NewRunner(settings, blockingSource{}, WithLogger(quietLogger()))

	res := runner.RunUnit(context.Background(), settings.Units()[0])
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.False(t, res.OK())
	_, ok := FailedStage(res.Err)
	assert.True(t, ok)
}

func TestFileSinkWritesArtifacts(t *testing.T) {
	sc := newScenario(t, 13)
	out := t.TempDir()
	sink := &FileSink{OutputDir: out, SaveIntermediaryResults: true, QCSlices: true}
	settings := scenarioSettings()
	runner := NewRunner(settings, sc.source("run-01"), WithSink(sink), WithLogger(quietLogger()))

	u := settings.Units()[0]
	res := runner.RunUnit(context.Background(), u)
	require.NoError(t, res.Err)

	dir := filepath.Join(out, "sub-011", "run-01")
	for _, name := range []string{
		"PAG_proc.nii.gz",
		"PAG_binary.nii.gz",
		"PAG_dilated.nii.gz",
		"PAG_local_csf_mask.nii.gz",
		"PAG_local_csf_ts.csv",
		"sub-011_run-01_PAG_confounds_mod.tsv",
		"sub-011_run-01_PAG_corrected_ts.csv",
		filepath.Join("qc", "PAG_z.jpg"),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	column, series, err := timeseries.ReadCSVFile(sink.Path(u, ArtifactLocalCSFTS))
	require.NoError(t, err)
	assert.Equal(t, "PAG_local_csf", column)
	assert.Equal(t, res.LocalCSF, series)

	table, err := confounds.ReadTSVFile(sink.Path(u, ArtifactConfounds))
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "Z", "RotX", "RotY", "RotZ", "PAG_local_csf"}, table.Columns())
}

func TestFileSinkSkipsIntermediates(t *testing.T) {
	sc := newScenario(t, 17)
	out := t.TempDir()
	sink := &FileSink{OutputDir: out}
	settings := scenarioSettings()
	runner := NewRunner(settings, sc.source("run-01"), WithSink(sink), WithLogger(quietLogger()))

	u := settings.Units()[0]
	require.NoError(t, runner.RunUnit(context.Background(), u).Err)

	_, err := os.Stat(sink.Path(u, ArtifactBinary))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(sink.Path(u, ArtifactLocalCSFMask))
	assert.NoError(t, err)
	_, err = os.Stat(sink.Path(u, ArtifactCorrected))
	assert.NoError(t, err)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := SettingsFromConfig(cfg)
	assert.Error(t, err, "subject missing")

	cfg.Subject = "sub-011"
	cfg.Processing.NumCores = 0
	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Positive(t, s.NumCores)
	assert.Len(t, s.Regions, 16)
	assert.Len(t, s.Units(), 48)
	assert.Equal(t, "sub-011/run-01/R_pallidum", s.Units()[0].String())
	assert.Equal(t, 0.6, s.CSFThreshold)
}
