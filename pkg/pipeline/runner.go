package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
	"localcsf/pkg/mask"
	"localcsf/pkg/regression"
	"localcsf/pkg/timeseries"
)

// Result is the outcome of one unit.
type Result struct {
	Unit Unit

	// Reached is the last stage that completed
	Reached Stage

	Interpolation  mask.Interpolation
	LocalCSFVoxels int

	LocalCSF   models.TimeSeries
	Target     models.TimeSeries
	Regression *regression.Result

	// Warning is set when collinear regressors were dropped
	Warning *models.CollinearRegressorsWarning

	Duration time.Duration

	// Err is a *StageError when the unit failed
	Err error
}

// OK reports whether the unit produced a corrected time series.
func (r Result) OK() bool {
	return r.Err == nil && r.Reached == StageCorrectedTimeSeries
}

// Corrected returns the corrected time series, or nil on failure.
func (r Result) Corrected() models.TimeSeries {
	if r.Regression == nil {
		return nil
	}
	return r.Regression.Residual
}

// Runner processes units on a bounded pool of workers. A failing unit
// never stops the others.
type Runner struct {
	settings Settings
	source   Source
	sink     Sink
	log      logrus.FieldLogger
	metrics  *Metrics
	batchID  string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSink persists stage artifacts.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics records unit outcomes.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBatchID overrides the generated batch identifier.
func WithBatchID(id string) Option {
	return func(r *Runner) { r.batchID = id }
}

// NewRunner creates a runner for the given settings and input source.
func NewRunner(settings Settings, source Source, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		source:   source,
		sink:     nopSink{},
		log:      logrus.StandardLogger(),
		batchID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("batch", r.batchID)
	return r
}

// BatchID identifies the runs of this runner in logs.
func (r *Runner) BatchID() string {
	return r.batchID
}

// Run processes every unit and returns one result per unit, in order.
func (r *Runner) Run(ctx context.Context, units []Unit) []Result {
	results := make([]Result, len(units))

	limit := r.settings.NumCores
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	r.log.WithFields(logrus.Fields{
		"units":   len(units),
		"workers": limit,
	}).Info("Starting batch")

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			results[i] = r.RunUnit(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.log.WithFields(logrus.Fields{
		"succeeded": len(units) - failed,
		"failed":    failed,
	}).Info("Batch complete")
	return results
}

// RunUnit loads the inputs of u and processes it, enforcing the unit
// timeout when one is configured.
func (r *Runner) RunUnit(ctx context.Context, u Unit) Result {
	start := time.Now()
	var reached atomic.Int32

	if r.settings.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.UnitTimeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		done <- r.loadAndProcess(ctx, u, &reached)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		stage := Stage(reached.Load())
		res = Result{
			Unit:    u,
			Reached: stage,
			Err:     &StageError{Unit: u, Stage: stage.Next(), Err: ctx.Err()},
		}
	}
	res.Duration = time.Since(start)

	log := r.unitLogger(u).WithField("duration", res.Duration)
	if res.Err != nil {
		log.WithError(res.Err).Error("Unit failed")
	} else {
		log.WithField("localCSFVoxels", res.LocalCSFVoxels).Info("Unit complete")
	}
	r.metrics.observe(res)
	return res
}

func (r *Runner) loadAndProcess(ctx context.Context, u Unit, reached *atomic.Int32) Result {
	in, err := r.source.Load(ctx, u)
	if err != nil {
		return Result{Unit: u, Reached: StageRaw, Err: &StageError{Unit: u, Stage: StageRaw, Err: err}}
	}
	return r.process(ctx, u, in, reached)
}

// Process runs the stages of u on already loaded inputs.
func (r *Runner) Process(ctx context.Context, u Unit, in *Inputs) Result {
	var reached atomic.Int32
	return r.process(ctx, u, in, &reached)
}

func (r *Runner) unitLogger(u Unit) logrus.FieldLogger {
	return r.log.WithFields(logrus.Fields{
		"subject": u.Subject,
		"run":     u.Run,
		"region":  u.Region.Name,
	})
}

// unitState walks one unit through the stages.
type unitState struct {
	ctx     context.Context
	r       *Runner
	unit    Unit
	res     Result
	reached *atomic.Int32
	log     logrus.FieldLogger
}

func (s *unitState) fail(stage Stage, detail string, err error) Result {
	s.res.Err = &StageError{Unit: s.unit, Stage: stage, Detail: detail, Err: err}
	return s.res
}

// complete records stage as reached after handing its artifacts to the
// sink. It returns a non-nil error when the unit must stop.
func (s *unitState) complete(stage Stage, artifacts ...Artifact) error {
	for _, a := range artifacts {
		a.Stage = stage
		if err := s.r.sink.Save(s.ctx, s.unit, a); err != nil {
			return fmt.Errorf("saving %s: %w", a.Name, err)
		}
	}
	s.res.Reached = stage
	s.reached.Store(int32(stage))
	s.log.WithField("stage", stage).Debug("Stage complete")
	return s.ctx.Err()
}

func (r *Runner) process(ctx context.Context, u Unit, in *Inputs, reached *atomic.Int32) Result {
	s := &unitState{
		ctx:     ctx,
		r:       r,
		unit:    u,
		res:     Result{Unit: u, Reached: StageRaw},
		reached: reached,
		log:     r.unitLogger(u),
	}
	if err := u.Region.Validate(); err != nil {
		return s.fail(StageRaw, "", err)
	}
	if in == nil || in.Functional == nil || in.Confounds == nil {
		return s.fail(StageRaw, "", fmt.Errorf("incomplete inputs"))
	}
	if err := ctx.Err(); err != nil {
		return s.fail(StageResampled, "", err)
	}

	// RESAMPLED
	reference := in.Functional.Grid
	if in.Reference != nil {
		if !in.Reference.Equal(in.Functional.Grid) {
			return s.fail(StageResampled, "", &models.GridError{
				Op:     "resample",
				Reason: fmt.Sprintf("functional grid %s differs from template grid %s", in.Functional.Grid, *in.Reference),
			})
		}
		reference = *in.Reference
	}
	roiMap, csfMap := in.RegionMask, in.CSFMask
	if r.settings.AutoScalePercent {
		if mask.IsPercentScaled(roiMap) {
			roiMap = mask.NormalizePercent(roiMap)
		}
		if mask.IsPercentScaled(csfMap) {
			csfMap = mask.NormalizePercent(csfMap)
		}
	}
	roiResampled, interp, err := mask.Resample(roiMap, reference)
	if err != nil {
		return s.fail(StageResampled, "region mask", err)
	}
	csfResampled, _, err := mask.Resample(csfMap, reference)
	if err != nil {
		return s.fail(StageResampled, "CSF mask", err)
	}
	s.res.Interpolation = interp
	if err := s.complete(StageResampled, Artifact{Name: ArtifactProc, Data: roiResampled}); err != nil {
		return s.fail(StageResampled, "", err)
	}

	// THRESHOLDED
	roi, err := mask.Threshold(roiResampled, u.Region.Threshold)
	if err != nil {
		return s.fail(StageThresholded, fmt.Sprintf("threshold %g", u.Region.Threshold), err)
	}
	if roi.Count() == 0 {
		return s.fail(StageThresholded, fmt.Sprintf("threshold %g", u.Region.Threshold), &models.EmptyMaskError{Mask: "region"})
	}
	csf, err := mask.Threshold(csfResampled, r.settings.CSFThreshold)
	if err != nil {
		return s.fail(StageThresholded, fmt.Sprintf("CSF threshold %g", r.settings.CSFThreshold), err)
	}
	if err := s.complete(StageThresholded, Artifact{Name: ArtifactBinary, Data: roi}); err != nil {
		return s.fail(StageThresholded, "", err)
	}

	// DILATED
	radius := fmt.Sprintf("dilation radius %d", u.Region.Dilation)
	dilated, err := mask.Dilate(roi, u.Region.Dilation, r.settings.Connectivity)
	if err != nil {
		return s.fail(StageDilated, radius, err)
	}
	if err := s.complete(StageDilated, Artifact{Name: ArtifactDilated, Data: dilated}); err != nil {
		return s.fail(StageDilated, "", err)
	}

	// LOCAL_CSF_MASK
	local, err := mask.LocalCSF(dilated, csf, roi)
	if err != nil {
		return s.fail(StageLocalCSFMask, radius, err)
	}
	s.res.LocalCSFVoxels = local.Count()
	qc := QCSnapshot{Functional: in.Functional, Region: roi, Dilated: dilated, LocalCSF: local}
	if err := s.complete(StageLocalCSFMask,
		Artifact{Name: ArtifactLocalCSFMask, Data: local},
		Artifact{Name: ArtifactQC, Data: qc},
	); err != nil {
		return s.fail(StageLocalCSFMask, "", err)
	}

	// LOCAL_CSF_TIMESERIES
	csfSeries, err := timeseries.Extract(in.Functional, local)
	if err != nil {
		return s.fail(StageLocalCSFTimeSeries, "", err)
	}
	s.res.LocalCSF = csfSeries
	if err := s.complete(StageLocalCSFTimeSeries, Artifact{Name: ArtifactLocalCSFTS, Data: csfSeries}); err != nil {
		return s.fail(StageLocalCSFTimeSeries, "", err)
	}

	// AUGMENTED_CONFOUNDS
	key, err := confounds.LocalCSFKey(u.Region.Name)
	if err != nil {
		return s.fail(StageAugmentedConfounds, "", err)
	}
	augmented, err := in.Confounds.Append(key, csfSeries)
	if err != nil {
		return s.fail(StageAugmentedConfounds, "", err)
	}
	if err := s.complete(StageAugmentedConfounds, Artifact{Name: ArtifactConfounds, Data: augmented}); err != nil {
		return s.fail(StageAugmentedConfounds, "", err)
	}

	// CORRECTED_TIMESERIES
	target, err := timeseries.Extract(in.Functional, roi)
	if err != nil {
		return s.fail(StageCorrectedTimeSeries, "region time series", err)
	}
	s.res.Target = target
	fit, err := regression.Fit(target, augmented, confounds.DesignColumns(r.settings.Motion, key), r.settings.Regression)
	if err != nil {
		return s.fail(StageCorrectedTimeSeries, "", err)
	}
	s.res.Regression = fit
	if fit.Warning != nil {
		s.res.Warning = fit.Warning
		s.log.WithField("dropped", fit.Warning.Dropped).Warn(fit.Warning.String())
	}
	if err := s.complete(StageCorrectedTimeSeries, Artifact{Name: ArtifactCorrected, Data: fit}); err != nil {
		return s.fail(StageCorrectedTimeSeries, "", err)
	}
	return s.res
}
