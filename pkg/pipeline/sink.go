package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
	"localcsf/pkg/nifti"
	"localcsf/pkg/regression"
	"localcsf/pkg/timeseries"
	"localcsf/pkg/visualization"
)

// Artifact is the product of a stage handed to a Sink. Data is one of
// models.ProbabilisticMask, models.BinaryMask, models.TimeSeries,
// *confounds.Matrix, *regression.Result or QCSnapshot.
type Artifact struct {
	Stage Stage

	// Name distinguishes artifacts of the same stage, e.g. "binary"
	Name string

	Data any
}

// QCSnapshot carries what is needed to draw the quality-control overlays
// of a unit once its local CSF mask exists.
type QCSnapshot struct {
	Functional *models.FunctionalVolume
	Region     models.BinaryMask
	Dilated    models.BinaryMask
	LocalCSF   models.BinaryMask
}

// Sink persists artifacts. It is only called after the producing stage
// succeeded; an error fails the unit at that stage.
type Sink interface {
	Save(ctx context.Context, u Unit, a Artifact) error
}

// Artifact names.
const (
	ArtifactProc         = "proc"
	ArtifactBinary       = "binary"
	ArtifactDilated      = "dilated"
	ArtifactLocalCSFMask = "local_csf_mask"
	ArtifactLocalCSFTS   = "local_csf_ts"
	ArtifactConfounds    = "confounds_mod"
	ArtifactCorrected    = "corrected_ts"
	ArtifactQC           = "qc"
)

type nopSink struct{}

func (nopSink) Save(context.Context, Unit, Artifact) error { return nil }

// FileSink writes artifacts under <OutputDir>/<subject>/<run>/.
type FileSink struct {
	OutputDir string

	// SaveIntermediaryResults writes the resampled, thresholded and
	// dilated masks
	SaveIntermediaryResults bool

	// QCSlices writes overlay JPEGs through the region centroid
	QCSlices bool
}

// UnitDir returns the directory holding the artifacts of u.
func (s *FileSink) UnitDir(u Unit) string {
	return filepath.Join(s.OutputDir, u.Subject, u.Run)
}

// Path returns the file an artifact of u is written to.
func (s *FileSink) Path(u Unit, name string) string {
	region := u.Region.Name
	var file string
	switch name {
	case ArtifactLocalCSFTS:
		file = region + "_local_csf_ts.csv"
	case ArtifactConfounds:
		file = fmt.Sprintf("%s_%s_%s_confounds_mod.tsv", u.Subject, u.Run, region)
	case ArtifactCorrected:
		file = fmt.Sprintf("%s_%s_%s_corrected_ts.csv", u.Subject, u.Run, region)
	case ArtifactQC:
		file = filepath.Join("qc", region)
	default:
		file = fmt.Sprintf("%s_%s.nii.gz", region, name)
	}
	return filepath.Join(s.UnitDir(u), file)
}

// Save writes a single artifact.
func (s *FileSink) Save(ctx context.Context, u Unit, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(u, a.Name)

	switch v := a.Data.(type) {
	case models.ProbabilisticMask:
		if !s.SaveIntermediaryResults {
			return nil
		}
		return nifti.WriteProbabilisticMask(path, v)

	case models.BinaryMask:
		if !s.SaveIntermediaryResults && a.Stage != StageLocalCSFMask {
			return nil
		}
		return nifti.WriteBinaryMask(path, v)

	case models.TimeSeries:
		key, err := confounds.LocalCSFKey(u.Region.Name)
		if err != nil {
			return err
		}
		return timeseries.WriteCSVFile(path, string(key), v)

	case *confounds.Matrix:
		return confounds.WriteTSVFile(path, v)

	case *regression.Result:
		return timeseries.WriteCSVFile(path, u.Region.Name, v.Residual)

	case QCSnapshot:
		if !s.QCSlices {
			return nil
		}
		return s.saveQC(path, v)

	default:
		return fmt.Errorf("unsupported artifact %s of type %T", a.Name, a.Data)
	}
}

// saveQC draws the region (red), the dilated ring (yellow) and the local
// CSF (cyan) over the mean functional image.
func (s *FileSink) saveQC(prefix string, qc QCSnapshot) error {
	viewer, err := visualization.NewViewer(qc.Functional.Grid, qc.Functional.MeanImage())
	if err != nil {
		return err
	}
	ring := qc.Dilated.Clone()
	for i, in := range qc.Region.Data {
		if in {
			ring.Data[i] = false
		}
	}
	if err := viewer.AddOverlay(ring, visualization.RingColor); err != nil {
		return err
	}
	if err := viewer.AddOverlay(qc.Region, visualization.ROIColor); err != nil {
		return err
	}
	if err := viewer.AddOverlay(qc.LocalCSF, visualization.LocalCSFColor); err != nil {
		return err
	}

	x, y, z, ok := visualization.CentroidVoxel(qc.Region)
	if !ok {
		return nil
	}
	_, err = viewer.SaveOrthogonalSlices(filepath.Dir(prefix), filepath.Base(prefix), x, y, z)
	return err
}
