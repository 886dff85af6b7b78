package pipeline

import (
	"context"
	"fmt"
	"sync"

	"localcsf/internal/models"
	"localcsf/pkg/config"
	"localcsf/pkg/confounds"
	"localcsf/pkg/nifti"
)

// Inputs holds the data one unit reads. A unit never modifies its inputs.
type Inputs struct {
	RegionMask models.ProbabilisticMask
	CSFMask    models.ProbabilisticMask
	Functional *models.FunctionalVolume
	Confounds  *confounds.Matrix

	// Reference is the grid masks are resampled onto. When nil the
	// functional grid is used.
	Reference *models.Grid
}

// Source loads the inputs of a unit.
type Source interface {
	Load(ctx context.Context, u Unit) (*Inputs, error)
}

// FileSource reads inputs from NIfTI and TSV files named by path
// templates with {subject}, {run}, {condition} and {region} placeholders.
type FileSource struct {
	Template   string
	CSFMask    string
	Functional string
	Confounds  string
	Condition  string

	once        sync.Once
	reference   *models.Grid
	templateErr error
}

// NewFileSource creates a source from the paths section of cfg.
func NewFileSource(cfg *config.Config) *FileSource {
	return &FileSource{
		Template:   cfg.Paths.Template,
		CSFMask:    cfg.Paths.CSFMask,
		Functional: cfg.Paths.Functional,
		Confounds:  cfg.Paths.Confounds,
		Condition:  cfg.Condition,
	}
}

func (s *FileSource) path(tmpl string, u Unit) string {
	return config.Expand(tmpl, u.Subject, u.Run, s.Condition, u.Region.Name)
}

// referenceGrid reads the template once; only its grid is kept.
func (s *FileSource) referenceGrid() (*models.Grid, error) {
	s.once.Do(func() {
		if s.Template == "" {
			return
		}
		img, err := nifti.Read(s.Template)
		if err != nil {
			s.templateErr = fmt.Errorf("reading template: %w", err)
			return
		}
		g := img.Grid()
		s.reference = &g
	})
	return s.reference, s.templateErr
}

// Load reads the region mask, the subject's CSF map, the functional run
// and its confound table.
func (s *FileSource) Load(ctx context.Context, u Unit) (*Inputs, error) {
	ref, err := s.referenceGrid()
	if err != nil {
		return nil, err
	}
	in := &Inputs{Reference: ref}

	if in.RegionMask, err = nifti.ReadProbabilisticMask(s.path(u.Region.MaskPath, u)); err != nil {
		return nil, fmt.Errorf("reading region mask: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.CSFMask, err = nifti.ReadProbabilisticMask(s.path(s.CSFMask, u)); err != nil {
		return nil, fmt.Errorf("reading CSF mask: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Functional, err = nifti.ReadFunctionalVolume(s.path(s.Functional, u)); err != nil {
		return nil, fmt.Errorf("reading functional volume: %w", err)
	}
	if in.Confounds, err = confounds.ReadTSVFile(s.path(s.Confounds, u)); err != nil {
		return nil, fmt.Errorf("reading confounds: %w", err)
	}
	return in, nil
}

// MemorySource serves inputs held in memory: functional runs and
// confound tables by run, region masks by region name.
type MemorySource struct {
	Functional map[string]*models.FunctionalVolume
	Confounds  map[string]*confounds.Matrix
	Regions    map[string]models.ProbabilisticMask
	CSFMask    models.ProbabilisticMask
	Reference  *models.Grid
}

// Load assembles the inputs of u.
func (s *MemorySource) Load(_ context.Context, u Unit) (*Inputs, error) {
	region, ok := s.Regions[u.Region.Name]
	if !ok {
		return nil, fmt.Errorf("no mask for region %q", u.Region.Name)
	}
	functional, ok := s.Functional[u.Run]
	if !ok {
		return nil, fmt.Errorf("no functional volume for run %q", u.Run)
	}
	table, ok := s.Confounds[u.Run]
	if !ok {
		return nil, fmt.Errorf("no confounds for run %q", u.Run)
	}
	return &Inputs{
		RegionMask: region,
		CSFMask:    s.CSFMask,
		Functional: functional,
		Confounds:  table,
		Reference:  s.Reference,
	}, nil
}
