package pipeline

import (
	"fmt"
	"runtime"
	"time"

	"localcsf/internal/models"
	"localcsf/pkg/config"
	"localcsf/pkg/confounds"
	"localcsf/pkg/mask"
	"localcsf/pkg/regression"
)

// Settings is the immutable parameter set shared by every unit of a batch.
type Settings struct {
	Subject string
	Runs    []string
	Regions []models.RegionSpec

	CSFThreshold     float64
	Connectivity     mask.Connectivity
	AutoScalePercent bool

	Motion     []confounds.MotionKey
	Regression regression.Options

	NumCores    int
	UnitTimeout time.Duration
}

// SettingsFromConfig validates cfg and resolves it into Settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	regions, err := cfg.RegionSpecs()
	if err != nil {
		return Settings{}, err
	}
	conn, err := mask.ParseConnectivity(cfg.Masks.Connectivity)
	if err != nil {
		return Settings{}, err
	}
	motion, err := confounds.ParseMotionKeys(cfg.Confounds.Motion)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		Subject:          cfg.Subject,
		Runs:             append([]string(nil), cfg.Runs...),
		Regions:          regions,
		CSFThreshold:     cfg.Masks.CSFThreshold,
		Connectivity:     conn,
		AutoScalePercent: cfg.Masks.AutoScalePercent,
		Motion:           motion,
		Regression:       cfg.Regression,
		NumCores:         cfg.Processing.NumCores,
		UnitTimeout:      cfg.Processing.UnitTimeout,
	}
	if s.NumCores == 0 {
		s.NumCores = runtime.NumCPU()
	}
	return s, nil
}

// Units expands the settings into one unit per run and region, runs
// outermost.
func (s Settings) Units() []Unit {
	units := make([]Unit, 0, len(s.Runs)*len(s.Regions))
	for _, run := range s.Runs {
		for _, region := range s.Regions {
			units = append(units, Unit{Subject: s.Subject, Run: run, Region: region})
		}
	}
	return units
}

// Unit is one independent piece of work: a region of one run of a subject.
type Unit struct {
	Subject string
	Run     string
	Region  models.RegionSpec
}

func (u Unit) String() string {
	return fmt.Sprintf("%s/%s/%s", u.Subject, u.Run, u.Region.Name)
}
