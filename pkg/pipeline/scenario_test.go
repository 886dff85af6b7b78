package pipeline

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
	"localcsf/pkg/mask"
)

const (
	scenarioSize = 10
	scenarioT    = 50
)

// scenario is a synthetic run: a spherical region at the centre of a
// 10x10x10 grid surrounded by a shell of high CSF probability. Shell voxels
// carry the CSF signal, region voxels a scaled copy of it plus noise.
type scenario struct {
	grid       models.Grid
	region     models.ProbabilisticMask
	csf        models.ProbabilisticMask
	functional *models.FunctionalVolume
	confounds  *confounds.Matrix
	csfSignal  []float64
}

func distanceFromCentre(x, y, z int) float64 {
	dx, dy, dz := float64(x-5), float64(y-5), float64(z-5)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func inShell(x, y, z int) bool {
	d := distanceFromCentre(x, y, z)
	return d >= 2 && d <= 3.5
}

func newScenario(t *testing.T, seed int64) *scenario {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	g := models.NewGrid(scenarioSize, scenarioSize, scenarioSize, models.IdentityAffine())

	s := &scenario{
		grid:       g,
		region:     models.NewProbabilisticMask(g),
		csf:        models.NewProbabilisticMask(g),
		functional: models.NewFunctionalVolume(g, scenarioT),
		csfSignal:  make([]float64, scenarioT),
	}
	for tp := range s.csfSignal {
		s.csfSignal[tp] = math.Sin(0.3*float64(tp)) + 0.5*math.Cos(0.11*float64(tp))
	}

	for z := 0; z < scenarioSize; z++ {
		for y := 0; y < scenarioSize; y++ {
			for x := 0; x < scenarioSize; x++ {
				d := distanceFromCentre(x, y, z)
				switch {
				case d <= 1.5:
					s.region.Set(x, y, z, 0.9)
					s.csf.Set(x, y, z, 0.05)
				case inShell(x, y, z):
					s.csf.Set(x, y, z, 0.8)
				default:
					s.csf.Set(x, y, z, 0.1)
				}

				offset := rng.Float64()
				for tp := 0; tp < scenarioT; tp++ {
					var v float64
					switch {
					case d <= 1.5:
						v = 100 + 2*s.csfSignal[tp] + 0.05*rng.NormFloat64()
					case inShell(x, y, z):
						v = 50 + offset + s.csfSignal[tp]
					default:
						v = 10 + rng.NormFloat64()
					}
					s.functional.Set(x, y, z, tp, v)
				}
			}
		}
	}

	names := []string{"X", "Y", "Z", "RotX", "RotY", "RotZ"}
	cols := make([][]float64, len(names))
	for i := range cols {
		cols[i] = make([]float64, scenarioT)
		for tp := range cols[i] {
			cols[i][tp] = 0.01 * rng.NormFloat64()
		}
	}
	table, err := confounds.FromColumns(names, cols)
	require.NoError(t, err)
	s.confounds = table
	return s
}

func (s *scenario) inputs() *Inputs {
	return &Inputs{
		RegionMask: s.region,
		CSFMask:    s.csf,
		Functional: s.functional,
		Confounds:  s.confounds,
	}
}

func (s *scenario) source(runs ...string) *MemorySource {
	src := &MemorySource{
		Functional: map[string]*models.FunctionalVolume{},
		Confounds:  map[string]*confounds.Matrix{},
		Regions:    map[string]models.ProbabilisticMask{"PAG": s.region},
		CSFMask:    s.csf,
	}
	for _, run := range runs {
		src.Functional[run] = s.functional
		src.Confounds[run] = s.confounds
	}
	return src
}

func scenarioSettings() Settings {
	return Settings{
		Subject:      "sub-011",
		Runs:         []string{"run-01"},
		Regions:      []models.RegionSpec{{Name: "PAG", Threshold: 0.5, Dilation: 2}},
		CSFThreshold: 0.5,
		Connectivity: mask.Connectivity6,
		Motion:       confounds.DefaultMotionKeys(),
		NumCores:     2,
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}
