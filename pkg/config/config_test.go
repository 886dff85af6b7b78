package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localcsf/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"run-01", "run-02", "run-03"}, cfg.Runs)
	assert.Equal(t, "rest", cfg.Condition)
	assert.Len(t, cfg.Regions, 16)
	assert.Equal(t, 0.6, cfg.Masks.CSFThreshold)
	assert.Equal(t, 0.3, cfg.Masks.DefaultROIThreshold)
	assert.Equal(t, 4, cfg.Masks.DefaultDilation)
	assert.Equal(t, 6, cfg.Masks.Connectivity)
	assert.Equal(t, []string{"X", "Y", "Z", "RotX", "RotY", "RotZ"}, cfg.Confounds.Motion)
	assert.False(t, cfg.Regression.PreserveMean)
	assert.Positive(t, cfg.Processing.NumCores)

	assert.Error(t, cfg.Validate(), "subject is required")
	cfg.Subject = "sub-011"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Runs, cfg.Runs)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "localcsf.yaml")
	cfg := DefaultConfig()
	cfg.Subject = "sub-002"
	cfg.Processing.UnitTimeout = 90 * time.Second
	threshold := 0.45
	cfg.Regions = []Region{{Name: "PAG", Mask: "masks/{subject}_pag.nii.gz", Threshold: &threshold}}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sub-002", loaded.Subject)
	assert.Equal(t, 90*time.Second, loaded.Processing.UnitTimeout)
	require.Len(t, loaded.Regions, 1)

	specs, err := loaded.RegionSpecs()
	require.NoError(t, err)
	assert.Equal(t, models.RegionSpec{
		Name:      "PAG",
		MaskPath:  "masks/sub-002_pag.nii.gz",
		Threshold: 0.45,
		Dilation:  4,
	}, specs[0])
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("subject: sub-003\nmasks:\n  csfThreshold: 0.7\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sub-003", cfg.Subject)
	assert.Equal(t, 0.7, cfg.Masks.CSFThreshold)
	assert.Equal(t, 4, cfg.Masks.DefaultDilation)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Paths, cfg.Paths)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"csf threshold":   func(c *Config) { c.Masks.CSFThreshold = 1.5 },
		"connectivity":    func(c *Config) { c.Masks.Connectivity = 18 },
		"motion key":      func(c *Config) { c.Confounds.Motion = []string{"X", "global_signal"} },
		"no runs":         func(c *Config) { c.Runs = nil },
		"negative cores":  func(c *Config) { c.Processing.NumCores = -1 },
		"empty output":    func(c *Config) { c.Paths.OutputDir = "" },
		"negative dilate": func(c *Config) { d := -1; c.Regions = []Region{{Name: "PAG", Dilation: &d}} },
		"duplicate":       func(c *Config) { c.Regions = []Region{{Name: "PAG"}, {Name: "PAG"}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Subject = "sub-011"
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnvMap(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnvMap(map[string]string{
		"SUBJ":                   "sub-011",
		"LOCALCSF_RUNS":          "run-01,run-02",
		"LOCALCSF_NUM_CORES":     "2",
		"LOCALCSF_CSF_THRESHOLD": "0.8",
		"LOCALCSF_UNIT_TIMEOUT":  "2m",
	}))
	assert.Equal(t, "sub-011", cfg.Subject)
	assert.Equal(t, []string{"run-01", "run-02"}, cfg.Runs)
	assert.Equal(t, 2, cfg.Processing.NumCores)
	assert.Equal(t, 0.8, cfg.Masks.CSFThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Processing.UnitTimeout)
	assert.Equal(t, "output", cfg.Paths.OutputDir, "unset variables keep file values")

	assert.Error(t, cfg.ApplyEnvMap(map[string]string{"LOCALCSF_NUM_CORES": "many"}))
}

func TestDiscoverRegions(t *testing.T) {
	root := t.TempDir()
	touch := func(parts ...string) {
		p := filepath.Join(append([]string{root}, parts...)...)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}
	touch("harvard_oxford", "R_amygdala.nii.gz")
	touch("harvard_oxford", "L_amygdala.nii.gz")
	touch("harvard_oxford", "README.txt")
	touch("brainstemNav", "PAG_prob.nii.gz")
	touch("sub_PAG_across_runs", "rest", "sub-011", "sub-011_pag_mask_averaged_all-runs.nii.gz")

	regions, err := DiscoverRegions(root, "sub-011", "rest")
	require.NoError(t, err)
	var names []string
	for _, r := range regions {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"L_amygdala", "R_amygdala", BrainstemPAG, SubjectPAG}, names)

	// another subject has no run-averaged mask
	regions, err = DiscoverRegions(root, "sub-002", "rest")
	require.NoError(t, err)
	assert.Len(t, regions, 3)

	_, err = DiscoverRegions(t.TempDir(), "sub-011", "rest")
	assert.Error(t, err)
}

func TestRegionSpecsUsesDiscovery(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "harvard_oxford", "R_caudate.nii.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, nil, 0644))

	cfg := DefaultConfig()
	cfg.Subject = "sub-011"
	cfg.Regions = nil
	cfg.Paths.ROIDir = root

	specs, err := cfg.RegionSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, p, specs[0].MaskPath)
	assert.Equal(t, 0.3, specs[0].Threshold)
}
