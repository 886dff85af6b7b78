// Package config provides configuration loading and management for localcsf.
// It handles loading configuration from YAML files, environment overrides
// and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"localcsf/internal/models"
	"localcsf/pkg/confounds"
	"localcsf/pkg/mask"
	"localcsf/pkg/regression"
)

// Region is a region entry as written in the configuration file. Unset
// fields fall back to the masks section defaults.
type Region struct {
	Name      string   `yaml:"name"`
	Mask      string   `yaml:"mask,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	Dilation  *int     `yaml:"dilation,omitempty"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Subject is the participant label, e.g. "sub-011"
	Subject string `yaml:"subject"`

	// Runs lists the functional runs processed for the subject
	Runs []string `yaml:"runs"`

	// Condition is the task label used in file names ("rest")
	Condition string `yaml:"condition"`

	// Regions to correct; an empty list means discovery in paths.roiDir
	Regions []Region `yaml:"regions"`

	// Mask parameters
	Masks struct {
		// CSFThreshold binarizes the subject's CSF probability map
		CSFThreshold float64 `yaml:"csfThreshold"`

		// DefaultROIThreshold applies to regions without their own threshold
		DefaultROIThreshold float64 `yaml:"defaultRoiThreshold"`

		// DefaultDilation applies to regions without their own dilation
		DefaultDilation int `yaml:"defaultDilation"`

		// Connectivity is the dilation neighbourhood, 6 or 26
		Connectivity int `yaml:"connectivity"`

		// AutoScalePercent rescales maps stored on a 0-100 scale
		AutoScalePercent bool `yaml:"autoScalePercent"`
	} `yaml:"masks"`

	Confounds struct {
		// Motion lists the motion regressors included in every design
		Motion []string `yaml:"motion"`
	} `yaml:"confounds"`

	Regression regression.Options `yaml:"regression"`

	// Paths accept {subject}, {run}, {condition} and {region} placeholders
	Paths struct {
		Template   string `yaml:"template"`
		ROIDir     string `yaml:"roiDir"`
		CSFMask    string `yaml:"csfMask"`
		Functional string `yaml:"functional"`
		Confounds  string `yaml:"confounds"`
		OutputDir  string `yaml:"outputDir"`
	} `yaml:"paths"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many units are processed in parallel
		NumCores int `yaml:"numCores"`

		// UnitTimeout bounds the processing time of one unit, 0 disables it
		UnitTimeout time.Duration `yaml:"unitTimeout"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes the mask of every stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// QCSlices writes overlay JPEGs of the region masks
		QCSlices bool `yaml:"qcSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultRegions are the sixteen regions corrected when none are configured.
var DefaultRegions = []string{
	"R_pallidum", "L_pallidum", "R_hippocampus", "L_hippocampus",
	"R_thalamus", "L_thalamus", "R_putamen", "L_putamen",
	"R_caudate", "L_caudate", "R_amygdala", "L_amygdala",
	"R_accumbens", "L_accumbens", "brainstemNav_PAG", "sub_PAG_across_runs",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Runs = []string{"run-01", "run-02", "run-03"}
	cfg.Condition = "rest"
	for _, name := range DefaultRegions {
		cfg.Regions = append(cfg.Regions, Region{Name: name})
	}

	cfg.Masks.CSFThreshold = 0.6
	cfg.Masks.DefaultROIThreshold = 0.3
	cfg.Masks.DefaultDilation = 4
	cfg.Masks.Connectivity = int(mask.Connectivity6)

	for _, k := range confounds.DefaultMotionKeys() {
		cfg.Confounds.Motion = append(cfg.Confounds.Motion, string(k))
	}

	cfg.Paths.Template = "data/anat/MNI_template/mni_icbm152_t1_tal_nlin_asym_09c.nii.gz"
	cfg.Paths.ROIDir = "data/anat/roi_mask"
	cfg.Paths.CSFMask = "data/anat/csf_prob_tissue/{subject}_T1w_space-MNI152NLin2009cAsym_class-CSF_probtissue.nii.gz"
	cfg.Paths.Functional = "data/func/{subject}_task-{condition}_{run}_bold_space-MNI152NLin2009cAsym_preproc.nii.gz"
	cfg.Paths.Confounds = "data/func/{subject}_task-{condition}_{run}_bold_confounds.tsv"
	cfg.Paths.OutputDir = "output"

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every value that would otherwise fail deep inside a unit.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is not set (config subject or SUBJ)")
	}
	if len(c.Runs) == 0 {
		return fmt.Errorf("no runs configured")
	}
	if !(c.Masks.CSFThreshold >= 0 && c.Masks.CSFThreshold <= 1) {
		return &models.ParameterError{Param: "csfThreshold", Value: c.Masks.CSFThreshold, Reason: "must be within [0, 1]"}
	}
	if _, err := mask.ParseConnectivity(c.Masks.Connectivity); err != nil {
		return err
	}
	if _, err := confounds.ParseMotionKeys(c.Confounds.Motion); err != nil {
		return err
	}
	if c.Processing.NumCores < 0 {
		return &models.ParameterError{Param: "numCores", Value: c.Processing.NumCores, Reason: "must not be negative"}
	}
	if c.Processing.UnitTimeout < 0 {
		return &models.ParameterError{Param: "unitTimeout", Value: c.Processing.UnitTimeout, Reason: "must not be negative"}
	}
	for name, p := range map[string]string{
		"paths.csfMask":    c.Paths.CSFMask,
		"paths.functional": c.Paths.Functional,
		"paths.confounds":  c.Paths.Confounds,
		"paths.outputDir":  c.Paths.OutputDir,
	} {
		if p == "" {
			return fmt.Errorf("%s is not set", name)
		}
	}

	specs, err := c.RegionSpecs()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return &models.DuplicateColumnError{Column: s.Name + confounds.LocalCSFSuffix}
		}
		seen[s.Name] = true
	}
	return nil
}

// RegionSpecs resolves the configured regions, applying the mask defaults.
// When no regions are configured the ROI directory is scanned.
func (c *Config) RegionSpecs() ([]models.RegionSpec, error) {
	regions := c.Regions
	if len(regions) == 0 {
		found, err := DiscoverRegions(c.Paths.ROIDir, c.Subject, c.Condition)
		if err != nil {
			return nil, err
		}
		regions = found
	}

	specs := make([]models.RegionSpec, 0, len(regions))
	for _, r := range regions {
		spec := models.RegionSpec{
			Name:      r.Name,
			MaskPath:  r.Mask,
			Threshold: c.Masks.DefaultROIThreshold,
			Dilation:  c.Masks.DefaultDilation,
		}
		if r.Threshold != nil {
			spec.Threshold = *r.Threshold
		}
		if r.Dilation != nil {
			spec.Dilation = *r.Dilation
		}
		if spec.MaskPath == "" {
			spec.MaskPath = RegionMaskPath(c.Paths.ROIDir, c.Subject, c.Condition, r.Name)
		} else {
			spec.MaskPath = Expand(spec.MaskPath, c.Subject, "", c.Condition, r.Name)
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("region %q: %w", r.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Expand substitutes the path placeholders.
func Expand(tmpl, subject, run, condition, region string) string {
	return strings.NewReplacer(
		"{subject}", subject,
		"{run}", run,
		"{condition}", condition,
		"{region}", region,
	).Replace(tmpl)
}
