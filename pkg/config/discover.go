package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Region names with a fixed location under the ROI directory.
const (
	BrainstemPAG  = "brainstemNav_PAG"
	SubjectPAG    = "sub_PAG_across_runs"
	harvardOxford = "harvard_oxford"
)

// RegionMaskPath returns where the mask of a named region lives under roiDir.
func RegionMaskPath(roiDir, subject, condition, name string) string {
	switch name {
	case BrainstemPAG:
		return filepath.Join(roiDir, "brainstemNav", "PAG_prob.nii.gz")
	case SubjectPAG:
		return filepath.Join(roiDir, SubjectPAG, condition, subject, subject+"_pag_mask_averaged_all-runs.nii.gz")
	default:
		return filepath.Join(roiDir, harvardOxford, name+".nii.gz")
	}
}

// DiscoverRegions lists the regions available under roiDir: every atlas
// mask in harvard_oxford/, the brainstem PAG and the subject's run-averaged
// PAG mask when present.
func DiscoverRegions(roiDir, subject, condition string) ([]Region, error) {
	if roiDir == "" {
		return nil, fmt.Errorf("no regions configured and paths.roiDir is empty")
	}

	entries, err := os.ReadDir(filepath.Join(roiDir, harvardOxford))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error reading ROI directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".nii.gz") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".nii.gz"))
	}
	sort.Strings(names)

	for _, special := range []string{BrainstemPAG, SubjectPAG} {
		if _, err := os.Stat(RegionMaskPath(roiDir, subject, condition, special)); err == nil {
			names = append(names, special)
		}
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no region masks found under %s", roiDir)
	}

	regions := make([]Region, len(names))
	for i, name := range names {
		regions[i] = Region{Name: name}
	}
	return regions, nil
}
