package confounds

import (
	"fmt"
	"regexp"
	"strings"

	"localcsf/internal/models"
)

// MotionKey names one of the known head-motion regressors. The set is
// closed: only the keys declared here are accepted.
type MotionKey string

// Legacy fMRIPrep motion parameters.
const (
	MotionX    MotionKey = "X"
	MotionY    MotionKey = "Y"
	MotionZ    MotionKey = "Z"
	MotionRotX MotionKey = "RotX"
	MotionRotY MotionKey = "RotY"
	MotionRotZ MotionKey = "RotZ"
)

// Current fMRIPrep motion parameters.
const (
	MotionTransX MotionKey = "trans_x"
	MotionTransY MotionKey = "trans_y"
	MotionTransZ MotionKey = "trans_z"
	MotionRotXv2 MotionKey = "rot_x"
	MotionRotYv2 MotionKey = "rot_y"
	MotionRotZv2 MotionKey = "rot_z"
)

var knownMotionKeys = map[MotionKey]bool{
	MotionX: true, MotionY: true, MotionZ: true,
	MotionRotX: true, MotionRotY: true, MotionRotZ: true,
	MotionTransX: true, MotionTransY: true, MotionTransZ: true,
	MotionRotXv2: true, MotionRotYv2: true, MotionRotZv2: true,
}

// DefaultMotionKeys returns the six rigid-body parameters included in every
// region's design by default.
func DefaultMotionKeys() []MotionKey {
	return []MotionKey{MotionX, MotionY, MotionZ, MotionRotX, MotionRotY, MotionRotZ}
}

// ParseMotionKey accepts only known motion regressor names.
func ParseMotionKey(s string) (MotionKey, error) {
	k := MotionKey(s)
	if !knownMotionKeys[k] {
		return "", &models.ParameterError{Param: "motion confound", Value: s, Reason: "not a known motion regressor"}
	}
	return k, nil
}

// ParseMotionKeys parses a list of motion regressor names, rejecting
// unknown and repeated entries.
func ParseMotionKeys(names []string) ([]MotionKey, error) {
	keys := make([]MotionKey, 0, len(names))
	seen := make(map[MotionKey]bool, len(names))
	for _, name := range names {
		k, err := ParseMotionKey(name)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, &models.DuplicateColumnError{Column: name}
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// DerivedKey names a column computed by the pipeline, such as a region's
// local CSF regressor. Derived keys are validated on construction and can
// never shadow a motion key.
type DerivedKey string

// LocalCSFSuffix terminates every local CSF column name.
const LocalCSFSuffix = "_local_csf"

var derivedKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// LocalCSFKey builds the local CSF column name for a region, e.g.
// "PAG" -> "PAG_local_csf".
func LocalCSFKey(region string) (DerivedKey, error) {
	key := region + LocalCSFSuffix
	if err := ValidateDerivedKey(key); err != nil {
		return "", err
	}
	return DerivedKey(key), nil
}

// ValidateDerivedKey checks that a derived column name is well formed.
func ValidateDerivedKey(key string) error {
	if !strings.HasSuffix(key, LocalCSFSuffix) || len(key) == len(LocalCSFSuffix) {
		return &models.ParameterError{Param: "derived column", Value: key, Reason: fmt.Sprintf("must be <region>%s", LocalCSFSuffix)}
	}
	if !derivedKeyPattern.MatchString(key) {
		return &models.ParameterError{Param: "derived column", Value: key, Reason: "contains characters outside [A-Za-z0-9_.-]"}
	}
	if knownMotionKeys[MotionKey(key)] {
		return &models.DuplicateColumnError{Column: key}
	}
	return nil
}

// DesignColumns lists the confound columns of a region's design matrix:
// the motion keys followed by the derived keys.
func DesignColumns(motion []MotionKey, derived ...DerivedKey) []string {
	cols := make([]string, 0, len(motion)+len(derived))
	for _, k := range motion {
		cols = append(cols, string(k))
	}
	for _, k := range derived {
		cols = append(cols, string(k))
	}
	return cols
}
