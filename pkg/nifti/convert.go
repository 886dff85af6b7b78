package nifti

import (
	"fmt"

	"localcsf/internal/models"
)

// ProbabilisticMask returns a 3-D image as a probabilistic mask. Values are
// passed through unchanged; range checks happen at thresholding.
func (img *Image) ProbabilisticMask() (models.ProbabilisticMask, error) {
	if img.Frames() != 1 {
		return models.ProbabilisticMask{}, fmt.Errorf("nifti: expected a 3-D mask, got dims %v", img.Dims)
	}
	m := models.ProbabilisticMask{Grid: img.Grid(), Data: make([]float64, len(img.Data))}
	copy(m.Data, img.Data)
	return m, nil
}

// FunctionalVolume returns the image as a 4-D functional series. A 3-D
// image is read as a single frame.
func (img *Image) FunctionalVolume() (*models.FunctionalVolume, error) {
	if len(img.Dims) > 4 {
		return nil, fmt.Errorf("nifti: expected a 4-D series, got dims %v", img.Dims)
	}
	v := models.NewFunctionalVolume(img.Grid(), img.Frames())
	copy(v.Data, img.Data)
	return v, nil
}

// ReadProbabilisticMask loads a mask file.
func ReadProbabilisticMask(path string) (models.ProbabilisticMask, error) {
	img, err := Read(path)
	if err != nil {
		return models.ProbabilisticMask{}, err
	}
	m, err := img.ProbabilisticMask()
	if err != nil {
		return models.ProbabilisticMask{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadFunctionalVolume loads a 4-D BOLD series.
func ReadFunctionalVolume(path string) (*models.FunctionalVolume, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	v, err := img.FunctionalVolume()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// WriteProbabilisticMask stores a mask as float32.
func WriteProbabilisticMask(path string, m models.ProbabilisticMask) error {
	if err := m.CheckSize(); err != nil {
		return err
	}
	return Write(path, m.Grid, nil, m.Data, Float32)
}

// WriteBinaryMask stores a mask as uint8 zeros and ones.
func WriteBinaryMask(path string, m models.BinaryMask) error {
	if err := m.CheckSize(); err != nil {
		return err
	}
	data := make([]float64, len(m.Data))
	for i, on := range m.Data {
		if on {
			data[i] = 1
		}
	}
	return Write(path, m.Grid, nil, data, Uint8)
}

// WriteFunctionalVolume stores a 4-D series as float32.
func WriteFunctionalVolume(path string, v *models.FunctionalVolume) error {
	if err := v.CheckSize(); err != nil {
		return err
	}
	return Write(path, v.Grid, []int{v.T}, v.Data, Float32)
}
