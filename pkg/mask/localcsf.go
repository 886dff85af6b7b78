package mask

import (
	"fmt"

	"localcsf/internal/models"
)

// LocalCSF selects the CSF voxels inside the dilated neighbourhood of a
// region while excluding the region itself:
//
//	L = dilated AND csf AND NOT region
//
// All three masks must share a grid. An empty result is reported as an
// EmptyMaskError instead of being returned.
func LocalCSF(dilated, csf, region models.BinaryMask) (models.BinaryMask, error) {
	named := []struct {
		name string
		mask models.BinaryMask
	}{
		{"dilated region", dilated},
		{"csf", csf},
		{"region", region},
	}
	for _, n := range named {
		if err := n.mask.CheckSize(); err != nil {
			return models.BinaryMask{}, fmt.Errorf("%s: %w", n.name, err)
		}
	}
	for _, n := range named[1:] {
		if !dilated.Grid.Equal(n.mask.Grid) {
			return models.BinaryMask{}, &models.GridError{
				Op:     "local csf",
				Reason: fmt.Sprintf("dilated region grid %s differs from %s grid %s", dilated.Grid, n.name, n.mask.Grid),
			}
		}
	}

	out := models.NewBinaryMask(dilated.Grid)
	active := 0
	for i := range out.Data {
		if dilated.Data[i] && csf.Data[i] && !region.Data[i] {
			out.Data[i] = true
			active++
		}
	}
	if active == 0 {
		return models.BinaryMask{}, &models.EmptyMaskError{Mask: "local CSF"}
	}
	return out, nil
}
