package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/gzip"

	"localcsf/internal/fsutil"
	"localcsf/internal/models"
)

// NIFTI_XFORM_SCANNER_ANAT
const xformScannerAnat = 1

// Encode writes a volume on grid g with the given extra dimensions (e.g.
// the number of frames) as an uncompressed single-file dataset.
// Only Uint8 and Float32 are written.
func Encode(w io.Writer, g models.Grid, extra []int, data []float64, dt DataType) error {
	if dt != Uint8 && dt != Float32 {
		return fmt.Errorf("nifti: writing %s is not supported", dt)
	}
	dims := append([]int{g.Shape[0], g.Shape[1], g.Shape[2]}, extra...)
	if len(dims) > 7 {
		return fmt.Errorf("nifti: %d dimensions", len(dims))
	}
	nvox := 1
	for _, d := range dims {
		if d < 1 || d > math.MaxInt16 {
			return fmt.Errorf("nifti: dimension %d out of range", d)
		}
		nvox *= d
	}
	if len(data) != nvox {
		return fmt.Errorf("nifti: %d values for %d voxels", len(data), nvox)
	}

	h := newHeader(g, dims, dt)
	bw := bufio.NewWriter(w)
	order := binary.LittleEndian
	if err := binary.Write(bw, order, &h); err != nil {
		return err
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, dt.Size())
	for _, v := range data {
		switch dt {
		case Uint8:
			buf[0] = uint8(math.Max(0, math.Min(255, math.Round(v))))
		case Float32:
			order.PutUint32(buf, math.Float32bits(float32(v)))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func newHeader(g models.Grid, dims []int, dt DataType) Header {
	h := Header{
		SizeOfHdr: headerSize,
		DataType:  int16(dt),
		BitPix:    int16(8 * dt.Size()),
		VoxOffset: minDataOffset,
		SclSlope:  1,
		XYZTUnits: 2, // millimetres
		SFormCode: xformScannerAnat,
		Magic:     singleFileMagic,
	}
	h.Dim[0] = int16(len(dims))
	for i := range h.Dim[1:] {
		h.Dim[i+1] = 1
	}
	for i, d := range dims {
		h.Dim[i+1] = int16(d)
	}

	h.PixDim[0] = 1
	vs := g.VoxelSize()
	for i := 0; i < 3; i++ {
		h.PixDim[i+1] = float32(vs[i])
	}
	for i := 4; i < 8; i++ {
		h.PixDim[i] = 1
	}
	for c := 0; c < 4; c++ {
		h.SRowX[c] = float32(g.Affine[0][c])
		h.SRowY[c] = float32(g.Affine[1][c])
		h.SRowZ[c] = float32(g.Affine[2][c])
	}
	copy(h.Descrip[:], "localcsf")
	return h
}

// Write stores a volume at path atomically, gzipping when path ends in .gz.
func Write(path string, g models.Grid, extra []int, data []float64, dt DataType) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		if !strings.HasSuffix(path, ".gz") {
			return Encode(w, g, extra, data, dt)
		}
		zw := gzip.NewWriter(w)
		if err := Encode(zw, g, extra, data, dt); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}
