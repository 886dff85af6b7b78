package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"localcsf/internal/models"
)

// Image is a decoded volume with scaling already applied to Data.
type Image struct {
	Header    Header
	ByteOrder binary.ByteOrder

	// Dims holds the extent of each dimension, at least three.
	Dims []int

	Affine [4][4]float64

	// Data is stored x fastest, then y, z and t.
	Data []float64
}

// Grid returns the spatial grid of the image.
func (img *Image) Grid() models.Grid {
	return models.NewGrid(img.Dims[0], img.Dims[1], img.Dims[2], img.Affine)
}

// Frames returns the number of 3-D volumes stored in the image.
func (img *Image) Frames() int {
	n := 1
	for _, d := range img.Dims[3:] {
		n *= d
	}
	return n
}

// Read loads a .nii or .nii.gz file. Compression is detected from the
// content rather than the file name.
func Read(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.WithFields(log.Fields{
		"path":     path,
		"dims":     img.Dims,
		"dataType": DataType(img.Header.DataType),
	}).Debug("Read NIfTI volume")
	return img, nil
}

// Decode reads a single-file NIfTI-1 dataset, gzipped or not.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("nifti: %w", err)
		}
		defer zr.Close()
		r = zr
	} else {
		r = br
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("nifti: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("nifti: file too short for header (%d bytes)", len(raw))
	}

	h, order, err := readHeader(raw)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Header:    h,
		ByteOrder: order,
		Dims:      h.dims(),
		Affine:    h.affine(),
	}

	offset := int(h.VoxOffset)
	if offset < minDataOffset {
		offset = minDataOffset
	}
	nvox := 1
	for _, d := range img.Dims {
		nvox *= d
	}
	dt := DataType(h.DataType)
	size := nvox * dt.Size()
	if offset+size > len(raw) {
		return nil, fmt.Errorf("nifti: expected %d bytes of %s data at offset %d, file has %d", size, dt, offset, len(raw))
	}

	img.Data = decodeData(raw[offset:offset+size], order, dt, nvox)

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !math.IsNaN(slope) && !math.IsInf(slope, 0) && (slope != 1 || inter != 0) {
		for i, v := range img.Data {
			img.Data[i] = v*slope + inter
		}
	}
	return img, nil
}

// readHeader infers the byte order from sizeof_hdr, which must read 348.
func readHeader(raw []byte) (Header, binary.ByteOrder, error) {
	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw[:4])) != headerSize {
		order = binary.BigEndian
	}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &h); err != nil {
		return Header{}, nil, fmt.Errorf("nifti: reading header: %w", err)
	}
	if err := h.validate(); err != nil {
		return Header{}, nil, err
	}
	log.WithField("byteOrder", order).Debug("Found byte order")
	return h, order, nil
}

func decodeData(b []byte, order binary.ByteOrder, dt DataType, n int) []float64 {
	out := make([]float64, n)
	switch dt {
	case Uint8:
		for i := range out {
			out[i] = float64(b[i])
		}
	case Int8:
		for i := range out {
			out[i] = float64(int8(b[i]))
		}
	case Int16:
		for i := range out {
			out[i] = float64(int16(order.Uint16(b[2*i:])))
		}
	case Uint16:
		for i := range out {
			out[i] = float64(order.Uint16(b[2*i:]))
		}
	case Int32:
		for i := range out {
			out[i] = float64(int32(order.Uint32(b[4*i:])))
		}
	case Uint32:
		for i := range out {
			out[i] = float64(order.Uint32(b[4*i:]))
		}
	case Float32:
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(b[4*i:])))
		}
	case Float64:
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(b[8*i:]))
		}
	case Int64:
		for i := range out {
			out[i] = float64(int64(order.Uint64(b[8*i:])))
		}
	case Uint64:
		for i := range out {
			out[i] = float64(order.Uint64(b[8*i:]))
		}
	}
	return out
}
