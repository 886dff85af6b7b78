// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz) and converts them to the mask and functional volume types.
//
// Based on the nifti1 header definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"fmt"
	"math"
)

// Header is the on-disk nifti1 header.
//
// Type translation from nifti1 C header to golang:
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  int8
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]int8 // Unused
	UnusedDbName       [18]int8 // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      int8     // Unused
	DimInfo            int8     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     int8       // Slice timing order
	XYZTUnits     int8       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // "n+1\0" for single-file datasets
}

const (
	headerSize    = 348
	minDataOffset = 352
)

var singleFileMagic = [4]byte{'n', '+', '1', 0}

// DataType is a NIFTI_TYPE_* voxel type code.
type DataType int16

// Supported voxel types.
const (
	Uint8   DataType = 2
	Int16   DataType = 4
	Int32   DataType = 8
	Float32 DataType = 16
	Float64 DataType = 64
	Int8    DataType = 256
	Uint16  DataType = 512
	Uint32  DataType = 768
	Int64   DataType = 1024
	Uint64  DataType = 1280
)

// Size returns the number of bytes per voxel, or 0 for unsupported types.
func (d DataType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("datatype(%d)", int16(d))
	}
}

func (h *Header) validate() error {
	if h.SizeOfHdr != headerSize {
		return fmt.Errorf("nifti: invalid header size %d", h.SizeOfHdr)
	}
	if h.Magic != singleFileMagic {
		return fmt.Errorf("nifti: unsupported magic %q, only single-file n+1 datasets are read", string(h.Magic[:3]))
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return fmt.Errorf("nifti: dim[0] = %d not in [1, 7]", h.Dim[0])
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("nifti: dim[%d] = %d", i, h.Dim[i])
		}
	}
	if DataType(h.DataType).Size() == 0 {
		return fmt.Errorf("nifti: unsupported data type %s", DataType(h.DataType))
	}
	return nil
}

// dims returns the extent of each used dimension, padding to at least three.
func (h *Header) dims() []int {
	n := int(h.Dim[0])
	if n < 3 {
		n = 3
	}
	out := make([]int, n)
	for i := range out {
		out[i] = 1
		if i < int(h.Dim[0]) {
			out[i] = int(h.Dim[i+1])
		}
	}
	return out
}

// affine returns the voxel-to-world transform, preferring the sform, then
// the qform, then a plain scaling by the voxel spacing.
func (h *Header) affine() [4][4]float64 {
	var a [4][4]float64
	a[3][3] = 1

	switch {
	case h.SFormCode > 0:
		rows := [3][4]float32{h.SRowX, h.SRowY, h.SRowZ}
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				a[r][c] = float64(rows[r][c])
			}
		}
	case h.QFormCode > 0:
		a = h.quaternAffine()
	default:
		for i := 0; i < 3; i++ {
			a[i][i] = spacing(h.PixDim[i+1])
		}
	}
	return a
}

func (h *Header) quaternAffine() [4][4]float64 {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	aa := 1 - (b*b + c*c + d*d)
	var a float64
	if aa < 1e-7 {
		// 180 degree rotation: renormalise (b, c, d)
		norm := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*norm, c*norm, d*norm
	} else {
		a = math.Sqrt(aa)
	}

	dx, dy, dz := spacing(h.PixDim[1]), spacing(h.PixDim[2]), spacing(h.PixDim[3])
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	var m [4][4]float64
	m[0][0] = (a*a + b*b - c*c - d*d) * dx
	m[0][1] = 2 * (b*c - a*d) * dy
	m[0][2] = 2 * (b*d + a*c) * dz
	m[1][0] = 2 * (b*c + a*d) * dx
	m[1][1] = (a*a + c*c - b*b - d*d) * dy
	m[1][2] = 2 * (c*d - a*b) * dz
	m[2][0] = 2 * (b*d - a*c) * dx
	m[2][1] = 2 * (c*d + a*b) * dy
	m[2][2] = (a*a + d*d - c*c - b*b) * dz
	m[0][3] = float64(h.QOffsetX)
	m[1][3] = float64(h.QOffsetY)
	m[2][3] = float64(h.QOffsetZ)
	m[3][3] = 1
	return m
}

func spacing(v float32) float64 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 1
	}
	return float64(v)
}
