package confounds

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"localcsf/internal/fsutil"
)

// missingValue is how fMRIPrep writes undefined entries (e.g. the first
// row of derivative regressors).
const missingValue = "n/a"

// ReadTSV parses a tab-separated confound table: a header row of unique
// column names followed by one row per timepoint. "n/a" and empty cells
// read as NaN.
func ReadTSV(r io.Reader) (*Matrix, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("confounds: empty table")
		}
		return nil, fmt.Errorf("confounds: reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	cols := make([][]float64, len(header))
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("confounds: reading row %d: %w", row+1, err)
		}
		for c, cell := range record {
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("confounds: row %d column %q: %w", row+1, header[c], err)
			}
			cols[c] = append(cols[c], v)
		}
		row++
	}
	return FromColumns(header, cols)
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, missingValue) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}

// ReadTSVFile reads a confound table from disk.
func ReadTSVFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("confounds: %w", err)
	}
	defer f.Close()
	return ReadTSV(f)
}

// WriteTSV encodes the matrix with a header row; NaN is written as "n/a".
func WriteTSV(w io.Writer, m *Matrix) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	if err := writer.Write(m.names); err != nil {
		return err
	}
	record := make([]string, len(m.names))
	for r := 0; r < m.rows; r++ {
		for c := range m.cols {
			record[c] = formatCell(m.cols[c][r])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return missingValue
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTSVFile writes the matrix to path through a temporary file renamed
// into place, so readers never observe a partial table.
func WriteTSVFile(path string, m *Matrix) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error { return WriteTSV(w, m) })
}
