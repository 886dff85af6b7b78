// Package confounds holds the time-aligned confound table used to build
// nuisance regression designs, its column schema and its TSV encoding.
package confounds

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"localcsf/internal/models"
)

// MissingColumnsError reports requested confound columns absent from a matrix.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing confound variables: [%s]", strings.Join(e.Columns, ", "))
}

// Matrix is a table of T time-ordered rows by uniquely named columns.
// A Matrix is never modified in place: Append returns a new matrix.
type Matrix struct {
	rows  int
	names []string
	index map[string]int
	cols  [][]float64
}

// NewMatrix creates an empty matrix with the given number of rows.
func NewMatrix(rows int) *Matrix {
	return &Matrix{rows: rows, index: make(map[string]int)}
}

// FromColumns builds a matrix from named columns of equal length.
func FromColumns(names []string, cols [][]float64) (*Matrix, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("confounds: %d names for %d columns", len(names), len(cols))
	}
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	m := NewMatrix(rows)
	for i, name := range names {
		if err := m.add(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matrix) add(name string, col []float64) error {
	if name == "" {
		return &models.ParameterError{Param: "confound column", Value: name, Reason: "name must not be empty"}
	}
	if _, ok := m.index[name]; ok {
		return &models.DuplicateColumnError{Column: name}
	}
	if len(col) != m.rows {
		return &models.AlignmentError{What: fmt.Sprintf("confound column %q", name), Expected: m.rows, Got: len(col)}
	}
	data := make([]float64, len(col))
	copy(data, col)
	m.index[name] = len(m.names)
	m.names = append(m.names, name)
	m.cols = append(m.cols, data)
	return nil
}

// Rows returns the number of timepoints.
func (m *Matrix) Rows() int {
	return m.rows
}

// Columns returns the column names in order.
func (m *Matrix) Columns() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Has reports whether a column exists.
func (m *Matrix) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Column returns a copy of the named column.
func (m *Matrix) Column(name string) ([]float64, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, m.rows)
	copy(out, m.cols[i])
	return out, true
}

// Append returns a new matrix with ts appended as the last column under the
// derived key. The receiver is left unchanged. A name collision is a
// DuplicateColumnError and a length mismatch an AlignmentError; rows are
// never truncated or padded.
func (m *Matrix) Append(key DerivedKey, ts models.TimeSeries) (*Matrix, error) {
	if err := ValidateDerivedKey(string(key)); err != nil {
		return nil, err
	}
	if m.Has(string(key)) {
		return nil, &models.DuplicateColumnError{Column: string(key)}
	}
	if len(ts) != m.rows {
		return nil, &models.AlignmentError{What: fmt.Sprintf("time series %q", key), Expected: m.rows, Got: len(ts)}
	}

	// Existing columns are shared: neither matrix ever writes to them.
	out := &Matrix{
		rows:  m.rows,
		names: append(m.Columns(), string(key)),
		index: make(map[string]int, len(m.names)+1),
		cols:  make([][]float64, 0, len(m.cols)+1),
	}
	out.cols = append(out.cols, m.cols...)
	out.cols = append(out.cols, ts.Clone())
	for i, name := range out.names {
		out.index[name] = i
	}
	return out, nil
}

// Select returns the named columns as a T x len(names) matrix. Every
// missing column is reported at once.
func (m *Matrix) Select(names []string) (*mat.Dense, error) {
	var missing []string
	for _, name := range names {
		if !m.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	if m.rows == 0 || len(names) == 0 {
		return nil, &models.ParameterError{Param: "confound selection", Value: len(names), Reason: "needs at least one row and one column"}
	}

	out := mat.NewDense(m.rows, len(names), nil)
	for c, name := range names {
		out.SetCol(c, m.cols[m.index[name]])
	}
	return out, nil
}
