package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"localcsf/internal/fsutil"
	"localcsf/internal/models"
)

// WriteCSV writes a single-column series with a header naming the column.
func WriteCSV(w io.Writer, column string, ts models.TimeSeries) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{column}); err != nil {
		return err
	}
	for _, v := range ts {
		if err := writer.Write([]string{strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the series to path atomically.
func WriteCSVFile(path, column string, ts models.TimeSeries) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return WriteCSV(w, column, ts)
	})
}

// ReadCSV reads a series written by WriteCSV and returns its column name.
func ReadCSV(r io.Reader) (string, models.TimeSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("time series: missing header")
		}
		return "", nil, fmt.Errorf("time series: %w", err)
	}

	var ts models.TimeSeries
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("time series: %w", err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return "", nil, fmt.Errorf("time series row %d: %w", len(ts)+1, err)
		}
		ts = append(ts, v)
	}
	return strings.TrimSpace(header[0]), ts, nil
}

// ReadCSVFile reads a series from disk.
func ReadCSVFile(path string) (string, models.TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
