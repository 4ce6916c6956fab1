package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVOptions selects the label column of a feature CSV. A negative
// LabelColumn loads every column as a feature and marks rows unlabeled.
type CSVOptions struct {
	LabelColumn int
	HasHeader   bool
}

func LoadCSV(path string, opts CSVOptions) (*InMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ds, nil
}

func ReadCSV(in io.Reader, opts CSVOptions) (*InMemory, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	if opts.HasHeader {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				return NewInMemory(nil, nil)
			}
			return nil, fmt.Errorf("read csv header: %w", err)
		}
	}

	var rows [][]float64
	var labels []int
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		line++

		row := make([]float64, 0, len(record))
		label := UnlabeledLabel
		for col, field := range record {
			field = strings.TrimSpace(field)
			if col == opts.LabelColumn {
				v, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("row %d: parse label %q: %w", line, field, err)
				}
				label = v
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: parse %q: %w", line, col, field, err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
		labels = append(labels, label)
	}
	return NewInMemory(rows, labels)
}
