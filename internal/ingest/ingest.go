// Package ingest turns uploaded spreadsheets into ordered header-keyed rows
// and normalizes those rows into contact records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, expected .csv, .xlsx or .xls")
	ErrEmptyFile         = errors.New("file contains no data rows")
)

const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
	ExtXLS  = ".xls"
)

var decoders = map[string]func(data []byte) ([][]string, error){
	ExtCSV:  readCSV,
	ExtXLSX: readXLSX,
	ExtXLS:  readXLS,
}

// Supported reports whether filename has an extension Parse can decode.
func Supported(filename string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Parse decodes data according to the extension of filename. The first
// non-blank line is the header; every following non-blank line becomes a
// row in source order.
func Parse(data []byte, filename string) ([]domain.Row, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	table, err := decode(data)
	if err != nil {
		return nil, err
	}

	rows := tableToRows(table)
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	return rows, nil
}

func tableToRows(table [][]string) []domain.Row {
	headerAt := -1
	for i, line := range table {
		if !isBlank(line) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil
	}

	header := make([]string, len(table[headerAt]))
	for i, cell := range table[headerAt] {
		header[i] = strings.TrimSpace(cell)
	}

	rows := make([]domain.Row, 0, len(table)-headerAt-1)
	for _, line := range table[headerAt+1:] {
		if isBlank(line) {
			continue
		}

		row := make(domain.Row, len(header))
		for i, column := range header {
			if column == "" {
				continue
			}
			if i < len(line) {
				row[column] = strings.TrimSpace(line[i])
			} else {
				row[column] = ""
			}
		}
		rows = append(rows, row)
	}

	return rows
}

func isBlank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	table, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	return table, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	table, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx sheet %q: %w", sheets[0], err)
	}

	return table, nil
}

func readXLS(data []byte) (table [][]string, err error) {
	// the xls decoder panics on some corrupt inputs
	defer func() {
		if r := recover(); r != nil {
			table, err = nil, fmt.Errorf("read xls: %v", r)
		}
	}()

	wb, err := xls.OpenReader(io.ReadSeeker(bytes.NewReader(data)), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			table = append(table, nil)
			continue
		}

		line := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			line = append(line, row.Col(j))
		}
		table = append(table, line)
	}

	return table, nil
}
