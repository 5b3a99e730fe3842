package io

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"range-export/internal/logging"
	"range-export/internal/ranges"
	"range-export/internal/transform"
	"range-export/internal/util"
)

// ErrorMessageColumn holds the conversion error in every error file row.
const ErrorMessageColumn = "etl_error_message"

// CSVErrorWriter implements the ErrorWriter interface, writing skipped rows to a CSV file.
// Columns are the range columns in their canonical order plus ErrorMessageColumn.
// Geometry bytes are written as a hex snippet.
type CSVErrorWriter struct {
	filePath      string
	writer        *csv.Writer
	file          *os.File
	mu            sync.Mutex
	headerWritten bool
	closed        bool
}

// NewCSVErrorWriter creates a writer for logging rows that failed conversion.
// The file is opened in append mode so errors from earlier runs are kept.
func NewCSVErrorWriter(filePath string) (*CSVErrorWriter, error) {
	filePath = util.ExpandEnvUniversal(filePath)
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("CSVErrorWriter failed to create directory for '%s': %w", filePath, err)
		}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("CSVErrorWriter failed to open/create file '%s': %w", filePath, err)
	}
	return &CSVErrorWriter{
		filePath: filePath,
		file:     f,
		writer:   csv.NewWriter(f),
	}, nil
}

// Path returns the expanded error file path.
func (cew *CSVErrorWriter) Path() string {
	return cew.filePath
}

// Write appends a row and its error. The header is written only if the file is empty.
func (cew *CSVErrorWriter) Write(record map[string]interface{}, processError error) error {
	cew.mu.Lock()
	defer cew.mu.Unlock()

	if cew.closed {
		return errors.New("CSVErrorWriter: write called on closed writer")
	}

	if !cew.headerWritten {
		info, err := cew.file.Stat()
		if err != nil || info.Size() == 0 {
			header := append(append([]string{}, ranges.Columns...), ErrorMessageColumn)
			logging.Logf(logging.Debug, "Writing header to error file '%s': %v", cew.filePath, header)
			if err := cew.writer.Write(header); err != nil {
				return fmt.Errorf("CSVErrorWriter failed to write header to '%s': %w", cew.filePath, err)
			}
		}
		cew.headerWritten = true
	}

	lower := make(map[string]interface{}, len(record))
	for k, v := range record {
		lower[strings.ToLower(k)] = v
	}
	row := make([]string, 0, len(ranges.Columns)+1)
	for _, col := range ranges.Columns {
		row = append(row, csvCell(lower[col]))
	}
	msg := ""
	if processError != nil {
		msg = processError.Error()
	}
	row = append(row, msg)

	if err := cew.writer.Write(row); err != nil {
		return fmt.Errorf("CSVErrorWriter failed to write error row to '%s': %w", cew.filePath, err)
	}
	// Flush after each row so errors survive a later crash.
	cew.writer.Flush()
	if err := cew.writer.Error(); err != nil {
		return fmt.Errorf("CSVErrorWriter error after flushing error row to '%s': %w", cew.filePath, err)
	}
	return nil
}

func csvCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return util.Snippet([]byte(hex.EncodeToString(t)))
	case string:
		return util.Snippet([]byte(t))
	}
	s, _ := transform.ToString(v)
	return s
}

// Close flushes any buffered rows and closes the file. Safe to call multiple times.
func (cew *CSVErrorWriter) Close() error {
	cew.mu.Lock()
	defer cew.mu.Unlock()

	if cew.closed {
		return nil
	}
	cew.closed = true

	var firstErr error
	cew.writer.Flush()
	if err := cew.writer.Error(); err != nil {
		firstErr = fmt.Errorf("CSVErrorWriter flush error on close for '%s': %w", cew.filePath, err)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	if err := cew.file.Close(); err != nil {
		closeErr := fmt.Errorf("CSVErrorWriter file close error for '%s': %w", cew.filePath, err)
		logging.Logf(logging.Error, "%v", closeErr)
		if firstErr == nil {
			firstErr = closeErr
		}
	}
	if firstErr == nil {
		logging.Logf(logging.Debug, "CSVErrorWriter closed successfully: %s", cew.filePath)
	}
	return firstErr
}
