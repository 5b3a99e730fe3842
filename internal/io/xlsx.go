package io

import (
	"fmt"
	"os"
	"path/filepath"

	"range-export/internal/logging"
	"range-export/internal/util"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the run report workbook.
const (
	SheetSummary = "Summary"
	SheetFiles   = "Files"
	SheetSkipped = "Skipped"
)

// XLSXReportWriter implements ReportWriter, saving the run report as an Excel workbook.
type XLSXReportWriter struct {
	filePath string
}

// NewXLSXReportWriter creates a report writer for filePath. Environment variables are expanded.
func NewXLSXReportWriter(filePath string) *XLSXReportWriter {
	return &XLSXReportWriter{filePath: util.ExpandEnvUniversal(filePath)}
}

// Path returns the expanded report path.
func (xw *XLSXReportWriter) Path() string {
	return xw.filePath
}

// Write replaces the report file with the summary, files and skipped rows of report.
func (xw *XLSXReportWriter) Write(report RunReport) error {
	logging.Logf(logging.Debug, "XLSXReportWriter writing report to %s (%d files, %d skipped rows)", xw.filePath, len(report.Files), len(report.Failures))

	dir := filepath.Dir(xw.filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("XLSXReportWriter failed to create directory for '%s': %w", xw.filePath, err)
		}
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Warning, "XLSXReportWriter: failed to close workbook: %v", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("XLSXReportWriter failed to create sheet '%s': %w", SheetSummary, err)
	}
	for _, name := range []string{SheetFiles, SheetSkipped} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("XLSXReportWriter failed to create sheet '%s': %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("XLSXReportWriter failed to create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Run ID", report.RunID},
		{"Dry run", fmt.Sprintf("%t", report.DryRun)},
		{"Fetched", report.Fetched},
		{"Written", report.Written},
		{"Skipped", report.Skipped},
		{"Filtered", report.Filtered},
		{"Duplicates", report.Duplicates},
	}
	if err := writeRows(f, SheetSummary, summary, bold); err != nil {
		return err
	}

	files := [][]interface{}{{"Path", "Features"}}
	for _, file := range report.Files {
		files = append(files, []interface{}{file.Path, file.Features})
	}
	if err := writeRows(f, SheetFiles, files, bold); err != nil {
		return err
	}

	skipped := [][]interface{}{{"SID", "Species", "Error"}}
	for _, failure := range report.Failures {
		skipped = append(skipped, []interface{}{failure.SID, failure.Species, failure.Error})
	}
	if err := writeRows(f, SheetSkipped, skipped, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(xw.filePath); err != nil {
		return fmt.Errorf("XLSXReportWriter failed to save file '%s': %w", xw.filePath, err)
	}
	logging.Logf(logging.Info, "Run report written to %s", xw.filePath)
	return nil
}

// writeRows writes rows from A1 down and bolds the first one.
func writeRows(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("XLSXReportWriter failed to calculate cell coordinates for row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("XLSXReportWriter failed to write row %d to sheet '%s': %w", i+1, sheet, err)
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return fmt.Errorf("XLSXReportWriter failed to calculate header range: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("XLSXReportWriter failed to style header of sheet '%s': %w", sheet, err)
	}
	return nil
}
