package io

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVErrorWriter_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "errors.csv")
	w, err := NewCSVErrorWriter(path)
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	require.NoError(t, w.Write(map[string]interface{}{
		"SID":      int64(4),
		"species":  "acer-rubrum",
		"geometry": nil,
	}, errors.New("sid 4: null geometry")))
	require.NoError(t, w.Write(map[string]interface{}{
		"sid":       int64(5),
		"species":   "quercus-alba",
		"threshold": int32(50),
		"geometry":  []byte{0x01, 0x03},
	}, errors.New("truncated")))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"sid", "species", "species_id", "threshold", "source", "scenario", "year", "area", "geometry", ErrorMessageColumn}, rows[0])
	assert.Equal(t, "4", rows[1][0])
	assert.Equal(t, "acer-rubrum", rows[1][1])
	assert.Equal(t, "", rows[1][8])
	assert.Equal(t, "sid 4: null geometry", rows[1][9])
	assert.Equal(t, "50", rows[2][3])
	assert.Equal(t, "0103", rows[2][8])

	err = w.Write(map[string]interface{}{"sid": 6}, errors.New("late"))
	assert.Error(t, err)
}

func TestCSVErrorWriter_AppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.csv")
	for i := 0; i < 2; i++ {
		w, err := NewCSVErrorWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(map[string]interface{}{"sid": i}, errors.New("bad")))
		require.NoError(t, w.Close())
	}
	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "sid", rows[0][0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "1", rows[2][0])
}

func TestCSVErrorWriter_LongGeometrySnippet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.csv")
	w, err := NewCSVErrorWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]interface{}{"sid": 1, "geometry": make([]byte, 500)}, errors.New("bad")))
	require.NoError(t, w.Close())

	rows := readCSV(t, path)
	cell := rows[1][8]
	assert.True(t, strings.HasSuffix(cell, "..."))
	assert.Len(t, cell, 203)
}

func TestNewCSVErrorWriter_Unwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err := NewCSVErrorWriter(filepath.Join(blocker, "errors.csv"))
	assert.Error(t, err)
}

func TestXLSXReportWriter_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.xlsx")
	w := NewXLSXReportWriter(path)
	assert.Equal(t, path, w.Path())

	report := RunReport{
		RunID:      "run-1",
		Fetched:    4,
		Written:    2,
		Skipped:    1,
		Filtered:   1,
		Duplicates: 0,
		Files: []ReportFile{
			{Path: "out/species_ranges_acer-rubrum.shp", Features: 1},
			{Path: "out/species_ranges_quercus-alba.shp", Features: 1},
		},
		Failures: []ReportFailure{{SID: "9", Species: "pinus-strobus", Error: "null geometry"}},
	}
	require.NoError(t, w.Write(report))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetFiles, SheetSkipped}, f.GetSheetList())

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Run ID", "run-1"}, summary[1])
	assert.Equal(t, []string{"Fetched", "4"}, summary[3])
	assert.Equal(t, []string{"Written", "2"}, summary[4])

	files, err := f.GetRows(SheetFiles)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []string{"Path", "Features"}, files[0])
	assert.Equal(t, []string{"out/species_ranges_quercus-alba.shp", "1"}, files[2])

	skipped, err := f.GetRows(SheetSkipped)
	require.NoError(t, err)
	require.Len(t, skipped, 2)
	assert.Equal(t, []string{"9", "pinus-strobus", "null geometry"}, skipped[1])
}

func TestXLSXReportWriter_EmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, NewXLSXReportWriter(path).Write(RunReport{RunID: "empty", DryRun: true}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	files, err := f.GetRows(SheetFiles)
	require.NoError(t, err)
	assert.Len(t, files, 1, "header only")

	v, err := f.GetCellValue(SheetSummary, "B3")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}
