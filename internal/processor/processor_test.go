package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"range-export/internal/config"
	etlio "range-export/internal/io"
	"range-export/internal/ranges"
	"range-export/internal/shapefile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks and Helpers ---

type errorCall struct {
	Record map[string]interface{}
	Err    error
}

type mockErrorWriter struct {
	calls      []errorCall
	closeCalls int
	failWrites bool
}

func (m *mockErrorWriter) Write(record map[string]interface{}, processError error) error {
	m.calls = append(m.calls, errorCall{Record: record, Err: processError})
	if m.failWrites {
		return errors.New("mock write error")
	}
	return nil
}

func (m *mockErrorWriter) Close() error {
	m.closeCalls++
	return nil
}

func row(sid int64, species string, threshold int64, geometry interface{}) map[string]interface{} {
	return map[string]interface{}{
		"sid":        sid,
		"species":    species,
		"species_id": int64(100 + sid),
		"threshold":  threshold,
		"source":     "vtech",
		"scenario":   "current",
		"year":       int64(2020),
		"geometry":   geometry,
	}
}

func square(x, y int) string {
	return fmt.Sprintf("POLYGON((%d %d,%d %d,%d %d,%d %d,%d %d))", x, y, x+1, y, x+1, y+1, x, y+1, x, y)
}

func newJob(t *testing.T) *config.JobConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Output.Prefix = "ranges"
	return cfg
}

func mustNew(t *testing.T, cfg *config.JobConfig, ew etlio.ErrorWriter) Processor {
	t.Helper()
	p, err := New(cfg, ew)
	require.NoError(t, err)
	return p
}

func readSIDs(t *testing.T, path string) []string {
	t.Helper()
	features, err := shapefile.ReadAll(path)
	require.NoError(t, err)
	sids := make([]string, len(features))
	for i, f := range features {
		sids[i] = f.Attributes["SID"]
	}
	return sids
}

// --- Tests ---

func TestConvertAndWrite_ThreeRecords(t *testing.T) {
	cfg := newJob(t)
	p := mustNew(t, cfg, nil)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "acer-rubrum", 50, square(5, 5)),
		row(3, "quercus-alba", 75, square(-3, 2)),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 3, summary.Written)
	assert.Zero(t, summary.Skipped)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, filepath.Join(cfg.Output.Dir, "ranges.shp"), summary.Files[0].Path)
	assert.Equal(t, 3, summary.Files[0].Features)

	features, err := shapefile.ReadAll(summary.Files[0].Path)
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, "quercus-alba", features[2].Attributes["SPECIES"])
	assert.Equal(t, "75", features[2].Attributes["THRESHOLD"])
	assert.Equal(t, "1.00000000", features[2].Attributes["AREA"], "area computed from geometry")
}

func TestConvertAndWrite_EmptyInput(t *testing.T) {
	cfg := newJob(t)
	cfg.Output.PartitionBy = config.PartitionSpecies
	p := mustNew(t, cfg, nil)

	summary, err := p.ConvertAndWrite(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, filepath.Join(cfg.Output.Dir, "ranges.shp"), summary.Files[0].Path)
	assert.Zero(t, summary.Files[0].Features)
	assert.Empty(t, readSIDs(t, summary.Files[0].Path))
}

func TestConvertAndWrite_SkipPolicy(t *testing.T) {
	cfg := newJob(t)
	ew := &mockErrorWriter{failWrites: true}
	p := mustNew(t, cfg, ew)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "acer-rubrum", 50, nil),
		row(3, "quercus-alba", 75, "LINESTRING(0 0,1 1)"),
		row(4, "", 75, square(1, 1)),
		row(5, "pinus-strobus", 25, square(2, 2)),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.NoError(t, err, "error file failures are logged, not fatal")

	assert.Equal(t, 5, summary.Fetched)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, []string{"1", "5"}, readSIDs(t, summary.Files[0].Path))

	require.Len(t, summary.Failures, 3)
	assert.Equal(t, "2", summary.Failures[0].SID)
	assert.ErrorIs(t, summary.Failures[0].Err, ranges.ErrNullGeometry)
	assert.ErrorIs(t, summary.Failures[1].Err, ranges.ErrGeometry)
	assert.ErrorIs(t, summary.Failures[2].Err, ranges.ErrInvalidRecord)

	require.Len(t, ew.calls, 3)
	assert.Equal(t, int64(2), ew.calls[0].Record["sid"])
}

func TestConvertAndWrite_HaltPolicy(t *testing.T) {
	cfg := newJob(t)
	cfg.ErrorHandling = &config.ErrorHandlingConfig{Mode: config.ErrorHandlingModeHalt}
	ew := &mockErrorWriter{}
	p := mustNew(t, cfg, ew)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "acer-rubrum", 50, nil),
		row(3, "quercus-alba", 75, square(1, 1)),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.Error(t, err)
	assert.ErrorIs(t, err, ranges.ErrGeometry)
	assert.ErrorIs(t, err, ranges.ErrNullGeometry)
	assert.Contains(t, err.Error(), "record 1")
	assert.Empty(t, summary.Files)
	assert.Empty(t, ew.calls)

	_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, "ranges.shp"))
	assert.True(t, os.IsNotExist(statErr), "nothing is written before the halt")
}

func TestConvertAndWrite_OverflowSkippedAtWrite(t *testing.T) {
	cfg := newJob(t)
	p := mustNew(t, cfg, nil)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 123456, square(0, 0)),
		row(2, "acer-rubrum", 50, square(1, 1)),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "1", summary.Failures[0].SID)
	assert.ErrorIs(t, summary.Failures[0].Err, ranges.ErrInvalidRecord)
}

func TestConvertAndWrite_FilterAndDedup(t *testing.T) {
	cfg := newJob(t)
	cfg.Filter = "threshold >= 50 && species != 'pinus-strobus'"
	cfg.Dedup = &config.DedupConfig{Keys: []string{"species", "Threshold"}}
	p := mustNew(t, cfg, nil)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "acer-rubrum", 50, square(1, 1)),
		row(3, "acer-rubrum", 50, square(2, 2)),
		row(4, "pinus-strobus", 75, square(3, 3)),
		row(5, "quercus-alba", 75, square(4, 4)),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Filtered)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, []string{"2", "5"}, readSIDs(t, summary.Files[0].Path), "first duplicate wins")
}

func TestConvertAndWrite_FilterNotBoolean(t *testing.T) {
	cfg := newJob(t)
	cfg.Filter = "threshold + 1"
	p := mustNew(t, cfg, nil)

	summary, err := p.ConvertAndWrite(context.Background(), []map[string]interface{}{row(1, "acer-rubrum", 25, square(0, 0))})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.ErrorIs(t, summary.Failures[0].Err, ranges.ErrInvalidRecord)
}

func TestConvertAndWrite_Partitions(t *testing.T) {
	testCases := []struct {
		name      string
		by        string
		wantFiles []string
		wantCount []int
	}{
		{"threshold numeric order", config.PartitionThreshold, []string{"ranges_25", "ranges_50", "ranges_100"}, []int{2, 1, 1}},
		{"species sanitized", config.PartitionSpecies, []string{"ranges_Acer_rubrum_var", "ranges_quercus-alba"}, []int{3, 1}},
		{"scenario", config.PartitionScenario, []string{"ranges_current"}, []int{4}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newJob(t)
			cfg.Output.PartitionBy = tc.by
			p := mustNew(t, cfg, nil)

			rows := []map[string]interface{}{
				row(1, "Acer rubrum/var", 100, square(0, 0)),
				row(2, "Acer rubrum/var", 25, square(1, 1)),
				row(3, "quercus-alba", 50, square(2, 2)),
				row(4, "Acer rubrum/var", 25, square(3, 3)),
			}
			summary, err := p.ConvertAndWrite(context.Background(), rows)
			require.NoError(t, err)
			require.Len(t, summary.Files, len(tc.wantFiles))
			for i, f := range summary.Files {
				assert.Equal(t, filepath.Join(cfg.Output.Dir, tc.wantFiles[i]+".shp"), f.Path)
				assert.Equal(t, tc.wantCount[i], f.Features)
				assert.Len(t, readSIDs(t, f.Path), tc.wantCount[i])
			}
			assert.Equal(t, 4, summary.Written)
		})
	}
}

func TestConvertAndWrite_DryRun(t *testing.T) {
	cfg := newJob(t)
	cfg.DryRun = true
	p := mustNew(t, cfg, nil)

	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "acer-rubrum", 50, nil),
	}
	summary, err := p.ConvertAndWrite(context.Background(), rows)
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, 1, summary.Files[0].Features)

	_, statErr := os.Stat(cfg.Output.Dir)
	assert.True(t, os.IsNotExist(statErr), "dry run creates nothing")
}

func TestConvertAndWrite_UnwritableOutput(t *testing.T) {
	cfg := newJob(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Output.Dir = filepath.Join(blocker, "out")
	p := mustNew(t, cfg, nil)

	_, err := p.ConvertAndWrite(context.Background(), []map[string]interface{}{row(1, "acer-rubrum", 25, square(0, 0))})
	require.Error(t, err)
	assert.ErrorIs(t, err, shapefile.ErrIO)
}

func TestConvertAndWrite_Cancelled(t *testing.T) {
	p := mustNew(t, newJob(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ConvertAndWrite(ctx, []map[string]interface{}{row(1, "acer-rubrum", 25, square(0, 0))})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertAndWrite_ByteIdenticalReruns(t *testing.T) {
	cfg := newJob(t)
	rows := []map[string]interface{}{
		row(1, "acer-rubrum", 25, square(0, 0)),
		row(2, "quercus-alba", 50, square(4, 4)),
	}

	read := func() map[string][]byte {
		p := mustNew(t, cfg, nil)
		_, err := p.ConvertAndWrite(context.Background(), rows)
		require.NoError(t, err)
		out := map[string][]byte{}
		for _, ext := range shapefile.Extensions {
			b, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "ranges"+ext))
			require.NoError(t, err)
			out[ext] = b
		}
		return out
	}
	assert.Equal(t, read(), read())
}

func TestNew_InvalidFilter(t *testing.T) {
	cfg := newJob(t)
	cfg.Filter = "(threshold > 2"
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrConfig)
}
