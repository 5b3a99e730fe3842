// Package processor turns fetched range rows into shapefile sets.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"range-export/internal/config"
	etlio "range-export/internal/io"
	"range-export/internal/logging"
	"range-export/internal/ranges"
	"range-export/internal/shapefile"
	"range-export/internal/transform"
	"range-export/internal/util"

	"github.com/Knetic/govaluate"
)

// wgs84SRID is the SRID the written .prj describes.
const wgs84SRID = 4326

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Processor defines the interface for converting rows into shapefiles.
// This allows mocking the processor implementation in tests.
type Processor interface {
	ConvertAndWrite(ctx context.Context, rows []map[string]interface{}) (WriteSummary, error)
}

// WriteSummary describes the outcome of one ConvertAndWrite call.
type WriteSummary struct {
	Fetched    int
	Written    int
	Skipped    int
	Filtered   int
	Duplicates int
	DryRun     bool
	Files      []FileSummary
	Failures   []RecordFailure
}

// FileSummary is one shapefile set and its feature count. In a dry run the
// set is not created and Features is what would have been written.
type FileSummary struct {
	Path     string
	Features int
}

// RecordFailure is a row skipped because it could not be converted.
type RecordFailure struct {
	SID     string
	Species string
	Err     error
}

type processorImpl struct {
	output      config.OutputConfig
	filter      *govaluate.EvaluableExpression
	dedupKeys   []string
	mode        string
	dryRun      bool
	errorWriter etlio.ErrorWriter
}

// New builds a Processor from the job configuration. errorWriter may be nil.
func New(cfg *config.JobConfig, errorWriter etlio.ErrorWriter) (Processor, error) {
	p := &processorImpl{
		output:      cfg.Output,
		mode:        config.DefaultErrorMode,
		dryRun:      cfg.DryRun,
		errorWriter: errorWriter,
	}
	if p.output.Dir == "" {
		p.output.Dir = config.DefaultOutputDir
	}
	if p.output.Prefix == "" {
		p.output.Prefix = config.DefaultOutputPrefix
	}
	if cfg.ErrorHandling != nil && cfg.ErrorHandling.Mode != "" {
		p.mode = strings.ToLower(cfg.ErrorHandling.Mode)
	}
	if cfg.Dedup != nil {
		p.dedupKeys = make([]string, len(cfg.Dedup.Keys))
		for i, k := range cfg.Dedup.Keys {
			p.dedupKeys[i] = strings.ToLower(k)
		}
	}
	if cfg.Filter != "" {
		expr, err := govaluate.NewEvaluableExpression(cfg.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid filter '%s': %v", config.ErrConfig, cfg.Filter, err)
		}
		p.filter = expr
	}
	return p, nil
}

// partition is the records bound for one shapefile set.
type partition struct {
	name    string
	key     interface{}
	records []ranges.SpeciesRange
	rows    []map[string]interface{}
	indices []int
}

// ConvertAndWrite validates rows, applies the filter and dedup stages and
// writes the survivors, grouped by the configured partition, as shapefile
// sets. Record errors follow the skip/halt policy; I/O errors always abort.
func (p *processorImpl) ConvertAndWrite(ctx context.Context, rows []map[string]interface{}) (WriteSummary, error) {
	summary := WriteSummary{Fetched: len(rows), DryRun: p.dryRun}
	logging.Logf(logging.Debug, "Processor: converting %d rows (mode: %s, partitionBy: '%s', dryRun: %t)", len(rows), p.mode, p.output.PartitionBy, p.dryRun)

	seen := make(map[string]bool)
	groups := make(map[string]*partition)
	srids := make(map[int]bool)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("conversion cancelled at row %d: %w", i, err)
		}

		r, err := ranges.FromRow(row)
		if err == nil {
			var keep bool
			keep, err = p.matches(r)
			if err == nil && !keep {
				summary.Filtered++
				continue
			}
		}
		if err != nil {
			if herr := p.recordError(&summary, i, row, err); herr != nil {
				return summary, herr
			}
			continue
		}

		if len(p.dedupKeys) > 0 {
			key := p.dedupKey(r)
			if seen[key] {
				summary.Duplicates++
				logging.Logf(logging.Debug, "Processor: row %d (sid %d) duplicates key '%s', keeping first", i, r.SID, key)
				continue
			}
			seen[key] = true
		}

		if srid := r.Geometry.SRID(); srid != 0 && srid != wgs84SRID && !srids[srid] {
			srids[srid] = true
			logging.Logf(logging.Warning, "Processor: sid %d has SRID %d; coordinates are written unchanged with a WGS84 projection", r.SID, srid)
		}

		name, key := p.partitionName(r)
		g, ok := groups[name]
		if !ok {
			g = &partition{name: name, key: key}
			groups[name] = g
		}
		g.records = append(g.records, r)
		g.rows = append(g.rows, row)
		g.indices = append(g.indices, i)
	}

	parts := sortPartitions(groups)
	if len(parts) == 0 {
		// An empty run still produces a valid, empty shapefile set.
		parts = []*partition{{name: p.output.Prefix}}
	}

	dir := util.ExpandEnvUniversal(p.output.Dir)
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("conversion cancelled before writing '%s': %w", part.name, err)
		}
		var err error
		if p.dryRun {
			err = p.planPartition(&summary, dir, part)
		} else {
			err = p.writePartition(&summary, dir, part)
		}
		if err != nil {
			return summary, err
		}
	}

	if summary.Skipped > 0 {
		logging.Logf(logging.Warning, "Processor: Finished. Skipped %d records due to errors.", summary.Skipped)
	}
	logging.Logf(logging.Info, "Processor: fetched=%d written=%d skipped=%d filtered=%d duplicates=%d files=%d",
		summary.Fetched, summary.Written, summary.Skipped, summary.Filtered, summary.Duplicates, len(summary.Files))
	return summary, nil
}

// matches evaluates the filter against r. No filter keeps everything.
func (p *processorImpl) matches(r ranges.SpeciesRange) (bool, error) {
	if p.filter == nil {
		return true, nil
	}
	result, err := p.filter.Evaluate(r.Attributes())
	if err != nil {
		return false, fmt.Errorf("%w: sid %d: filter evaluation failed: %v", ranges.ErrInvalidRecord, r.SID, err)
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: sid %d: filter returned %T, want bool", ranges.ErrInvalidRecord, r.SID, result)
	}
	return keep, nil
}

func (p *processorImpl) dedupKey(r ranges.SpeciesRange) string {
	attrs := r.Attributes()
	parts := make([]string, len(p.dedupKeys))
	for i, k := range p.dedupKeys {
		parts[i] = transform.ValueToStringForHash(attrs[k])
	}
	return strings.Join(parts, "||")
}

// partitionName returns the file name of the set r belongs to and the raw
// value used to order sets.
func (p *processorImpl) partitionName(r ranges.SpeciesRange) (string, interface{}) {
	var key interface{}
	switch strings.ToLower(p.output.PartitionBy) {
	case config.PartitionSpecies:
		key = r.Species
	case config.PartitionThreshold:
		key = r.Threshold
	case config.PartitionScenario:
		key = r.Scenario
	default:
		return p.output.Prefix, nil
	}
	value := unsafeNameChars.ReplaceAllString(transform.ValueToStringForHash(key), "_")
	if value == "" {
		value = "none"
	}
	return p.output.Prefix + "_" + value, key
}

// sortPartitions orders sets by their raw partition value, then by name.
func sortPartitions(groups map[string]*partition) []*partition {
	parts := make([]*partition, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, g)
	}
	sort.Slice(parts, func(i, j int) bool {
		if c, err := transform.CompareValues(parts[i].key, parts[j].key); err == nil && c != 0 {
			return c < 0
		}
		return parts[i].name < parts[j].name
	})
	return parts
}

func (p *processorImpl) writePartition(summary *WriteSummary, dir string, part *partition) error {
	w, err := shapefile.Create(dir, part.name, shapefile.WGS84)
	if err != nil {
		return err
	}
	for i, r := range part.records {
		if err := w.Write(r); err != nil {
			if errors.Is(err, shapefile.ErrIO) {
				w.Close()
				return err
			}
			if herr := p.recordError(summary, part.indices[i], part.rows[i], err); herr != nil {
				w.Close()
				return herr
			}
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	features, err := shapefile.ReadAll(w.Path())
	if err != nil {
		return err
	}
	if len(features) != w.Count() {
		return fmt.Errorf("%w: '%s' holds %d features, wrote %d", shapefile.ErrIO, w.Path(), len(features), w.Count())
	}

	summary.Written += w.Count()
	summary.Files = append(summary.Files, FileSummary{Path: w.Path(), Features: w.Count()})
	logging.Logf(logging.Info, "Processor: wrote %d features to %s", w.Count(), w.Path())
	return nil
}

// planPartition checks geometry conversion without creating files.
func (p *processorImpl) planPartition(summary *WriteSummary, dir string, part *partition) error {
	count := 0
	for i, r := range part.records {
		if _, err := shapefile.ToPolygon(r.Geometry); err != nil {
			if herr := p.recordError(summary, part.indices[i], part.rows[i], fmt.Errorf("sid %d: %w", r.SID, err)); herr != nil {
				return herr
			}
			continue
		}
		count++
	}
	path := filepath.Join(dir, part.name+".shp")
	summary.Written += count
	summary.Files = append(summary.Files, FileSummary{Path: path, Features: count})
	logging.Logf(logging.Info, "Processor: dry run, would write %d features to %s", count, path)
	return nil
}

// recordError applies the error policy to one bad row. It returns a non-nil
// error only when the run must stop.
func (p *processorImpl) recordError(summary *WriteSummary, index int, row map[string]interface{}, err error) error {
	if p.mode == config.ErrorHandlingModeHalt {
		logging.Logf(logging.Error, "Processor: Error record %d: %v. Halting.", index, err)
		return fmt.Errorf("error processing record %d (halting): %w", index, err)
	}

	summary.Skipped++
	logging.Logf(logging.Warning, "Processor: Error record %d: %v. Skipping. Original (masked): %v", index, err, util.MaskSensitiveData(row))

	failure := RecordFailure{Err: err}
	lower := make(map[string]interface{}, len(row))
	for k, v := range row {
		lower[strings.ToLower(k)] = v
	}
	failure.SID, _ = transform.ToString(lower[ranges.ColSID])
	failure.Species, _ = transform.ToString(lower[ranges.ColSpecies])
	summary.Failures = append(summary.Failures, failure)

	if p.errorWriter != nil {
		if writeErr := p.errorWriter.Write(row, err); writeErr != nil {
			logging.Logf(logging.Error, "Processor: Failed to write record %d error to error file: %v", index, writeErr)
		}
	}
	return nil
}
