// Package shapefile writes species ranges as ESRI shapefile sets
// (.shp, .shx, .dbf plus .prj and .cpg) and reads them back for verification.
package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"range-export/internal/logging"
	"range-export/internal/ranges"

	"github.com/jonas-p/go-shp"
)

// ErrIO marks failures creating, writing or finalizing output files.
var ErrIO = errors.New("shapefile i/o error")

// WGS84 is the projection written to .prj files; range geometries are EPSG:4326.
const WGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

const codePage = "UTF-8"

// Extensions of every file belonging to one shapefile set.
var Extensions = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// field describes one DBF column and how a range fills it.
type field struct {
	def   shp.Field
	value func(r ranges.SpeciesRange) interface{}
}

var fields = []field{
	{shp.NumberField("SID", 18), func(r ranges.SpeciesRange) interface{} { return r.SID }},
	{shp.StringField("SPECIES", 80), func(r ranges.SpeciesRange) interface{} { return r.Species }},
	{shp.NumberField("SPECIES_ID", 10), func(r ranges.SpeciesRange) interface{} { return r.SpeciesID }},
	{shp.NumberField("THRESHOLD", 4), func(r ranges.SpeciesRange) interface{} { return r.Threshold }},
	{shp.StringField("SOURCE", 32), func(r ranges.SpeciesRange) interface{} { return r.Source }},
	{shp.StringField("SCENARIO", 32), func(r ranges.SpeciesRange) interface{} { return r.Scenario }},
	{shp.NumberField("YEAR", 6), func(r ranges.SpeciesRange) interface{} { return r.Year }},
	{shp.FloatField("AREA", 24, 8), func(r ranges.SpeciesRange) interface{} { return r.Area }},
}

// FieldNames lists the DBF column names in order.
func FieldNames() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.def.String()
	}
	return names
}

// Writer appends ranges to one shapefile set. It is not safe for concurrent use.
type Writer struct {
	base       string
	projection string
	w          *shp.Writer
	count      int
	closed     bool
}

// Create starts the shapefile set dir/name.* with the range attribute table.
// dir is created if missing and existing files of the set are replaced.
// projection is written to the .prj file; empty skips it.
func Create(dir, name, projection string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create output directory '%s': %v", ErrIO, dir, err)
	}
	base := filepath.Join(dir, name)
	for _, stale := range append(Extensions, "dbf") {
		if err := os.Remove(base + stale); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to replace '%s': %v", ErrIO, base+stale, err)
		}
	}

	w, err := shp.Create(base+".shp", shp.POLYGON)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create '%s.shp': %v", ErrIO, base, err)
	}
	defs := make([]shp.Field, len(fields))
	for i, f := range fields {
		defs[i] = f.def
	}
	if err := w.SetFields(defs); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: failed to create attribute table for '%s': %v", ErrIO, base, err)
	}
	logging.Logf(logging.Debug, "Shapefile writer opened: %s.shp", base)
	return &Writer{base: base, projection: projection, w: w}, nil
}

// Path returns the .shp path of the set.
func (w *Writer) Path() string {
	return w.base + ".shp"
}

// Count returns the number of features written so far.
func (w *Writer) Count() int {
	return w.count
}

// Write appends r as one feature. Attribute values are checked before the
// geometry is written, so a rejected record leaves no partial feature.
func (w *Writer) Write(r ranges.SpeciesRange) error {
	if w.closed {
		return fmt.Errorf("%w: write on closed writer '%s'", ErrIO, w.Path())
	}
	poly, err := ToPolygon(r.Geometry)
	if err != nil {
		return fmt.Errorf("sid %d: %w", r.SID, err)
	}
	values := make([]string, len(fields))
	for i, f := range fields {
		v, err := formatValue(f.def, f.value(r))
		if err != nil {
			return fmt.Errorf("%w: sid %d: %v", ranges.ErrInvalidRecord, r.SID, err)
		}
		values[i] = v
	}

	row := int(w.w.Write(poly))
	for i, v := range values {
		if err := w.w.WriteAttribute(row, i, v); err != nil {
			return fmt.Errorf("%w: failed to write attribute %s for sid %d: %v", ErrIO, fields[i].def.String(), r.SID, err)
		}
	}
	w.count++
	return nil
}

// Close finalizes headers, moves the attribute table into place and writes
// the .prj and .cpg sidecars. Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.w.Close()

	// go-shp names the table "<base>dbf" without the dot.
	if _, err := os.Stat(w.base + "dbf"); err == nil {
		if err := os.Rename(w.base+"dbf", w.base+".dbf"); err != nil {
			return fmt.Errorf("%w: failed to move attribute table into place: %v", ErrIO, err)
		}
	}
	if w.projection != "" {
		if err := os.WriteFile(w.base+".prj", []byte(w.projection), 0o644); err != nil {
			return fmt.Errorf("%w: failed to write '%s.prj': %v", ErrIO, w.base, err)
		}
	}
	if err := os.WriteFile(w.base+".cpg", []byte(codePage), 0o644); err != nil {
		return fmt.Errorf("%w: failed to write '%s.cpg': %v", ErrIO, w.base, err)
	}
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		if _, err := os.Stat(w.base + ext); err != nil {
			return fmt.Errorf("%w: '%s' missing after close: %v", ErrIO, w.base+ext, err)
		}
	}
	logging.Logf(logging.Debug, "Shapefile writer closed: %s.shp (%d features)", w.base, w.count)
	return nil
}

// formatValue renders v padded to the field width: text left-aligned,
// numbers right-aligned. Text longer than the field is cut at a rune boundary.
func formatValue(def shp.Field, v interface{}) (string, error) {
	size := int(def.Size)
	var s string
	switch t := v.(type) {
	case string:
		s = truncate(t, size)
		return s + strings.Repeat(" ", size-len(s)), nil
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', int(def.Precision), 64)
	default:
		return "", fmt.Errorf("unsupported attribute type %T for %s", v, def.String())
	}
	if len(s) > size {
		return "", fmt.Errorf("value %s exceeds width %d of %s", s, size, def.String())
	}
	return strings.Repeat(" ", size-len(s)) + s, nil
}

func truncate(s string, size int) string {
	if len(s) <= size {
		return s
	}
	cut := size
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
