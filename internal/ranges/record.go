// Package ranges maps loosely typed database rows to validated species range records.
package ranges

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"range-export/internal/transform"

	"github.com/twpayne/go-geom"
)

// Column names of the species range table.
const (
	ColSID       = "sid"
	ColSpecies   = "species"
	ColSpeciesID = "species_id"
	ColThreshold = "threshold"
	ColSource    = "source"
	ColScenario  = "scenario"
	ColYear      = "year"
	ColArea      = "area"
	ColGeometry  = "geometry"
)

// Columns lists every column a range query is expected to return, in output order.
var Columns = []string{ColSID, ColSpecies, ColSpeciesID, ColThreshold, ColSource, ColScenario, ColYear, ColArea, ColGeometry}

// RequiredColumns must be present in a query result. The others default to zero values.
var RequiredColumns = []string{ColSID, ColSpecies, ColGeometry}

// ErrInvalidRecord marks a row whose attributes cannot be mapped to a SpeciesRange.
var ErrInvalidRecord = errors.New("invalid species range record")

// SpeciesRange is one species' geographic extent for a threshold, source,
// scenario and year. Geometry is a *geom.Polygon or *geom.MultiPolygon.
type SpeciesRange struct {
	SID       int64
	Species   string
	SpeciesID int64
	Threshold int64
	Source    string
	Scenario  string
	Year      int64
	Area      float64
	Geometry  geom.T
}

// FromRow validates row and builds a SpeciesRange. Column lookup ignores case.
// A missing area is computed from the geometry in source units.
// Attribute problems wrap ErrInvalidRecord, geometry problems wrap ErrGeometry.
func FromRow(row map[string]interface{}) (SpeciesRange, error) {
	cols := make(map[string]interface{}, len(row))
	for k, v := range row {
		cols[strings.ToLower(k)] = v
	}

	var r SpeciesRange
	var errs []error

	sid, ok := transform.ToInt64(cols[ColSID])
	if !ok {
		errs = append(errs, fmt.Errorf("%w: %s %v is not an integer", ErrInvalidRecord, ColSID, cols[ColSID]))
	}
	r.SID = sid

	species, ok := transform.ToString(cols[ColSpecies])
	if !ok || species == "" {
		errs = append(errs, fmt.Errorf("%w: %s is empty", ErrInvalidRecord, ColSpecies))
	}
	r.Species = species

	for _, f := range []struct {
		col string
		dst *int64
	}{
		{ColSpeciesID, &r.SpeciesID},
		{ColThreshold, &r.Threshold},
		{ColYear, &r.Year},
	} {
		v := cols[f.col]
		if v == nil {
			continue
		}
		n, ok := transform.ToInt64(v)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s %v is not an integer", ErrInvalidRecord, f.col, v))
			continue
		}
		*f.dst = n
	}

	r.Source, _ = transform.ToString(cols[ColSource])
	r.Scenario, _ = transform.ToString(cols[ColScenario])

	areaSet := false
	if v := cols[ColArea]; v != nil {
		area, ok := transform.ToFloat64(v)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s %v is not a number", ErrInvalidRecord, ColArea, v))
		}
		r.Area, areaSet = area, ok
	}

	if len(errs) > 0 {
		return SpeciesRange{}, errors.Join(errs...)
	}

	g, err := DecodeGeometry(cols[ColGeometry])
	if err != nil {
		return SpeciesRange{}, fmt.Errorf("sid %d: %w", r.SID, err)
	}
	r.Geometry = g
	if !areaSet {
		r.Area = Area(g)
	}
	return r, nil
}

// Area is the planar area of a polygonal geometry in source units: outer
// rings minus holes, independent of ring orientation. Zero for anything else.
func Area(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonArea(t)
	case *geom.MultiPolygon:
		var total float64
		for i := 0; i < t.NumPolygons(); i++ {
			total += polygonArea(t.Polygon(i))
		}
		return total
	}
	return 0
}

func polygonArea(p *geom.Polygon) float64 {
	var area float64
	for i := 0; i < p.NumLinearRings(); i++ {
		a := math.Abs(SignedRingArea(p.LinearRing(i).Coords()))
		if i == 0 {
			area += a
		} else {
			area -= a
		}
	}
	return area
}

// SignedRingArea is the shoelace area of a ring: positive when the vertices
// run counter-clockwise, negative when clockwise. The ring may be open or closed.
func SignedRingArea(coords []geom.Coord) float64 {
	n := len(coords)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += coords[i][0]*coords[j][1] - coords[j][0]*coords[i][1]
	}
	return sum / 2
}

// Attributes returns the record's non-geometry fields keyed by column name,
// the form filter expressions and dedup keys are evaluated against. Numbers
// are float64, the only numeric type govaluate operators accept.
func (r SpeciesRange) Attributes() map[string]interface{} {
	return map[string]interface{}{
		ColSID:       float64(r.SID),
		ColSpecies:   r.Species,
		ColSpeciesID: float64(r.SpeciesID),
		ColThreshold: float64(r.Threshold),
		ColSource:    r.Source,
		ColScenario:  r.Scenario,
		ColYear:      float64(r.Year),
		ColArea:      r.Area,
	}
}
