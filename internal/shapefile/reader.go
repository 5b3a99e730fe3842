package shapefile

import (
	"fmt"

	"github.com/jonas-p/go-shp"
)

// Feature is one shapefile record as read back from disk.
type Feature struct {
	Parts      [][]shp.Point
	Attributes map[string]string
}

// ReadAll loads every feature of the set at path (the .shp file).
func ReadAll(path string) ([]Feature, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open '%s': %v", ErrIO, path, err)
	}
	defer r.Close()

	defs := r.Fields()
	var features []Feature
	for r.Next() {
		row, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			return nil, fmt.Errorf("%w: '%s' record %d is %T, want polygon", ErrIO, path, row, shape)
		}
		f := Feature{
			Parts:      splitParts(poly),
			Attributes: make(map[string]string, len(defs)),
		}
		for i, def := range defs {
			f.Attributes[def.String()] = r.ReadAttribute(row, i)
		}
		features = append(features, f)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed reading '%s': %v", ErrIO, path, err)
	}
	if n := r.AttributeCount(); n != len(features) {
		return nil, fmt.Errorf("%w: '%s' has %d shapes but %d attribute rows", ErrIO, path, len(features), n)
	}
	return features, nil
}

// splitParts cuts the flat point list at the part offsets.
func splitParts(p *shp.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, len(p.Parts))
	for i, start := range p.Parts {
		end := len(p.Points)
		if i+1 < len(p.Parts) {
			end = int(p.Parts[i+1])
		}
		parts[i] = p.Points[start:end]
	}
	return parts
}
