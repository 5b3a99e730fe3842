package shapefile

import (
	"fmt"

	"range-export/internal/ranges"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// ToPolygon converts a polygon or multipolygon into a shapefile POLYGON with
// one part per ring. Rings are closed if needed and oriented the way the
// shapefile format requires: outer rings clockwise, holes counter-clockwise.
// Only X and Y are kept.
func ToPolygon(g geom.T) (*shp.Polygon, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return nil, fmt.Errorf("%w: cannot write %T as a polygon", ranges.ErrGeometry, g)
	}

	var parts [][]shp.Point
	for _, p := range polys {
		for r := 0; r < p.NumLinearRings(); r++ {
			coords := p.LinearRing(r).Coords()
			if len(coords) == 0 {
				continue
			}
			clockwise := r == 0
			parts = append(parts, ringPoints(coords, clockwise))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: geometry has no rings", ranges.ErrGeometry)
	}

	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly, nil
}

// ringPoints closes the ring and reverses it when its winding does not match.
func ringPoints(coords []geom.Coord, clockwise bool) []shp.Point {
	points := make([]shp.Point, 0, len(coords)+1)
	for _, c := range coords {
		points = append(points, shp.Point{X: c[0], Y: c[1]})
	}
	if first, last := points[0], points[len(points)-1]; first != last {
		points = append(points, first)
	}

	area := ranges.SignedRingArea(coords)
	if (clockwise && area > 0) || (!clockwise && area < 0) {
		for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
			points[i], points[j] = points[j], points[i]
		}
	}
	return points
}
