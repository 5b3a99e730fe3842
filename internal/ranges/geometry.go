package ranges

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"range-export/internal/util"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkbhex"
	"github.com/twpayne/go-geom/encoding/wkt"
)

var (
	// ErrGeometry marks a geometry that cannot be decoded or is not a usable polygon.
	ErrGeometry = errors.New("geometry error")
	// ErrNullGeometry marks a record without geometry. It matches ErrGeometry too.
	ErrNullGeometry = fmt.Errorf("%w: null geometry", ErrGeometry)
)

// gpkgMagic starts every GeoPackage geometry blob.
var gpkgMagic = []byte("GP")

// DecodeGeometry turns a driver value into a polygon or multipolygon.
// Accepted encodings: WKB, EWKB and GeoPackage blobs as []byte, and hex
// (E)WKB, WKT or GeoJSON as text.
func DecodeGeometry(value interface{}) (geom.T, error) {
	var g geom.T
	var err error
	switch v := value.(type) {
	case nil:
		return nil, ErrNullGeometry
	case geom.T:
		g = v
	case []byte:
		g, err = decodeBinary(v)
	case string:
		g, err = decodeText(v)
	default:
		return nil, fmt.Errorf("%w: unsupported geometry value type %T", ErrGeometry, value)
	}
	if err != nil {
		return nil, err
	}
	if err := checkPolygonal(g); err != nil {
		return nil, err
	}
	return g, nil
}

func decodeBinary(b []byte) (geom.T, error) {
	if len(b) == 0 {
		return nil, ErrNullGeometry
	}
	if bytes.HasPrefix(b, gpkgMagic) {
		return decodeGeoPackage(b)
	}
	if b[0] == 0 || b[0] == 1 {
		if g, err := wkb.Unmarshal(b); err == nil {
			return g, nil
		}
		g, err := ewkb.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid WKB (%d bytes): %v", ErrGeometry, len(b), err)
		}
		return g, nil
	}
	// Text returned through a binary column, e.g. a PostGIS geometry read without ST_AsBinary.
	return decodeText(string(b))
}

func decodeText(s string) (geom.T, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNullGeometry
	}
	if isHex(s) {
		if g, err := wkbhex.Decode(s); err == nil {
			return g, nil
		}
		g, err := ewkbhex.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid hex WKB %q: %v", ErrGeometry, util.Snippet([]byte(s)), err)
		}
		return g, nil
	}
	if util.LooksLikeJSON(s) {
		var g geom.T
		if err := geojson.Unmarshal([]byte(s), &g); err != nil {
			return nil, fmt.Errorf("%w: invalid GeoJSON %q: %v", ErrGeometry, util.Snippet([]byte(s)), err)
		}
		return g, nil
	}
	// EWKT prefix "SRID=4326;" is not understood by the WKT parser.
	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "SRID=") {
		if i := strings.IndexByte(s, ';'); i > 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid WKT %q: %v", ErrGeometry, util.Snippet([]byte(s)), err)
	}
	return g, nil
}

// decodeGeoPackage strips the GeoPackage binary header and decodes the WKB that follows.
func decodeGeoPackage(b []byte) (geom.T, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: truncated GeoPackage header", ErrGeometry)
	}
	flags := b[3]
	if flags&0x10 != 0 {
		return nil, ErrNullGeometry
	}
	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelope = 0
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("%w: invalid GeoPackage envelope indicator", ErrGeometry)
	}
	start := 8 + envelope
	if len(b) <= start {
		return nil, fmt.Errorf("%w: truncated GeoPackage geometry", ErrGeometry)
	}
	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid GeoPackage WKB: %v", ErrGeometry, err)
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(b[4:8])))
	switch t := g.(type) {
	case *geom.Polygon:
		t.SetSRID(srid)
	case *geom.MultiPolygon:
		t.SetSRID(srid)
	}
	return g, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 || len(s) < 18 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// checkPolygonal accepts non-empty polygons and multipolygons whose rings have
// at least three distinct vertices.
func checkPolygonal(g geom.T) error {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.Empty() || t.NumLinearRings() == 0 {
			return fmt.Errorf("%w: empty polygon", ErrGeometry)
		}
		return checkRings(t, 0)
	case *geom.MultiPolygon:
		if t.Empty() || t.NumPolygons() == 0 {
			return fmt.Errorf("%w: empty multipolygon", ErrGeometry)
		}
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if p.NumLinearRings() == 0 {
				return fmt.Errorf("%w: multipolygon part %d has no rings", ErrGeometry, i)
			}
			if err := checkRings(p, i); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported geometry type %T, want polygon or multipolygon", ErrGeometry, g)
	}
}

func checkRings(p *geom.Polygon, part int) error {
	for r := 0; r < p.NumLinearRings(); r++ {
		coords := p.LinearRing(r).Coords()
		n := len(coords)
		if n > 1 && coords[0].Equal(p.Layout(), coords[n-1]) {
			n--
		}
		if n < 3 {
			return fmt.Errorf("%w: part %d ring %d has %d distinct vertices, need at least 3", ErrGeometry, part, r, n)
		}
	}
	return nil
}
