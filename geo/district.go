// Package geo assigns listings to city districts using a GeoJSON district map.
package geo

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"krisha-scraper/models"
)

// DistrictPolygon is a named district boundary. Geometry is an orb.Polygon or
// orb.MultiPolygon in lon/lat order.
type DistrictPolygon struct {
	Name     string
	Geometry orb.Geometry
	Bound    orb.Bound
}

func (d DistrictPolygon) contains(p orb.Point) bool {
	if !d.Bound.Contains(p) {
		return false
	}
	switch g := d.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

// Index answers which district contains a point. It is immutable after Load
// and safe for concurrent use.
//
// Districts are scanned linearly in file order and the first match wins, so
// overlapping polygons in the source map resolve to whichever comes first.
type Index struct {
	districts []DistrictPolygon
}

// Load reads a GeoJSON FeatureCollection from path.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.GeoLoadError{Source: path, Err: err}
	}
	idx, err := LoadBytes(data)
	if err != nil {
		var gle *models.GeoLoadError
		if errors.As(err, &gle) {
			gle.Source = path
		}
		return nil, err
	}
	return idx, nil
}

// LoadBytes parses a GeoJSON FeatureCollection. Features other than Polygon
// and MultiPolygon are skipped; at least one polygon feature is required.
func LoadBytes(data []byte) (*Index, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &models.GeoLoadError{Source: "<bytes>", Err: eris.Wrap(err, "parse geojson")}
	}

	districts := make([]DistrictPolygon, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		districts = append(districts, DistrictPolygon{
			Name:     featureName(f),
			Geometry: f.Geometry,
			Bound:    f.Geometry.Bound(),
		})
	}

	if len(districts) == 0 {
		return nil, &models.GeoLoadError{Source: "<bytes>", Err: eris.New("no polygon features")}
	}
	return &Index{districts: districts}, nil
}

// featureName takes the first usable id or name, falling back to
// models.UnknownDistrict so nameless polygons share the outside-the-map label.
func featureName(f *geojson.Feature) string {
	for _, key := range []string{"id", "name"} {
		if s := scalarName(f.Properties[key]); s != "" {
			return s
		}
	}
	if s := scalarName(f.ID); s != "" {
		return s
	}
	return models.UnknownDistrict
}

// scalarName renders string and numeric GeoJSON values. Whole numbers print
// without a fraction, so an id of 7 names the district "7".
func scalarName(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(x)
	}
	return ""
}

// Lookup returns the name of the first district containing (lat, lon), or
// models.UnknownDistrict when the point is invalid or outside every district.
func (idx *Index) Lookup(lat, lon float64) string {
	if !ValidPoint(lat, lon) {
		return models.UnknownDistrict
	}
	p := orb.Point{lon, lat}
	for _, d := range idx.districts {
		if d.contains(p) {
			return d.Name
		}
	}
	return models.UnknownDistrict
}

// LookupPoint is Lookup for optional coordinates.
func (idx *Index) LookupPoint(c *models.Coordinates) string {
	if c == nil {
		return models.UnknownDistrict
	}
	return idx.Lookup(c.Lat, c.Lon)
}

// Districts returns the district names in scan order.
func (idx *Index) Districts() []string {
	names := make([]string, len(idx.districts))
	for i, d := range idx.districts {
		names[i] = d.Name
	}
	return names
}

// ValidPoint reports whether lat/lon are finite and within geographic range.
func ValidPoint(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}
