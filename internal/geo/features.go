// Package geo renders the geographic footprint of a cluster as GeoJSON.
package geo

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/intel-cli/internal/model"
)

// Location roles.
const (
	RolePrimary      = "primary"
	RoleConflictZone = "conflict_zone"
)

// Role returns RoleConflictZone when name matches one of the cluster's
// conflict zones (case-insensitive), else RolePrimary.
func Role(name string, conflictZones []string) string {
	for _, z := range conflictZones {
		if strings.EqualFold(strings.TrimSpace(z), strings.TrimSpace(name)) {
			return RoleConflictZone
		}
	}
	return RolePrimary
}

// MapFeatures builds a FeatureCollection with one Point per located
// primary location. Locations without valid coordinates are omitted.
// The collection carries a bounding box when it has at least one feature.
func MapFeatures(c model.Cluster) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	md := c.Entities.MapData
	if md == nil {
		return fc
	}

	bounds := geom.NewBounds(geom.XY)
	for _, loc := range md.PrimaryLocations {
		if loc.Coordinates == nil || !loc.Coordinates.Valid() {
			continue
		}
		pt := geom.NewPointFlat(geom.XY, []float64{loc.Coordinates.Lng, loc.Coordinates.Lat}).SetSRID(4326)
		bounds.Extend(pt)
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: pt,
			Properties: map[string]any{
				"cluster_id":   c.ID,
				"name":         loc.Name,
				"significance": loc.Significance,
				"role":         Role(loc.Name, md.ConflictZones),
				"severity":     c.Severity,
			},
		})
	}
	if len(fc.Features) > 0 {
		fc.BBox = bounds
	}
	return fc
}

// MarshalMap encodes the cluster's map features.
func MarshalMap(c model.Cluster) ([]byte, error) {
	data, err := MapFeatures(c).MarshalJSON()
	if err != nil {
		return nil, eris.Wrapf(err, "geo: marshal map for cluster %s", c.ID)
	}
	return data, nil
}
