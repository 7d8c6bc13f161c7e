// Package cluster groups markers into one cluster per category.
package cluster

import (
	geojson "github.com/paulmach/go.geojson"

	"sheet-cluster-map/pkg/marker"
	"sheet-cluster-map/pkg/palette"
)

// BadgeSize is the diameter of a cluster badge in pixels.
const BadgeSize = 30

// Cluster owns every marker of a single category.
type Cluster struct {
	Category string
	Markers  []marker.Marker
}

// Badge describes the round count badge drawn for a cluster. Sub-clusters
// recount their children in the browser and reuse Background.
type Badge struct {
	Background string `json:"background"`
	Size       int    `json:"size"`
	Count      int    `json:"count"`
}

// Count is the number of markers in the cluster.
func (c *Cluster) Count() int { return len(c.Markers) }

// Color is the representative marker color. All members share one category
// and therefore one color, so any member will do.
func (c *Cluster) Color() string {
	if len(c.Markers) == 0 {
		return "gray"
	}
	return c.Markers[0].Color
}

// Badge returns the badge for the whole cluster.
func (c *Cluster) Badge() Badge {
	return Badge{Background: palette.Hex(c.Color()), Size: BadgeSize, Count: c.Count()}
}

// FeatureCollection renders the members as GeoJSON points.
func (c *Cluster) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range c.Markers {
		fc.AddFeature(Feature(m))
	}
	return fc
}

// Feature renders one marker as a GeoJSON point feature.
func Feature(m marker.Marker) *geojson.Feature {
	ft := geojson.NewPointFeature([]float64{m.Lon, m.Lat})
	ft.ID = m.ID
	ft.SetProperty("category", m.Category)
	ft.SetProperty("color", m.Color)
	ft.SetProperty("hex", m.Hex)
	ft.SetProperty("overlay", m.Overlay)
	ft.SetProperty("popup", m.Popup)
	return ft
}

// Store keys clusters by category and remembers first-seen order.
type Store struct {
	order      []string
	byCategory map[string]*Cluster
	total      int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byCategory: make(map[string]*Cluster)}
}

// Add puts m into the cluster of its category, creating it on first use.
func (s *Store) Add(m marker.Marker) {
	c, ok := s.byCategory[m.Category]
	if !ok {
		c = &Cluster{Category: m.Category}
		s.byCategory[m.Category] = c
		s.order = append(s.order, m.Category)
	}
	c.Markers = append(c.Markers, m)
	s.total++
}

// Get returns the cluster of category, if any.
func (s *Store) Get(category string) (*Cluster, bool) {
	c, ok := s.byCategory[category]
	return c, ok
}

// Values lists clusters in the order their categories were first seen.
func (s *Store) Values() []*Cluster {
	out := make([]*Cluster, 0, len(s.order))
	for _, cat := range s.order {
		out = append(out, s.byCategory[cat])
	}
	return out
}

// Len is the number of clusters.
func (s *Store) Len() int { return len(s.order) }

// Total is the number of markers across all clusters.
func (s *Store) Total() int { return s.total }
