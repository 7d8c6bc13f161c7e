package mapview

import (
	"sheet-cluster-map/pkg/cluster"
	"sheet-cluster-map/pkg/legend"
	"sheet-cluster-map/pkg/marker"
	"sheet-cluster-map/pkg/palette"
	"sheet-cluster-map/pkg/sheet"
)

// Session holds everything derived during one view load. A new Session is
// built for every load, so nothing leaks from one view into the next.
type Session struct {
	Colors   *palette.Assigner
	Clusters *cluster.Store
	Legend   *legend.Builder
	Skipped  int

	seq int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		Colors:   palette.NewAssigner(),
		Clusters: cluster.NewStore(),
		Legend:   legend.NewBuilder(),
	}
}

// Add classifies row and files the marker into its cluster and the legend.
// It reports whether the row produced a marker.
func (s *Session) Add(row sheet.DataRow, fromOverlay bool) bool {
	m, ok := marker.Classify(row, fromOverlay, s.Colors, s.seq)
	if !ok {
		s.Skipped++
		return false
	}
	s.seq++
	s.Clusters.Add(m)
	s.Legend.Record(m.Category, m.Color)
	return true
}

// AddRows adds every row and returns how many became markers.
func (s *Session) AddRows(rows []sheet.DataRow, fromOverlay bool) int {
	added := 0
	for _, r := range rows {
		if s.Add(r, fromOverlay) {
			added++
		}
	}
	return added
}
