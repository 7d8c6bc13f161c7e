package mapview

import (
	"sync"

	"sheet-cluster-map/pkg/cluster"
	"sheet-cluster-map/pkg/legend"
)

// LatLon is a map position in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Surface is what a load draws on.
type Surface interface {
	Reset()
	Attach(clusters []*cluster.Cluster)
	ShowLegend(entries []legend.Entry)
	SetView(center LatLon, zoom float64)
}

// FrameState is a copy of what a Frame currently shows.
type FrameState struct {
	Clusters []*cluster.Cluster
	Legend   []legend.Entry
	Center   LatLon
	Zoom     float64
	HasView  bool
}

// Frame is an in-memory Surface read by the HTTP layer.
type Frame struct {
	mu    sync.RWMutex
	state FrameState
}

// NewFrame returns an empty frame.
func NewFrame() *Frame { return &Frame{} }

func (f *Frame) Reset() {
	f.mu.Lock()
	f.state = FrameState{}
	f.mu.Unlock()
}

func (f *Frame) Attach(clusters []*cluster.Cluster) {
	f.mu.Lock()
	f.state.Clusters = append(f.state.Clusters, clusters...)
	f.mu.Unlock()
}

func (f *Frame) ShowLegend(entries []legend.Entry) {
	f.mu.Lock()
	f.state.Legend = append([]legend.Entry(nil), entries...)
	f.mu.Unlock()
}

func (f *Frame) SetView(center LatLon, zoom float64) {
	f.mu.Lock()
	f.state.Center = center
	f.state.Zoom = zoom
	f.state.HasView = true
	f.mu.Unlock()
}

// Snapshot returns the current state. Cluster pointers are shared; clusters
// are never mutated after being attached.
func (f *Frame) Snapshot() FrameState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st := f.state
	st.Clusters = append([]*cluster.Cluster(nil), f.state.Clusters...)
	st.Legend = append([]legend.Entry(nil), f.state.Legend...)
	return st
}
