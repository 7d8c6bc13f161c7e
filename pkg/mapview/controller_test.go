package mapview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sheet-cluster-map/pkg/database"
	"sheet-cluster-map/pkg/marker"
	"sheet-cluster-map/pkg/palette"
	"sheet-cluster-map/pkg/sheet"
	"sheet-cluster-map/pkg/statusbus"
)

// fakeSource serves fixed tables and can hold a gid until released.
type fakeSource struct {
	mu     sync.Mutex
	tables map[string]sheet.Table
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  []string
}

func (f *fakeSource) FetchTable(ctx context.Context, gid string) (sheet.Table, error) {
	f.mu.Lock()
	f.calls = append(f.calls, gid)
	gate := f.gates[gid]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return sheet.Table{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[gid]; err != nil {
		return sheet.Table{}, err
	}
	t, ok := f.tables[gid]
	if !ok {
		return sheet.Table{}, errors.New("no such gid " + gid)
	}
	return t, nil
}

func (f *fakeSource) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []statusbus.Event
}

func (p *recordingPublisher) Publish(e statusbus.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.State)
	}
	return out
}

type memJournal struct {
	mu   sync.Mutex
	recs []database.LoadRecord
}

func (j *memJournal) RecordLoad(_ context.Context, rec database.LoadRecord) error {
	j.mu.Lock()
	j.recs = append(j.recs, rec)
	j.mu.Unlock()
	return nil
}

var dataHeader = []string{sheet.ColCategory, sheet.ColHidden, sheet.ColLat, sheet.ColLon, sheet.ColLabel1}

func scenarioSource() *fakeSource {
	return &fakeSource{
		tables: map[string]sheet.Table{
			"mgmt": {
				Header: []string{sheet.ColGID, sheet.ColDisplayName, sheet.ColMenuHidden, sheet.ColCenterLat, sheet.ColCenterLon, sheet.ColInitialZoom},
				Rows: [][]string{
					{"100", "共通", "TRUE", "", "", ""},
					{"200", "東京", "", "35.7", "139.7", "11"},
				},
			},
			"100": {Header: dataHeader, Rows: [][]string{
				{"A", "", "35.1", "139.1", "o1"},
				{"A", "", "35.2", "139.2", "o2"},
			}},
			"200": {Header: dataHeader, Rows: [][]string{
				{"A", "", "35.3", "139.3", ""},
				{"B", "", "35.4", "139.4", ""},
				{"", "", "35.5", "139.5", ""},
				{"B", "", "", "", ""},
				{"B", "TRUE", "35.6", "139.6", ""},
			}},
		},
	}
}

func newTestController(t *testing.T, src sheet.Source, frame *Frame, pub Publisher, j Journal) *Controller {
	t.Helper()
	cfg := Config{
		Source:       src,
		SheetID:      "sheet",
		ManagementID: "mgmt",
		SessionID:    "sess",
		Surface:      frame,
		Journal:      j,
		Logf:         t.Logf,

		DefaultCenter: DefaultCenter,
		DefaultZoom:   DefaultZoom,
	}
	if pub != nil {
		cfg.Publisher = pub
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func legendMap(v *View) map[string]int {
	out := make(map[string]int, len(v.Legend))
	for _, e := range v.Legend {
		out[e.Category] = e.Count
	}
	return out
}

func TestLoadViewWithOverlay(t *testing.T) {
	t.Parallel()

	src := scenarioSource()
	frame := NewFrame()
	pub := &recordingPublisher{}
	j := &memJournal{}
	c := newTestController(t, src, frame, pub, j)

	display := sheet.ParseManagement(src.tables["mgmt"])[1]
	v, err := c.LoadView(context.Background(), LoadRequest{OverlayID: "100", ViewID: "200", Display: display})
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}

	if got := src.callLog(); len(got) != 3 || got[0] != "mgmt" || got[1] != "100" || got[2] != "200" {
		t.Fatalf("fetch order=%v", got)
	}
	if v.Markers != 5 || v.Skipped != 2 || !v.OverlayShown {
		t.Fatalf("markers=%d skipped=%d overlay=%v", v.Markers, v.Skipped, v.OverlayShown)
	}

	want := map[string]int{palette.CommonCategory: 2, "A": 1, "B": 1, marker.Uncategorized: 1}
	got := legendMap(v)
	if len(got) != len(want) {
		t.Fatalf("legend=%v", v.Legend)
	}
	for cat, n := range want {
		if got[cat] != n {
			t.Fatalf("legend[%s]=%d want %d (%v)", cat, got[cat], n, v.Legend)
		}
	}
	if v.Legend[0].Category != palette.CommonCategory || v.Legend[0].Color != palette.CommonColor {
		t.Fatalf("overlay should come first in red: %+v", v.Legend[0])
	}

	if v.Center != (LatLon{Lat: 35.7, Lon: 139.7}) || v.Zoom != 11 {
		t.Fatalf("center=%+v zoom=%v", v.Center, v.Zoom)
	}

	snap := frame.Snapshot()
	if len(snap.Clusters) != 4 || !snap.HasView || len(snap.Legend) != 4 {
		t.Fatalf("frame=%+v", snap)
	}

	states := pub.states()
	wantStates := []string{"loading-management", "loading-overlay", "loading-selected", "ready"}
	if len(states) != len(wantStates) {
		t.Fatalf("states=%v", states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Fatalf("states=%v want %v", states, wantStates)
		}
	}
	if s, err := c.State(); s != Ready || err != nil {
		t.Fatalf("state=%v err=%v", s, err)
	}

	if len(j.recs) != 1 || j.recs[0].Status != "ready" || j.recs[0].Markers != 5 || j.recs[0].OverlayID != "100" {
		t.Fatalf("journal=%+v", j.recs)
	}
}

func TestLoadViewOfOverlayItself(t *testing.T) {
	t.Parallel()

	src := scenarioSource()
	frame := NewFrame()
	c := newTestController(t, src, frame, nil, nil)

	v, err := c.LoadView(context.Background(), LoadRequest{ViewID: "100"})
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}
	if got := src.callLog(); len(got) != 2 || got[1] != "100" {
		t.Fatalf("overlay should be fetched once as the view: %v", got)
	}
	if v.OverlayShown || v.Markers != 2 {
		t.Fatalf("overlayShown=%v markers=%d", v.OverlayShown, v.Markers)
	}
	if cnt := legendMap(v); cnt["A"] != 2 || cnt[palette.CommonCategory] != 0 {
		t.Fatalf("rows of the overlay tab viewed directly keep their category: %v", v.Legend)
	}
}

func TestLoadViewDefaultsWithoutOverrides(t *testing.T) {
	t.Parallel()

	c := newTestController(t, scenarioSource(), NewFrame(), nil, nil)
	v, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"})
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}
	if v.Center != DefaultCenter || v.Zoom != DefaultZoom {
		t.Fatalf("center=%+v zoom=%v", v.Center, v.Zoom)
	}
}

func TestLoadViewKeepsZeroDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewController(Config{Source: scenarioSource(), ManagementID: "mgmt", Surface: NewFrame()})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	v, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"})
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}
	if v.Center != (LatLon{}) || v.Zoom != 0 {
		t.Fatalf("center=%+v zoom=%v, want the configured zero values", v.Center, v.Zoom)
	}
}

func TestControllersShareGenerations(t *testing.T) {
	t.Parallel()

	var gens atomic.Uint64
	newCtl := func() *Controller {
		c, err := NewController(Config{Source: scenarioSource(), ManagementID: "mgmt", Surface: NewFrame(), Generations: &gens})
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		return c
	}

	first := newCtl()
	for i := 0; i < 2; i++ {
		if _, err := first.LoadView(context.Background(), LoadRequest{ViewID: "200"}); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	// A replacement controller continues the sequence.
	second := newCtl()
	if second.Generation() != 0 {
		t.Fatalf("fresh controller generation=%d", second.Generation())
	}
	v, err := second.LoadView(context.Background(), LoadRequest{ViewID: "200"})
	if err != nil {
		t.Fatalf("LoadView: %v", err)
	}
	if v.Generation != 3 || second.Generation() != 3 {
		t.Fatalf("generation=%d, want 3", v.Generation)
	}
	// The older controller is not superseded by a load it never started.
	if _, err := first.LoadView(context.Background(), LoadRequest{ViewID: "200"}); err != nil {
		t.Fatalf("first after second: %v", err)
	}
}

func TestResolveViewNeedsBothCoordinates(t *testing.T) {
	t.Parallel()

	lat, zoom := 10.0, 3.5
	c, z := ResolveView(sheet.ManagementRow{CenterLat: &lat, InitialZoom: &zoom}, DefaultCenter, DefaultZoom)
	if c != DefaultCenter || z != 3.5 {
		t.Fatalf("center=%+v zoom=%v", c, z)
	}
}

func TestLoadViewResetsDerivedState(t *testing.T) {
	t.Parallel()

	src := scenarioSource()
	frame := NewFrame()
	c := newTestController(t, src, frame, nil, nil)

	for i := 0; i < 2; i++ {
		v, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"})
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if v.Markers != 5 || legendMap(v)[palette.CommonCategory] != 2 {
			t.Fatalf("load %d leaked state: markers=%d legend=%v", i, v.Markers, v.Legend)
		}
		if got := len(frame.Snapshot().Clusters); got != 4 {
			t.Fatalf("load %d frame clusters=%d", i, got)
		}
		// Colors restart with every load.
		for _, e := range v.Legend {
			if e.Category == "A" && e.Color != palette.Colors[0] {
				t.Fatalf("load %d: A color %s", i, e.Color)
			}
		}
	}
}

func TestLoadViewFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	src := scenarioSource()
	src.errs = map[string]error{"200": errors.New("upstream 500")}
	frame := NewFrame()
	pub := &recordingPublisher{}
	j := &memJournal{}
	c := newTestController(t, src, frame, pub, j)

	if _, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"}); err == nil {
		t.Fatal("expected error")
	}
	s, err := c.State()
	if s != Idle || err == nil {
		t.Fatalf("state=%v err=%v", s, err)
	}
	if snap := frame.Snapshot(); len(snap.Clusters) != 0 || snap.HasView {
		t.Fatalf("failed load drew on the surface: %+v", snap)
	}
	if st := pub.states(); st[len(st)-1] != "idle" {
		t.Fatalf("states=%v", st)
	}
	if len(j.recs) != 1 || j.recs[0].Status != "failed" || j.recs[0].Message == "" {
		t.Fatalf("journal=%+v", j.recs)
	}
}

func TestLoadViewEmptyManagement(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tables: map[string]sheet.Table{"mgmt": {Header: []string{sheet.ColGID}}}}
	c := newTestController(t, src, NewFrame(), nil, nil)
	if _, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"}); !errors.Is(err, ErrEmptyManagement) {
		t.Fatalf("err=%v", err)
	}
	if _, err := c.LoadView(context.Background(), LoadRequest{}); !errors.Is(err, ErrNoView) {
		t.Fatalf("err=%v", err)
	}
}

func TestNewerLoadWins(t *testing.T) {
	t.Parallel()

	src := scenarioSource()
	src.tables["300"] = sheet.Table{Header: dataHeader, Rows: [][]string{{"Z", "", "34", "135", ""}}}
	gate := make(chan struct{})
	src.gates = map[string]chan struct{}{"200": gate}
	frame := NewFrame()
	c := newTestController(t, src, frame, nil, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.LoadView(context.Background(), LoadRequest{ViewID: "200"})
		firstDone <- err
	}()

	// Wait until the first load is parked on the view fetch.
	deadline := time.Now().Add(2 * time.Second)
	for {
		calls := src.callLog()
		if len(calls) >= 3 && calls[2] == "200" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first load did not reach the view fetch: %v", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}

	v, err := c.LoadView(context.Background(), LoadRequest{ViewID: "300"})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(gate)

	select {
	case err := <-firstDone:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("first load err=%v want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load never finished")
	}

	snap := frame.Snapshot()
	if v.Generation != 2 || c.Generation() != 2 {
		t.Fatalf("generation=%d", v.Generation)
	}
	found := false
	for _, cl := range snap.Clusters {
		if cl.Category == "Z" {
			found = true
		}
		if cl.Category == "A" || cl.Category == "B" {
			t.Fatalf("superseded load drew cluster %s", cl.Category)
		}
	}
	if !found {
		t.Fatalf("newest view missing from frame: %+v", snap.Clusters)
	}
	if s, _ := c.State(); s != Ready {
		t.Fatalf("state=%v", s)
	}
}

func TestSessionPaletteOverflow(t *testing.T) {
	t.Parallel()

	s := NewSession()
	lat, lon := 35.0, 139.0
	for i := 0; i <= len(palette.Colors); i++ {
		s.Add(sheet.DataRow{Category: string(rune('A' + i)), Lat: &lat, Lon: &lon}, false)
	}
	entries := s.Legend.Render()
	if entries[len(palette.Colors)].Color != entries[0].Color {
		t.Fatalf("category N+1 color %s want %s", entries[len(palette.Colors)].Color, entries[0].Color)
	}
}
