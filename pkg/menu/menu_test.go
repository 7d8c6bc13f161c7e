package menu

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sheet-cluster-map/pkg/mapview"
	"sheet-cluster-map/pkg/sheet"
)

func mgmtRows() []sheet.ManagementRow {
	return []sheet.ManagementRow{
		{GID: "100", DisplayName: "共通", HiddenFromMenu: true},
		{GID: "200", DisplayName: "Shops"},
		{GID: "300", DisplayName: "  "},
		{GID: "400", DisplayName: "Parks"},
		{GID: "500", DisplayName: "Secret", HiddenFromMenu: true},
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()
	got := Eligible(mgmtRows())
	if len(got) != 2 || got[0].GID != "200" || got[1].GID != "400" {
		t.Fatalf("Eligible = %+v", got)
	}
}

func TestBuildMarksOneEntry(t *testing.T) {
	t.Parallel()
	rows := append(mgmtRows(), sheet.ManagementRow{GID: "400", DisplayName: "Parks again"})
	m := Build(rows, "400")
	active := 0
	for _, e := range m.Entries {
		if e.Active {
			active++
		}
	}
	if active != 1 || m.Active() != "400" || !m.Entries[1].Active {
		t.Fatalf("menu = %+v", m)
	}
	if Build(rows, "100").Active() != "" {
		t.Fatal("hidden overlay row must not become active")
	}
}

func TestInitial(t *testing.T) {
	t.Parallel()
	tests := []struct {
		requested, want string
	}{
		{"", "200"},
		{"400", "400"},
		{"999", "200"},
		{"500", "200"}, // hidden rows are not selectable
	}
	for _, tc := range tests {
		got, err := Initial(mgmtRows(), tc.requested)
		if err != nil {
			t.Fatalf("Initial(%q): %v", tc.requested, err)
		}
		if got.GID != tc.want {
			t.Errorf("Initial(%q) = %s, want %s", tc.requested, got.GID, tc.want)
		}
	}
	if _, err := Initial([]sheet.ManagementRow{{GID: "1", HiddenFromMenu: true, DisplayName: "x"}}, ""); !errors.Is(err, ErrNoEligibleViews) {
		t.Fatalf("err = %v, want ErrNoEligibleViews", err)
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	if got := Location("abc", "0", "12 3"); got != "?sheetid=abc&manage=0&gid=12+3" {
		t.Fatalf("Location = %q", got)
	}
}

type tableSource struct {
	mu     sync.Mutex
	tables map[string]sheet.Table
	calls  int
}

func (s *tableSource) FetchTable(_ context.Context, gid string) (sheet.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	t, ok := s.tables[gid]
	if !ok {
		return sheet.Table{}, errors.New("missing " + gid)
	}
	return t, nil
}

func newSource() *tableSource {
	return &tableSource{tables: map[string]sheet.Table{
		"0": {
			Header: []string{"gid", "メニュー表示名", "メニュー非表示", "中心緯度", "中心経度", "初期ズーム"},
			Rows: [][]string{
				{"100", "共通", "TRUE", "", "", ""},
				{"200", "Shops", "", "34.7", "135.5", "11"},
				{"400", "Parks", "", "", "", ""},
			},
		},
		"100": {Header: []string{"カテゴリ", "緯度", "軽度"}, Rows: [][]string{{"", "35", "139"}}},
		"200": {Header: []string{"カテゴリ", "緯度", "軽度"}, Rows: [][]string{{"A", "34.7", "135.5"}, {"B", "34.8", "135.6"}}},
		"400": {Header: []string{"カテゴリ", "緯度", "軽度"}, Rows: [][]string{{"A", "35.1", "136.9"}}},
	}}
}

func newController(t *testing.T, src *tableSource) (*Controller, *mapview.Frame) {
	t.Helper()
	frame := mapview.NewFrame()
	views, err := mapview.NewController(mapview.Config{
		Source:       src,
		SheetID:      "sheet",
		ManagementID: "0",
		Surface:      frame,
		Logf:         t.Logf,

		DefaultCenter: mapview.DefaultCenter,
		DefaultZoom:   mapview.DefaultZoom,
	})
	if err != nil {
		t.Fatalf("mapview.NewController: %v", err)
	}
	c, err := NewController(Config{Source: src, SheetID: "sheet", ManagementID: "0", Loader: views, Logf: t.Logf})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, frame
}

func TestControllerInitAndSelect(t *testing.T) {
	t.Parallel()
	src := newSource()
	c, frame := newController(t, src)
	ctx := context.Background()

	res, err := c.Init(ctx, "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if res.Menu.Active() != "200" || len(res.Menu.Entries) != 2 {
		t.Fatalf("menu = %+v", res.Menu)
	}
	if res.View.OverlayID != "100" || !res.View.OverlayShown {
		t.Fatalf("view = %+v", res.View)
	}
	if res.View.Center != (mapview.LatLon{Lat: 34.7, Lon: 135.5}) || res.View.Zoom != 11 {
		t.Fatalf("center/zoom = %v/%v", res.View.Center, res.View.Zoom)
	}
	if res.Location != "?sheetid=sheet&manage=0&gid=200" {
		t.Fatalf("location = %q", res.Location)
	}

	res, err = c.Select(ctx, "400")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Menu.Active() != "400" || c.Menu().Active() != "400" || c.Current() != "400" {
		t.Fatalf("active after select = %s", res.Menu.Active())
	}
	if res.View.Center != mapview.DefaultCenter || res.View.Zoom != mapview.DefaultZoom {
		t.Fatalf("defaults not applied: %v/%v", res.View.Center, res.View.Zoom)
	}
	snap := frame.Snapshot()
	if !snap.HasView || len(snap.Legend) != 2 {
		t.Fatalf("frame legend = %+v", snap.Legend)
	}
}

func TestControllerSelectUnknownKeepsActive(t *testing.T) {
	t.Parallel()
	c, _ := newController(t, newSource())
	ctx := context.Background()
	if _, err := c.Init(ctx, "400"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, id := range []string{"100", "999", ""} {
		if _, err := c.Select(ctx, id); !errors.Is(err, ErrUnknownView) {
			t.Fatalf("Select(%q) err = %v, want ErrUnknownView", id, err)
		}
	}
	if c.Menu().Active() != "400" {
		t.Fatalf("active = %s, want 400", c.Menu().Active())
	}
}

func TestControllerFailedLoadKeepsActive(t *testing.T) {
	t.Parallel()
	src := newSource()
	c, _ := newController(t, src)
	ctx := context.Background()
	if _, err := c.Init(ctx, ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	src.mu.Lock()
	delete(src.tables, "400")
	src.mu.Unlock()

	if _, err := c.Select(ctx, "400"); err == nil {
		t.Fatal("expected load failure")
	}
	if c.Menu().Active() != "200" {
		t.Fatalf("active = %s, want 200", c.Menu().Active())
	}
	if c.Current() != "400" {
		t.Fatalf("current = %s, want 400", c.Current())
	}
}

func TestControllerEmptyManagement(t *testing.T) {
	t.Parallel()
	src := newSource()
	src.tables["0"] = sheet.Table{Header: []string{"gid"}}
	c, _ := newController(t, src)
	if _, err := c.Init(context.Background(), ""); !errors.Is(err, mapview.ErrEmptyManagement) {
		t.Fatalf("err = %v, want ErrEmptyManagement", err)
	}
}
