// Package mapview loads one map view: the management tab, the common
// overlay and the selected tab, in that order, and draws the result.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sheet-cluster-map/pkg/cluster"
	"sheet-cluster-map/pkg/database"
	"sheet-cluster-map/pkg/legend"
	"sheet-cluster-map/pkg/logger"
	"sheet-cluster-map/pkg/sheet"
	"sheet-cluster-map/pkg/statusbus"
)

// Fallback view when the management row carries no overrides.
var (
	DefaultCenter = LatLon{Lat: 35.68, Lon: 139.76}
	DefaultZoom   = 6.0
)

var (
	// ErrSuperseded is returned by a load that a newer load overtook.
	ErrSuperseded = errors.New("view load superseded")
	// ErrEmptyManagement means the management tab has no data rows.
	ErrEmptyManagement = errors.New("management table is empty")
	// ErrNoView means the request did not name a view.
	ErrNoView = errors.New("no view selected")
)

// Publisher receives state transitions.
type Publisher interface {
	Publish(e statusbus.Event)
}

// Journal records finished loads.
type Journal interface {
	RecordLoad(ctx context.Context, rec database.LoadRecord) error
}

// Config wires a Controller. Source, ManagementID and Surface are required.
// Controllers sharing Generations number their loads from one sequence, so a
// controller rebuilt for the same page keeps counting upwards. The default
// center and zoom are used as given, zero included.
type Config struct {
	Source       sheet.Source
	SheetID      string
	ManagementID string
	SessionID    string
	Surface      Surface
	Publisher    Publisher
	Journal      Journal
	Generations  *atomic.Uint64

	DefaultCenter LatLon
	DefaultZoom   float64

	Logf      func(string, ...any)
	NewLoadID func() string
	Now       func() time.Time
}

// LoadRequest names the view to show. OverlayID is what the caller believes
// the overlay tab is; the management tab read during the load is
// authoritative. Display supplies the center and zoom overrides.
type LoadRequest struct {
	OverlayID string
	ViewID    string
	Display   sheet.ManagementRow
}

// View is the outcome of a successful load.
type View struct {
	LoadID       string             `json:"loadID"`
	Generation   uint64             `json:"generation"`
	OverlayID    string             `json:"overlayID"`
	ViewID       string             `json:"viewID"`
	OverlayShown bool               `json:"overlayShown"`
	Clusters     []*cluster.Cluster `json:"-"`
	Legend       []legend.Entry     `json:"legend"`
	Center       LatLon             `json:"center"`
	Zoom         float64            `json:"zoom"`
	Markers      int                `json:"markers"`
	Skipped      int                `json:"skipped"`
}

// Controller runs view loads for one browser session. Loads may overlap;
// only the most recently started one may draw, older ones end with
// ErrSuperseded.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	generation uint64
	state      State
	lastErr    error
}

// NewController validates cfg and fills defaults.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("mapview: nil source")
	}
	if strings.TrimSpace(cfg.ManagementID) == "" {
		return nil, errors.New("mapview: empty management id")
	}
	if cfg.Surface == nil {
		return nil, errors.New("mapview: nil surface")
	}
	if cfg.Generations == nil {
		cfg.Generations = new(atomic.Uint64)
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.NewLoadID == nil {
		cfg.NewLoadID = func() string { return uuid.NewString()[:8] }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg}, nil
}

// State reports the state of the newest load and its error, if it failed.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Generation is the generation of the newest load, 0 before the first.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// LoadView discards what the surface shows, loads req.ViewID together with
// the common overlay and draws the result. Fetches run one after another
// and are bounded only by ctx: a newer load does not cancel them, it just
// prevents this one from drawing.
func (c *Controller) LoadView(ctx context.Context, req LoadRequest) (*View, error) {
	loadID := c.cfg.NewLoadID()
	started := c.cfg.Now()

	c.mu.Lock()
	gen := c.cfg.Generations.Add(1)
	c.generation = gen
	c.cfg.Surface.Reset()
	c.mu.Unlock()

	logger.Begin(loadID)
	c.logT(loadID, "start", "view=%s generation=%d", req.ViewID, gen)

	sess := NewSession()
	view, err := c.load(ctx, gen, loadID, sess, req)

	rec := database.LoadRecord{
		LoadID:     loadID,
		Session:    c.cfg.SessionID,
		SheetID:    c.cfg.SheetID,
		ManageID:   c.cfg.ManagementID,
		ViewID:     req.ViewID,
		Markers:    sess.Clusters.Total(),
		Skipped:    sess.Skipped,
		Categories: sess.Clusters.Len(),
		Duration:   c.cfg.Now().Sub(started),
		LoadedAt:   started,
	}
	if view != nil {
		rec.OverlayID = view.OverlayID
	}

	switch {
	case err == nil:
		rec.Status = "ready"
		logger.Success(loadID, fmt.Sprintf("view=%s markers=%d categories=%d in %s",
			req.ViewID, view.Markers, len(view.Legend), rec.Duration.Round(time.Millisecond)))
	case errors.Is(err, ErrSuperseded):
		rec.Status = "superseded"
		logger.Success(loadID, fmt.Sprintf("view=%s discarded, a newer load started", req.ViewID))
	default:
		rec.Status = "failed"
		rec.Message = err.Error()
		c.fail(gen, req.ViewID, err)
		logger.FlushError(loadID, err)
	}
	c.record(rec)

	if err != nil {
		return nil, err
	}
	return view, nil
}

func (c *Controller) load(ctx context.Context, gen uint64, loadID string, sess *Session, req LoadRequest) (*View, error) {
	if strings.TrimSpace(req.ViewID) == "" {
		return nil, ErrNoView
	}

	if !c.transition(gen, LoadingManagement, req.ViewID) {
		return nil, ErrSuperseded
	}
	mgmt, err := c.cfg.Source.FetchTable(ctx, c.cfg.ManagementID)
	if err != nil {
		return nil, fmt.Errorf("management table: %w", err)
	}
	rows := sheet.ParseManagement(mgmt)
	if len(rows) == 0 {
		return nil, ErrEmptyManagement
	}
	overlayID := rows[0].GID
	if req.OverlayID != "" && req.OverlayID != overlayID {
		c.logT(loadID, "overlay", "overlay gid changed %s -> %s", req.OverlayID, overlayID)
	}
	c.logT(loadID, "management", "rows=%d overlay=%s", len(rows), overlayID)

	view := &View{LoadID: loadID, Generation: gen, OverlayID: overlayID, ViewID: req.ViewID}

	if overlayID != "" && overlayID != req.ViewID {
		if !c.transition(gen, LoadingOverlay, req.ViewID) {
			return view, ErrSuperseded
		}
		t, err := c.cfg.Source.FetchTable(ctx, overlayID)
		if err != nil {
			return view, fmt.Errorf("overlay table %s: %w", overlayID, err)
		}
		data := sheet.ParseData(t)
		added := sess.AddRows(data, true)
		view.OverlayShown = true
		c.logT(loadID, "overlay", "rows=%d markers=%d", len(data), added)
	}

	if !c.transition(gen, LoadingSelected, req.ViewID) {
		return view, ErrSuperseded
	}
	t, err := c.cfg.Source.FetchTable(ctx, req.ViewID)
	if err != nil {
		return view, fmt.Errorf("view table %s: %w", req.ViewID, err)
	}
	data := sheet.ParseData(t)
	added := sess.AddRows(data, false)
	c.logT(loadID, "view", "rows=%d markers=%d", len(data), added)

	view.Clusters = sess.Clusters.Values()
	view.Legend = sess.Legend.Render()
	view.Markers = sess.Clusters.Total()
	view.Skipped = sess.Skipped
	view.Center, view.Zoom = ResolveView(req.Display, c.cfg.DefaultCenter, c.cfg.DefaultZoom)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return view, ErrSuperseded
	}
	c.cfg.Surface.Attach(view.Clusters)
	c.cfg.Surface.ShowLegend(view.Legend)
	c.cfg.Surface.SetView(view.Center, view.Zoom)
	c.setStateLocked(gen, Ready, req.ViewID, nil)
	return view, nil
}

// ResolveView picks the display row's center when both coordinates are set
// and its zoom when set, falling back to the defaults otherwise.
func ResolveView(display sheet.ManagementRow, defCenter LatLon, defZoom float64) (LatLon, float64) {
	center := defCenter
	if display.CenterLat != nil && display.CenterLon != nil {
		center = LatLon{Lat: *display.CenterLat, Lon: *display.CenterLon}
	}
	zoom := defZoom
	if display.InitialZoom != nil {
		zoom = *display.InitialZoom
	}
	return center, zoom
}

// transition moves the newest load into s. It reports false when gen is no
// longer the newest load.
func (c *Controller) transition(gen uint64, s State, viewID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.setStateLocked(gen, s, viewID, nil)
	return true
}

func (c *Controller) fail(gen uint64, viewID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.setStateLocked(gen, Idle, viewID, err)
}

func (c *Controller) setStateLocked(gen uint64, s State, viewID string, err error) {
	c.state = s
	c.lastErr = err
	if c.cfg.Publisher == nil {
		return
	}
	e := statusbus.Event{
		Session:    c.cfg.SessionID,
		Generation: gen,
		State:      s.String(),
		ViewID:     viewID,
		At:         c.cfg.Now().Unix(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.cfg.Publisher.Publish(e)
}

func (c *Controller) record(rec database.LoadRecord) {
	if c.cfg.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.cfg.Journal.RecordLoad(ctx, rec); err != nil {
		c.cfg.Logf("load journal: %v", err)
	}
}

// logT buffers "[loadID][component] message" for the load's log.
func (c *Controller) logT(loadID, component, format string, v ...any) {
	logger.Append(loadID, fmt.Sprintf("[%s][%s] %s", loadID, component, fmt.Sprintf(format, v...)))
}
