package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	geojson "github.com/paulmach/go.geojson"

	"sheet-cluster-map/pkg/cluster"
	"sheet-cluster-map/pkg/database"
	"sheet-cluster-map/pkg/legend"
	"sheet-cluster-map/pkg/mapview"
	"sheet-cluster-map/pkg/menu"
	"sheet-cluster-map/pkg/palette"
	"sheet-cluster-map/pkg/qrshare"
	"sheet-cluster-map/pkg/sheet"
	"sheet-cluster-map/pkg/statusbus"
)

// SessionCookie carries the browser session id.
const SessionCookie = "sheetmap_sid"

// PageParam names the query parameter holding the id of one open page. Pages
// of one browser share the cookie but not their map state.
const PageParam = "page"

// JournalStore is the part of the database the API needs.
type JournalStore interface {
	RecordLoad(ctx context.Context, rec database.LoadRecord) error
	RecentLoads(ctx context.Context, limit int) ([]database.LoadRecord, error)
}

// =======================
// Public API entry points
// =======================

// Handler serves the map API. Sources is required; Bus and Journal are
// optional.
type Handler struct {
	Sources  SourceFactory
	Registry *Registry
	Bus      *statusbus.Bus
	Journal  JournalStore

	DefaultCenter mapview.LatLon
	DefaultZoom   float64

	Logf func(string, ...any)

	// generations numbers view loads across all viewers, so a page whose
	// viewer expired and was rebuilt still sees increasing generations.
	generations atomic.Uint64
}

// NewHandler fills defaults. Logf may be nil.
func NewHandler(sources SourceFactory, registry *Registry, bus *statusbus.Bus, journal JournalStore, logf func(string, ...any)) *Handler {
	if logf == nil {
		logf = log.Printf
	}
	if registry == nil {
		registry = NewRegistry(0)
	}
	return &Handler{
		Sources:       sources,
		Registry:      registry,
		Bus:           bus,
		Journal:       journal,
		DefaultCenter: mapview.DefaultCenter,
		DefaultZoom:   mapview.DefaultZoom,
		Logf:          logf,
	}
}

// Register attaches the API routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/menu", h.handleMenu)
	r.Get("/api/view", h.handleView)
	r.Get("/api/view.geojson", h.handleViewGeoJSON)
	r.Get("/api/loads", h.handleLoads)
	r.Get("/ws/status", h.handleStatusSocket)
	r.Get("/qrpng", h.handleQR)
}

// Router returns a chi router with the standard middleware and the API
// routes registered. Callers may add further routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	h.Register(r)
	return r
}

// =====================
// Payloads
// =====================

type clusterPayload struct {
	Category string                     `json:"category"`
	Color    string                     `json:"color"`
	Badge    cluster.Badge              `json:"badge"`
	Count    int                        `json:"count"`
	Features *geojson.FeatureCollection `json:"features"`
}

type viewPayload struct {
	Generation   uint64           `json:"generation"`
	OverlayID    string           `json:"overlayID"`
	ViewID       string           `json:"viewID"`
	OverlayShown bool             `json:"overlayShown"`
	Center       mapview.LatLon   `json:"center"`
	Zoom         float64          `json:"zoom"`
	Clusters     []clusterPayload `json:"clusters"`
	Legend       []legend.Entry   `json:"legend"`
	Markers      int              `json:"markers"`
	Skipped      int              `json:"skipped"`
	Location     string           `json:"location"`
}

type menuPayload struct {
	Entries  []menu.Entry `json:"entries"`
	Active   string       `json:"active"`
	Location string       `json:"location"`
	View     *viewPayload `json:"view"`
}

func newViewPayload(res *menu.Result) *viewPayload {
	v := res.View
	p := &viewPayload{
		Generation:   v.Generation,
		OverlayID:    v.OverlayID,
		ViewID:       v.ViewID,
		OverlayShown: v.OverlayShown,
		Center:       v.Center,
		Zoom:         v.Zoom,
		Clusters:     make([]clusterPayload, 0, len(v.Clusters)),
		Legend:       v.Legend,
		Markers:      v.Markers,
		Skipped:      v.Skipped,
		Location:     res.Location,
	}
	if p.Legend == nil {
		p.Legend = []legend.Entry{}
	}
	for _, c := range v.Clusters {
		p.Clusters = append(p.Clusters, clusterPayload{
			Category: c.Category,
			Color:    c.Color(),
			Badge:    c.Badge(),
			Count:    c.Count(),
			Features: c.FeatureCollection(),
		})
	}
	return p
}

// =====================
// Handlers
// =====================

// handleMenu builds the menu and loads the initial view.
func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	res, err := v.Menu.Init(r.Context(), strings.TrimSpace(r.URL.Query().Get("gid")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, menuPayload{
		Entries:  res.Menu.Entries,
		Active:   res.Menu.Active(),
		Location: res.Location,
		View:     newViewPayload(res),
	})
}

// handleView switches the session to another view.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	gid := strings.TrimSpace(r.URL.Query().Get("gid"))
	if gid == "" {
		http.Error(w, "missing gid", http.StatusBadRequest)
		return
	}
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	res, err := v.Menu.Select(r.Context(), gid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, newViewPayload(res))
}

// handleViewGeoJSON exports what the session currently shows as one
// FeatureCollection. A gid other than the active view is loaded first.
func (h *Handler) handleViewGeoJSON(w http.ResponseWriter, r *http.Request) {
	v, ok := h.viewer(w, r)
	if !ok {
		return
	}
	gid := strings.TrimSpace(r.URL.Query().Get("gid"))
	if gid != "" && gid != v.Menu.Menu().Active() {
		if _, err := v.Menu.Select(r.Context(), gid); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	snap := v.Frame.Snapshot()
	if !snap.HasView {
		http.Error(w, "no view loaded", http.StatusNotFound)
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, c := range snap.Clusters {
		for _, m := range c.Markers {
			fc.AddFeature(cluster.Feature(m))
		}
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "encode geojson", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(body); err != nil && !isClientDisconnect(err) {
		h.Logf("geojson write: %v", err)
	}
}

// handleLoads lists recent journal entries.
func (h *Handler) handleLoads(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		http.Error(w, "load journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit := clampInt(parseIntDefault(r.URL.Query().Get("limit"), 50), 1, 1000)
	recs, err := h.Journal.RecentLoads(r.Context(), limit)
	if err != nil {
		h.Logf("load journal: %v", err)
		http.Error(w, "load journal", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []database.LoadRecord{}
	}
	h.respondJSON(w, struct {
		Loads []database.LoadRecord `json:"loads"`
	}{Loads: recs})
}

// handleQR renders the page address, or u, as a PNG.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + "/"
		}
	}
	badge, _ := qrshare.ParseHex(palette.Hex(palette.CommonColor))

	var buf bytes.Buffer
	if err := qrshare.EncodePNG(&buf, u, qrshare.Options{TargetPx: 640, Badge: badge}); err != nil {
		if errors.Is(err, qrshare.ErrTooLong) {
			http.Error(w, err.Error(), http.StatusRequestURITooLong)
			return
		}
		http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline; filename=\"qr.png\"")
	if _, err := buf.WriteTo(w); err != nil && !isClientDisconnect(err) {
		h.Logf("qr write: %v", err)
	}
}

// =====================
// Helpers
// =====================

// viewer resolves the viewer of the calling page for sheetid and manage,
// writing a 400 when either is missing. Requests without a page id share
// one viewer per session.
func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (*Viewer, bool) {
	q := r.URL.Query()
	sheetID := strings.TrimSpace(q.Get("sheetid"))
	manageID := strings.TrimSpace(q.Get("manage"))
	if sheetID == "" || manageID == "" {
		http.Error(w, "missing sheetid or manage", http.StatusBadRequest)
		return nil, false
	}
	session := sessionID(w, r)
	key := viewerKey(session, pageID(q.Get(PageParam)), sheetID, manageID)
	v, err := h.Registry.Get(r.Context(), key, func() (*Viewer, error) {
		return h.newViewer(key, sheetID, manageID)
	})
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return v, true
}

func viewerKey(session, page, sheetID, manageID string) string {
	return session + "|" + page + "|" + sheetID + "|" + manageID
}

// pageID returns raw when it is a uuid and "" otherwise.
func pageID(raw string) string {
	if _, err := uuid.Parse(raw); err != nil {
		return ""
	}
	return raw
}

// sessionID returns the cookie session, issuing a new one when absent.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// statusFor maps load errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, menu.ErrUnknownView),
		errors.Is(err, menu.ErrNoEligibleViews),
		errors.Is(err, mapview.ErrEmptyManagement):
		return http.StatusNotFound
	case errors.Is(err, mapview.ErrNoView):
		return http.StatusBadRequest
	case errors.Is(err, mapview.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sheet.ErrStatus):
		return http.StatusBadGateway
	case errors.Is(err, errRegistryStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.Logf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), code)
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil && !isClientDisconnect(err) {
		h.Logf("json write: %v", err)
	}
}

// isClientDisconnect reports errors caused by the browser going away.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// writeWait bounds each websocket write.
const writeWait = 10 * time.Second
