package api

import (
	"sheet-cluster-map/pkg/mapview"
	"sheet-cluster-map/pkg/menu"
	"sheet-cluster-map/pkg/sheet"
)

// Viewer is the server side of one open map page. Session is the registry
// key, which also routes status events.
type Viewer struct {
	Session  string
	SheetID  string
	ManageID string

	Menu  *menu.Controller
	Views *mapview.Controller
	Frame *mapview.Frame
}

func (h *Handler) newViewer(session, sheetID, manageID string) (*Viewer, error) {
	src := h.Sources(sheetID)
	frame := mapview.NewFrame()

	cfg := mapview.Config{
		Source:        src,
		SheetID:       sheetID,
		ManagementID:  manageID,
		SessionID:     session,
		Surface:       frame,
		Generations:   &h.generations,
		DefaultCenter: h.DefaultCenter,
		DefaultZoom:   h.DefaultZoom,
		Logf:          h.Logf,
	}
	if h.Bus != nil {
		cfg.Publisher = h.Bus
	}
	if h.Journal != nil {
		cfg.Journal = h.Journal
	}
	views, err := mapview.NewController(cfg)
	if err != nil {
		return nil, err
	}

	m, err := menu.NewController(menu.Config{
		Source:       src,
		SheetID:      sheetID,
		ManagementID: manageID,
		Loader:       views,
		Logf:         h.Logf,
	})
	if err != nil {
		return nil, err
	}

	return &Viewer{
		Session:  session,
		SheetID:  sheetID,
		ManageID: manageID,
		Menu:     m,
		Views:    views,
		Frame:    frame,
	}, nil
}

// SourceFactory opens the tabular source of one spreadsheet.
type SourceFactory func(sheetID string) sheet.Source
