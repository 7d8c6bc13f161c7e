package menu

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"sheet-cluster-map/pkg/mapview"
	"sheet-cluster-map/pkg/sheet"
)

// Loader runs view loads. *mapview.Controller satisfies it.
type Loader interface {
	LoadView(ctx context.Context, req mapview.LoadRequest) (*mapview.View, error)
}

// Config wires a Controller.
type Config struct {
	Source       sheet.Source
	SheetID      string
	ManagementID string
	Loader       Loader
	Logf         func(string, ...any)
}

// Result is the outcome of Init or Select.
type Result struct {
	Menu     Menu
	View     *mapview.View
	Location string
}

// Controller keeps the menu of one browser session. The active entry moves
// only after its view loaded.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	rows    []sheet.ManagementRow
	current string // last selected view, may still be loading
	active  string // last view that finished loading
	gen     uint64 // generation of the load that set active
}

// NewController checks cfg.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("menu: nil source")
	}
	if cfg.Loader == nil {
		return nil, errors.New("menu: nil loader")
	}
	if cfg.ManagementID == "" {
		return nil, errors.New("menu: empty management id")
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Controller{cfg: cfg}, nil
}

// Init reads the management table, builds the menu and loads the initial
// view. requested may be blank or name a view that is not in the menu.
func (c *Controller) Init(ctx context.Context, requested string) (*Result, error) {
	rows, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	initial, err := Initial(rows, requested)
	if err != nil {
		return nil, err
	}
	if requested != "" && requested != initial.GID {
		c.cfg.Logf("menu: view %s not in menu, showing %s", requested, initial.GID)
	}
	return c.open(ctx, rows, initial)
}

// Select switches to viewID, which must be a menu entry.
func (c *Controller) Select(ctx context.Context, viewID string) (*Result, error) {
	c.mu.Lock()
	rows := c.rows
	c.mu.Unlock()

	if rows == nil {
		var err error
		if rows, err = c.refresh(ctx); err != nil {
			return nil, err
		}
	}
	row, ok := find(Eligible(rows), viewID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, viewID)
	}
	return c.open(ctx, rows, row)
}

// Menu returns the menu as currently shown.
func (c *Controller) Menu() Menu {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Build(c.rows, c.active)
}

// Current is the most recently selected view id.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) refresh(ctx context.Context) ([]sheet.ManagementRow, error) {
	t, err := c.cfg.Source.FetchTable(ctx, c.cfg.ManagementID)
	if err != nil {
		return nil, fmt.Errorf("management table: %w", err)
	}
	rows := sheet.ParseManagement(t)
	if len(rows) == 0 {
		return nil, mapview.ErrEmptyManagement
	}
	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()
	return rows, nil
}

func (c *Controller) open(ctx context.Context, rows []sheet.ManagementRow, row sheet.ManagementRow) (*Result, error) {
	c.mu.Lock()
	c.current = row.GID
	c.mu.Unlock()

	// Row 0 is the common overlay whether or not it is hidden from the menu.
	view, err := c.cfg.Loader.LoadView(ctx, mapview.LoadRequest{
		OverlayID: rows[0].GID,
		ViewID:    row.GID,
		Display:   row,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if view.Generation >= c.gen {
		c.active = row.GID
		c.gen = view.Generation
	}
	m := Build(c.rows, c.active)
	c.mu.Unlock()

	return &Result{
		Menu:     m,
		View:     view,
		Location: Location(c.cfg.SheetID, c.cfg.ManagementID, row.GID),
	}, nil
}
