// Package menu builds the view switcher from the management table.
package menu

import (
	"errors"
	"net/url"
	"strings"

	"sheet-cluster-map/pkg/sheet"
)

var (
	// ErrNoEligibleViews means no management row can appear in the menu.
	ErrNoEligibleViews = errors.New("no eligible views in management table")
	// ErrUnknownView means the selected id is not a menu entry.
	ErrUnknownView = errors.New("unknown view")
)

// Entry is one menu button.
type Entry struct {
	ViewID string `json:"viewID"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Menu lists the entries in management table order.
type Menu struct {
	Entries []Entry `json:"entries"`
}

// Active returns the active entry's view id, or "" when none is active.
func (m Menu) Active() string {
	for _, e := range m.Entries {
		if e.Active {
			return e.ViewID
		}
	}
	return ""
}

// Eligible keeps the rows that are not hidden from the menu and carry a
// display name.
func Eligible(rows []sheet.ManagementRow) []sheet.ManagementRow {
	out := make([]sheet.ManagementRow, 0, len(rows))
	for _, r := range rows {
		if r.HiddenFromMenu || strings.TrimSpace(r.DisplayName) == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Build renders the eligible rows with at most one entry active: the first
// one whose id equals activeID.
func Build(rows []sheet.ManagementRow, activeID string) Menu {
	eligible := Eligible(rows)
	m := Menu{Entries: make([]Entry, 0, len(eligible))}
	marked := false
	for _, r := range eligible {
		e := Entry{ViewID: r.GID, Label: strings.TrimSpace(r.DisplayName)}
		if !marked && activeID != "" && r.GID == activeID {
			e.Active = true
			marked = true
		}
		m.Entries = append(m.Entries, e)
	}
	return m
}

// Initial picks the view to show first: the eligible row matching
// requested, else the first eligible row.
func Initial(rows []sheet.ManagementRow, requested string) (sheet.ManagementRow, error) {
	eligible := Eligible(rows)
	if len(eligible) == 0 {
		return sheet.ManagementRow{}, ErrNoEligibleViews
	}
	if r, ok := find(eligible, requested); ok {
		return r, nil
	}
	return eligible[0], nil
}

func find(rows []sheet.ManagementRow, gid string) (sheet.ManagementRow, bool) {
	if gid == "" {
		return sheet.ManagementRow{}, false
	}
	for _, r := range rows {
		if r.GID == gid {
			return r, true
		}
	}
	return sheet.ManagementRow{}, false
}

// Location is the query string that reopens a view.
func Location(sheetID, manageID, viewID string) string {
	return "?sheetid=" + url.QueryEscape(sheetID) +
		"&manage=" + url.QueryEscape(manageID) +
		"&gid=" + url.QueryEscape(viewID)
}
