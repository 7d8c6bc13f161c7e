package database

import "time"

// LoadRecord describes one finished view load. The journal is operator
// telemetry only; the map never reads it back.
type LoadRecord struct {
	LoadID     string        `json:"loadID"`
	Session    string        `json:"session"`
	SheetID    string        `json:"sheetID"`
	ManageID   string        `json:"manageID"`
	OverlayID  string        `json:"overlayID"`
	ViewID     string        `json:"viewID"`
	Status     string        `json:"status"` // ready, superseded or failed
	Markers    int           `json:"markers"`
	Skipped    int           `json:"skipped"`
	Categories int           `json:"categories"`
	Duration   time.Duration `json:"duration"`
	Message    string        `json:"message,omitempty"`
	LoadedAt   time.Time     `json:"loadedAt"`
}
