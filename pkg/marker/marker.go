// Package marker classifies spreadsheet rows into colored map markers.
package marker

import (
	"fmt"
	"html"
	"strings"

	geohash "github.com/TomiHiltunen/geohash-golang"

	"sheet-cluster-map/pkg/palette"
	"sheet-cluster-map/pkg/sheet"
)

// Uncategorized labels rows whose category cell is blank.
const Uncategorized = "未分類"

// Marker is a row that made it onto the map.
type Marker struct {
	ID       string  `json:"id"`
	Geohash  string  `json:"geohash"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Category string  `json:"category"`
	Color    string  `json:"color"`
	Hex      string  `json:"hex"`
	Overlay  bool    `json:"overlay"`
	Popup    string  `json:"popup"`
}

// Colorer resolves category colors; *palette.Assigner implements it.
type Colorer interface {
	ColorFor(category string) string
}

// Classify turns row into a marker. ok is false when the row is hidden or
// lacks a coordinate. seq numbers the marker within its load and keeps ids
// unique when several rows share a position.
func Classify(row sheet.DataRow, fromOverlay bool, colors Colorer, seq int) (m Marker, ok bool) {
	if row.Hidden || row.Lat == nil || row.Lon == nil {
		return Marker{}, false
	}

	category := Category(row, fromOverlay)
	color := colors.ColorFor(category)
	gh := geohash.Encode(*row.Lat, *row.Lon)

	return Marker{
		ID:       fmt.Sprintf("%s-%d", gh, seq),
		Geohash:  gh,
		Lat:      *row.Lat,
		Lon:      *row.Lon,
		Category: category,
		Color:    color,
		Hex:      palette.Hex(color),
		Overlay:  fromOverlay,
		Popup:    Popup(row),
	}, true
}

// Category resolves the cluster a row belongs to.
func Category(row sheet.DataRow, fromOverlay bool) string {
	switch {
	case fromOverlay:
		return palette.CommonCategory
	case row.Category == palette.ManualCategory:
		return palette.ManualCategory
	case row.Category != "":
		return row.Category
	default:
		return Uncategorized
	}
}

// Popup renders the popup body. Blank fields leave no trace in the output.
// The badge shows the row's own category cell, so overlay rows keep the
// label their author typed.
func Popup(row sheet.DataRow) string {
	var b strings.Builder
	if row.Category != "" {
		fmt.Fprintf(&b, `<div class="badge-category">%s</div>`, html.EscapeString(row.Category))
	}
	if row.Label1 != "" || row.Label2 != "" || row.Label3 != "" {
		b.WriteString(`<div class="box-labels">`)
		writeLine(&b, "ラベル1", row.Label1)
		writeLine(&b, "ラベル2", row.Label2)
		writeLine(&b, "ラベル3", row.Label3)
		b.WriteString(`</div>`)
	}
	if row.Address != "" {
		fmt.Fprintf(&b, `<div class="box-address"><span class="label-name">住所：</span>%s</div>`, html.EscapeString(row.Address))
	}
	if row.Note != "" {
		fmt.Fprintf(&b, `<div class="box-note"><span class="label-name">備考：</span>%s</div>`, html.EscapeString(row.Note))
	}
	return b.String()
}

func writeLine(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, `<div><span class="label-name">%s：</span>%s</div>`, name, html.EscapeString(value))
}
