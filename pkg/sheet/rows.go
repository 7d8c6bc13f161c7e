package sheet

import (
	"math"
	"strconv"
	"strings"
)

// Column names as they appear in the header row of the spreadsheet.
const (
	ColGID         = "gid"
	ColDisplayName = "メニュー表示名"
	ColMenuHidden  = "メニュー非表示"
	ColCenterLat   = "中心緯度"
	ColCenterLon   = "中心経度"
	ColInitialZoom = "初期ズーム"

	ColCategory = "カテゴリ"
	ColHidden   = "非表示"
	ColLat      = "緯度"
	ColLon      = "軽度" // header used by the existing sheets
	ColLonAlt   = "経度"
	ColLabel1   = "ラベル1"
	ColLabel2   = "ラベル2"
	ColLabel3   = "ラベル3"
	ColAddress  = "住所"
	ColNote     = "備考"
)

// ManagementRow is one entry of the management tab.
type ManagementRow struct {
	GID            string
	DisplayName    string
	HiddenFromMenu bool
	CenterLat      *float64
	CenterLon      *float64
	InitialZoom    *float64
}

// DataRow is one marker candidate from a view or overlay tab.
type DataRow struct {
	Category string
	Hidden   bool
	Lat      *float64
	Lon      *float64
	Label1   string
	Label2   string
	Label3   string
	Address  string
	Note     string
}

// ParseManagement converts the management tab into rows, keeping table order.
func ParseManagement(t Table) []ManagementRow {
	recs := t.Records()
	out := make([]ManagementRow, 0, len(recs))
	for _, r := range recs {
		out = append(out, ManagementRow{
			GID:            strings.TrimSpace(r[ColGID]),
			DisplayName:    strings.TrimSpace(r[ColDisplayName]),
			HiddenFromMenu: parseFlag(r[ColMenuHidden]),
			CenterLat:      parseOptFloat(r[ColCenterLat]),
			CenterLon:      parseOptFloat(r[ColCenterLon]),
			InitialZoom:    parseOptFloat(r[ColInitialZoom]),
		})
	}
	return out
}

// ParseData converts a view or overlay tab into rows.
func ParseData(t Table) []DataRow {
	lonCol := ColLon
	if !hasColumn(t.Header, ColLon) && hasColumn(t.Header, ColLonAlt) {
		lonCol = ColLonAlt
	}

	recs := t.Records()
	out := make([]DataRow, 0, len(recs))
	for _, r := range recs {
		out = append(out, DataRow{
			Category: strings.TrimSpace(r[ColCategory]),
			Hidden:   parseFlag(r[ColHidden]),
			Lat:      parseOptFloat(r[ColLat]),
			Lon:      parseOptFloat(r[lonCol]),
			Label1:   strings.TrimSpace(r[ColLabel1]),
			Label2:   strings.TrimSpace(r[ColLabel2]),
			Label3:   strings.TrimSpace(r[ColLabel3]),
			Address:  strings.TrimSpace(r[ColAddress]),
			Note:     strings.TrimSpace(r[ColNote]),
		})
	}
	return out
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}

// parseFlag treats only the spreadsheet boolean TRUE as set.
func parseFlag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "TRUE")
}

// parseOptFloat returns nil for blank, non-numeric or non-finite cells.
func parseOptFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
