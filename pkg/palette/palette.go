// Package palette assigns marker colors to categories.
package palette

// Reserved categories keep fixed colors and never consume a palette slot.
const (
	CommonCategory = "手動共通"
	CommonColor    = "red"

	ManualCategory = "手動マップ"
	ManualColor    = "darkred"
)

// DefaultHex backs colors that have no registered code.
const DefaultHex = "#7B7B7B"

// Colors is the ordered general palette. Categories beyond len(Colors) wrap
// around and share colors with earlier ones.
var Colors = []string{
	"blue",
	"green",
	"orange",
	"purple",
	"brown",
	"pink",
	"cyan",
	"yellow",
	"gray",
	"cadetblue",
}

var hexCodes = map[string]string{
	"red":       "#D63E2A",
	"darkred":   "#A23336",
	"blue":      "#2A81CB",
	"green":     "#2AAD27",
	"orange":    "#FF7800",
	"purple":    "#9C2BCB",
	"brown":     "#A0522D",
	"pink":      "#FF69B4",
	"cyan":      "#00CED1",
	"yellow":    "#FFD700",
	"gray":      "#7B7B7B",
	"cadetblue": "#3E8E9E",
}

// Hex returns the badge background for a marker color.
func Hex(color string) string {
	if h, ok := hexCodes[color]; ok {
		return h
	}
	return DefaultHex
}

// Assigner memoizes category colors for a single view load.
// It is not safe for concurrent use; every load owns its own Assigner.
type Assigner struct {
	assigned map[string]string
	general  int
}

// NewAssigner returns an empty assigner.
func NewAssigner() *Assigner {
	return &Assigner{assigned: make(map[string]string)}
}

// ColorFor returns the color of category, assigning the next palette color
// on first sight.
func (a *Assigner) ColorFor(category string) string {
	switch category {
	case CommonCategory:
		return CommonColor
	case ManualCategory:
		return ManualColor
	}
	if c, ok := a.assigned[category]; ok {
		return c
	}
	c := Colors[a.general%len(Colors)]
	a.assigned[category] = c
	a.general++
	return c
}

// Assigned reports how many general categories hold a color.
func (a *Assigner) Assigned() int { return a.general }
