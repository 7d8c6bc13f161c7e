package mapview

// State is a step of a view load.
type State int

const (
	Idle State = iota
	LoadingManagement
	LoadingOverlay
	LoadingSelected
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingManagement:
		return "loading-management"
	case LoadingOverlay:
		return "loading-overlay"
	case LoadingSelected:
		return "loading-selected"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Loading reports whether s is one of the fetch states.
func (s State) Loading() bool {
	return s == LoadingManagement || s == LoadingOverlay || s == LoadingSelected
}
