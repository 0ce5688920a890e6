package model

// ReferenceMarker is the single shared draggable point.
type ReferenceMarker struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VisitedFlag records whether a fixed point of interest has been visited.
// Latest write wins.
type VisitedFlag struct {
	Visited bool `json:"visited"`
	// Timestamp is Unix milliseconds of the last toggle.
	Timestamp int64 `json:"ts"`
}

// UIState is the free-form shared settings document stored under the "ui"
// namespace.
type UIState map[string]any
