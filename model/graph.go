package model

// AreaGraph is derived from the current set of search entities and is never
// persisted. Version changes on every computation and only signals change.
type AreaGraph struct {
	Version int64                `json:"version"`
	Areas   map[Area]AreaHistory `json:"areas"`
}

// AreaHistory is the temporal ordering of one area's search entities.
type AreaHistory struct {
	// Order lists entity ids oldest to newest.
	Order    []string     `json:"order"`
	NewestID string       `json:"newestId,omitempty"`
	Coords   [][2]float64 `json:"coords"`
}

// Newest reports the id of the most recently started entity in area a.
func (g AreaGraph) Newest(a Area) (string, bool) {
	h, ok := g.Areas[a]
	if !ok || h.NewestID == "" {
		return "", false
	}
	return h.NewestID, true
}
