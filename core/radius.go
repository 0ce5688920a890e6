package core

import (
	"time"

	"github.com/signalsfoundry/huntsync/model"
)

// SearchSpeedKmh is the assumed walking speed of a search entity.
const SearchSpeedKmh = 6.0

// SearchSpeedMps is SearchSpeedKmh in metres per second.
const SearchSpeedMps = SearchSpeedKmh * 1000 / 3600

// RadiusMeters is the distance a search entity may have covered since
// startedAt. It is zero for unparsable or future start times.
func RadiusMeters(startedAt string, now time.Time) float64 {
	t0, ok := ParseStartedAt(startedAt)
	if !ok {
		return 0
	}
	elapsed := now.Sub(t0).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed * SearchSpeedMps
}

// ShowsRadius reports whether e should display a growing radius under
// graph: only the newest entity of its area, and only if it has its circle
// enabled.
func ShowsRadius(graph model.AreaGraph, e model.SearchEntity) bool {
	if !e.CircleEnabled {
		return false
	}
	newest, ok := graph.Newest(e.Area)
	return ok && newest == e.ID
}
