package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/huntsync/model"
)

// BuildAreaGraph derives the per-area history from entities, which must be
// supplied in insertion order. Within an area entities are ordered by
// parsed StartedAt ascending; unparsable values sort as the Unix epoch and
// equal timestamps keep insertion order. Only areas holding at least one
// entity appear in the result.
//
// The graph is recomputed in full on every call. Entity counts are expected
// to stay in the tens.
func BuildAreaGraph(entities []model.SearchEntity, now time.Time) model.AreaGraph {
	type keyed struct {
		entity model.SearchEntity
		at     time.Time
	}

	groups := make(map[model.Area][]keyed)
	for _, e := range entities {
		at := time.Unix(0, 0)
		if t, ok := ParseStartedAt(e.StartedAt); ok {
			at = t
		}
		groups[e.Area] = append(groups[e.Area], keyed{entity: e, at: at})
	}

	graph := model.AreaGraph{
		Version: now.UnixMilli(),
		Areas:   make(map[model.Area]model.AreaHistory, len(groups)),
	}
	for area, members := range groups {
		sort.SliceStable(members, func(i, j int) bool { return members[i].at.Before(members[j].at) })

		h := model.AreaHistory{
			Order:  make([]string, 0, len(members)),
			Coords: make([][2]float64, 0, len(members)),
		}
		for _, m := range members {
			h.Order = append(h.Order, m.entity.ID)
			h.Coords = append(h.Coords, [2]float64{m.entity.Lat, m.entity.Lng})
		}
		h.NewestID = h.Order[len(h.Order)-1]
		graph.Areas[area] = h
	}
	return graph
}

// SameHistory reports whether two graphs describe the same orderings,
// ignoring Version.
func SameHistory(a, b model.AreaGraph) bool {
	if len(a.Areas) != len(b.Areas) {
		return false
	}
	for area, ha := range a.Areas {
		hb, ok := b.Areas[area]
		if !ok || ha.NewestID != hb.NewestID || len(ha.Order) != len(hb.Order) {
			return false
		}
		for i := range ha.Order {
			if ha.Order[i] != hb.Order[i] || ha.Coords[i] != hb.Coords[i] {
				return false
			}
		}
	}
	return true
}
