package persist

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/kb"
	"github.com/signalsfoundry/huntsync/model"
)

// VisitedRecord is the persisted form of a visited flag. The original id is
// kept alongside the flag because the path segment is sanitised.
type VisitedRecord struct {
	ID string `json:"id,omitempty"`
	model.VisitedFlag
}

// VosRecord is the persisted form of a search entity. Seq is the entity's
// insertion slot, which breaks startedAt ties in the area graph.
type VosRecord struct {
	model.SearchEntity
	Seq uint64 `json:"seq,omitempty"`
}

// Load populates store from port. Namespaces that do not exist yet are
// seeded: visited, vos and ui with empty objects, draggable with the
// store's current marker. Search entities keep their recorded insertion
// slots; records without one follow in key order.
func Load(ctx context.Context, port Port, store *kb.Store, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}

	visited := map[string]VisitedRecord{}
	found, err := port.ReadAll(Path(NamespaceVisited), &visited)
	if err != nil {
		return fmt.Errorf("load visited: %w", err)
	}
	if !found {
		if err := port.Write(Path(NamespaceVisited), map[string]VisitedRecord{}); err != nil {
			log.Warn(ctx, "seed visited failed", logging.Err(err))
		}
	}
	for key, rec := range visited {
		id := rec.ID
		if id == "" {
			id = key
		}
		store.SetVisited(id, rec.VisitedFlag)
	}

	vos := map[string]storedEntity{}
	found, err = port.ReadAll(Path(NamespaceVos), &vos)
	if err != nil {
		return fmt.Errorf("load vos: %w", err)
	}
	if !found {
		if err := port.Write(Path(NamespaceVos), map[string]VosRecord{}); err != nil {
			log.Warn(ctx, "seed vos failed", logging.Err(err))
		}
	}
	keys := make([]string, 0, len(vos))
	for k := range vos {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := vos[keys[i]].Seq, vos[keys[j]].Seq
		if si != sj {
			// Zero (unrecorded) sorts last.
			return sj == 0 || (si != 0 && si < sj)
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		e := vos[k]
		id := e.ID
		if id == "" {
			id = k
		}
		store.RestoreSearchEntity(id, fullPatch(e), e.Seq)
	}

	var marker model.ReferenceMarker
	found, err = port.ReadAll(Path(NamespaceDraggable), &marker)
	if err != nil {
		return fmt.Errorf("load draggable: %w", err)
	}
	if found {
		store.SetDraggable(marker)
	} else if err := port.Write(Path(NamespaceDraggable), store.Draggable()); err != nil {
		log.Warn(ctx, "seed draggable failed", logging.Err(err))
	}

	ui := model.UIState{}
	found, err = port.ReadAll(Path(NamespaceUI), &ui)
	if err != nil {
		return fmt.Errorf("load ui: %w", err)
	}
	if found {
		store.SetUI(ui)
	} else if err := port.Write(Path(NamespaceUI), model.UIState{}); err != nil {
		log.Warn(ctx, "seed ui failed", logging.Err(err))
	}

	log.Info(ctx, "persistence loaded",
		logging.Int("visited", len(visited)),
		logging.Int("vos", len(keys)),
	)
	return nil
}

// storedEntity tolerates records written before circleEnabled existed.
type storedEntity struct {
	model.SearchEntity
	CircleEnabled *bool  `json:"circleEnabled"`
	Seq           uint64 `json:"seq"`
}

func fullPatch(e storedEntity) model.SearchEntityPatch {
	patch := e.SearchEntity.AsPatch()
	circle := true
	if e.CircleEnabled != nil {
		circle = *e.CircleEnabled
	}
	patch.CircleEnabled = &circle
	return patch
}
