package kb

import (
	"reflect"
	"sort"
	"sync"

	"github.com/signalsfoundry/huntsync/model"
)

// Kind names one of the entity maps held by the Store.
type Kind string

const (
	KindPeer         Kind = "peer"
	KindSearchEntity Kind = "vos"
	KindVisited      Kind = "visited"
	KindDraggable    Kind = "draggable"
	KindUI           Kind = "ui"
)

// Op indicates what kind of change happened in the Store.
type Op int

const (
	OpUpsert Op = iota
	OpRemove
)

// Event is emitted to subscribers after every change.
type Event struct {
	Kind Kind
	Op   Op
	ID   string
}

type vosEntry struct {
	entity model.SearchEntity
	// seq is the insertion order, used to break startedAt ties.
	seq uint64
}

// Store is the in-memory authoritative store for every shared entity. All
// methods are safe for concurrent use; mutations are expected to be
// serialised by a single owner so read-modify-write sequences stay coherent.
type Store struct {
	mu sync.RWMutex

	peers     map[string]model.Peer
	vos       map[string]vosEntry
	nextSeq   uint64
	visited   map[string]model.VisitedFlag
	draggable model.ReferenceMarker
	ui        model.UIState

	subs    map[int]func(Event)
	nextSub int
}

// NewStore constructs an empty store whose reference marker starts at
// marker.
func NewStore(marker model.ReferenceMarker) *Store {
	return &Store{
		peers:     make(map[string]model.Peer),
		vos:       make(map[string]vosEntry),
		visited:   make(map[string]model.VisitedFlag),
		draggable: marker,
		ui:        model.UIState{},
		subs:      make(map[int]func(Event)),
	}
}

// ---- Peers ----

// GetPeer returns the peer with the given client id.
func (s *Store) GetPeer(id string) (model.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// UpsertPeer shallow-merges patch into the peer with the given id, creating
// it if absent, and returns the stored result.
func (s *Store) UpsertPeer(id string, patch model.PeerPatch) model.Peer {
	s.mu.Lock()
	p, ok := s.peers[id]
	if !ok {
		p = model.Peer{ClientID: id}
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Lat != nil {
		p.Lat = float64Ptr(*patch.Lat)
	}
	if patch.Lng != nil {
		p.Lng = float64Ptr(*patch.Lng)
	}
	if patch.Accuracy != nil {
		p.Accuracy = float64Ptr(*patch.Accuracy)
	}
	if patch.LastSeen != nil {
		p.LastSeen = *patch.LastSeen
	}
	s.peers[id] = p
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindPeer, Op: OpUpsert, ID: id})
	return p
}

// RemovePeer deletes the peer and reports whether it existed.
func (s *Store) RemovePeer(id string) bool {
	s.mu.Lock()
	_, ok := s.peers[id]
	delete(s.peers, id)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if ok {
		notify(subs, Event{Kind: KindPeer, Op: OpRemove, ID: id})
	}
	return ok
}

// ListPeers returns a snapshot of all peers ordered by client id.
func (s *Store) ListPeers() []model.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ClientID < res[j].ClientID })
	return res
}

// ---- Search entities ----

// GetSearchEntity returns the search entity with the given id.
func (s *Store) GetSearchEntity(id string) (model.SearchEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vos[id]
	return e.entity, ok
}

// UpsertSearchEntity merges patch into the entity with the given id. A new
// entity starts with CircleEnabled true and takes the next insertion slot;
// an existing one keeps its slot. changed reports whether the stored value
// differs from what was there before.
func (s *Store) UpsertSearchEntity(id string, patch model.SearchEntityPatch) (entity model.SearchEntity, changed bool) {
	s.mu.Lock()
	entry, ok := s.vos[id]
	if !ok {
		s.nextSeq++
		entry = vosEntry{
			entity: model.SearchEntity{ID: id, CircleEnabled: true},
			seq:    s.nextSeq,
		}
	}
	before := entry.entity
	entry.entity = patch.Apply(entry.entity)
	entry.entity.ID = id
	changed = !ok || !reflect.DeepEqual(before, entry.entity)
	if !changed {
		s.mu.Unlock()
		return entry.entity, false
	}
	s.vos[id] = entry
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindSearchEntity, Op: OpUpsert, ID: id})
	return entry.entity, true
}

// RestoreSearchEntity inserts a persisted entity at its recorded insertion
// slot, replacing any entity with the same id. A zero seq takes the next
// free slot. Entities created afterwards are ordered after every restored
// one.
func (s *Store) RestoreSearchEntity(id string, patch model.SearchEntityPatch, seq uint64) model.SearchEntity {
	s.mu.Lock()
	if seq == 0 {
		s.nextSeq++
		seq = s.nextSeq
	} else if seq > s.nextSeq {
		s.nextSeq = seq
	}
	e := patch.Apply(model.SearchEntity{ID: id, CircleEnabled: true})
	e.ID = id
	s.vos[id] = vosEntry{entity: e, seq: seq}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindSearchEntity, Op: OpUpsert, ID: id})
	return e
}

// SearchEntitySeq returns the insertion slot of the entity with the given
// id, used to persist ordering across restarts.
func (s *Store) SearchEntitySeq(id string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vos[id]
	return e.seq, ok
}

// RemoveSearchEntity deletes the entity and reports whether it existed.
func (s *Store) RemoveSearchEntity(id string) bool {
	s.mu.Lock()
	_, ok := s.vos[id]
	delete(s.vos, id)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if ok {
		notify(subs, Event{Kind: KindSearchEntity, Op: OpRemove, ID: id})
	}
	return ok
}

// ListSearchEntities returns a snapshot of all search entities in insertion
// order.
func (s *Store) ListSearchEntities() []model.SearchEntity {
	s.mu.RLock()
	entries := make([]vosEntry, 0, len(s.vos))
	for _, e := range s.vos {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	res := make([]model.SearchEntity, len(entries))
	for i, e := range entries {
		res[i] = e.entity
	}
	return res
}

// ---- Visited flags ----

// GetVisited returns the flag stored for a point-of-interest id.
func (s *Store) GetVisited(id string) (model.VisitedFlag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.visited[id]
	return f, ok
}

// SetVisited overwrites the flag for id.
func (s *Store) SetVisited(id string, flag model.VisitedFlag) model.VisitedFlag {
	s.mu.Lock()
	s.visited[id] = flag
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindVisited, Op: OpUpsert, ID: id})
	return flag
}

// ListVisited returns a copy of every visited flag keyed by id.
func (s *Store) ListVisited() map[string]model.VisitedFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]model.VisitedFlag, len(s.visited))
	for id, f := range s.visited {
		res[id] = f
	}
	return res
}

// ---- Singletons ----

// Draggable returns the current reference marker.
func (s *Store) Draggable() model.ReferenceMarker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draggable
}

// SetDraggable replaces the reference marker.
func (s *Store) SetDraggable(m model.ReferenceMarker) model.ReferenceMarker {
	s.mu.Lock()
	s.draggable = m
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindDraggable, Op: OpUpsert})
	return m
}

// UI returns a shallow copy of the shared UI settings document.
func (s *Store) UI() model.UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(model.UIState, len(s.ui))
	for k, v := range s.ui {
		res[k] = v
	}
	return res
}

// SetUI replaces the UI settings document.
func (s *Store) SetUI(ui model.UIState) {
	if ui == nil {
		ui = model.UIState{}
	}
	s.mu.Lock()
	s.ui = ui
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, Event{Kind: KindUI, Op: OpUpsert})
}

// Counts returns the number of entities held per keyed kind.
func (s *Store) Counts() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[Kind]int{
		KindPeer:         len(s.peers),
		KindSearchEntity: len(s.vos),
		KindVisited:      len(s.visited),
	}
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function. Callbacks run outside the store lock.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) subscribersLocked() []func(Event) {
	if len(s.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

func float64Ptr(v float64) *float64 { return &v }
