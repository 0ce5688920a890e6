package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/huntsync/core"
	"github.com/signalsfoundry/huntsync/kb"
	"github.com/signalsfoundry/huntsync/model"
)

func TestSanitizeKeyAndPath(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeKey(`a/b\c`))
	assert.Equal(t, "52.1,5.9", SanitizeKey("52.1,5.9"))
	assert.Equal(t, "/vos/x_y", Path(NamespaceVos, "x/y"))
	assert.Equal(t, "/ui", Path(NamespaceUI))
}

func TestMemoryStoreNestedReadWrite(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Write("/visited/poi", VisitedRecord{ID: "poi", VisitedFlag: model.VisitedFlag{Visited: true, Timestamp: 7}}))

	var all map[string]VisitedRecord
	found, err := s.ReadAll("/visited", &all)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7), all["poi"].Timestamp)

	var missing map[string]any
	found, err = s.ReadAll("/vos", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Delete("/visited/poi"))
	require.NoError(t, s.Delete("/visited/never"))
	found, err = s.ReadAll("/visited", &all)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStoreRejectsEmptySegments(t *testing.T) {
	s := NewMemoryStore()
	err := s.Write("/vos//x", 1)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "markers.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Write(Path(NamespaceDraggable), model.ReferenceMarker{Lat: 52.1, Lng: 5.9}))
	require.NoError(t, s.Write(Path(NamespaceVos, "v1"), model.SearchEntity{ID: "v1", Area: model.AreaAlpha}))
	require.NoError(t, s.Delete(Path(NamespaceVos, "v1")))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	var marker model.ReferenceMarker
	found, err := reopened.ReadAll(Path(NamespaceDraggable), &marker)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.ReferenceMarker{Lat: 52.1, Lng: 5.9}, marker)

	var vos map[string]model.SearchEntity
	found, err = reopened.ReadAll(Path(NamespaceVos), &vos)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, vos)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

type recordingBackend struct {
	mu      sync.Mutex
	ops     []string
	fail    error
	entered chan struct{}
	release chan struct{}
}

func (b *recordingBackend) Write(path string, _ any) error {
	return b.record("write " + path)
}

func (b *recordingBackend) Delete(path string) error {
	return b.record("delete " + path)
}

func (b *recordingBackend) ReadAll(string, any) (bool, error) { return false, nil }

func (b *recordingBackend) record(op string) error {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
	return b.fail
}

func (b *recordingBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

func TestAsyncWriterPreservesOrder(t *testing.T) {
	backend := &recordingBackend{}
	w := NewAsyncWriter(backend, WriterOptions{})
	ctx := context.Background()

	require.NoError(t, w.Write("/vos/a", 1))
	require.NoError(t, w.Delete("/vos/a"))
	require.NoError(t, w.Write("/vos/a", 2))
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []string{"write /vos/a", "delete /vos/a", "write /vos/a"}, backend.recorded())
	require.NoError(t, w.Close(ctx))
	assert.ErrorIs(t, w.Write("/vos/b", 1), ErrClosed)
}

func TestAsyncWriterQueueFull(t *testing.T) {
	backend := &recordingBackend{entered: make(chan struct{}), release: make(chan struct{})}
	w := NewAsyncWriter(backend, WriterOptions{QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})

	require.NoError(t, w.Write("/ui", 1))
	<-backend.entered
	require.NoError(t, w.Write("/ui", 2))
	err := w.Write("/ui", 3)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(backend.release)
	go func() {
		for range backend.entered {
		}
	}()
	require.NoError(t, w.Close(context.Background()))
	close(backend.entered)
	assert.Len(t, backend.recorded(), 2)
}

func TestAsyncWriterBreakerOpens(t *testing.T) {
	backend := &recordingBackend{fail: errors.New("disk full")}
	var (
		failures []string
		states   []gobreaker.State
	)
	w := NewAsyncWriter(backend, WriterOptions{
		Breaker:       BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour},
		OnFailure:     func(op string, _ error) { failures = append(failures, op) },
		OnStateChange: func(_, to gobreaker.State) { states = append(states, to) },
	})
	ctx := context.Background()

	require.NoError(t, w.Write("/vos/a", 1))
	require.NoError(t, w.Write("/vos/b", 1))
	require.NoError(t, w.Delete("/vos/c"))
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []string{OpWrite, OpWrite, OpDelete}, failures)
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, states)
	assert.Equal(t, gobreaker.StateOpen, w.State())
	assert.Len(t, backend.recorded(), 2, "open breaker must not reach the backend")
	require.NoError(t, w.Close(ctx))
}

func TestLoadSeedsEmptyDocument(t *testing.T) {
	port := NewMemoryStore()
	marker := model.ReferenceMarker{Lat: 51.988488, Lng: 5.896824}
	store := kb.NewStore(marker)

	require.NoError(t, Load(context.Background(), port, store, nil))

	var got model.ReferenceMarker
	found, err := port.ReadAll(Path(NamespaceDraggable), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, marker, got)

	for _, ns := range []string{NamespaceVisited, NamespaceVos, NamespaceUI} {
		var m map[string]any
		found, err := port.ReadAll(Path(ns), &m)
		require.NoError(t, err)
		assert.True(t, found, ns)
		assert.Empty(t, m, ns)
	}
}

func TestLoadPopulatesStore(t *testing.T) {
	port := NewMemoryStore()
	require.NoError(t, port.Write("/", map[string]any{
		"visited": map[string]any{
			"a_b": map[string]any{"id": "a/b", "visited": true, "ts": 10},
			"c":   map[string]any{"visited": false, "ts": 11},
		},
		"vos": map[string]any{
			"z": map[string]any{"id": "z", "lat": 52.0, "lng": 5.0, "area": "Bravo", "startedAt": "2024-01-01T10:00:00.000Z"},
			"a": map[string]any{"id": "a", "lat": 52.1, "lng": 5.1, "area": "Bravo", "startedAt": "2024-01-01T10:00:00.000Z", "circleEnabled": false},
		},
		"draggable": map[string]any{"lat": 52.5, "lng": 6.0},
		"ui":        map[string]any{"layer": "sat"},
	}))
	store := kb.NewStore(model.ReferenceMarker{})

	require.NoError(t, Load(context.Background(), port, store, nil))

	visited := store.ListVisited()
	assert.Equal(t, model.VisitedFlag{Visited: true, Timestamp: 10}, visited["a/b"])
	assert.Equal(t, model.VisitedFlag{Visited: false, Timestamp: 11}, visited["c"])

	entities := store.ListSearchEntities()
	require.Len(t, entities, 2)
	assert.Equal(t, "a", entities[0].ID, "loaded entities are inserted in key order")
	assert.False(t, entities[0].CircleEnabled)
	assert.True(t, entities[1].CircleEnabled, "records without circleEnabled default to shown")

	assert.Equal(t, model.ReferenceMarker{Lat: 52.5, Lng: 6.0}, store.Draggable())
	assert.Equal(t, "sat", store.UI()["layer"])
}

func TestLoadRestoresInsertionOrder(t *testing.T) {
	port := NewMemoryStore()
	stamp := "2024-01-01T10:00:00.000Z"
	require.NoError(t, port.Write(Path(NamespaceVos), map[string]any{
		"a":      map[string]any{"id": "a", "lat": 52.0, "lng": 5.0, "area": "Echo", "startedAt": stamp, "seq": 7},
		"b":      map[string]any{"id": "b", "lat": 52.0, "lng": 5.0, "area": "Echo", "startedAt": stamp, "seq": 3},
		"legacy": map[string]any{"id": "legacy", "lat": 52.0, "lng": 5.0, "area": "Echo", "startedAt": stamp},
	}))
	store := kb.NewStore(model.ReferenceMarker{})

	require.NoError(t, Load(context.Background(), port, store, nil))

	var ids []string
	for _, e := range store.ListSearchEntities() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b", "a", "legacy"}, ids)

	// Equal startedAt: the most recently inserted stays newest after a restart.
	g := core.BuildAreaGraph(store.ListSearchEntities(), time.Now())
	assert.Equal(t, "legacy", g.Areas[model.AreaEcho].NewestID)

	store.UpsertSearchEntity("next", model.SearchEntity{ID: "next", Lat: 52, Lng: 5, Area: model.AreaEcho, StartedAt: stamp}.AsPatch())
	seq, ok := store.SearchEntitySeq("next")
	require.True(t, ok)
	assert.Greater(t, seq, uint64(7), "new entities are placed after restored ones")
}
