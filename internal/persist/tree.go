package persist

import (
	"encoding/json"
	"fmt"
	"sync"
)

// tree is an in-memory JSON document. Values are normalised through JSON so
// reads never alias caller memory.
type tree struct {
	mu   sync.RWMutex
	root map[string]any
}

func newTree() *tree {
	return &tree{root: make(map[string]any)}
}

func normalise(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// set stores value at path, creating intermediate objects as needed.
func (t *tree) set(path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	v, err := normalise(value)
	if err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(parts) == 0 {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("write %q: root must be an object: %w", path, ErrInvalidPath)
		}
		t.root = m
		return nil
	}
	node := t.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = v
	return nil
}

func (t *tree) remove(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(parts) == 0 {
		t.root = make(map[string]any)
		return nil
	}
	node := t.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}
	delete(node, parts[len(parts)-1])
	return nil
}

func (t *tree) get(path string, out any) (bool, error) {
	parts, err := splitPath(path)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", path, err)
	}

	t.mu.RLock()
	var node any = t.root
	for _, p := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			t.mu.RUnlock()
			return false, nil
		}
		node, ok = m[p]
		if !ok {
			t.mu.RUnlock()
			return false, nil
		}
	}
	raw, err := json.Marshal(node)
	t.mu.RUnlock()
	if err != nil {
		return false, fmt.Errorf("read %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("read %q: %w", path, err)
	}
	return true, nil
}

func (t *tree) marshal(indent bool) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if indent {
		return json.MarshalIndent(t.root, "", "  ")
	}
	return json.Marshal(t.root)
}

// MemoryStore is a Port that never touches disk. It backs memory-only
// operation and tests.
type MemoryStore struct {
	t *tree
}

// NewMemoryStore returns an empty in-memory document.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{t: newTree()}
}

// Write stores value at path.
func (m *MemoryStore) Write(path string, value any) error {
	return m.t.set(path, value)
}

// Delete removes the node at path.
func (m *MemoryStore) Delete(path string) error {
	return m.t.remove(path)
}

// ReadAll decodes the node at path into out.
func (m *MemoryStore) ReadAll(path string, out any) (bool, error) {
	return m.t.get(path, out)
}

// Snapshot returns the whole document as JSON.
func (m *MemoryStore) Snapshot() ([]byte, error) {
	return m.t.marshal(false)
}
