// Package persist is the durable key-value log behind the entity store.
// Values live in a single JSON document addressed by slash-separated paths
// such as "/vos/<id>". Persistence is best effort: callers log failures and
// carry on with in-memory state.
package persist

import (
	"errors"
	"strings"
)

var (
	// ErrQueueFull is returned when an asynchronous write could not be
	// queued within the configured timeout.
	ErrQueueFull = errors.New("persistence queue full")
	// ErrClosed is returned for operations on a closed writer.
	ErrClosed = errors.New("persistence closed")
	// ErrInvalidPath is returned for paths that do not address a node.
	ErrInvalidPath = errors.New("invalid persistence path")
)

// Top-level namespaces of the document.
const (
	NamespaceVisited   = "visited"
	NamespaceVos       = "vos"
	NamespaceDraggable = "draggable"
	NamespaceUI        = "ui"
)

// Port is the persistence contract used by the hub.
type Port interface {
	// Write stores value at path, replacing whatever was there.
	Write(path string, value any) error
	// Delete removes the node at path. Deleting a missing node is not an error.
	Delete(path string) error
	// ReadAll decodes the node at path into out. found is false when the
	// node does not exist.
	ReadAll(path string, out any) (found bool, err error)
}

var keyReplacer = strings.NewReplacer("/", "_", `\`, "_")

// SanitizeKey replaces path separators in an entity id so it can be used as
// a single path segment. The mapping is one way.
func SanitizeKey(id string) string {
	if id == "" {
		return "_"
	}
	return keyReplacer.Replace(id)
}

// Path builds "/<namespace>" or "/<namespace>/<sanitised id>".
func Path(namespace string, id ...string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(namespace)
	for _, part := range id {
		b.WriteString("/")
		b.WriteString(SanitizeKey(part))
	}
	return b.String()
}

func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}
