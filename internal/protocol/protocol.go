package protocol

import "encoding/json"

// Inbound client intents.
const (
	MsgHello           = "hello"
	MsgLocationUpdate  = "location:update"
	MsgDraggableUpdate = "draggable:update"
	MsgVisitedSet      = "visited:set"
	MsgVosCreate       = "vos:create"
	MsgVosUpdate       = "vos:update"
	MsgVosRemove       = "vos:remove"
	MsgPeerLeave       = "peer:leave"
)

// Outbound events. draggable:update, peer:leave and vos:remove share their
// names with the inbound intents.
const (
	MsgPeersSnapshot     = "peers:snapshot"
	MsgPeerJoin          = "peer:join"
	MsgPeerUpdate        = "peer:update"
	MsgDraggableSnapshot = "draggable:snapshot"
	MsgVisitedSnapshot   = "visited:snapshot"
	MsgVisitedUpdate     = "visited:update"
	MsgVosSnapshot       = "vos:snapshot"
	MsgVosUpsert         = "vos:upsert"
	MsgVosGraph          = "vos:graph"
)

// Envelope is one text frame on the event channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
