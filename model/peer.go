package model

// DefaultPeerName is used when a participant has not told us who they are.
const DefaultPeerName = "Anoniem"

// Peer is a live participant. Peers exist only while a connection is bound
// to their client id and are never persisted.
type Peer struct {
	ClientID string   `json:"-"`
	Name     string   `json:"name"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	// LastSeen is Unix milliseconds.
	LastSeen int64 `json:"ts"`
}

// HasLocation reports whether the peer has reported a position yet.
func (p Peer) HasLocation() bool {
	return p.Lat != nil && p.Lng != nil
}

// PeerPatch is a shallow merge applied to a Peer. Nil fields are preserved.
type PeerPatch struct {
	Name     *string
	Lat      *float64
	Lng      *float64
	Accuracy *float64
	LastSeen *int64
}
