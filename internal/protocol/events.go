package protocol

// PeerJoined announces a newly identified participant to the others.
type PeerJoined struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

// PeerMoved carries a participant's latest position.
type PeerMoved struct {
	ClientID string   `json:"clientId"`
	Name     string   `json:"name"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Ts       int64    `json:"ts"`
}

// PeerLeft announces a participant going away.
type PeerLeft struct {
	ClientID string `json:"clientId"`
}

// VisitedChanged is the incremental visited event.
type VisitedChanged struct {
	ID      string `json:"id"`
	Visited bool   `json:"visited"`
}

// VosRemoved is the incremental removal event.
type VosRemoved struct {
	ID string `json:"id"`
}
