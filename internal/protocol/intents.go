package protocol

import "github.com/signalsfoundry/huntsync/model"

// Hello identifies a connection as a participant.
type Hello struct {
	ClientID string `json:"clientId" validate:"required,notblank"`
	Name     string `json:"name"`
}

// LocationUpdate reports a participant's device position.
type LocationUpdate struct {
	ClientID string   `json:"clientId" validate:"required,notblank"`
	Name     string   `json:"name"`
	Lat      *float64 `json:"lat" validate:"required,finite,latitude_nonneg"`
	Lng      *float64 `json:"lng" validate:"required,finite,longitude_nonneg"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,finite,gte=0"`
}

// DraggableUpdate relocates the shared reference marker.
type DraggableUpdate struct {
	Lat *float64 `json:"lat" validate:"required,finite,latitude_nonneg"`
	Lng *float64 `json:"lng" validate:"required,finite,longitude_nonneg"`
}

// VisitedSet toggles the visited flag of a point of interest.
type VisitedSet struct {
	ID      string `json:"id" validate:"required,notblank"`
	Visited *bool  `json:"visited" validate:"required"`
}

// VosCreate creates a search entity.
type VosCreate struct {
	ID            string     `json:"id" validate:"required,notblank"`
	Lat           *float64   `json:"lat" validate:"required,finite,latitude_nonneg"`
	Lng           *float64   `json:"lng" validate:"required,finite,longitude_nonneg"`
	Area          model.Area `json:"area" validate:"required,area"`
	StartedAt     string     `json:"startedAt" validate:"required,rfc3339"`
	Label         *string    `json:"label"`
	CircleEnabled *bool      `json:"circleEnabled"`
}

// VosUpdate merges the supplied fields into an existing search entity.
type VosUpdate struct {
	ID            string      `json:"id" validate:"required,notblank"`
	Lat           *float64    `json:"lat" validate:"omitempty,finite,latitude_nonneg"`
	Lng           *float64    `json:"lng" validate:"omitempty,finite,longitude_nonneg"`
	Area          *model.Area `json:"area" validate:"omitempty,area"`
	StartedAt     *string     `json:"startedAt" validate:"omitempty,rfc3339"`
	Label         *string     `json:"label"`
	CircleEnabled *bool       `json:"circleEnabled"`
}

// VosRemove deletes a search entity.
type VosRemove struct {
	ID string `json:"id" validate:"required,notblank"`
}

// PeerLeave is sent by a browser that is about to unload.
type PeerLeave struct {
	ClientID string `json:"clientId"`
}

// Patch converts the create intent into a store patch.
func (c VosCreate) Patch(startedAt string) model.SearchEntityPatch {
	area := c.Area
	return model.SearchEntityPatch{
		Lat:           c.Lat,
		Lng:           c.Lng,
		Area:          &area,
		StartedAt:     &startedAt,
		Label:         c.Label,
		CircleEnabled: c.CircleEnabled,
	}
}

// Patch converts the update intent into a store patch. startedAt, when
// non-nil, replaces the raw intent value.
func (u VosUpdate) Patch(startedAt *string) model.SearchEntityPatch {
	return model.SearchEntityPatch{
		Lat:           u.Lat,
		Lng:           u.Lng,
		Area:          u.Area,
		StartedAt:     startedAt,
		Label:         u.Label,
		CircleEnabled: u.CircleEnabled,
	}
}
