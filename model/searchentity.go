package model

// SearchEntity (a "vos") is a mobile point of interest whose presumed search
// radius grows with the time elapsed since StartedAt.
type SearchEntity struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Area      Area    `json:"area"`
	StartedAt string  `json:"startedAt"` // ISO-8601 UTC
	Label     string  `json:"label,omitempty"`
	// CircleEnabled defaults to true on create.
	CircleEnabled bool `json:"circleEnabled"`
}

// SearchEntityPatch is a shallow merge applied to a SearchEntity. Nil fields
// are preserved from the stored entity.
type SearchEntityPatch struct {
	Lat           *float64
	Lng           *float64
	Area          *Area
	StartedAt     *string
	Label         *string
	CircleEnabled *bool
}

// Apply returns a copy of e with the patch merged in.
func (p SearchEntityPatch) Apply(e SearchEntity) SearchEntity {
	if p.Lat != nil {
		e.Lat = *p.Lat
	}
	if p.Lng != nil {
		e.Lng = *p.Lng
	}
	if p.Area != nil {
		e.Area = *p.Area
	}
	if p.StartedAt != nil {
		e.StartedAt = *p.StartedAt
	}
	if p.Label != nil {
		e.Label = *p.Label
	}
	if p.CircleEnabled != nil {
		e.CircleEnabled = *p.CircleEnabled
	}
	return e
}

// AsPatch returns a patch that sets every field of e except the id.
func (e SearchEntity) AsPatch() SearchEntityPatch {
	return SearchEntityPatch{
		Lat:           &e.Lat,
		Lng:           &e.Lng,
		Area:          &e.Area,
		StartedAt:     &e.StartedAt,
		Label:         &e.Label,
		CircleEnabled: &e.CircleEnabled,
	}
}
